package commands

import (
	"bidwatch/internal/components/chrono"
	"bidwatch/internal/components/telemetry"
	"bidwatch/internal/dedup"
	"bidwatch/internal/registry"
	"bidwatch/pkg/serviceutil"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var fetchTeam *string
var fetchDate *string

func init() {
	fetchTeam = fetchCmd.Flags().StringP("team", "t", "", "The team to fetch, by code, UF-code or (fuzzy) name.")
	fetchDate = fetchCmd.Flags().StringP("date", "d", "", "The publication day as dd/mm/yyyy or yyyy-mm-dd, defaults to today.")
	fetchCmd.MarkFlagRequired("team")
	rootCmd.AddCommand(fetchCmd)
}

func parseDay(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range []string{registry.QueryDateLayout, dedup.KeyDateLayout} {
		day, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return day, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected dd/mm/yyyy or yyyy-mm-dd", value)
}

func optional(value *string) string {
	if value == nil || *value == "" {
		return "-"
	}
	return *value
}

var fetchCmd = &cobra.Command{
	Use:   "fetch --team <team> [--date <day>]",
	Short: "Fetches the publications of one team on one day without publishing anything.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		app := loadApp(ctx, telemetry.SlogAPI{})
		defer app.close()

		team, ok := app.cfg.FindTeam(*fetchTeam)
		if !ok {
			serviceutil.Fatal("no team matches", nil, "query", *fetchTeam)
		}

		day := chrono.Today(app.time)
		if *fetchDate != "" {
			var err error
			day, err = parseDay(*fetchDate, app.time.Location())
			if err != nil {
				serviceutil.Fatal("failed to parse date", err)
			}
		}

		records, err := app.coordinator(ctx).Fetch(ctx, registry.QueryParams{
			Date:       day,
			RegionCode: team.RegionCode,
			ClubCode:   team.ClubCode,
		})
		if err != nil {
			serviceutil.Fatal("failed to fetch records", err)
		}

		loc := app.time.Location()
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetTitle(fmt.Sprintf("%s (%s-%s) %s", team.Name, team.RegionCode, team.ClubCode, day.Format(registry.QueryDateLayout)))
		t.AppendHeader(table.Row{"Athlete", "Nickname", "Contract", "Type", "Published", "Ends", "Seen"})
		for _, record := range records {
			seen, err := app.cache.Exists(ctx, dedup.Key(day, team.RegionCode, team.ClubCode, record))
			if err != nil {
				serviceutil.Fatal("failed to read dedup cache", err)
			}
			end := ""
			if record.ContractEnd != nil {
				end = registry.FormatTime(*record.ContractEnd, false, loc)
			}
			t.AppendRow(table.Row{
				record.AthleteName,
				optional(record.Nickname),
				record.ContractNumber.String(),
				record.ContractType,
				registry.FormatTime(record.PublicationDate, true, loc),
				optional(&end),
				seen,
			})
		}
		t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(records)})
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
