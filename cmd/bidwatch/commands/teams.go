package commands

import (
	"bidwatch/internal/config"
	"bidwatch/pkg/serviceutil"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(teamsCmd)
}

func publisherTarget(team config.TeamConfig) string {
	switch team.Publisher.Kind {
	case config.PublisherEmail:
		return team.Publisher.Email.Smtp.Server
	case config.PublisherX:
		if team.Publisher.X.Complete() {
			return "credentials set"
		}
		return "credentials missing"
	}
	return ""
}

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "Lists the tracked teams and where they are published.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(*configPath)
		if err != nil {
			serviceutil.Fatal("failed to load config", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Name", "UF", "Code", "Publisher", "Target"})
		for _, team := range cfg.Teams {
			t.AppendRow(table.Row{team.Name, team.RegionCode, team.ClubCode, team.Publisher.Kind, publisherTarget(team)})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
