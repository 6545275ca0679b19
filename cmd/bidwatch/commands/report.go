package commands

import (
	"bidwatch/internal/dedup"
	"bidwatch/internal/pipeline"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
)

func logReport(report pipeline.Report) {
	for _, team := range report.Teams {
		attrs := []any{
			"team", team.Team,
			"fetched", team.Fetched,
			"skipped", team.Skipped,
			"published", team.Published,
			"failures", len(team.Failures),
		}
		if team.Err != nil {
			attrs = append(attrs, "err", team.Err.Error())
		}
		slog.Info("pass finished for team", attrs...)
	}
	slog.Info("pass finished", "date", report.Date.Format(dedup.KeyDateLayout), "pruned", report.Pruned)
}

func printReport(report pipeline.Report) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Team", "Fetched", "Skipped", "Published", "Failures", "Error"})
	for _, team := range report.Teams {
		errText := ""
		if team.Err != nil {
			errText = team.Err.Error()
		}
		t.AppendRow(table.Row{team.Team, team.Fetched, team.Skipped, team.Published, len(team.Failures), errText})
	}
	t.AppendFooter(table.Row{report.Date.Format(dedup.KeyDateLayout), "", "", "", "pruned", report.Pruned})
	t.SetStyle(table.StyleRounded)
	t.Render()

	for _, team := range report.Teams {
		for _, failure := range team.Failures {
			slog.Warn("record failed", "team", team.Team, "err", failure.Error())
		}
	}
}
