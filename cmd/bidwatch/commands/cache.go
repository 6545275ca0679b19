package commands

import (
	"bidwatch/internal/components/chrono"
	"bidwatch/internal/components/telemetry"
	"bidwatch/internal/dedup"
	"bidwatch/pkg/serviceutil"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspects the dedup cache of already announced records.",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists every key in the dedup cache.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		app := loadApp(ctx, telemetry.SlogAPI{})
		defer app.close()

		keys, err := app.cache.List(ctx)
		if err != nil {
			serviceutil.Fatal("failed to list dedup keys", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Day", "Key"})
		for _, key := range keys {
			day, _ := dedup.DateOf(key)
			t.AppendRow(table.Row{day, key})
		}
		t.AppendFooter(table.Row{"Total", len(keys)})
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drops every dedup key that does not belong to today.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		app := loadApp(ctx, telemetry.SlogAPI{})
		defer app.close()

		pruned, err := app.cache.Prune(ctx, chrono.Today(app.time))
		if err != nil {
			serviceutil.Fatal("failed to prune dedup cache", err)
		}
		slog.Info("pruned dedup cache", "removed", pruned)
	},
}
