package commands

import (
	"bidwatch/internal/components/telemetry"
	"bidwatch/pkg/serviceutil"

	"github.com/spf13/cobra"
)

var onceDryRun *bool

func init() {
	onceDryRun = onceCmd.Flags().Bool("dry-run", false, "Log the posts instead of publishing them and leave the dedup cache untouched.")
	rootCmd.AddCommand(onceCmd)
}

var onceCmd = &cobra.Command{
	Use:   "once [--dry-run]",
	Short: "Runs a single pass over every team and prints what happened.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		app := loadApp(ctx, telemetry.SlogAPI{})
		report, err := app.driver(ctx, *onceDryRun).RunPass(ctx)
		app.close()

		printReport(report)
		if err != nil {
			serviceutil.Fatal("pass aborted", err)
		}
	},
}
