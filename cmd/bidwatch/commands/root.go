package commands

import (
	"bidwatch/internal/components/telemetry"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath *string
var verbose *bool

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "The config file, config.local.json5 next to it is merged on top.")
	verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output.")
}

var rootCmd = &cobra.Command{
	Use:   "bidwatch",
	Short: "bidwatch announces new contract publications of the CBF registry (BID).",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(*verbose)
	},
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
