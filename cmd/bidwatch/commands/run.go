package commands

import (
	"bidwatch/internal/components/chrono"
	"bidwatch/internal/components/telemetry"
	"bidwatch/internal/pipeline"
	"bidwatch/pkg/serviceutil"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs passes on the configured schedule until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		otel, err := telemetry.SetupFromEnv(ctx, "bidwatch")
		if err != nil {
			serviceutil.Fatal("failed to setup telemetry", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
			defer cancel()
			err := otel.Shutdown(ctx)
			if err != nil {
				slog.Error("failed to shutdown telemetry", "err", err)
			}
		}()

		tel, err := telemetry.NewOtelAPI("bidwatch", telemetry.SlogAPI{})
		if err != nil {
			serviceutil.Fatal("failed to create telemetry api", err)
		}
		telemetry.InstrumentPerfStats(ctx, tel)

		app := loadApp(ctx, tel)
		defer app.close()

		driver := app.driver(ctx, false)
		pass := func() {
			report, err := driver.RunPass(ctx)
			if errors.Is(err, pipeline.ErrPassInProgress) {
				slog.Debug("previous pass still running, skipping")
				return
			}
			if err != nil {
				slog.Error("pass aborted", "err", err)
			}
			logReport(report)
		}

		cron := chrono.NewStandardCron(app.time, telemetry.NewScopedAPI("schedule", tel))
		err = cron.Cron(app.cfg.Schedule.Cron, pass)
		if err != nil {
			serviceutil.Fatal("failed to schedule passes", err)
		}
		slog.Info("scheduled passes", "cron", app.cfg.Schedule.Cron, "teams", len(app.cfg.Teams))

		if app.cfg.Schedule.ShouldRunOnStart() {
			go pass()
		}

		<-ctx.Done()
		slog.Info("stopping, waiting for the current pass")

		stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cron.Stop(stopCtx)
	},
}
