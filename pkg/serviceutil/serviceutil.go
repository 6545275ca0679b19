package serviceutil

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// SignalContext is cancelled on the first SIGINT or SIGTERM so a running pass
// can wind down. A second signal kills the process the default way.
func SignalContext() context.Context {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx
}

// Fatal logs message with err and any extra attributes, then exits with code 1.
func Fatal(message string, err error, attrs ...any) {
	if err != nil {
		attrs = append([]any{"err", err.Error()}, attrs...)
	}
	slog.Error(message, attrs...)
	os.Exit(1)
}
