package publish

import (
	"bidwatch/internal/components/assert"
	"bidwatch/internal/components/telemetry"
	"context"
	"fmt"
	"log/slog"

	"github.com/mazen160/go-random"
)

// Log only reports what would have been posted.
type Log struct {
	team string
	tel  telemetry.API
}

func NewLog(team string, tel telemetry.API) Log {
	assert.NotNil(tel)
	return Log{team: team, tel: tel}
}

func (l Log) Publish(ctx context.Context, text string, image []byte) (string, error) {
	id, err := random.String(8)
	if err != nil {
		return "", err
	}
	id = fmt.Sprintf("log-%s", id)
	l.tel.ReportDebug(
		"post",
		slog.String("team", l.team),
		slog.String("id", id),
		slog.Int("image_bytes", len(image)),
		slog.String("text", text),
	)
	return id, nil
}
