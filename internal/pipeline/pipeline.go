package pipeline

import (
	"bidwatch/internal/components/assert"
	"bidwatch/internal/components/chrono"
	"bidwatch/internal/components/telemetry"
	"bidwatch/internal/dedup"
	"bidwatch/internal/publish"
	"bidwatch/internal/registry"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	report_driver_prune     = "driver.prune"
	report_driver_fetch     = "driver.fetch"
	report_driver_record    = "driver.record"
	report_driver_published = "driver.published"
)

var (
	ErrRender         = errors.New("pipeline: render failed")
	ErrPublish        = errors.New("pipeline: publish failed")
	ErrPassInProgress = errors.New("pipeline: a pass is already running")
)

// RecordSource returns the records of one club on one day. registry.Coordinator
// is the production implementation.
type RecordSource interface {
	Fetch(ctx context.Context, params registry.QueryParams) ([]registry.Record, error)
}

type CardRenderer interface {
	Render(ctx context.Context, record registry.Record) ([]byte, error)
}

// Publisher announces a record and returns the id of the post it created.
type Publisher interface {
	Publish(ctx context.Context, text string, image []byte) (string, error)
}

// Team is a tracked club together with where its records are announced.
type Team struct {
	Name       string
	RegionCode string
	ClubCode   string
	Publisher  Publisher
}

type TeamReport struct {
	Team      string
	Fetched   int
	Skipped   int
	Published int
	// Err is set when the club could not be fetched at all.
	Err error
	// Failures holds one error per record that could not be announced.
	Failures []error
}

type Report struct {
	Date   time.Time
	Pruned int
	Teams  []TeamReport
}

// Driver runs passes: for every team it fetches the records of the day and
// announces the ones it has not seen yet. Passes never overlap.
type Driver struct {
	source   RecordSource
	cache    *dedup.Cache
	renderer CardRenderer
	teams    []Team
	time     chrono.TimeAPI
	tel      telemetry.API

	running sync.Mutex
}

func NewDriver(
	source RecordSource,
	cache *dedup.Cache,
	renderer CardRenderer,
	teams []Team,
	time chrono.TimeAPI,
	tel telemetry.API,
) *Driver {
	assert.NotNil(source)
	assert.NotNil(cache)
	assert.NotNil(renderer)
	assert.NotNil(time)
	assert.NotNil(tel)
	for _, team := range teams {
		assert.NotNil(team.Publisher)
	}

	return &Driver{
		source:   source,
		cache:    cache,
		renderer: renderer,
		teams:    teams,
		time:     time,
		tel:      tel,
	}
}

// RunPass processes every team once. Only a protocol error from the registry
// stops the pass early, every other failure is scoped to its club or record.
func (d *Driver) RunPass(ctx context.Context) (Report, error) {
	if !d.running.TryLock() {
		return Report{}, ErrPassInProgress
	}
	defer d.running.Unlock()

	today := chrono.Today(d.time)
	report := Report{Date: today}

	pruned, err := d.cache.Prune(ctx, today)
	if err != nil {
		d.tel.ReportBroken(report_driver_prune, err)
	}
	report.Pruned = pruned

	for _, team := range d.teams {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		teamReport, err := d.runTeam(ctx, today, team)
		report.Teams = append(report.Teams, teamReport)
		if errors.Is(err, registry.ErrProtocol) {
			return report, err
		}
	}

	return report, nil
}

func (d *Driver) runTeam(ctx context.Context, today time.Time, team Team) (TeamReport, error) {
	report := TeamReport{Team: team.Name}
	attrs := []any{
		slog.String("team", team.Name),
		slog.String("region", team.RegionCode),
		slog.String("club", team.ClubCode),
		slog.String("date", today.Format(dedup.KeyDateLayout)),
	}

	records, err := d.source.Fetch(ctx, registry.QueryParams{
		Date:       today,
		RegionCode: team.RegionCode,
		ClubCode:   team.ClubCode,
	})
	if err != nil {
		d.tel.ReportBroken(report_driver_fetch, append([]any{err}, attrs...)...)
		report.Err = err
		return report, err
	}
	report.Fetched = len(records)
	d.tel.ReportDebug("fetched records", append([]any{slog.Int("count", len(records))}, attrs...)...)

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			report.Err = err
			return report, err
		}

		key := dedup.Key(today, team.RegionCode, team.ClubCode, record)
		published, err := d.announce(ctx, team, key, record)
		if err != nil {
			d.tel.ReportWarning(report_driver_record, append([]any{err, slog.String("key", key)}, attrs...)...)
			report.Failures = append(report.Failures, err)
			continue
		}
		if published {
			report.Published++
		} else {
			report.Skipped++
		}
	}

	d.tel.ReportCount(report_driver_published, int64(report.Published))
	return report, nil
}

// announce renders and publishes record unless key is already cached. It
// reports whether a post was made.
func (d *Driver) announce(ctx context.Context, team Team, key string, record registry.Record) (bool, error) {
	exists, err := d.cache.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	card, err := d.renderer.Render(ctx, record)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrRender, key, err)
	}

	text := publish.ComposeText(record, d.time.Location())
	postId, err := team.Publisher.Publish(ctx, text, card)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrPublish, key, err)
	}
	d.tel.ReportDebug("published", slog.String("key", key), slog.String("post", postId))

	// the post is out, a failed insert means it will be posted again next pass
	err = d.cache.Insert(ctx, key)
	if err != nil {
		return true, err
	}
	return true, nil
}
