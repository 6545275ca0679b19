package registry

import (
	"bidwatch/internal/components/assert"
	"bidwatch/internal/components/telemetry"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

const (
	report_retry_fetch     = "retry.fetch"
	report_retry_exhausted = "retry.exhausted"
	report_retry_records   = "retry.records"
)

// DefaultMaxRetries gives four attempts in total.
const DefaultMaxRetries = 3

// Session is the part of SessionManager the coordinator drives.
type Session interface {
	Initialize(ctx context.Context) error
	RefreshCaptcha(ctx context.Context) error
	Credentials() (Credentials, error)
}

// RecordFetcher is the part of Fetcher the coordinator drives.
type RecordFetcher interface {
	Fetch(ctx context.Context, params QueryParams, creds Credentials) FetchOutcome
}

type fetchState int

const (
	stateNeedSession fetchState = iota
	stateFetching
	stateReinit
	stateResolve
)

// Coordinator wraps a RecordFetcher with the retry policy:
//
//   - a csrf mismatch re-initializes the whole session once per call, without
//     touching the retry budget
//   - a rejected captcha or a transport error costs one attempt and re-solves
//     the captcha
//   - a protocol error is returned immediately
//
// Calls are serialized since they share one session.
type Coordinator struct {
	session    Session
	fetcher    RecordFetcher
	maxRetries int
	tel        telemetry.API

	mu sync.Mutex
}

// NewCoordinator creates a Coordinator, a negative maxRetries means DefaultMaxRetries.
func NewCoordinator(session Session, fetcher RecordFetcher, maxRetries int, tel telemetry.API) *Coordinator {
	assert.NotNil(session)
	assert.NotNil(fetcher)
	assert.NotNil(tel)

	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Coordinator{
		session:    session,
		fetcher:    fetcher,
		maxRetries: maxRetries,
		tel:        tel,
	}
}

// Fetch returns the records for params, an empty result is not an error.
func (c *Coordinator) Fetch(ctx context.Context, params QueryParams) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	attrs := []any{
		slog.String("region", params.RegionCode),
		slog.String("club", params.ClubCode),
		slog.String("date", params.FormattedDate()),
	}

	attempts := 0
	reinitialized := false
	var lastErr error

	// fail records a failed attempt and reports whether another one is allowed.
	fail := func(err error) bool {
		lastErr = err
		attempts++
		c.tel.ReportWarning(
			report_retry_fetch,
			append([]any{err, slog.Int("attempt", attempts), slog.Int("max_attempts", c.maxRetries+1)}, attrs...)...,
		)
		return attempts <= c.maxRetries
	}
	exhausted := func() error {
		c.tel.ReportBroken(
			report_retry_exhausted,
			append([]any{lastErr, slog.Int("attempts", attempts)}, attrs...)...,
		)
		return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
	}
	protocol := func(err error) error {
		c.tel.ReportBroken(report_retry_fetch, append([]any{err}, attrs...)...)
		return err
	}

	state := stateFetching
	if _, err := c.session.Credentials(); err != nil {
		state = stateNeedSession
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		switch state {
		case stateNeedSession, stateReinit:
			err := c.session.Initialize(ctx)
			if errors.Is(err, ErrProtocol) {
				return nil, protocol(err)
			}
			if err != nil {
				if !fail(err) {
					return nil, exhausted()
				}
				state = stateNeedSession
				continue
			}
			state = stateFetching

		case stateResolve:
			err := c.session.RefreshCaptcha(ctx)
			if errors.Is(err, ErrProtocol) {
				return nil, protocol(err)
			}
			if err != nil {
				if !fail(err) {
					return nil, exhausted()
				}
				continue
			}
			state = stateFetching

		case stateFetching:
			creds, err := c.session.Credentials()
			if err != nil {
				if !fail(err) {
					return nil, exhausted()
				}
				state = stateNeedSession
				continue
			}

			outcome := c.fetcher.Fetch(ctx, params, creds)
			switch outcome.Kind {
			case OutcomeSuccess:
				c.tel.ReportCount(report_retry_records, int64(len(outcome.Records)))
				return outcome.Records, nil

			case OutcomeCsrfMismatch:
				lastErr = outcome.Err
				if reinitialized {
					return nil, exhausted()
				}
				c.tel.ReportWarning(report_retry_fetch, append([]any{outcome.Err, "reinitializing session"}, attrs...)...)
				reinitialized = true
				state = stateReinit

			default:
				if !fail(outcome.Err) {
					return nil, exhausted()
				}
				state = stateResolve
			}
		}
	}
}
