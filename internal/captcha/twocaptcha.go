package captcha

import (
	"bidwatch/internal/components/assert"
	"bidwatch/internal/components/telemetry"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_twocaptcha_submit = "twocaptcha.submit"
	report_twocaptcha_poll   = "twocaptcha.poll"
)

const DefaultBaseUrl = "https://2captcha.com"

const notReady = "CAPCHA_NOT_READY"

var (
	ErrRejected = errors.New("captcha: provider rejected the task")
	ErrTimeout  = errors.New("captcha: timed out waiting for an answer")
)

// Options mirrors the image captcha parameters of the 2captcha api.
type Options struct {
	ApiKey  string
	BaseUrl string
	// PollInterval is the delay between two result checks, zero means 5 seconds.
	PollInterval time.Duration
	// Timeout bounds a whole solve, zero means 2 minutes.
	Timeout time.Duration

	// 0 means any characters, 1 only digits, 2 only letters.
	Numeric int
	// Phrase asks for answers with spaces.
	Phrase bool
	// CaseSensitive corresponds to the regsense flag.
	CaseSensitive bool
}

// TwoCaptcha solves image captchas through the 2captcha http api.
type TwoCaptcha struct {
	opts Options
	http *resty.Client
	tel  telemetry.API
}

func NewTwoCaptcha(opts Options, tel telemetry.API) TwoCaptcha {
	assert.NotEmptyStr(opts.ApiKey)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("captcha", tel)

	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(opts.BaseUrl)
	httpClient.SetTimeout(30 * time.Second)
	telemetry.InstrumentResty(httpClient, "bidwatch/captcha", tel)

	return TwoCaptcha{
		opts: opts,
		http: httpClient,
		tel:  tel,
	}
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Solve submits the image and polls until the answer is ready, the provider
// reports an error or the timeout elapses.
func (s TwoCaptcha) Solve(ctx context.Context, image []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	id, err := s.submit(ctx, image)
	if err != nil {
		s.tel.ReportBroken(report_twocaptcha_submit, err)
		return "", err
	}
	s.tel.ReportDebug("captcha submitted", id)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: task %s", ErrTimeout, id)
			}
			return "", ctx.Err()
		case <-ticker.C:
		}

		answer, ready, err := s.poll(ctx, id)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: task %s", ErrTimeout, id)
		}
		if err != nil {
			s.tel.ReportBroken(report_twocaptcha_poll, err, id)
			return "", err
		}
		if ready {
			return answer, nil
		}
	}
}

func (s TwoCaptcha) submit(ctx context.Context, image []byte) (string, error) {
	var result apiResponse
	res, err := s.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"key":      s.opts.ApiKey,
			"method":   "base64",
			"body":     base64.StdEncoding.EncodeToString(image),
			"numeric":  strconv.Itoa(s.opts.Numeric),
			"phrase":   boolFlag(s.opts.Phrase),
			"regsense": boolFlag(s.opts.CaseSensitive),
			"json":     "1",
		}).
		SetResult(&result).
		ForceContentType("application/json").
		Post("/in.php")
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if res.IsError() {
		return "", fmt.Errorf("submit: unexpected status %s", res.Status())
	}
	if result.Status != 1 {
		return "", fmt.Errorf("%w: %s", ErrRejected, result.Request)
	}
	return result.Request, nil
}

func (s TwoCaptcha) poll(ctx context.Context, id string) (string, bool, error) {
	var result apiResponse
	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"key":    s.opts.ApiKey,
			"action": "get",
			"id":     id,
			"json":   "1",
		}).
		SetResult(&result).
		ForceContentType("application/json").
		Get("/res.php")
	if err != nil {
		return "", false, fmt.Errorf("poll: %w", err)
	}
	if res.IsError() {
		return "", false, fmt.Errorf("poll: unexpected status %s", res.Status())
	}
	if result.Status == 1 {
		return result.Request, true, nil
	}
	if result.Request == notReady {
		return "", false, nil
	}
	return "", false, fmt.Errorf("%w: %s", ErrRejected, result.Request)
}
