package registry

import (
	"bidwatch/internal/components/assert"
	"bidwatch/internal/components/telemetry"
	"bidwatch/pkg/htmlutil"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	report_fetcher_fetch  = "fetcher.fetch"
	report_fetcher_record = "fetcher.record"
)

const searchEndpoint = "/busca-json"

const csrfMismatchMessage = "csrf token mismatch"

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeCsrfMismatch
	OutcomeCaptchaRejected
	OutcomeTransportError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeCsrfMismatch:
		return "csrf_mismatch"
	case OutcomeCaptchaRejected:
		return "captcha_rejected"
	case OutcomeTransportError:
		return "transport_error"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// FetchOutcome is the classified result of a single search request. Records is
// only set on success, Err on everything else.
type FetchOutcome struct {
	Kind    OutcomeKind
	Records []Record
	Err     error
}

func Success(records []Record) FetchOutcome {
	if records == nil {
		records = []Record{}
	}
	return FetchOutcome{Kind: OutcomeSuccess, Records: records}
}

func CsrfMismatch(detail string) FetchOutcome {
	return FetchOutcome{Kind: OutcomeCsrfMismatch, Err: fmt.Errorf("%w: %s", ErrCsrfMismatch, detail)}
}

func CaptchaRejected(detail string) FetchOutcome {
	return FetchOutcome{Kind: OutcomeCaptchaRejected, Err: fmt.Errorf("%w: %s", ErrCaptchaRejected, detail)}
}

func TransportError(err error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeTransportError, Err: fmt.Errorf("%w: %w", ErrTransport, err)}
}

// Fetcher issues search requests and classifies their responses. It never
// retries and never touches the session.
type Fetcher struct {
	client *Client
	tel    telemetry.API
}

func NewFetcher(client *Client, tel telemetry.API) Fetcher {
	assert.NotNil(client)
	assert.NotNil(tel)
	return Fetcher{client: client, tel: tel}
}

type searchRequest struct {
	Date    string `json:"data"`
	Region  string `json:"uf"`
	Club    string `json:"codigo_clube"`
	Captcha string `json:"captcha"`
}

func (f Fetcher) Fetch(ctx context.Context, params QueryParams, creds Credentials) FetchOutcome {
	req := f.client.Http.R().
		SetContext(ctx).
		SetHeader("X-CSRF-Token", creds.CsrfToken).
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetBody(searchRequest{
			Date:    params.FormattedDate(),
			Region:  params.RegionCode,
			Club:    params.ClubCode,
			Captcha: creds.CaptchaText,
		})
	if creds.CookieHeader != "" {
		req.SetHeader("Cookie", creds.CookieHeader)
	}

	res, err := req.Post(searchEndpoint)
	if err != nil {
		return TransportError(err)
	}

	outcome := f.classify(res.StatusCode(), res.Body())
	if outcome.Kind != OutcomeSuccess {
		f.tel.ReportDebug(
			report_fetcher_fetch,
			outcome.Kind.String(),
			params.RegionCode,
			params.ClubCode,
			params.FormattedDate(),
		)
	}
	return outcome
}

type errorResponse struct {
	Message string `json:"message"`
}

func isCsrfMismatch(body []byte) (string, bool) {
	if len(body) == 0 || body[0] != '{' {
		return "", false
	}
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false
	}
	if strings.Contains(strings.ToLower(parsed.Message), csrfMismatchMessage) {
		return parsed.Message, true
	}
	return "", false
}

// classify maps a search response onto an outcome. The registry signals a wrong
// captcha answer with a body that is not a json array instead of an error.
func (f Fetcher) classify(status int, body []byte) FetchOutcome {
	body = bytes.TrimSpace(body)

	if message, ok := isCsrfMismatch(body); ok {
		return CsrfMismatch(message)
	}
	if status >= 400 {
		return TransportError(fmt.Errorf("unexpected status %d: %s", status, summarize(body)))
	}
	if len(body) == 0 {
		return CaptchaRejected("empty body")
	}
	if body[0] != '[' {
		return CaptchaRejected(fmt.Sprintf("body is not a list: %s", summarize(body)))
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return CaptchaRejected(fmt.Sprintf("malformed list: %s", err.Error()))
	}

	records := make([]Record, 0, len(raw))
	for i, item := range raw {
		var record Record
		if err := json.Unmarshal(item, &record); err != nil {
			return CaptchaRejected(fmt.Sprintf("malformed record %d: %s", i, err.Error()))
		}
		if err := record.Validate(); err != nil {
			f.tel.ReportWarning(report_fetcher_record, err, string(item))
			continue
		}
		records = append(records, record)
	}
	return Success(records)
}

func summarize(body []byte) string {
	if len(body) > 0 && (body[0] == '{' || body[0] == '"') {
		if len(body) > 200 {
			return string(body[:200]) + "..."
		}
		return string(body)
	}
	return htmlutil.Summarize(body, 200)
}
