package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	kind   string
	id     string
	params []any
}

type recordingAPI struct {
	reports *[]recorded
}

func newRecordingAPI() recordingAPI {
	return recordingAPI{reports: &[]recorded{}}
}

func (r recordingAPI) ReportBroken(id string, params ...any) {
	*r.reports = append(*r.reports, recorded{kind: "broken", id: id, params: params})
}

func (r recordingAPI) ReportWarning(id string, params ...any) {
	*r.reports = append(*r.reports, recorded{kind: "warning", id: id, params: params})
}

func (r recordingAPI) ReportDebug(msg string, params ...any) {
	*r.reports = append(*r.reports, recorded{kind: "debug", id: msg, params: params})
}

func (r recordingAPI) ReportCount(id string, count int64) {
	*r.reports = append(*r.reports, recorded{kind: "count", id: id, params: []any{count}})
}

func TestScopedAPI(t *testing.T) {
	rec := newRecordingAPI()
	scoped := NewScopedAPI("registry", rec)

	scoped.ReportBroken("session.initialize", "boom")
	scoped.ReportWarning("retry.fetch", 2)
	scoped.ReportCount("pass.published", 3)

	require.Equal(t, []recorded{
		{kind: "broken", id: "registry: session.initialize", params: []any{"boom"}},
		{kind: "warning", id: "registry: retry.fetch", params: []any{2}},
		{kind: "count", id: "registry: pass.published", params: []any{int64(3)}},
	}, *rec.reports)
}

func TestInstrumentResty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	rec := newRecordingAPI()
	client := resty.New().SetBaseURL(server.URL)
	InstrumentResty(client, "test", rec)

	_, err := client.R().SetContext(context.Background()).Get("/ok")
	require.NoError(t, err)
	_, err = client.R().SetContext(context.Background()).Get("/fail")
	require.NoError(t, err)

	var ids []string
	for _, r := range *rec.reports {
		ids = append(ids, r.id)
	}
	require.Equal(t, []string{
		report_resty_request,
		report_resty_response,
		report_resty_request,
		report_resty_response,
		report_resty_dump,
	}, ids)
}

func TestRedaction(t *testing.T) {
	require.Equal(
		t,
		"https://2captcha.com/res.php?action=get&id=42&key=%3Credacted%3E",
		redactUrl("https://2captcha.com/res.php?key=secret&action=get&id=42"),
	)
	require.Equal(t, "/busca-json", redactUrl("/busca-json"))

	headers := http.Header{}
	headers.Set("X-CSRF-Token", "csrf-1")
	headers.Set("Cookie", "bid_session=s1")
	headers.Set("Accept", "application/json")
	require.Equal(
		t,
		"Accept: application/json\nCookie: <redacted>\nX-Csrf-Token: <redacted>",
		formatHeaders(headers),
	)
}
