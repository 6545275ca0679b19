package registry

import (
	"bidwatch/internal/components/chrono"
	"bidwatch/internal/components/telemetry"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testTelemetry = telemetry.SlogAPI{}

var captchaImage = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3}

// fakeRegistry imitates the three endpoints of the registry: the entry page
// that hands out a csrf token and a session cookie, the captcha challenge and
// the search endpoint.
type fakeRegistry struct {
	t *testing.T

	mu sync.Mutex
	// omitCsrf serves an entry page without the csrf meta tag.
	omitCsrf bool
	// sessions counts handed out session cookies.
	sessions      int
	csrfToken     string
	captchaAnswer string
	records       string

	entryHits   int
	captchaHits int
	searchHits  int

	lastCaptchaCookie string
	lastSearch        searchRequest
	lastSearchHeaders http.Header
}

func newFakeRegistry(t *testing.T) (*fakeRegistry, *httptest.Server) {
	fake := &fakeRegistry{
		t:             t,
		captchaAnswer: "4821",
		records:       "[]",
	}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return fake, server
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/":
		f.entryHits++
		f.sessions++
		f.csrfToken = fmt.Sprintf("csrf-%d", f.sessions)
		http.SetCookie(w, &http.Cookie{Name: "bid_session", Value: fmt.Sprintf("s%d", f.sessions)})
		meta := fmt.Sprintf(`<meta name="csrf-token" content="%s">`, f.csrfToken)
		if f.omitCsrf {
			meta = ""
		}
		fmt.Fprintf(w, `<html><head><title>BID</title>%s</head><body>ok</body></html>`, meta)

	case "/get-captcha-base64":
		f.captchaHits++
		f.lastCaptchaCookie = r.Header.Get("Cookie")
		http.SetCookie(w, &http.Cookie{Name: "captcha", Value: fmt.Sprintf("c%d", f.captchaHits)})
		fmt.Fprintf(w, `"data:image\/png;base64,%s"`, base64.StdEncoding.EncodeToString(captchaImage))

	case "/busca-json":
		f.searchHits++
		f.lastSearchHeaders = r.Header.Clone()
		var req searchRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.lastSearch = req

		if r.Header.Get("X-CSRF-Token") != f.csrfToken {
			w.WriteHeader(419)
			fmt.Fprint(w, `{"message":"CSRF token mismatch."}`)
			return
		}
		if req.Captcha != f.captchaAnswer {
			fmt.Fprint(w, `{"erro":"captcha"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, f.records)

	default:
		http.NotFound(w, r)
	}
}

type stubSolver struct {
	answer string
	err    error
	images [][]byte
}

func (s *stubSolver) Solve(ctx context.Context, image []byte) (string, error) {
	s.images = append(s.images, image)
	return s.answer, s.err
}

type memorySnapshots struct {
	snapshot Snapshot
	found    bool
	saveErr  error
	saves    int
}

func (m *memorySnapshots) LoadSession(ctx context.Context) (Snapshot, bool, error) {
	return m.snapshot, m.found, nil
}

func (m *memorySnapshots) SaveSession(ctx context.Context, snapshot Snapshot) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshot = snapshot
	m.found = true
	return nil
}

func testClient(t *testing.T, baseUrl string) *Client {
	client, err := NewClient(ClientOptions{
		BaseUrl:                 baseUrl,
		Timeout:                 5 * time.Second,
		RequestsPerSecond:       1000,
		DisableCloudflareBypass: true,
	}, testTelemetry)
	require.NoError(t, err)
	return client
}

func testTime(t *testing.T) chrono.TimeAPI {
	clock, err := chrono.NewStandardTime("UTC")
	require.NoError(t, err)
	return clock
}
