package registry

import (
	"bidwatch/internal/components/assert"
	"bidwatch/internal/components/chrono"
	"bidwatch/internal/components/telemetry"
	"bidwatch/pkg/htmlutil"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_session_load_snapshot   = "session.load-snapshot"
	report_session_save_snapshot   = "session.save-snapshot"
	report_session_initialize      = "session.initialize"
	report_session_refresh_captcha = "session.refresh-captcha"
)

const (
	entryEndpoint   = "/"
	captchaEndpoint = "/get-captcha-base64"
)

// SessionManager owns the registry session: the csrf token, the session cookie
// and the text of the last solved captcha. It is the only writer of that state
// and serializes every operation on it.
type SessionManager struct {
	client *Client
	solver Solver
	store  SnapshotStore
	time   chrono.TimeAPI
	tel    telemetry.API

	mu           sync.Mutex
	csrfToken    string
	captchaText  string
	cookieHeader string
}

// NewSessionManager seeds the session from the last persisted snapshot without
// touching the network. A stale snapshot is only noticed once a search fails.
func NewSessionManager(
	ctx context.Context,
	client *Client,
	solver Solver,
	store SnapshotStore,
	time chrono.TimeAPI,
	tel telemetry.API,
) *SessionManager {
	assert.NotNil(client)
	assert.NotNil(solver)
	assert.NotNil(store)
	assert.NotNil(time)
	assert.NotNil(tel)

	m := &SessionManager{
		client: client,
		solver: solver,
		store:  store,
		time:   time,
		tel:    tel,
	}

	snapshot, found, err := store.LoadSession(ctx)
	if err != nil {
		tel.ReportWarning(report_session_load_snapshot, err)
		return m
	}
	if found {
		m.csrfToken = snapshot.CsrfToken
		m.captchaText = snapshot.CaptchaText
		m.cookieHeader = snapshot.CookieHeader
		tel.ReportDebug(report_session_load_snapshot, snapshot.Timestamp)
	}
	return m
}

// Credentials returns the current credentials or ErrSessionNotReady if either
// the csrf token or the captcha text is missing.
func (m *SessionManager) Credentials() (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.csrfToken == "" || m.captchaText == "" {
		return Credentials{}, ErrSessionNotReady
	}
	return Credentials{
		CsrfToken:    m.csrfToken,
		CaptchaText:  m.captchaText,
		CookieHeader: m.cookieHeader,
	}, nil
}

// Initialize performs a fresh handshake, replacing the csrf token and the
// cookies, and then solves a new captcha.
func (m *SessionManager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.csrfToken = ""
	m.captchaText = ""
	m.cookieHeader = ""

	res, err := m.client.Http.R().
		SetContext(ctx).
		Get(entryEndpoint)
	if err != nil {
		m.tel.ReportBroken(report_session_initialize, fmt.Errorf("fetch entry page: %w", err))
		return fmt.Errorf("%w: session handshake: %w", ErrTransport, err)
	}
	if res.IsError() {
		err := fmt.Errorf("session handshake: unexpected status %s", res.Status())
		m.tel.ReportBroken(report_session_initialize, err)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		m.tel.ReportBroken(report_session_initialize, fmt.Errorf("parse entry page: %w", err))
		return fmt.Errorf("%w: parse entry page: %w", ErrProtocol, err)
	}
	token := htmlutil.MetaContent(doc, "csrf-token")
	if token == "" {
		m.tel.ReportBroken(report_session_initialize, ErrCsrfNotFound, htmlutil.Summarize(res.Body(), 120))
		return fmt.Errorf("%w: %w", ErrProtocol, ErrCsrfNotFound)
	}

	m.csrfToken = token
	m.cookieHeader = mergeCookies("", res.Cookies())

	m.tel.ReportDebug(report_session_initialize, "handshake complete")

	return m.refreshCaptcha(ctx)
}

// RefreshCaptcha solves a new captcha for the current session. Failures are
// returned as is, retrying is up to the caller.
func (m *SessionManager) RefreshCaptcha(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCaptcha(ctx)
}

func (m *SessionManager) refreshCaptcha(ctx context.Context) error {
	m.captchaText = ""

	req := m.client.Http.R().SetContext(ctx)
	if m.cookieHeader != "" {
		req.SetHeader("Cookie", m.cookieHeader)
	}
	res, err := req.Get(captchaEndpoint)
	if err != nil {
		m.tel.ReportBroken(report_session_refresh_captcha, fmt.Errorf("fetch challenge: %w", err))
		return fmt.Errorf("%w: fetch captcha challenge: %w", ErrTransport, err)
	}
	if res.IsError() {
		err := fmt.Errorf("fetch captcha challenge: unexpected status %s", res.Status())
		m.tel.ReportBroken(report_session_refresh_captcha, err)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	m.cookieHeader = mergeCookies(m.cookieHeader, res.Cookies())

	image := decodeChallenge(res.Body())
	if len(image) == 0 {
		err := fmt.Errorf("empty captcha challenge")
		m.tel.ReportBroken(report_session_refresh_captcha, err)
		return fmt.Errorf("%w: %w", ErrCaptchaSolve, err)
	}

	text, err := m.solver.Solve(ctx, image)
	if err != nil {
		m.tel.ReportWarning(report_session_refresh_captcha, fmt.Errorf("solve: %w", err))
		return fmt.Errorf("%w: %w", ErrCaptchaSolve, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		err := fmt.Errorf("solver returned an empty answer")
		m.tel.ReportWarning(report_session_refresh_captcha, err)
		return fmt.Errorf("%w: %w", ErrCaptchaSolve, err)
	}
	m.captchaText = text

	m.tel.ReportDebug(report_session_refresh_captcha, "captcha solved", text)

	// a session that could not be persisted is still usable by this process
	err = m.store.SaveSession(ctx, Snapshot{
		CsrfToken:    m.csrfToken,
		CaptchaText:  m.captchaText,
		CookieHeader: m.cookieHeader,
		Timestamp:    m.time.Now(),
	})
	if err != nil {
		m.tel.ReportBroken(report_session_save_snapshot, err)
	}
	return nil
}

// decodeChallenge accepts the challenge as a (possibly quoted) base64 string,
// optionally prefixed by a data uri header, and falls back to the raw body.
func decodeChallenge(body []byte) []byte {
	payload := strings.TrimSpace(string(body))
	payload = strings.Trim(payload, `"`)
	if idx := strings.Index(payload, ";base64,"); idx >= 0 && strings.HasPrefix(payload, "data:") {
		payload = payload[idx+len(";base64,"):]
	}
	payload = strings.ReplaceAll(payload, `\/`, "/")

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return body
	}
	return decoded
}

// mergeCookies overlays the name=value pairs of cookies on top of an existing
// Cookie header, keeping the original order of names.
func mergeCookies(header string, cookies []*http.Cookie) string {
	existing := (&http.Request{Header: http.Header{"Cookie": {header}}}).Cookies()

	for _, c := range cookies {
		if c.Value == "" || c.MaxAge < 0 {
			continue
		}
		replaced := false
		for i, e := range existing {
			if e.Name == c.Name {
				existing[i] = &http.Cookie{Name: c.Name, Value: c.Value}
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, &http.Cookie{Name: c.Name, Value: c.Value})
		}
	}

	pairs := make([]string, len(existing))
	for i, c := range existing {
		pairs[i] = fmt.Sprintf("%s=%s", c.Name, c.Value)
	}
	return strings.Join(pairs, "; ")
}
