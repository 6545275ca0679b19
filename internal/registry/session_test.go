package registry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionInitialize(t *testing.T) {
	fake, server := newFakeRegistry(t)
	solver := &stubSolver{answer: " 4821 "}
	store := &memorySnapshots{}

	session := NewSessionManager(context.Background(), testClient(t, server.URL), solver, store, testTime(t), testTelemetry)

	_, err := session.Credentials()
	require.ErrorIs(t, err, ErrSessionNotReady)

	require.NoError(t, session.Initialize(context.Background()))

	creds, err := session.Credentials()
	require.NoError(t, err)
	require.Equal(t, "csrf-1", creds.CsrfToken)
	require.Equal(t, "4821", creds.CaptchaText)
	require.Equal(t, "bid_session=s1; captcha=c1", creds.CookieHeader)

	require.Equal(t, "bid_session=s1", fake.lastCaptchaCookie)
	require.Len(t, solver.images, 1)
	require.Equal(t, captchaImage, solver.images[0])

	require.True(t, store.found)
	require.Equal(t, creds.CsrfToken, store.snapshot.CsrfToken)
	require.Equal(t, creds.CaptchaText, store.snapshot.CaptchaText)
	require.Equal(t, creds.CookieHeader, store.snapshot.CookieHeader)
	require.False(t, store.snapshot.Timestamp.IsZero())
}

func TestSessionRefreshCaptchaKeepsToken(t *testing.T) {
	fake, server := newFakeRegistry(t)
	solver := &stubSolver{answer: "4821"}
	store := &memorySnapshots{}

	session := NewSessionManager(context.Background(), testClient(t, server.URL), solver, store, testTime(t), testTelemetry)
	require.NoError(t, session.Initialize(context.Background()))

	solver.answer = "7777"
	require.NoError(t, session.RefreshCaptcha(context.Background()))

	creds, err := session.Credentials()
	require.NoError(t, err)
	require.Equal(t, "csrf-1", creds.CsrfToken)
	require.Equal(t, "7777", creds.CaptchaText)
	require.Equal(t, "bid_session=s1; captcha=c2", creds.CookieHeader)
	require.Equal(t, 1, fake.entryHits)
	require.Equal(t, 2, fake.captchaHits)
	require.Equal(t, 2, store.saves)
}

func TestSessionInitializeMissingCsrf(t *testing.T) {
	fake, server := newFakeRegistry(t)
	fake.omitCsrf = true

	session := NewSessionManager(
		context.Background(),
		testClient(t, server.URL),
		&stubSolver{answer: "4821"},
		&memorySnapshots{},
		testTime(t),
		testTelemetry,
	)

	err := session.Initialize(context.Background())
	require.ErrorIs(t, err, ErrProtocol)
	require.ErrorIs(t, err, ErrCsrfNotFound)
	require.Equal(t, 0, fake.captchaHits)

	_, err = session.Credentials()
	require.ErrorIs(t, err, ErrSessionNotReady)
}

func TestSessionSolverFailures(t *testing.T) {
	cases := []struct {
		name   string
		solver *stubSolver
	}{
		{name: "empty answer", solver: &stubSolver{answer: "   "}},
		{name: "solver error", solver: &stubSolver{err: errors.New("no workers available")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, server := newFakeRegistry(t)
			store := &memorySnapshots{}
			session := NewSessionManager(context.Background(), testClient(t, server.URL), tc.solver, store, testTime(t), testTelemetry)

			err := session.Initialize(context.Background())
			require.ErrorIs(t, err, ErrCaptchaSolve)
			require.NotErrorIs(t, err, ErrProtocol)
			require.Equal(t, 0, store.saves)

			_, err = session.Credentials()
			require.ErrorIs(t, err, ErrSessionNotReady)
		})
	}
}

func TestSessionSnapshotSaveFailure(t *testing.T) {
	_, server := newFakeRegistry(t)
	store := &memorySnapshots{saveErr: errors.New("disk full")}

	session := NewSessionManager(context.Background(), testClient(t, server.URL), &stubSolver{answer: "4821"}, store, testTime(t), testTelemetry)
	require.NoError(t, session.Initialize(context.Background()))

	creds, err := session.Credentials()
	require.NoError(t, err)
	require.Equal(t, "4821", creds.CaptchaText)
	require.Equal(t, 1, store.saves)
}

func TestSessionRestoresSnapshot(t *testing.T) {
	fake, server := newFakeRegistry(t)
	store := &memorySnapshots{
		found: true,
		snapshot: Snapshot{
			CsrfToken:    "csrf-old",
			CaptchaText:  "1234",
			CookieHeader: "bid_session=old",
			Timestamp:    time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC),
		},
	}

	session := NewSessionManager(context.Background(), testClient(t, server.URL), &stubSolver{answer: "4821"}, store, testTime(t), testTelemetry)

	creds, err := session.Credentials()
	require.NoError(t, err)
	require.Equal(t, Credentials{
		CsrfToken:    "csrf-old",
		CaptchaText:  "1234",
		CookieHeader: "bid_session=old",
	}, creds)
	require.Equal(t, 0, fake.entryHits)
	require.Equal(t, 0, fake.captchaHits)
}

func TestMergeCookies(t *testing.T) {
	require.Equal(t, "", mergeCookies("", nil))
	require.Equal(t, "a=1", mergeCookies("", []*http.Cookie{{Name: "a", Value: "1"}}))
	require.Equal(
		t,
		"a=2; b=1; c=3",
		mergeCookies("a=1; b=1", []*http.Cookie{
			{Name: "a", Value: "2"},
			{Name: "c", Value: "3"},
			{Name: "b", Value: "gone", MaxAge: -1},
		}),
	)
}

func TestDecodeChallenge(t *testing.T) {
	encoded := "iVBORw0KGgo="
	expected := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

	require.Equal(t, expected, decodeChallenge([]byte(encoded)))
	require.Equal(t, expected, decodeChallenge([]byte(`"`+encoded+`"`)))
	require.Equal(t, expected, decodeChallenge([]byte(`"data:image\/png;base64,`+encoded+`"`)))
	require.Equal(t, []byte("not base64!"), decodeChallenge([]byte("not base64!")))
}
