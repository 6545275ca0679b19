package registry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetcherSendsCredentials(t *testing.T) {
	fake, server := newFakeRegistry(t)
	fake.csrfToken = "csrf-1"
	fake.records = `[{"codigo_atleta":"A1","contrato_numero":"123","tipocontrato":"Profissional","nome":"JOAO"}]`

	fetcher := NewFetcher(testClient(t, server.URL), testTelemetry)
	outcome := fetcher.Fetch(context.Background(), testParams(), Credentials{
		CsrfToken:    "csrf-1",
		CaptchaText:  "4821",
		CookieHeader: "bid_session=s1",
	})

	require.Equal(t, OutcomeSuccess, outcome.Kind)
	require.NoError(t, outcome.Err)
	require.Len(t, outcome.Records, 1)
	require.Equal(t, Code("A1"), outcome.Records[0].AthleteID)

	require.Equal(t, searchRequest{
		Date:    "01/05/2024",
		Region:  "SP",
		Club:    "99",
		Captcha: "4821",
	}, fake.lastSearch)
	require.Equal(t, "csrf-1", fake.lastSearchHeaders.Get("X-CSRF-Token"))
	require.Equal(t, "bid_session=s1", fake.lastSearchHeaders.Get("Cookie"))
	require.Equal(t, "XMLHttpRequest", fake.lastSearchHeaders.Get("X-Requested-With"))
}

func TestFetcherCsrfMismatch(t *testing.T) {
	fake, server := newFakeRegistry(t)
	fake.csrfToken = "csrf-2"

	fetcher := NewFetcher(testClient(t, server.URL), testTelemetry)
	outcome := fetcher.Fetch(context.Background(), testParams(), Credentials{
		CsrfToken:   "csrf-1",
		CaptchaText: "4821",
	})
	require.Equal(t, OutcomeCsrfMismatch, outcome.Kind)
	require.ErrorIs(t, outcome.Err, ErrCsrfMismatch)
	require.Nil(t, outcome.Records)
}

func TestFetcherTransportError(t *testing.T) {
	_, server := newFakeRegistry(t)
	client := testClient(t, server.URL)
	server.Close()

	fetcher := NewFetcher(client, testTelemetry)
	outcome := fetcher.Fetch(context.Background(), testParams(), Credentials{
		CsrfToken:   "csrf-1",
		CaptchaText: "4821",
	})
	require.Equal(t, OutcomeTransportError, outcome.Kind)
	require.ErrorIs(t, outcome.Err, ErrTransport)
}

func TestClassify(t *testing.T) {
	fetcher := Fetcher{tel: testTelemetry}

	cases := []struct {
		name    string
		status  int
		body    string
		kind    OutcomeKind
		records int
	}{
		{name: "empty list", status: 200, body: "[]", kind: OutcomeSuccess},
		{name: "list with whitespace", status: 200, body: "  [ ]\n", kind: OutcomeSuccess},
		{
			name:    "records",
			status:  200,
			body:    `[{"codigo_atleta":"A1","contrato_numero":"1","tipocontrato":"T"},{"codigo_atleta":"A2","contrato_numero":"2","tipocontrato":"T"}]`,
			kind:    OutcomeSuccess,
			records: 2,
		},
		{
			name:    "numeric codes",
			status:  200,
			body:    `[{"codigo_atleta":12345,"contrato_numero":678,"tipocontrato":"Profissional","codigo_clube":99}]`,
			kind:    OutcomeSuccess,
			records: 1,
		},
		{
			name:    "record without identity is dropped",
			status:  200,
			body:    `[{"codigo_atleta":"A1","contrato_numero":"1","tipocontrato":"T"},{"nome":"SEM CODIGO"}]`,
			kind:    OutcomeSuccess,
			records: 1,
		},
		{name: "csrf mismatch", status: 419, body: `{"message":"CSRF token mismatch."}`, kind: OutcomeCsrfMismatch},
		{name: "csrf mismatch with ok status", status: 200, body: `{"message":"CSRF token mismatch."}`, kind: OutcomeCsrfMismatch},
		{name: "object body", status: 200, body: `{"erro":"captcha"}`, kind: OutcomeCaptchaRejected},
		{name: "null body", status: 200, body: "null", kind: OutcomeCaptchaRejected},
		{name: "empty body", status: 200, body: "", kind: OutcomeCaptchaRejected},
		{name: "html body", status: 200, body: "<html><title>Erro</title></html>", kind: OutcomeCaptchaRejected},
		{name: "truncated list", status: 200, body: `[{"codigo_atleta":"A1"`, kind: OutcomeCaptchaRejected},
		{name: "malformed record", status: 200, body: `[{"codigo_atleta":{"x":1}}]`, kind: OutcomeCaptchaRejected},
		{name: "server error", status: 500, body: "<html><title>Server Error</title></html>", kind: OutcomeTransportError},
		{name: "other 4xx", status: 429, body: `{"message":"Too Many Attempts."}`, kind: OutcomeTransportError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome := fetcher.classify(tc.status, []byte(tc.body))
			require.Equal(t, tc.kind, outcome.Kind, outcome.Err)
			if tc.kind != OutcomeSuccess {
				require.Error(t, outcome.Err)
				return
			}
			require.NoError(t, outcome.Err)
			require.NotNil(t, outcome.Records)
			require.Len(t, outcome.Records, tc.records)
		})
	}
}

func TestRecordNumericCodes(t *testing.T) {
	outcome := Fetcher{tel: testTelemetry}.classify(
		http.StatusOK,
		[]byte(`[{"id_contrato":1,"codigo_atleta":12345,"contrato_numero":"678","tipocontrato":"Profissional","codigo_clube":99,"apelido":null}]`),
	)
	require.Equal(t, OutcomeSuccess, outcome.Kind)
	record := outcome.Records[0]
	require.Equal(t, Code("1"), record.ContractID)
	require.Equal(t, Code("12345"), record.AthleteID)
	require.Equal(t, Code("678"), record.ContractNumber)
	require.Equal(t, Code("99"), record.ClubCode)
	require.Nil(t, record.Nickname)
}

// The whole stack against the fake registry, starting from a persisted
// session that the registry no longer accepts.
func TestCoordinatorAgainstRegistry(t *testing.T) {
	records := `[{"codigo_atleta":"A1","contrato_numero":"123","tipocontrato":"Profissional"}]`

	t.Run("stale captcha", func(t *testing.T) {
		fake, server := newFakeRegistry(t)
		fake.csrfToken = "csrf-live"
		fake.records = records

		store := &memorySnapshots{found: true, snapshot: Snapshot{
			CsrfToken:   "csrf-live",
			CaptchaText: "0000",
			Timestamp:   time.Date(2024, time.May, 1, 8, 0, 0, 0, time.UTC),
		}}
		solver := &stubSolver{answer: "4821"}
		client := testClient(t, server.URL)
		session := NewSessionManager(context.Background(), client, solver, store, testTime(t), testTelemetry)
		coordinator := NewCoordinator(session, NewFetcher(client, testTelemetry), DefaultMaxRetries, testTelemetry)

		result, err := coordinator.Fetch(context.Background(), testParams())
		require.NoError(t, err)
		require.Len(t, result, 1)
		require.Equal(t, 2, fake.searchHits)
		require.Equal(t, 1, fake.captchaHits)
		require.Equal(t, 0, fake.entryHits)
		require.Equal(t, "4821", store.snapshot.CaptchaText)
	})

	t.Run("stale csrf token", func(t *testing.T) {
		fake, server := newFakeRegistry(t)
		fake.records = records

		store := &memorySnapshots{found: true, snapshot: Snapshot{
			CsrfToken:   "csrf-expired",
			CaptchaText: "4821",
		}}
		solver := &stubSolver{answer: "4821"}
		client := testClient(t, server.URL)
		session := NewSessionManager(context.Background(), client, solver, store, testTime(t), testTelemetry)
		coordinator := NewCoordinator(session, NewFetcher(client, testTelemetry), DefaultMaxRetries, testTelemetry)

		result, err := coordinator.Fetch(context.Background(), testParams())
		require.NoError(t, err)
		require.Len(t, result, 1)
		require.Equal(t, 1, fake.entryHits)
		require.Equal(t, 2, fake.searchHits)
		require.Equal(t, "csrf-1", store.snapshot.CsrfToken)
	})

	t.Run("wrong answers exhaust", func(t *testing.T) {
		fake, server := newFakeRegistry(t)
		solver := &stubSolver{answer: "9999"}
		client := testClient(t, server.URL)
		session := NewSessionManager(context.Background(), client, solver, &memorySnapshots{}, testTime(t), testTelemetry)
		coordinator := NewCoordinator(session, NewFetcher(client, testTelemetry), DefaultMaxRetries, testTelemetry)

		_, err := coordinator.Fetch(context.Background(), testParams())
		require.ErrorIs(t, err, ErrExhausted)
		require.ErrorIs(t, err, ErrCaptchaRejected)
		require.Equal(t, 1, fake.entryHits)
		require.Equal(t, DefaultMaxRetries+1, fake.searchHits)
		require.Equal(t, DefaultMaxRetries+1, fake.captchaHits)
	})
}

func TestFormatTime(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	require.Equal(t, "01/05/2024 10:23", FormatTime("2024-05-01 10:23:45", true, loc))
	require.Equal(t, "01/05/2024", FormatTime("2024-05-01 10:23:45", false, loc))
	require.Equal(t, "31/12/2025", FormatTime("2025-12-31", false, loc))
	require.Equal(t, "01/05/2024 10:23", FormatTime("2024-05-01T13:23:45Z", true, loc))
	require.Equal(t, "15/03/2001", FormatTime("15/03/2001", false, loc))
	require.Equal(t, "sem data", FormatTime("sem data", true, loc))
}
