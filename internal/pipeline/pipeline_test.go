package pipeline

import (
	"bidwatch/internal/components/telemetry"
	"bidwatch/internal/dedup"
	"bidwatch/internal/registry"
	"bidwatch/internal/store"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var saoPaulo = func() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		panic(err)
	}
	return loc
}()

type fixedTime struct {
	now time.Time
}

func (f fixedTime) Now() time.Time {
	return f.now
}

func (f fixedTime) Location() *time.Location {
	return f.now.Location()
}

type fakeSource struct {
	mu      sync.Mutex
	records map[string][]registry.Record
	errs    map[string]error
	calls   []registry.QueryParams

	// block, when set, is waited on before answering.
	started chan struct{}
	block   chan struct{}
}

func (f *fakeSource) Fetch(ctx context.Context, params registry.QueryParams) ([]registry.Record, error) {
	if f.block != nil {
		close(f.started)
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	if err := f.errs[params.ClubCode]; err != nil {
		return nil, err
	}
	return f.records[params.ClubCode], nil
}

type fakeRenderer struct {
	fail map[registry.Code]bool
}

func (f fakeRenderer) Render(ctx context.Context, record registry.Record) ([]byte, error) {
	if f.fail[record.AthleteID] {
		return nil, errors.New("chrome crashed")
	}
	return []byte("png:" + record.AthleteID.String()), nil
}

type post struct {
	text  string
	image []byte
}

type fakePublisher struct {
	posts []post
	fail  bool
}

func (f *fakePublisher) Publish(ctx context.Context, text string, image []byte) (string, error) {
	if f.fail {
		return "", errors.New("rate limited")
	}
	f.posts = append(f.posts, post{text: text, image: image})
	return fmt.Sprintf("post-%d", len(f.posts)), nil
}

func record(athlete, contractType, number string) registry.Record {
	return registry.Record{
		AthleteID:       registry.Code(athlete),
		AthleteName:     "ATLETA " + athlete,
		ContractType:    contractType,
		ContractNumber:  registry.Code(number),
		ClubName:        "Clube",
		PublicationDate: "2024-05-01 09:00:00",
	}
}

type fixture struct {
	driver *Driver
	source *fakeSource
	cache  *dedup.Cache
}

func newFixture(t *testing.T, source *fakeSource, renderer fakeRenderer, teams []Team) fixture {
	clock := fixedTime{now: time.Date(2024, time.May, 1, 10, 0, 0, 0, saoPaulo)}
	cache := dedup.NewCache(store.NewMemory(), telemetry.SlogAPI{})
	return fixture{
		driver: NewDriver(source, cache, renderer, teams, clock, telemetry.SlogAPI{}),
		source: source,
		cache:  cache,
	}
}

func TestRunPassPublishesOnce(t *testing.T) {
	ctx := context.Background()
	publisher := &fakePublisher{}
	source := &fakeSource{records: map[string][]registry.Record{
		"99": {record("A1", "T1", "123")},
	}}
	f := newFixture(t, source, fakeRenderer{}, []Team{
		{Name: "Clube", RegionCode: "SP", ClubCode: "99", Publisher: publisher},
	})

	report, err := f.driver.RunPass(ctx)
	require.NoError(t, err)
	require.Len(t, report.Teams, 1)
	require.Equal(t, 1, report.Teams[0].Published)
	require.Len(t, publisher.posts, 1)
	require.Equal(t, []byte("png:A1"), publisher.posts[0].image)
	require.Contains(t, publisher.posts[0].text, "Jogador publicado no BID: ATLETA A1")

	found, err := f.cache.Exists(ctx, "2024-05-01-SP-99-A1-T1-123")
	require.NoError(t, err)
	require.True(t, found)

	require.Equal(t, "01/05/2024", source.calls[0].FormattedDate())
	require.Equal(t, "SP", source.calls[0].RegionCode)

	report, err = f.driver.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.Teams[0].Published)
	require.Equal(t, 1, report.Teams[0].Skipped)
	require.Len(t, publisher.posts, 1)
}

func TestRunPassPrunesOldKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeSource{}, fakeRenderer{}, nil)

	require.NoError(t, f.cache.Insert(ctx, "2024-04-30-SP-99-A1-T1-123"))
	require.NoError(t, f.cache.Insert(ctx, "2024-05-01-SP-99-A2-T1-124"))

	report, err := f.driver.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Pruned)

	keys, err := f.cache.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"2024-05-01-SP-99-A2-T1-124"}, keys)
}

func TestRunPassRecordFailuresAreScoped(t *testing.T) {
	ctx := context.Background()
	publisher := &fakePublisher{}
	source := &fakeSource{records: map[string][]registry.Record{
		"99": {record("A1", "T1", "1"), record("A2", "T1", "2"), record("A3", "T1", "3")},
	}}
	f := newFixture(t, source, fakeRenderer{fail: map[registry.Code]bool{"A2": true}}, []Team{
		{Name: "Clube", RegionCode: "SP", ClubCode: "99", Publisher: publisher},
	})

	report, err := f.driver.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Teams[0].Published)
	require.Len(t, report.Teams[0].Failures, 1)
	require.ErrorIs(t, report.Teams[0].Failures[0], ErrRender)

	found, err := f.cache.Exists(ctx, "2024-05-01-SP-99-A2-T1-2")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRunPassPublishFailureLeavesKey(t *testing.T) {
	ctx := context.Background()
	publisher := &fakePublisher{fail: true}
	source := &fakeSource{records: map[string][]registry.Record{
		"99": {record("A1", "T1", "123")},
	}}
	f := newFixture(t, source, fakeRenderer{}, []Team{
		{Name: "Clube", RegionCode: "SP", ClubCode: "99", Publisher: publisher},
	})

	report, err := f.driver.RunPass(ctx)
	require.NoError(t, err)
	require.Len(t, report.Teams[0].Failures, 1)
	require.ErrorIs(t, report.Teams[0].Failures[0], ErrPublish)

	found, err := f.cache.Exists(ctx, "2024-05-01-SP-99-A1-T1-123")
	require.NoError(t, err)
	require.False(t, found)

	publisher.fail = false
	report, err = f.driver.RunPass(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Teams[0].Published)
}

func TestRunPassClubFailuresAreScoped(t *testing.T) {
	first := &fakePublisher{}
	second := &fakePublisher{}
	source := &fakeSource{
		records: map[string][]registry.Record{"2": {record("B1", "T1", "7")}},
		errs:    map[string]error{"1": fmt.Errorf("%w after 4 attempts", registry.ErrExhausted)},
	}
	f := newFixture(t, source, fakeRenderer{}, []Team{
		{Name: "Um", RegionCode: "SP", ClubCode: "1", Publisher: first},
		{Name: "Dois", RegionCode: "RJ", ClubCode: "2", Publisher: second},
	})

	report, err := f.driver.RunPass(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Teams, 2)
	require.ErrorIs(t, report.Teams[0].Err, registry.ErrExhausted)
	require.Equal(t, 1, report.Teams[1].Published)
	require.Len(t, second.posts, 1)
}

func TestRunPassProtocolErrorAborts(t *testing.T) {
	second := &fakePublisher{}
	source := &fakeSource{
		records: map[string][]registry.Record{"2": {record("B1", "T1", "7")}},
		errs:    map[string]error{"1": fmt.Errorf("%w: %w", registry.ErrProtocol, registry.ErrCsrfNotFound)},
	}
	f := newFixture(t, source, fakeRenderer{}, []Team{
		{Name: "Um", RegionCode: "SP", ClubCode: "1", Publisher: &fakePublisher{}},
		{Name: "Dois", RegionCode: "RJ", ClubCode: "2", Publisher: second},
	})

	report, err := f.driver.RunPass(context.Background())
	require.ErrorIs(t, err, registry.ErrProtocol)
	require.Len(t, report.Teams, 1)
	require.Len(t, source.calls, 1)
	require.Empty(t, second.posts)
}

func TestRunPassIsSingleFlight(t *testing.T) {
	source := &fakeSource{
		started: make(chan struct{}),
		block:   make(chan struct{}),
	}
	f := newFixture(t, source, fakeRenderer{}, []Team{
		{Name: "Clube", RegionCode: "SP", ClubCode: "99", Publisher: &fakePublisher{}},
	})

	done := make(chan error)
	go func() {
		_, err := f.driver.RunPass(context.Background())
		done <- err
	}()

	<-source.started
	_, err := f.driver.RunPass(context.Background())
	require.ErrorIs(t, err, ErrPassInProgress)

	close(source.block)
	require.NoError(t, <-done)
}
