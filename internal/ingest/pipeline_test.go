package ingest

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/hash/sha256"
	"github.com/JakeFAU/boxoffice-crawler/internal/storage/memory"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchRanking(ctx context.Context, d civil.Date) ([]boxoffice.RankingRow, error) {
	args := m.Called(ctx, d)
	rows, _ := args.Get(0).([]boxoffice.RankingRow)
	return rows, args.Error(1)
}

func (m *mockFetcher) FetchMovie(ctx context.Context, id string) (*boxoffice.Movie, error) {
	args := m.Called(ctx, id)
	movie, _ := args.Get(0).(*boxoffice.Movie)
	return movie, args.Error(1)
}

type recordingIndex struct {
	dates []civil.Date
	err   error
}

func (r *recordingIndex) IndexSnapshot(_ context.Context, d civil.Date, _ []boxoffice.RankingRow) error {
	r.dates = append(r.dates, d)
	return r.err
}

var (
	mar1 = civil.Date{Year: 2024, Month: 3, Day: 1}
	mar2 = civil.Date{Year: 2024, Month: 3, Day: 2}
	mar3 = civil.Date{Year: 2024, Month: 3, Day: 3}
)

func row(id string, day, rank int, revenue int64) boxoffice.RankingRow {
	return boxoffice.RankingRow{
		MovieID:      id,
		Title:        "Movie " + id,
		DayOffset:    day,
		Observation:  boxoffice.DailyObservation{Rank: rank, Revenue: revenue},
		TheaterCount: boxoffice.UnknownTheaterCount,
	}
}

func newPipeline(t *testing.T, f boxoffice.Fetcher, store boxoffice.ObjectStore, index boxoffice.SnapshotIndex) *Pipeline {
	t.Helper()
	p, err := NewPipeline(f, store, sha256.New(), index, Config{RankingPrefix: "rankings"}, nil)
	require.NoError(t, err)
	return p
}

func TestIngest_AccumulatesAcrossDates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &mockFetcher{}
	f.On("FetchRanking", mock.Anything, mar1).Return([]boxoffice.RankingRow{row("rl1", 1, 1, 1000), row("rl2", 5, 2, 500)}, nil).Once()
	f.On("FetchRanking", mock.Anything, mar2).Return([]boxoffice.RankingRow{row("rl1", 2, 1, 800)}, nil).Once()
	store := memory.NewObjectStore()
	index := &recordingIndex{}
	p := newPipeline(t, f, store, index)

	report := p.Ingest(ctx, []civil.Date{mar1, mar2, mar1})

	f.AssertExpectations(t)
	assert.Equal(t, []civil.Date{mar1, mar2}, report.Confirmed)
	assert.Empty(t, report.Failed)
	require.Len(t, report.Movies, 2)
	assert.Equal(t, []int{1, 2}, report.Movies["rl1"].Revenues.Offsets())
	assert.Equal(t, "Movie rl1", report.Movies["rl1"].Title)
	assert.ElementsMatch(t, []string{"rankings/2024-03-01.json", "rankings/2024-03-02.json"}, store.Keys("rankings/"))
	assert.Equal(t, []civil.Date{mar1, mar2}, index.dates)

	obj, err := store.Get(ctx, "rankings/2024-03-01.json")
	require.NoError(t, err)
	rows, err := boxoffice.DecodeSnapshot(obj.Data)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, sha256.New().Hash(obj.Data), obj.Attrs.Metadata[sha256.MetadataKey])
}

func TestIngest_FailedDateDoesNotAbortOthers(t *testing.T) {
	t.Parallel()

	boom := errors.New("upstream 503")
	f := &mockFetcher{}
	f.On("FetchRanking", mock.Anything, mar1).Return(nil, boom)
	f.On("FetchRanking", mock.Anything, mar2).Return([]boxoffice.RankingRow{row("rl1", 2, 1, 800)}, nil)
	p := newPipeline(t, f, memory.NewObjectStore(), nil)

	report := p.Ingest(context.Background(), []civil.Date{mar1, mar2})

	assert.Equal(t, []civil.Date{mar2}, report.Confirmed)
	require.Contains(t, report.Failed, mar1)
	assert.ErrorIs(t, report.Failed[mar1], boom)
	assert.Contains(t, report.Movies, "rl1")
}

func TestIngest_SnapshotIsWriteOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &mockFetcher{}
	f.On("FetchRanking", mock.Anything, mar3).Return([]boxoffice.RankingRow{row("rl1", 3, 1, 100)}, nil).Once()
	f.On("FetchRanking", mock.Anything, mar3).Return([]boxoffice.RankingRow{row("rl1", 3, 1, 999)}, nil).Once()
	store := memory.NewObjectStore()
	p := newPipeline(t, f, store, nil)

	first := p.Ingest(ctx, []civil.Date{mar3})
	require.Equal(t, []civil.Date{mar3}, first.Confirmed)
	before, err := store.Head(ctx, p.SnapshotKey(mar3))
	require.NoError(t, err)

	second := p.Ingest(ctx, []civil.Date{mar3})
	assert.Equal(t, []civil.Date{mar3}, second.Confirmed, "existing snapshot counts as stored")
	after, err := store.Head(ctx, p.SnapshotKey(mar3))
	require.NoError(t, err)
	assert.Equal(t, before.Attrs.Generation, after.Attrs.Generation)
	assert.Equal(t, before.Attrs.Metadata, after.Attrs.Metadata)
}

type failingPutStore struct {
	*memory.ObjectStore
	err error
}

func (s *failingPutStore) Put(context.Context, string, []byte, boxoffice.PutOptions) (boxoffice.ObjectAttrs, error) {
	return boxoffice.ObjectAttrs{}, s.err
}

func TestIngest_PersistFailureFailsDate(t *testing.T) {
	t.Parallel()

	f := &mockFetcher{}
	f.On("FetchRanking", mock.Anything, mar1).Return([]boxoffice.RankingRow{row("rl1", 1, 1, 1)}, nil)
	boom := errors.New("bucket unavailable")
	p := newPipeline(t, f, &failingPutStore{ObjectStore: memory.NewObjectStore(), err: boom}, nil)

	report := p.Ingest(context.Background(), []civil.Date{mar1})
	assert.Empty(t, report.Confirmed)
	assert.ErrorIs(t, report.Failed[mar1], boom)
	assert.Empty(t, report.Movies, "rows of an unstored date are not reconciled")
}

func TestIngest_IndexFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := &mockFetcher{}
	f.On("FetchRanking", mock.Anything, mar1).Return([]boxoffice.RankingRow{row("rl1", 1, 1, 1)}, nil)
	p := newPipeline(t, f, memory.NewObjectStore(), &recordingIndex{err: errors.New("db down")})

	report := p.Ingest(context.Background(), []civil.Date{mar1})
	assert.Equal(t, []civil.Date{mar1}, report.Confirmed)
}

func TestAccumulate_FirstMetadataWins(t *testing.T) {
	t.Parallel()

	a := row("rl1", 1, 1, 100)
	b := row("rl1", 1, 2, 200)
	b.Title = "Other"
	b.TheaterCount = 3000

	movies := map[string]*boxoffice.Movie{}
	accumulate(movies, []boxoffice.RankingRow{a, b})

	m := movies["rl1"]
	assert.Equal(t, "Movie rl1", m.Title)
	assert.Equal(t, 3000, m.TheaterCount, "unknown count is filled by a later row")
	assert.Equal(t, boxoffice.DailyObservation{Rank: 2, Revenue: 200}, m.Revenues[1], "later observation replaces earlier")
}

func TestSnapshot_ReadsBackStoredRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &mockFetcher{}
	f.On("FetchRanking", mock.Anything, mar1).Return([]boxoffice.RankingRow{row("rl1", 1, 1, 1000)}, nil).Once()
	p := newPipeline(t, f, memory.NewObjectStore(), nil)

	_, err := p.Snapshot(ctx, mar1)
	require.ErrorIs(t, err, boxoffice.ErrNotFound)

	p.Ingest(ctx, []civil.Date{mar1})
	rows, err := p.Snapshot(ctx, mar1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "rl1", rows[0].MovieID)
}
