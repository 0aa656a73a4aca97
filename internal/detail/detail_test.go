package detail

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/reconcile"
	"github.com/JakeFAU/boxoffice-crawler/internal/storage/memory"
)

type fakeFetcher struct {
	movies map[string]*boxoffice.Movie
	err    error
}

func (f *fakeFetcher) FetchRanking(context.Context, civil.Date) ([]boxoffice.RankingRow, error) {
	return nil, errors.New("not used")
}

func (f *fakeFetcher) FetchMovie(_ context.Context, id string) (*boxoffice.Movie, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.movies[id]
	if !ok {
		return nil, errors.New("404")
	}
	return m, nil
}

func barbie() *boxoffice.Movie {
	release := civil.Date{Year: 2023, Month: 7, Day: 21}
	distributor := "Warner Bros."
	m := boxoffice.NewMovie("rl1077904129", "Barbie")
	m.ReleaseDate = &release
	m.Distributor = &distributor
	m.TheaterCount = 4243
	m.Revenues = boxoffice.RevenueSeries{
		1: {Rank: 1, Revenue: 70503178},
		2: {Rank: 1, Revenue: 47843021},
	}
	return m
}

func newFixture(t *testing.T, f *fakeFetcher) (*Handler, *reconcile.Reconciler) {
	t.Helper()
	rec, err := reconcile.New(memory.NewObjectStore(), reconcile.Config{MoviesPrefix: "movies"}, nil)
	require.NoError(t, err)
	h, err := NewHandler(f, rec, nil)
	require.NoError(t, err)
	return h, rec
}

func TestHandle_StoresDetail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, rec := newFixture(t, &fakeFetcher{movies: map[string]*boxoffice.Movie{"rl1077904129": barbie()}})

	err := h.HandleMessage(ctx, boxoffice.Message{Body: []byte(`{"event_type":"crawl_movie_detail","id":"rl1077904129"}`)})
	require.NoError(t, err)

	got, err := rec.Load(ctx, "rl1077904129")
	require.NoError(t, err)
	assert.Equal(t, barbie(), got)
}

func TestHandle_RedeliveryMergesIntoExisting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, rec := newFixture(t, &fakeFetcher{movies: map[string]*boxoffice.Movie{"rl1077904129": barbie()}})

	partial := boxoffice.NewMovie("rl1077904129", "Barbie")
	partial.Revenues = boxoffice.RevenueSeries{3: {Rank: 1, Revenue: 1}}
	require.NoError(t, rec.Store(ctx, partial))

	require.NoError(t, h.Handle(ctx, "rl1077904129"))
	require.NoError(t, h.Handle(ctx, "rl1077904129"))

	got, err := rec.Load(ctx, "rl1077904129")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got.Revenues.Offsets())
	require.NotNil(t, got.Distributor)
	assert.Equal(t, "Warner Bros.", *got.Distributor)
}

func TestHandle_FetchErrorIsReturned(t *testing.T) {
	t.Parallel()

	boom := errors.New("upstream 500")
	h, _ := newFixture(t, &fakeFetcher{err: boom})
	require.ErrorIs(t, h.Handle(context.Background(), "rl1"), boom)
}

func TestHandle_NoRevenueYet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h, rec := newFixture(t, &fakeFetcher{movies: map[string]*boxoffice.Movie{"rl9": boxoffice.NewMovie("rl9", "Coming Soon")}})
	require.NoError(t, h.Handle(ctx, "rl9"))

	_, err := rec.Load(ctx, "rl9")
	require.ErrorIs(t, err, boxoffice.ErrNotFound)
}

func TestHandle_MismatchedPage(t *testing.T) {
	t.Parallel()

	h, _ := newFixture(t, &fakeFetcher{movies: map[string]*boxoffice.Movie{"rl1": barbie()}})
	require.ErrorIs(t, h.Handle(context.Background(), "rl1"), boxoffice.ErrParse)
}

func TestHandleMessage_RejectsOtherEvents(t *testing.T) {
	t.Parallel()

	h, _ := newFixture(t, &fakeFetcher{})
	err := h.HandleMessage(context.Background(), boxoffice.Message{Body: []byte(`{"event_type":"RESET"}`)})
	require.ErrorIs(t, err, boxoffice.ErrMalformedRecord)
}
