package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMojoServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/date/2023-08-17/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Language") != "en-US" {
			http.Error(w, "language", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(rankingHTML))
	})
	mux.HandleFunc("/release/rl1077904129/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(releaseHTML))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type recordingLimiter struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, u string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, u)
	return l.err
}

func TestFetchRanking(t *testing.T) {
	t.Parallel()

	srv := newMojoServer(t)
	limiter := &recordingLimiter{}
	f := New(Config{BaseURL: srv.URL + "/", Timeout: 5 * time.Second}, limiter, nil)

	rows, err := f.FetchRanking(context.Background(), civil.Date{Year: 2023, Month: 8, Day: 17})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "rl1077904129", rows[0].MovieID)
	assert.Equal(t, []string{srv.URL + "/date/2023-08-17/"}, limiter.urls)
}

func TestFetchMovie(t *testing.T) {
	t.Parallel()

	srv := newMojoServer(t)
	f := New(Config{BaseURL: srv.URL}, nil, nil)

	movie, err := f.FetchMovie(context.Background(), "rl1077904129")
	require.NoError(t, err)
	assert.Equal(t, "rl1077904129", movie.ID)
	assert.Equal(t, "Barbie", movie.Title)
	assert.Len(t, movie.Revenues, 2)
}

func TestFetch_HTTPErrorSurfaces(t *testing.T) {
	t.Parallel()

	srv := newMojoServer(t)
	f := New(Config{BaseURL: srv.URL}, nil, nil)

	_, err := f.FetchMovie(context.Background(), "rl404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetch_LimiterErrorStopsRequest(t *testing.T) {
	t.Parallel()

	srv := newMojoServer(t)
	limiter := &recordingLimiter{err: context.Canceled}
	f := New(Config{BaseURL: srv.URL}, limiter, nil)

	_, err := f.FetchRanking(context.Background(), civil.Date{Year: 2023, Month: 8, Day: 17})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "boxoffice-agent", RespectRobots: true, Timeout: time.Second}, nil, nil)
	collector := f.buildCollector(&page{}, new(error))
	if collector.UserAgent != "boxoffice-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if collector.IgnoreRobotsTxt {
		t.Fatal("expected robots txt to be honored")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil)
	var result page
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("Accept-Language") != "en-US" {
		t.Fatalf("expected language header, got %+v", collyReq.Headers)
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request: &colly.Request{
			URL: mustParseURL(t, "https://www.boxofficemojo.com/release/rl2/"),
		},
	})
	if result.StatusCode != http.StatusOK || string(result.Body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if id, _ := releaseID(result.URL.Path); id != "rl2" {
		t.Fatalf("expected final url to be kept, got %v", result.URL)
	}

	hooks.onError(&colly.Response{StatusCode: http.StatusServiceUnavailable}, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "status 503: boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
