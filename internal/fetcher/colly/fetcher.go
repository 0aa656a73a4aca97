// Package collyfetcher implements boxoffice.Fetcher over Box Office Mojo
// using gocolly for transport and goquery for parsing.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
)

// DefaultBaseURL is the site every page is read from.
const DefaultBaseURL = "https://www.boxofficemojo.com"

// Config controls collector behavior.
type Config struct {
	BaseURL       string
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// page is one fetched document.
type page struct {
	URL        *url.URL
	StatusCode int
	Body       []byte
}

// Fetcher implements boxoffice.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
	limiter       Limiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, limiter Limiter, logger *zap.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())

	transport := &robotsTransport{base: newHTTPTransport(), logger: logger}
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}
}

// FetchRanking reads the daily ranking table for d.
func (f *Fetcher) FetchRanking(ctx context.Context, d civil.Date) ([]boxoffice.RankingRow, error) {
	p, err := f.fetch(ctx, f.cfg.BaseURL+"/date/"+d.String()+"/")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: ranking %s: %v", boxoffice.ErrParse, d, err)
	}
	rows, skipped, err := parseRanking(doc, d)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		f.logger.Warn("skipping ranking row", zap.Stringer("date", d), zap.Error(s))
	}
	return rows, nil
}

// FetchMovie reads a release page. The returned movie's ID is taken from the
// final URL, so a redirect to another release is visible to the caller.
func (f *Fetcher) FetchMovie(ctx context.Context, movieID string) (*boxoffice.Movie, error) {
	p, err := f.fetch(ctx, f.cfg.BaseURL+"/release/"+url.PathEscape(movieID)+"/")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: release %s: %v", boxoffice.ErrParse, movieID, err)
	}
	id := movieID
	if p.URL != nil {
		if fromURL, ok := releaseID(p.URL.Path); ok {
			id = fromURL
		}
	}
	movie, skipped, err := parseMovie(doc, id)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		f.logger.Warn("skipping release row", zap.String("movie_id", id), zap.Error(s))
	}
	return movie, nil
}

func (f *Fetcher) fetch(ctx context.Context, target string) (page, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, target); err != nil {
			return page{}, err
		}
	}
	var (
		result   page
		fetchErr error
	)
	collector := f.buildCollector(&result, &fetchErr)
	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return page{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(result *page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en-US")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = page{
			URL:        r.Request.URL,
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
