// Package detail crawls a movie's release page and stores it as the
// canonical record. It is the only path that creates canonical records.
package detail

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/metrics"
	"github.com/JakeFAU/boxoffice-crawler/internal/telemetry"
)

// Store persists a complete movie, merging into any existing record.
type Store interface {
	Store(ctx context.Context, movie *boxoffice.Movie) error
}

// Handler consumes crawl_movie_detail messages.
type Handler struct {
	fetcher boxoffice.Fetcher
	store   Store
	logger  *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(fetcher boxoffice.Fetcher, store Store, logger *zap.Logger) (*Handler, error) {
	if fetcher == nil || store == nil {
		return nil, fmt.Errorf("fetcher and store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{fetcher: fetcher, store: store, logger: logger}, nil
}

// HandleMessage decodes a crawl_movie_detail envelope and handles it.
func (h *Handler) HandleMessage(ctx context.Context, msg boxoffice.Message) error {
	env, err := boxoffice.DecodeEnvelope(msg.Body)
	if err != nil {
		return err
	}
	if env.EventType != boxoffice.EventCrawlMovieDetail {
		return fmt.Errorf("%w: expected %s, got %s", boxoffice.ErrMalformedRecord, boxoffice.EventCrawlMovieDetail, env.EventType)
	}
	return h.Handle(ctx, env.ID)
}

// Handle fetches one movie's detail page and stores it.
func (h *Handler) Handle(ctx context.Context, movieID string) error {
	ctx, span := telemetry.Tracer().Start(ctx, "detail.handle")
	defer span.End()

	start := time.Now()
	movie, err := h.fetcher.FetchMovie(ctx, movieID)
	metrics.ObserveFetch("detail", time.Since(start))
	if err != nil {
		span.RecordError(err)
		metrics.ObserveEvent(string(boxoffice.EventCrawlMovieDetail), "error")
		return fmt.Errorf("fetch movie %s: %w", movieID, err)
	}
	if movie.ID != movieID {
		metrics.ObserveEvent(string(boxoffice.EventCrawlMovieDetail), "error")
		return fmt.Errorf("%w: requested %s, page describes %s", boxoffice.ErrParse, movieID, movie.ID)
	}
	if len(movie.Revenues) == 0 {
		// Announced but not yet released; a later ranking will ask again.
		h.logger.Info("movie has no revenue yet", zap.String("movie_id", movieID))
		metrics.ObserveEvent(string(boxoffice.EventCrawlMovieDetail), "empty")
		return nil
	}

	if err := h.store.Store(ctx, movie); err != nil {
		span.RecordError(err)
		metrics.ObserveEvent(string(boxoffice.EventCrawlMovieDetail), "error")
		return err
	}
	metrics.ObserveEvent(string(boxoffice.EventCrawlMovieDetail), "ok")
	h.logger.Info("movie stored",
		zap.String("movie_id", movie.ID),
		zap.String("title", movie.Title),
		zap.Int("days", len(movie.Revenues)),
		zap.Int64("gross", movie.GrossRevenue()),
	)
	return nil
}
