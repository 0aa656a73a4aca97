package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/metrics"
	"github.com/JakeFAU/boxoffice-crawler/internal/queue"
	"github.com/JakeFAU/boxoffice-crawler/internal/reconcile"
)

// DefaultReconcileConcurrency bounds parallel per-movie reconciliation.
const DefaultReconcileConcurrency = 8

// ErrIncomplete is returned when the batch finished but some transient
// failure means the message should be processed again.
var ErrIncomplete = errors.New("ranking batch incomplete")

// Reconciler folds observed revenue into canonical records.
type Reconciler interface {
	Reconcile(ctx context.Context, movieID string, observed boxoffice.RevenueSeries) (reconcile.Action, error)
}

// HandlerConfig names the outputs of a crawl_ranking batch.
type HandlerConfig struct {
	ControlTopic         string
	DetailQueue          string
	ReconcileConcurrency int
}

// Summary describes what one crawl_ranking message produced.
type Summary struct {
	Report          Report
	Actions         map[string]reconcile.Action
	DetailRequested []string
	// Retryable counts failures that warrant redelivery.
	Retryable int
}

// Handler consumes crawl_ranking messages.
type Handler struct {
	pipeline   *Pipeline
	reconciler Reconciler
	publisher  boxoffice.Publisher
	queue      boxoffice.WorkQueue
	ids        boxoffice.IDGenerator
	cfg        HandlerConfig
	logger     *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(
	pipeline *Pipeline,
	reconciler Reconciler,
	publisher boxoffice.Publisher,
	q boxoffice.WorkQueue,
	ids boxoffice.IDGenerator,
	cfg HandlerConfig,
	logger *zap.Logger,
) (*Handler, error) {
	if pipeline == nil || reconciler == nil || publisher == nil || q == nil || ids == nil {
		return nil, fmt.Errorf("pipeline, reconciler, publisher, queue and id generator are required")
	}
	if cfg.ControlTopic == "" || cfg.DetailQueue == "" {
		return nil, fmt.Errorf("control topic and detail queue are required")
	}
	if cfg.ReconcileConcurrency <= 0 {
		cfg.ReconcileConcurrency = DefaultReconcileConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pipeline:   pipeline,
		reconciler: reconciler,
		publisher:  publisher,
		queue:      q,
		ids:        ids,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// HandleMessage decodes a crawl_ranking envelope and handles it.
func (h *Handler) HandleMessage(ctx context.Context, msg boxoffice.Message) error {
	env, err := boxoffice.DecodeEnvelope(msg.Body)
	if err != nil {
		return err
	}
	if env.EventType != boxoffice.EventCrawlRanking {
		return fmt.Errorf("%w: expected %s, got %s", boxoffice.ErrMalformedRecord, boxoffice.EventCrawlRanking, env.EventType)
	}
	_, err = h.Handle(ctx, env)
	return err
}

// Handle ingests the envelope's dates, reconciles every movie seen, requests
// detail crawls for unknown movies and confirms the stored dates.
//
// Everything before the confirmation is idempotent, so any transient failure
// is reported as ErrIncomplete after the confirmation has been published. A
// date whose page cannot be parsed is only logged; it stays unconfirmed in the
// schedule and is dispatched again by a later prepare_ranking.
func (h *Handler) Handle(ctx context.Context, env boxoffice.Envelope) (Summary, error) {
	report := h.pipeline.Ingest(ctx, env.Dates)
	summary := Summary{Report: report}

	actions, retryable := h.reconcileAll(ctx, report.Movies)
	summary.Actions = actions
	summary.Retryable = retryable + report.Transient()

	var creates []string
	for id, a := range actions {
		if a == reconcile.ActionCreate {
			creates = append(creates, id)
		}
	}
	sort.Strings(creates)
	if len(creates) > 0 {
		requested, failed := h.requestDetails(ctx, creates)
		summary.DetailRequested = requested
		summary.Retryable += failed
	}

	if len(report.Confirmed) > 0 {
		confirm := boxoffice.Envelope{EventType: boxoffice.EventValidateRanking, Dates: report.Confirmed}
		if _, err := h.publisher.Publish(ctx, h.cfg.ControlTopic, confirm); err != nil {
			metrics.ObserveEvent(string(boxoffice.EventCrawlRanking), "error")
			return summary, fmt.Errorf("publish validate_ranking: %w", err)
		}
	}

	h.logger.Info("ranking batch processed",
		zap.Stringers("confirmed", report.Confirmed),
		zap.Int("failed_dates", len(report.Failed)),
		zap.Int("movies", len(report.Movies)),
		zap.Int("detail_requested", len(summary.DetailRequested)),
		zap.Int("retryable", summary.Retryable),
	)

	if summary.Retryable > 0 {
		metrics.ObserveEvent(string(boxoffice.EventCrawlRanking), "partial")
		return summary, fmt.Errorf("%w: %d dates failed, %d retryable errors",
			ErrIncomplete, len(report.Failed), summary.Retryable)
	}
	if len(report.Failed) > 0 {
		metrics.ObserveEvent(string(boxoffice.EventCrawlRanking), "unparseable")
		return summary, nil
	}
	metrics.ObserveEvent(string(boxoffice.EventCrawlRanking), "ok")
	return summary, nil
}

// reconcileAll runs one reconcile per movie with bounded concurrency. A
// malformed stored record is logged and not retried.
func (h *Handler) reconcileAll(ctx context.Context, movies map[string]*boxoffice.Movie) (map[string]reconcile.Action, int) {
	var (
		mu        sync.Mutex
		actions   = make(map[string]reconcile.Action, len(movies))
		retryable int
		g         errgroup.Group
	)
	g.SetLimit(h.cfg.ReconcileConcurrency)

	for id, m := range movies {
		g.Go(func() error {
			action, err := h.reconciler.Reconcile(ctx, id, m.Revenues)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				h.logger.Error("reconcile failed", zap.String("movie_id", id), zap.Error(err))
				if !errors.Is(err, boxoffice.ErrMalformedRecord) {
					retryable++
				}
				return nil
			}
			actions[id] = action
			return nil
		})
	}
	_ = g.Wait()
	return actions, retryable
}

func (h *Handler) requestDetails(ctx context.Context, movieIDs []string) ([]string, int) {
	msgs := make([]boxoffice.Message, 0, len(movieIDs))
	for _, id := range movieIDs {
		body, err := boxoffice.EncodeEnvelope(boxoffice.Envelope{EventType: boxoffice.EventCrawlMovieDetail, ID: id})
		if err != nil {
			h.logger.Error("encode detail request", zap.String("movie_id", id), zap.Error(err))
			continue
		}
		msgs = append(msgs, boxoffice.Message{ID: h.ids.NameID(id), Body: body})
	}

	res := queue.SendAll(ctx, h.queue, h.cfg.DetailQueue, msgs)
	for _, f := range res.Failed {
		h.logger.Warn("detail request not sent",
			zap.String("entry_id", f.ID),
			zap.String("code", f.Code),
			zap.String("message", f.Message),
		)
	}
	metrics.ObserveBatchFailures("send", len(res.Failed))

	byEntry := make(map[string]string, len(movieIDs))
	for _, id := range movieIDs {
		byEntry[h.ids.NameID(id)] = id
	}
	requested := make([]string, 0, len(res.Succeeded))
	for _, entry := range res.Succeeded {
		if id, ok := byEntry[entry]; ok {
			requested = append(requested, id)
		}
	}
	sort.Strings(requested)
	return requested, len(res.Failed)
}
