// Package worker implements the queue consumption loop shared by every role.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/metrics"
	"github.com/JakeFAU/boxoffice-crawler/internal/queue"
	"github.com/JakeFAU/boxoffice-crawler/internal/telemetry"
)

// Default polling settings.
const (
	DefaultPollInterval    = time.Second
	DefaultMaxPollInterval = 30 * time.Second
)

// Handler processes one received message. A nil error deletes the message;
// a malformed or unparseable message is logged and deleted; any other error
// leaves it on the queue for redelivery.
type Handler interface {
	HandleMessage(ctx context.Context, msg boxoffice.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg boxoffice.Message) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg boxoffice.Message) error {
	return f(ctx, msg)
}

// Config controls Worker behavior.
type Config struct {
	// Name labels log lines, e.g. "controller" or "ranking".
	Name      string
	Queue     string
	BatchSize int
	// PollInterval is the wait after an empty or failed receive. It doubles
	// on consecutive idle polls up to MaxPollInterval.
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

// Worker consumes one queue and hands each message to its Handler.
type Worker struct {
	queue   boxoffice.WorkQueue
	handler Handler
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker.
func New(q boxoffice.WorkQueue, handler Handler, cfg Config, logger *zap.Logger) (*Worker, error) {
	if q == nil || handler == nil {
		return nil, fmt.Errorf("queue and handler are required")
	}
	if cfg.Queue == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > queue.MaxBatchSize {
		cfg.BatchSize = queue.MaxBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = max(cfg.PollInterval, DefaultMaxPollInterval)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Queue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   q,
		handler: handler,
		cfg:     cfg,
		logger:  logger.With(zap.String("worker", cfg.Name), zap.String("queue", cfg.Queue)),
	}, nil
}

// Run blocks, consuming messages until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	wait := w.cfg.PollInterval
	for ctx.Err() == nil {
		n, err := w.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("receive failed", zap.Error(err))
		}
		if n > 0 && err == nil {
			wait = w.cfg.PollInterval
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait = min(wait*2, w.cfg.MaxPollInterval)
	}
}

// Poll receives one batch, handles each message in order and deletes the
// ones that are done. It returns the number of messages received.
func (w *Worker) Poll(ctx context.Context) (int, error) {
	deliveries, err := w.queue.Receive(ctx, w.cfg.Queue, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("receive from %s: %w", w.cfg.Queue, err)
	}
	if len(deliveries) == 0 {
		return 0, nil
	}

	done := make([]boxoffice.Receipt, 0, len(deliveries))
	for _, d := range deliveries {
		if w.process(ctx, d) {
			done = append(done, d.Receipt)
		}
	}

	if len(done) > 0 {
		res := queue.DeleteAll(ctx, w.queue, w.cfg.Queue, done)
		for _, f := range res.Failed {
			w.logger.Warn("delete failed; message will be redelivered",
				zap.String("message_id", f.ID),
				zap.String("code", f.Code),
				zap.String("message", f.Message),
			)
		}
		metrics.ObserveBatchFailures("delete", len(res.Failed))
	}
	return len(deliveries), nil
}

// process reports whether the message should be deleted.
func (w *Worker) process(ctx context.Context, d boxoffice.Delivery) bool {
	msgCtx := telemetry.ExtractAttributes(ctx, d.Message.Attributes)
	msgCtx, span := telemetry.Tracer().Start(msgCtx, "worker."+w.cfg.Name)
	defer span.End()

	err := w.handler.HandleMessage(msgCtx, d.Message)
	switch {
	case err == nil:
		w.logger.Debug("message handled", zap.String("message_id", d.Message.ID))
		return true
	case errors.Is(err, boxoffice.ErrMalformedRecord), errors.Is(err, boxoffice.ErrParse):
		span.RecordError(err)
		w.logger.Error("dropping unprocessable message",
			zap.String("message_id", d.Message.ID),
			zap.ByteString("body", d.Message.Body),
			zap.Error(err),
		)
		return true
	default:
		span.RecordError(err)
		w.logger.Warn("message left for redelivery", zap.String("message_id", d.Message.ID), zap.Error(err))
		return false
	}
}
