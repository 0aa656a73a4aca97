// Package trigger publishes the periodic scheduling ticks onto the control topic.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
)

// Default schedules.
const (
	DefaultNewDateSpec = "0 6 * * *"
	DefaultRankingSpec = "@every 1h"
)

// publishTimeout bounds one tick's publish.
const publishTimeout = 30 * time.Second

// Config controls the tick schedules.
type Config struct {
	Topic       string
	NewDateSpec string
	RankingSpec string
	Location    *time.Location
}

// Trigger owns a cron instance firing prepare_new_date and prepare_ranking.
type Trigger struct {
	cron      *cron.Cron
	publisher boxoffice.Publisher
	topic     string
	logger    *zap.Logger
	entries   map[boxoffice.EventType]cron.EntryID

	mu  sync.RWMutex
	ctx context.Context
}

// New parses both schedules and registers them. Nothing fires until Run.
func New(publisher boxoffice.Publisher, cfg Config, logger *zap.Logger) (*Trigger, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.NewDateSpec == "" {
		cfg.NewDateSpec = DefaultNewDateSpec
	}
	if cfg.RankingSpec == "" {
		cfg.RankingSpec = DefaultRankingSpec
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	t := &Trigger{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(cfg.Location),
			cron.WithChain(cron.Recover(cron.DefaultLogger)),
		),
		publisher: publisher,
		topic:     cfg.Topic,
		logger:    logger,
		entries:   make(map[boxoffice.EventType]cron.EntryID, 2),
		ctx:       context.Background(),
	}
	for ev, spec := range map[boxoffice.EventType]string{
		boxoffice.EventPrepareNewDate: cfg.NewDateSpec,
		boxoffice.EventPrepareRanking: cfg.RankingSpec,
	} {
		id, err := t.cron.AddFunc(spec, func() { t.tick(ev) })
		if err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", ev, spec, err)
		}
		t.entries[ev] = id
	}
	return t, nil
}

// Run starts the cron and blocks until ctx ends, then waits for any tick in
// progress.
func (t *Trigger) Run(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()

	t.cron.Start()
	for ev, next := range t.Next() {
		t.logger.Info("trigger scheduled", zap.String("event_type", string(ev)), zap.Time("next_run", next))
	}
	<-ctx.Done()
	<-t.cron.Stop().Done()
}

// Fire publishes one tick of type ev immediately.
func (t *Trigger) Fire(ctx context.Context, ev boxoffice.EventType) error {
	if _, err := t.publisher.Publish(ctx, t.topic, boxoffice.Envelope{EventType: ev}); err != nil {
		return fmt.Errorf("publish %s: %w", ev, err)
	}
	return nil
}

// Next reports when each tick fires next. Times are zero before Run.
func (t *Trigger) Next() map[boxoffice.EventType]time.Time {
	out := make(map[boxoffice.EventType]time.Time, len(t.entries))
	for ev, id := range t.entries {
		out[ev] = t.cron.Entry(id).Next
	}
	return out
}

func (t *Trigger) tick(ev boxoffice.EventType) {
	t.mu.RLock()
	base := t.ctx
	t.mu.RUnlock()

	ctx, cancel := context.WithTimeout(base, publishTimeout)
	defer cancel()
	if err := t.Fire(ctx, ev); err != nil {
		t.logger.Error("trigger publish failed", zap.String("event_type", string(ev)), zap.Error(err))
		return
	}
	t.logger.Info("trigger fired", zap.String("event_type", string(ev)))
}
