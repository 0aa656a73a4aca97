package schedule

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/metrics"
	"github.com/JakeFAU/boxoffice-crawler/internal/telemetry"
)

// ErrStateNotInitialized is returned for any event other than Reset when no
// state document exists yet.
var ErrStateNotInitialized = errors.New("schedule state not initialized; send RESET first")

// Config controls where the state lives and where dispatches go.
type Config struct {
	StateKey   string
	CrawlTopic string
	Defaults   Defaults
}

// Controller applies events to the persisted state document. It is meant to
// run as the single consumer of the control subscription; the generation
// check on every write catches any second writer.
type Controller struct {
	store     boxoffice.ObjectStore
	publisher boxoffice.Publisher
	clock     boxoffice.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewController builds a Controller.
func NewController(
	store boxoffice.ObjectStore,
	publisher boxoffice.Publisher,
	clock boxoffice.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Controller, error) {
	if store == nil || publisher == nil || clock == nil {
		return nil, fmt.Errorf("store, publisher and clock are required")
	}
	if cfg.StateKey == "" || cfg.CrawlTopic == "" {
		return nil, fmt.Errorf("state key and crawl topic are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{store: store, publisher: publisher, clock: clock, cfg: cfg, logger: logger}, nil
}

// State returns the current state document without modifying it.
func (c *Controller) State(ctx context.Context) (State, error) {
	obj, err := c.store.Get(ctx, c.cfg.StateKey)
	if errors.Is(err, boxoffice.ErrNotFound) {
		return State{}, ErrStateNotInitialized
	}
	if err != nil {
		return State{}, fmt.Errorf("read schedule state: %w", err)
	}
	return DecodeState(obj.Data)
}

// Handle runs one event through the state machine. Any failure to read or
// write the state document is returned so the message is redelivered; no
// partial transition is ever persisted.
//
// The state is written before the crawl dispatch is published. If the publish
// then fails, redelivery of the same PrepareRanking recomputes the identical
// target list because the dates now lead the validation queue.
func (c *Controller) Handle(ctx context.Context, env boxoffice.Envelope) (Outcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "schedule.handle")
	defer span.End()

	out, err := c.handle(ctx, env)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
	}
	metrics.ObserveEvent(string(env.EventType), status)
	return out, err
}

func (c *Controller) handle(ctx context.Context, env boxoffice.Envelope) (Outcome, error) {
	if err := env.Validate(); err != nil {
		return Outcome{}, err
	}

	var (
		current State
		create  bool
		gen     int64
	)
	obj, err := c.store.Get(ctx, c.cfg.StateKey)
	switch {
	case errors.Is(err, boxoffice.ErrNotFound):
		if env.EventType != boxoffice.EventReset {
			return Outcome{}, ErrStateNotInitialized
		}
		create = true
	case err != nil:
		return Outcome{}, fmt.Errorf("read schedule state: %w", err)
	default:
		gen = obj.Attrs.Generation
		current, err = DecodeState(obj.Data)
		if err != nil {
			if env.EventType != boxoffice.EventReset {
				return Outcome{}, err
			}
			c.logger.Warn("overwriting unreadable schedule state", zap.Error(err))
			current = State{}
		}
	}

	out, err := Transition(current, Event{
		Type:  env.EventType,
		Dates: env.Dates,
		Today: civil.DateOf(c.clock.Now()),
	}, c.cfg.Defaults)
	if err != nil {
		return Outcome{}, err
	}

	if env.EventType == boxoffice.EventDebug {
		c.logger.Info("schedule state",
			zap.Stringer("next_date_to_crawl", out.State.NextDateToCrawl),
			zap.Stringers("ranking_queue", out.State.RankingQueue),
			zap.Stringers("validation_queue", out.State.ValidationQueue),
			zap.Int("num_of_ranking_to_crawl", out.State.NumOfRankingToCrawl),
		)
		return out, nil
	}

	if out.Mutated {
		if err := c.save(ctx, out.State, create, gen); err != nil {
			return Outcome{}, err
		}
	}

	if len(out.Dispatch) > 0 {
		crawl := boxoffice.Envelope{EventType: boxoffice.EventCrawlRanking, Dates: out.Dispatch}
		if _, err := c.publisher.Publish(ctx, c.cfg.CrawlTopic, crawl); err != nil {
			return Outcome{}, fmt.Errorf("dispatch crawl_ranking: %w", err)
		}
	}

	c.logger.Info("schedule event applied",
		zap.String("event_type", string(env.EventType)),
		zap.Bool("mutated", out.Mutated),
		zap.Stringers("dispatched", out.Dispatch),
		zap.Int("ranking_queue", len(out.State.RankingQueue)),
		zap.Int("validation_queue", len(out.State.ValidationQueue)),
	)
	return out, nil
}

func (c *Controller) save(ctx context.Context, s State, create bool, gen int64) error {
	data, err := EncodeState(s)
	if err != nil {
		return err
	}
	pre := boxoffice.Precondition{GenerationMatch: gen}
	if create {
		pre = boxoffice.Precondition{DoesNotExist: true}
	}
	if _, err := c.store.Put(ctx, c.cfg.StateKey, data, boxoffice.PutOptions{
		ContentType:  boxoffice.ContentTypeJSON,
		Precondition: pre,
	}); err != nil {
		return fmt.Errorf("write schedule state: %w", err)
	}
	return nil
}

// HandleMessage adapts the controller to queue messages whose body is an envelope.
func (c *Controller) HandleMessage(ctx context.Context, msg boxoffice.Message) error {
	env, err := boxoffice.DecodeEnvelope(msg.Body)
	if err != nil {
		return err
	}
	_, err = c.Handle(ctx, env)
	return err
}
