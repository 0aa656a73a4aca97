// Package app initializes and holds long-lived application services, acting as
// a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	vkit "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/api"
	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/clock/system"
	"github.com/JakeFAU/boxoffice-crawler/internal/config"
	"github.com/JakeFAU/boxoffice-crawler/internal/detail"
	"github.com/JakeFAU/boxoffice-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/boxoffice-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/boxoffice-crawler/internal/hash/sha256"
	"github.com/JakeFAU/boxoffice-crawler/internal/id/uuid"
	"github.com/JakeFAU/boxoffice-crawler/internal/ingest"
	"github.com/JakeFAU/boxoffice-crawler/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/boxoffice-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/boxoffice-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/boxoffice-crawler/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/boxoffice-crawler/internal/queue/pubsub"
	"github.com/JakeFAU/boxoffice-crawler/internal/reconcile"
	"github.com/JakeFAU/boxoffice-crawler/internal/schedule"
	gcsstorage "github.com/JakeFAU/boxoffice-crawler/internal/storage/gcs"
	memorystorage "github.com/JakeFAU/boxoffice-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/boxoffice-crawler/internal/storage/postgres"
	"github.com/JakeFAU/boxoffice-crawler/internal/telemetry"
	"github.com/JakeFAU/boxoffice-crawler/internal/trigger"
	"github.com/JakeFAU/boxoffice-crawler/internal/worker"
)

// Version is stamped into traces.
var Version = "dev"

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     boxoffice.ObjectStore
	queue     boxoffice.WorkQueue
	publisher boxoffice.Publisher
	index     *pgstore.RankingIndex

	controller *schedule.Controller
	reconciler *reconcile.Reconciler
	pipeline   *ingest.Pipeline
	ingest     *ingest.Handler
	detail     *detail.Handler
	dispatch   *dispatcher.Dispatcher

	gcsClient       *storage.Client
	pubsubClient    *pubsub.Client
	subscriber      *vkit.SubscriberClient
	pubsubQueue     *pubsubqueue.Queue
	pubsubPublisher *gcppublisher.Publisher
	tracerShutdown  func(context.Context) error
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("queue_backend", cfg.Queue.Backend),
	)

	tp, err := telemetry.InitTracerProvider(ctx, "boxoffice-crawler", Version)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	if err := a.setupStorage(ctx); err != nil {
		a.closeInfrastructure(ctx)
		return nil, err
	}
	if err := a.setupBus(ctx); err != nil {
		a.closeInfrastructure(ctx)
		return nil, err
	}
	if err := a.setupDatabase(ctx); err != nil {
		a.closeInfrastructure(ctx)
		return nil, err
	}
	if err := a.setupHandlers(); err != nil {
		a.closeInfrastructure(ctx)
		return nil, err
	}
	a.dispatch = dispatcher.New(a.publisher, nil)
	return a, nil
}

func (a *App) setupStorage(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("gcs object store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
	default:
		a.store = memorystorage.NewObjectStore()
		a.logger.Info("using in-memory storage backend")
	}
	return nil
}

func (a *App) setupBus(ctx context.Context) error {
	switch a.cfg.Queue.Backend {
	case config.BackendPubSub:
		client, err := pubsub.NewClient(ctx, a.cfg.Queue.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		subscriber, err := vkit.NewSubscriberClient(ctx)
		if err != nil {
			return fmt.Errorf("pubsub subscriber init failed: %w", err)
		}
		a.subscriber = subscriber
		q, err := pubsubqueue.New(client, subscriber, a.cfg.Queue.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub queue init failed: %w", err)
		}
		a.pubsubQueue = q
		a.queue = q
		a.pubsubPublisher = gcppublisher.New(client)
		a.publisher = a.pubsubPublisher
		a.logger.Info("Pub/Sub bus initialized", zap.String("project", a.cfg.Queue.ProjectID))
	default:
		visibility := time.Duration(a.cfg.Queue.VisibilityTimeoutSeconds) * time.Second
		q := queuememory.NewQueue(queuememory.WithVisibilityTimeout(visibility))
		a.queue = q
		a.publisher = pubmemory.New(pubmemory.WithForward(q))
		a.logger.Warn("using in-memory bus; events do not survive a restart")
	}
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no db.dsn configured, ranking index disabled")
		return nil
	}
	index, err := pgstore.NewRankingIndex(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("ranking index init failed: %w", err)
	}
	a.index = index
	if err := index.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ranking index schema: %w", err)
	}
	a.logger.Info("ranking index initialized", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupHandlers() error {
	epoch, err := a.cfg.EpochDate()
	if err != nil {
		return err
	}
	loc, err := a.cfg.Location()
	if err != nil {
		return err
	}

	a.controller, err = schedule.NewController(a.store, a.publisher, system.New(loc), schedule.Config{
		StateKey:   a.cfg.Storage.StateKey,
		CrawlTopic: a.cfg.Bus.CrawlTopic,
		Defaults: schedule.Defaults{
			Epoch:        epoch,
			BatchSize:    a.cfg.Schedule.BatchSize,
			CrawlLagDays: a.cfg.Schedule.CrawlLagDays,
		},
	}, a.logger.Named("schedule"))
	if err != nil {
		return fmt.Errorf("controller init failed: %w", err)
	}

	a.reconciler, err = reconcile.New(a.store, reconcile.Config{
		MoviesPrefix: a.cfg.Storage.MoviesPrefix,
		MaxAttempts:  a.cfg.Reconcile.MaxAttempts,
	}, a.logger.Named("reconcile"))
	if err != nil {
		return fmt.Errorf("reconciler init failed: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   a.cfg.Fetcher.RequestsPerSecond,
		DefaultBurst: a.cfg.Fetcher.Burst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		BaseURL:       a.cfg.Fetcher.BaseURL,
		UserAgent:     a.cfg.Fetcher.UserAgent,
		RespectRobots: a.cfg.Fetcher.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
	}, limiter, a.logger.Named("fetcher"))

	var index boxoffice.SnapshotIndex
	if a.index != nil {
		index = a.index
	}
	a.pipeline, err = ingest.NewPipeline(fetcher, a.store, sha256.New(), index, ingest.Config{
		RankingPrefix: a.cfg.Storage.RankingPrefix,
	}, a.logger.Named("ingest"))
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	ids, err := uuid.New(a.cfg.Ingest.IDNamespace)
	if err != nil {
		return fmt.Errorf("id generator init failed: %w", err)
	}
	a.ingest, err = ingest.NewHandler(a.pipeline, a.reconciler, a.publisher, a.queue, ids, ingest.HandlerConfig{
		ControlTopic:         a.cfg.Bus.ControlTopic,
		DetailQueue:          a.cfg.Queue.DetailTopic,
		ReconcileConcurrency: a.cfg.Ingest.ReconcileConcurrency,
	}, a.logger.Named("ingest"))
	if err != nil {
		return fmt.Errorf("ingest handler init failed: %w", err)
	}

	a.detail, err = detail.NewHandler(fetcher, a.reconciler, a.logger.Named("detail"))
	if err != nil {
		return fmt.Errorf("detail handler init failed: %w", err)
	}
	return nil
}

// Controller exposes the schedule controller for one-off commands.
func (a *App) Controller() *schedule.Controller {
	return a.controller
}

// State returns the current schedule document.
func (a *App) State(ctx context.Context) (schedule.State, error) {
	return a.controller.State(ctx)
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Publish validates env and sends it to the topic its event type belongs on.
func (a *App) Publish(ctx context.Context, env boxoffice.Envelope) (string, error) {
	return a.dispatch.Publish(ctx, a.TopicFor(env.EventType), env)
}

// TopicFor returns the topic that carries events of type t.
func (a *App) TopicFor(t boxoffice.EventType) string {
	switch t {
	case boxoffice.EventCrawlRanking:
		return a.cfg.Bus.CrawlTopic
	case boxoffice.EventCrawlMovieDetail:
		return a.cfg.Queue.DetailTopic
	default:
		return a.cfg.Bus.ControlTopic
	}
}

// subscription maps a configured subscription to the queue name workers poll.
// The memory bus delivers straight into a queue named after the topic.
func (a *App) subscription(sub, topic string) string {
	if a.cfg.Queue.Backend == config.BackendPubSub {
		return sub
	}
	return topic
}

// Runners builds the workers and triggers for roles.
func (a *App) Runners(roles Roles) ([]dispatcher.Runner, error) {
	base, maxPoll := a.cfg.PollInterval()
	newWorker := func(name, queueName string, h worker.Handler) (*worker.Worker, error) {
		return worker.New(a.queue, h, worker.Config{
			Name:            name,
			Queue:           queueName,
			BatchSize:       a.cfg.Queue.BatchSize,
			PollInterval:    base,
			MaxPollInterval: maxPoll,
		}, a.logger.Named("worker"))
	}

	var runners []dispatcher.Runner
	if roles.Controller {
		// Exactly one controller worker per process.
		w, err := newWorker("controller", a.subscription(a.cfg.Queue.ControlSubscription, a.cfg.Bus.ControlTopic), a.controller)
		if err != nil {
			return nil, err
		}
		runners = append(runners, w)
	}
	if roles.Ingest {
		w, err := newWorker("ranking", a.subscription(a.cfg.Queue.CrawlSubscription, a.cfg.Bus.CrawlTopic), a.ingest)
		if err != nil {
			return nil, err
		}
		runners = append(runners, w)
	}
	if roles.Detail {
		w, err := newWorker("detail", a.subscription(a.cfg.Queue.DetailSubscription, a.cfg.Queue.DetailTopic), a.detail)
		if err != nil {
			return nil, err
		}
		runners = append(runners, w)
	}
	if roles.Trigger {
		loc, err := a.cfg.Location()
		if err != nil {
			return nil, err
		}
		t, err := trigger.New(a.publisher, trigger.Config{
			Topic:       a.cfg.Bus.ControlTopic,
			NewDateSpec: a.cfg.Schedule.NewDateCron,
			RankingSpec: a.cfg.Schedule.RankingCron,
			Location:    loc,
		}, a.logger.Named("trigger"))
		if err != nil {
			return nil, fmt.Errorf("trigger init failed: %w", err)
		}
		runners = append(runners, t)
	}
	return runners, nil
}

// APIServer builds the HTTP surface over the app's components.
func (a *App) APIServer() *api.Server {
	deps := api.Deps{
		State:    a.controller,
		Events:   a.dispatch,
		Route:    a.TopicFor,
		Movies:   a.reconciler,
		Rankings: a.pipeline,
		Ready:    map[string]api.Check{},
	}
	if a.index != nil {
		deps.Ready["postgres"] = a.index.Ping
	}
	return api.NewServer(deps, a.cfg, a.logger.Named("api"))
}

// Run starts the roles and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context, roles Roles) error {
	runners, err := a.Runners(roles)
	if err != nil {
		return err
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	d := dispatcher.New(a.publisher, nil, runners...)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("dispatcher started", zap.Stringer("roles", roles))
		d.Run(ctx)
	}()

	var srv *http.Server
	if roles.API {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.APIServer().Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}
	return nil
}

// Close releases clients and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(_ context.Context) {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
	}
	if a.pubsubQueue != nil {
		a.pubsubQueue.Close()
	}
	if a.subscriber != nil {
		if err := a.subscriber.Close(); err != nil {
			a.logger.Warn("pubsub subscriber close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.index != nil {
		a.index.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	_ = a.logger.Sync()
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
