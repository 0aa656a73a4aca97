// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/spf13/viper"
)

// Backends accepted by storage.backend and queue.backend.
const (
	BackendMemory = "memory"
	BackendGCS    = "gcs"
	BackendPubSub = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Bus       BusConfig       `mapstructure:"bus"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	DB        DBConfig        `mapstructure:"db"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StorageConfig selects the object store and the keys used inside it.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	Bucket        string `mapstructure:"bucket"`
	StateKey      string `mapstructure:"state_key"`
	RankingPrefix string `mapstructure:"ranking_prefix"`
	MoviesPrefix  string `mapstructure:"movies_prefix"`
}

// QueueConfig selects the work queue and the subscriptions each worker polls.
type QueueConfig struct {
	Backend                  string `mapstructure:"backend"`
	ProjectID                string `mapstructure:"project_id"`
	DetailTopic              string `mapstructure:"detail_topic"`
	ControlSubscription      string `mapstructure:"control_subscription"`
	CrawlSubscription        string `mapstructure:"crawl_subscription"`
	DetailSubscription       string `mapstructure:"detail_subscription"`
	BatchSize                int    `mapstructure:"batch_size"`
	PollIntervalMs           int    `mapstructure:"poll_interval_ms"`
	MaxPollIntervalMs        int    `mapstructure:"max_poll_interval_ms"`
	VisibilityTimeoutSeconds int    `mapstructure:"visibility_timeout_seconds"`
}

// BusConfig names the notification topics.
type BusConfig struct {
	ControlTopic string `mapstructure:"control_topic"`
	CrawlTopic   string `mapstructure:"crawl_topic"`
}

// ScheduleConfig feeds the controller and the cron trigger.
type ScheduleConfig struct {
	Epoch        string `mapstructure:"epoch"`
	BatchSize    int    `mapstructure:"batch_size"`
	CrawlLagDays int    `mapstructure:"crawl_lag_days"`
	NewDateCron  string `mapstructure:"new_date_cron"`
	RankingCron  string `mapstructure:"ranking_cron"`
	Timezone     string `mapstructure:"timezone"`
}

// FetcherConfig controls the upstream HTTP client.
type FetcherConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// IngestConfig tunes the ranking ingest handler.
type IngestConfig struct {
	ReconcileConcurrency int    `mapstructure:"reconcile_concurrency"`
	IDNamespace          string `mapstructure:"id_namespace"`
}

// ReconcileConfig bounds conditional write retries.
type ReconcileConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// DBConfig enables the optional Postgres ranking index.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOXOFFICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.state_key", "state/schedule.json")
	v.SetDefault("storage.ranking_prefix", "rankings")
	v.SetDefault("storage.movies_prefix", "movies")
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("queue.detail_topic", "boxoffice-detail")
	v.SetDefault("queue.control_subscription", "boxoffice-control")
	v.SetDefault("queue.crawl_subscription", "boxoffice-crawl")
	v.SetDefault("queue.detail_subscription", "boxoffice-detail")
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.poll_interval_ms", 1000)
	v.SetDefault("queue.max_poll_interval_ms", 30000)
	v.SetDefault("queue.visibility_timeout_seconds", 300)
	v.SetDefault("bus.control_topic", "boxoffice-control")
	v.SetDefault("bus.crawl_topic", "boxoffice-crawl")
	v.SetDefault("schedule.epoch", "2023-10-04")
	v.SetDefault("schedule.batch_size", 3)
	v.SetDefault("schedule.crawl_lag_days", 2)
	v.SetDefault("schedule.new_date_cron", "0 6 * * *")
	v.SetDefault("schedule.ranking_cron", "@every 1h")
	v.SetDefault("schedule.timezone", "America/Los_Angeles")
	v.SetDefault("fetcher.base_url", "https://www.boxofficemojo.com")
	v.SetDefault("fetcher.user_agent", "boxoffice-crawler/0.1")
	v.SetDefault("fetcher.timeout_seconds", 15)
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.requests_per_second", 1.0)
	v.SetDefault("fetcher.burst", 1)
	v.SetDefault("ingest.reconcile_concurrency", 8)
	v.SetDefault("ingest.id_namespace", "boxoffice-crawler")
	v.SetDefault("reconcile.max_attempts", 5)
	v.SetDefault("db.table", "ranking_rows")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be %s or %s", c.Storage.Backend, BackendMemory, BackendGCS)
	}
	if c.Storage.StateKey == "" {
		return fmt.Errorf("storage.state_key is required")
	}
	switch c.Queue.Backend {
	case BackendMemory:
	case BackendPubSub:
		if c.Queue.ProjectID == "" {
			return fmt.Errorf("queue.project_id is required for the pubsub backend")
		}
	default:
		return fmt.Errorf("queue.backend %q must be %s or %s", c.Queue.Backend, BackendMemory, BackendPubSub)
	}
	if c.Queue.BatchSize <= 0 || c.Queue.BatchSize > 10 {
		return fmt.Errorf("queue.batch_size must be between 1 and 10")
	}
	if c.Bus.ControlTopic == "" || c.Bus.CrawlTopic == "" || c.Queue.DetailTopic == "" {
		return fmt.Errorf("bus.control_topic, bus.crawl_topic and queue.detail_topic are required")
	}
	if _, err := c.EpochDate(); err != nil {
		return err
	}
	if c.Schedule.BatchSize <= 0 {
		return fmt.Errorf("schedule.batch_size must be > 0")
	}
	if c.Schedule.CrawlLagDays < 0 {
		return fmt.Errorf("schedule.crawl_lag_days must be >= 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Ingest.ReconcileConcurrency <= 0 {
		return fmt.Errorf("ingest.reconcile_concurrency must be > 0")
	}
	if c.Reconcile.MaxAttempts <= 0 {
		return fmt.Errorf("reconcile.max_attempts must be > 0")
	}
	return nil
}

// EpochDate parses schedule.epoch.
func (c Config) EpochDate() (civil.Date, error) {
	d, err := civil.ParseDate(c.Schedule.Epoch)
	if err != nil {
		return civil.Date{}, fmt.Errorf("schedule.epoch %q: %w", c.Schedule.Epoch, err)
	}
	return d, nil
}

// Location loads schedule.timezone. Empty means UTC.
func (c Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

// FetchTimeout converts the fetcher timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// PollInterval converts the queue poll intervals into durations.
func (c Config) PollInterval() (base, max time.Duration) {
	return time.Duration(c.Queue.PollIntervalMs) * time.Millisecond,
		time.Duration(c.Queue.MaxPollIntervalMs) * time.Millisecond
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
