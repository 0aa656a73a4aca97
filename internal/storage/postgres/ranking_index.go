// Package postgres indexes ranking snapshots into Postgres for ad-hoc queries.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable receives one row per (crawl date, movie).
const DefaultTable = "ranking_rows"

// Config controls the Postgres connection pool used for ranking rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// RankingIndex writes ranking rows into Postgres.
type RankingIndex struct {
	pool  pool
	table string
}

// NewRankingIndex connects a pool using cfg.
func NewRankingIndex(ctx context.Context, cfg Config) (*RankingIndex, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	idx, err := NewRankingIndexWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return idx, nil
}

// NewRankingIndexWithPool constructs an index from an existing pool.
func NewRankingIndexWithPool(p pool, table string) (*RankingIndex, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RankingIndex{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RankingIndex) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *RankingIndex) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the table when it does not exist.
func (s *RankingIndex) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	crawl_date   DATE    NOT NULL,
	movie_id     TEXT    NOT NULL,
	day_offset   INTEGER NOT NULL,
	ranking      INTEGER NOT NULL,
	revenue      BIGINT  NOT NULL,
	title        TEXT    NOT NULL,
	PRIMARY KEY (crawl_date, movie_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// IndexSnapshot upserts every row of one date's snapshot in a single
// transaction. Replaying a date overwrites the same keys.
func (s *RankingIndex) IndexSnapshot(ctx context.Context, date civil.Date, rows []boxoffice.RankingRow) (err error) {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin index %s: %w", date, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (crawl_date, movie_id, day_offset, ranking, revenue, title)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (crawl_date, movie_id) DO UPDATE
SET day_offset = EXCLUDED.day_offset,
	ranking = EXCLUDED.ranking,
	revenue = EXCLUDED.revenue,
	title = EXCLUDED.title`, s.table)

	day := date.String()
	for _, row := range rows {
		if _, err = tx.Exec(ctx, query,
			day,
			row.MovieID,
			row.DayOffset,
			row.Observation.Rank,
			row.Observation.Revenue,
			row.Title,
		); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", date, row.MovieID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit index %s: %w", date, err)
	}
	return nil
}
