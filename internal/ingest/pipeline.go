// Package ingest crawls daily ranking pages, persists them as write-once
// snapshots, and accumulates the observed revenue per movie.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"cloud.google.com/go/civil"
	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/hash/sha256"
	"github.com/JakeFAU/boxoffice-crawler/internal/metrics"
	"github.com/JakeFAU/boxoffice-crawler/internal/telemetry"
)

// Config controls where snapshots are written.
type Config struct {
	RankingPrefix string
}

// Report summarizes one Ingest call.
type Report struct {
	// Confirmed lists dates whose snapshot is durably stored, in input order.
	Confirmed []civil.Date
	// Failed holds every date that was not stored. Errors wrapping
	// boxoffice.ErrParse are upstream page problems that redelivery cannot fix.
	Failed map[civil.Date]error
	// Movies holds the accumulated series of every movie seen on a confirmed date.
	Movies map[string]*boxoffice.Movie
}

// Transient counts failed dates worth fetching again.
func (r Report) Transient() int {
	n := 0
	for _, err := range r.Failed {
		if !errors.Is(err, boxoffice.ErrParse) {
			n++
		}
	}
	return n
}

// Pipeline turns ranking dates into snapshots and accumulated series.
type Pipeline struct {
	fetcher boxoffice.Fetcher
	store   boxoffice.ObjectStore
	hasher  boxoffice.Hasher
	index   boxoffice.SnapshotIndex
	cfg     Config
	logger  *zap.Logger
}

// NewPipeline builds a Pipeline. index may be nil.
func NewPipeline(
	fetcher boxoffice.Fetcher,
	store boxoffice.ObjectStore,
	hasher boxoffice.Hasher,
	index boxoffice.SnapshotIndex,
	cfg Config,
	logger *zap.Logger,
) (*Pipeline, error) {
	if fetcher == nil || store == nil || hasher == nil {
		return nil, fmt.Errorf("fetcher, store and hasher are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher: fetcher,
		store:   store,
		hasher:  hasher,
		index:   index,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// SnapshotKey returns the object key of a date's ranking snapshot.
func (p *Pipeline) SnapshotKey(d civil.Date) string {
	return path.Join(p.cfg.RankingPrefix, d.String()+".json")
}

// Snapshot reads back a stored ranking snapshot.
func (p *Pipeline) Snapshot(ctx context.Context, d civil.Date) ([]boxoffice.RankingRow, error) {
	obj, err := p.store.Get(ctx, p.SnapshotKey(d))
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", d, err)
	}
	rows, err := boxoffice.DecodeSnapshot(obj.Data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", d, err)
	}
	return rows, nil
}

// Ingest processes dates in order, skipping repeats. A failure aborts only
// the date it belongs to.
func (p *Pipeline) Ingest(ctx context.Context, dates []civil.Date) Report {
	report := Report{
		Failed: make(map[civil.Date]error),
		Movies: make(map[string]*boxoffice.Movie),
	}
	seen := make(map[civil.Date]struct{}, len(dates))
	for _, d := range dates {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}

		rows, err := p.ingestDate(ctx, d)
		if err != nil {
			report.Failed[d] = err
			if errors.Is(err, boxoffice.ErrParse) {
				p.logger.Error("ranking page unparseable", zap.Stringer("date", d), zap.Error(err))
				metrics.ObserveDate("unparseable")
				continue
			}
			p.logger.Error("ingest date failed", zap.Stringer("date", d), zap.Error(err))
			metrics.ObserveDate("failed")
			continue
		}
		metrics.ObserveDate("confirmed")
		report.Confirmed = append(report.Confirmed, d)
		accumulate(report.Movies, rows)
	}
	return report
}

func (p *Pipeline) ingestDate(ctx context.Context, d civil.Date) ([]boxoffice.RankingRow, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.date")
	defer span.End()

	start := time.Now()
	rows, err := p.fetcher.FetchRanking(ctx, d)
	metrics.ObserveFetch("ranking", time.Since(start))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("fetch ranking %s: %w", d, err)
	}
	if len(rows) == 0 {
		p.logger.Warn("ranking page has no rows", zap.Stringer("date", d))
	}

	if err := p.persist(ctx, d, rows); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if p.index != nil {
		if err := p.index.IndexSnapshot(ctx, d, rows); err != nil {
			p.logger.Warn("index snapshot failed", zap.Stringer("date", d), zap.Error(err))
		}
	}
	return rows, nil
}

// persist writes the snapshot once. An existing snapshot wins; a differing
// digest is only reported.
func (p *Pipeline) persist(ctx context.Context, d civil.Date, rows []boxoffice.RankingRow) error {
	data, err := boxoffice.EncodeSnapshot(rows)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", d, err)
	}
	digest := p.hasher.Hash(data)
	key := p.SnapshotKey(d)

	_, err = p.store.Put(ctx, key, data, boxoffice.PutOptions{
		ContentType:  boxoffice.ContentTypeJSON,
		Metadata:     map[string]string{sha256.MetadataKey: digest},
		Precondition: boxoffice.Precondition{DoesNotExist: true},
	})
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, boxoffice.ErrPreconditionFailed):
		return fmt.Errorf("persist snapshot %s: %w", d, err)
	}

	existing, err := p.store.Head(ctx, key)
	if err != nil {
		p.logger.Warn("cannot compare existing snapshot", zap.String("key", key), zap.Error(err))
		return nil
	}
	if stored := existing.Attrs.Metadata[sha256.MetadataKey]; stored != digest {
		metrics.ObserveSnapshotConflict()
		p.logger.Warn("snapshot already stored with different content",
			zap.String("key", key),
			zap.String("stored_sha256", stored),
			zap.String("crawled_sha256", digest),
		)
	}
	return nil
}

// accumulate folds rows into movies. The first row carrying a descriptive
// field supplies it.
func accumulate(movies map[string]*boxoffice.Movie, rows []boxoffice.RankingRow) {
	for _, row := range rows {
		m, ok := movies[row.MovieID]
		if !ok {
			movies[row.MovieID] = row.Movie()
			continue
		}
		m.MergeRevenues(row.Series())
		m.FillMetadata(row.Movie())
	}
}
