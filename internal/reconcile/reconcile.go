// Package reconcile folds newly observed revenue into canonical movie records.
//
// Every canonical record carries a "newest-day-offset" metadata marker so a
// metadata-only read can decide whether a crawl brought anything new. Writes
// are generation-matched; a writer that loses the race starts over from the
// metadata read.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
	"github.com/JakeFAU/boxoffice-crawler/internal/metrics"
)

// MarkerKey is the metadata key holding the newest stored day-offset.
const MarkerKey = "newest-day-offset"

// DefaultMaxAttempts bounds the compare-and-swap loop.
const DefaultMaxAttempts = 5

// Action is the outcome of reconciling one movie.
type Action string

// Reconcile outcomes.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// ErrTooManyConflicts is returned when every attempt lost its conditional write.
var ErrTooManyConflicts = errors.New("too many conflicting writes")

// Config controls record placement and retry behavior.
type Config struct {
	MoviesPrefix string
	MaxAttempts  int
}

// Reconciler owns reads and writes of canonical movie records.
type Reconciler struct {
	store  boxoffice.ObjectStore
	cfg    Config
	logger *zap.Logger
}

// New builds a Reconciler.
func New(store boxoffice.ObjectStore, cfg Config, logger *zap.Logger) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, cfg: cfg, logger: logger}, nil
}

// Key returns the object key of a movie's canonical record.
func (r *Reconciler) Key(movieID string) string {
	return path.Join(r.cfg.MoviesPrefix, movieID+".json")
}

// Reconcile decides what to do with observed revenue for movieID and, when
// the record exists and is behind, merges the observations into it.
//
// A transient metadata error is returned as-is and never reported as Create.
func (r *Reconciler) Reconcile(ctx context.Context, movieID string, observed boxoffice.RevenueSeries) (Action, error) {
	newest, err := observed.NewestDayOffset()
	if err != nil {
		return "", fmt.Errorf("reconcile %s: %w", movieID, err)
	}
	key := r.Key(movieID)

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		lookup, err := r.store.Head(ctx, key)
		if err != nil {
			return "", fmt.Errorf("reconcile %s: %w", movieID, err)
		}
		if !lookup.Found {
			return r.record(ActionCreate), nil
		}
		if marker, ok := parseMarker(lookup.Attrs.Metadata); ok && newest <= marker {
			return r.record(ActionSkip), nil
		}

		partial := boxoffice.NewMovie(movieID, "")
		partial.Revenues = observed
		err = r.update(ctx, key, partial)
		switch {
		case err == nil:
			return r.record(ActionUpdate), nil
		case errors.Is(err, boxoffice.ErrNotFound):
			return r.record(ActionCreate), nil
		case errors.Is(err, boxoffice.ErrPreconditionFailed):
			r.logger.Debug("lost conditional write, retrying",
				zap.String("movie_id", movieID), zap.Int("attempt", attempt))
			continue
		default:
			return "", fmt.Errorf("reconcile %s: %w", movieID, err)
		}
	}
	return "", fmt.Errorf("reconcile %s: %w", movieID, ErrTooManyConflicts)
}

// Store writes a complete movie, typically from the detail page. A missing
// record is created; an existing one absorbs the movie's history and any
// descriptive fields it lacks.
func (r *Reconciler) Store(ctx context.Context, movie *boxoffice.Movie) error {
	if movie == nil {
		return fmt.Errorf("store: %w: nil movie", boxoffice.ErrMalformedRecord)
	}
	data, marker, err := encode(movie)
	if err != nil {
		return fmt.Errorf("store %s: %w", movie.ID, err)
	}
	key := r.Key(movie.ID)

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		_, err := r.store.Put(ctx, key, data, boxoffice.PutOptions{
			ContentType:  boxoffice.ContentTypeJSON,
			Metadata:     map[string]string{MarkerKey: marker},
			Precondition: boxoffice.Precondition{DoesNotExist: true},
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, boxoffice.ErrPreconditionFailed) {
			return fmt.Errorf("store %s: %w", movie.ID, err)
		}

		err = r.update(ctx, key, movie)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, boxoffice.ErrNotFound), errors.Is(err, boxoffice.ErrPreconditionFailed):
			continue
		default:
			return fmt.Errorf("store %s: %w", movie.ID, err)
		}
	}
	return fmt.Errorf("store %s: %w", movie.ID, ErrTooManyConflicts)
}

// Load reads and decodes a canonical record.
func (r *Reconciler) Load(ctx context.Context, movieID string) (*boxoffice.Movie, error) {
	obj, err := r.store.Get(ctx, r.Key(movieID))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", movieID, err)
	}
	movie, err := boxoffice.DecodeMovie(obj.Data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", movieID, err)
	}
	return movie, nil
}

// update performs one read-merge-write cycle: in's observations win on
// overlapping offsets and its descriptive fields fill the stored gaps.
func (r *Reconciler) update(ctx context.Context, key string, in *boxoffice.Movie) error {
	obj, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	stored, err := boxoffice.DecodeMovie(obj.Data)
	if err != nil {
		return err
	}
	stored.MergeRevenues(in.Revenues)
	stored.FillMetadata(in)

	data, marker, err := encode(stored)
	if err != nil {
		return err
	}
	_, err = r.store.Put(ctx, key, data, boxoffice.PutOptions{
		ContentType:  boxoffice.ContentTypeJSON,
		Metadata:     map[string]string{MarkerKey: marker},
		Precondition: boxoffice.Precondition{GenerationMatch: obj.Attrs.Generation},
	})
	return err
}

func (r *Reconciler) record(a Action) Action {
	metrics.ObserveReconcile(string(a))
	return a
}

func encode(movie *boxoffice.Movie) ([]byte, string, error) {
	newest, err := movie.NewestDayOffset()
	if err != nil {
		return nil, "", err
	}
	data, err := boxoffice.EncodeMovie(movie)
	if err != nil {
		return nil, "", err
	}
	return data, strconv.Itoa(newest), nil
}

func parseMarker(md map[string]string) (int, bool) {
	raw, ok := md[MarkerKey]
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
