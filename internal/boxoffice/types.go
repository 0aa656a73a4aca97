// Package boxoffice defines the core domain types shared across subsystems.
package boxoffice

import (
	"fmt"

	"cloud.google.com/go/civil"
)

// UnknownTheaterCount marks a movie whose theater count has not been observed.
const UnknownTheaterCount = -1

// DailyObservation is one day's standing for a movie. It is identified by the
// day-offset key it is stored under, never by calendar date.
type DailyObservation struct {
	Rank    int   `json:"ranking"`
	Revenue int64 `json:"revenue"`
}

// Validate enforces rank >= 1 and revenue >= 0.
func (o DailyObservation) Validate() error {
	if o.Rank < 1 {
		return fmt.Errorf("%w: rank %d must be >= 1", ErrMalformedRecord, o.Rank)
	}
	if o.Revenue < 0 {
		return fmt.Errorf("%w: revenue %d must be >= 0", ErrMalformedRecord, o.Revenue)
	}
	return nil
}

// Movie is the canonical per-movie record. Identity is ID; every other field
// is descriptive metadata that may be filled in lazily.
type Movie struct {
	ID           string
	Title        string
	ReleaseDate  *civil.Date
	Distributor  *string
	TheaterCount int
	Revenues     RevenueSeries
}

// NewMovie returns a Movie with an unknown theater count and an empty series.
func NewMovie(id, title string) *Movie {
	return &Movie{
		ID:           id,
		Title:        title,
		TheaterCount: UnknownTheaterCount,
		Revenues:     RevenueSeries{},
	}
}

// NewestDayOffset returns the highest recorded day-offset.
func (m *Movie) NewestDayOffset() (int, error) {
	offset, err := m.Revenues.NewestDayOffset()
	if err != nil {
		return 0, fmt.Errorf("movie %s: %w", m.ID, err)
	}
	return offset, nil
}

// GrossRevenue sums every recorded observation. The value is provisional
// until the series is complete.
func (m *Movie) GrossRevenue() int64 {
	return m.Revenues.Gross()
}

// MergeRevenues folds incoming observations into the movie's series.
func (m *Movie) MergeRevenues(incoming RevenueSeries) {
	m.Revenues = Merge(m.Revenues, incoming)
}

// FillMetadata copies descriptive fields from other where m has none.
func (m *Movie) FillMetadata(other *Movie) {
	if other == nil {
		return
	}
	if m.Title == "" {
		m.Title = other.Title
	}
	if m.ReleaseDate == nil && other.ReleaseDate != nil {
		d := *other.ReleaseDate
		m.ReleaseDate = &d
	}
	if m.Distributor == nil && other.Distributor != nil {
		s := *other.Distributor
		m.Distributor = &s
	}
	if m.TheaterCount == UnknownTheaterCount {
		m.TheaterCount = other.TheaterCount
	}
}

// Validate checks identity and every observation.
func (m *Movie) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: movie id is required", ErrMalformedRecord)
	}
	if m.ReleaseDate != nil && !m.ReleaseDate.IsValid() {
		return fmt.Errorf("%w: movie %s has invalid release date", ErrMalformedRecord, m.ID)
	}
	if err := m.Revenues.Validate(); err != nil {
		return fmt.Errorf("movie %s: %w", m.ID, err)
	}
	return nil
}

// RankingRow is one movie's line on a daily ranking page.
type RankingRow struct {
	MovieID      string
	Title        string
	DayOffset    int
	Observation  DailyObservation
	TheaterCount int
	Distributor  *string
	ReleaseDate  *civil.Date
}

// Series returns the row as a single-entry series.
func (r RankingRow) Series() RevenueSeries {
	return RevenueSeries{r.DayOffset: r.Observation}
}

// Movie lifts the row into a partial Movie record.
func (r RankingRow) Movie() *Movie {
	m := NewMovie(r.MovieID, r.Title)
	m.Revenues = r.Series()
	m.TheaterCount = r.TheaterCount
	if r.Distributor != nil {
		d := *r.Distributor
		m.Distributor = &d
	}
	if r.ReleaseDate != nil {
		d := *r.ReleaseDate
		m.ReleaseDate = &d
	}
	return m
}

// Validate checks the row carries an id, a non-negative offset and a valid observation.
func (r RankingRow) Validate() error {
	if r.MovieID == "" {
		return fmt.Errorf("%w: ranking row has no movie id", ErrMalformedRecord)
	}
	if r.DayOffset < 0 {
		return fmt.Errorf("%w: day offset %d is negative", ErrMalformedRecord, r.DayOffset)
	}
	return r.Observation.Validate()
}
