package boxoffice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"cloud.google.com/go/civil"
)

// MovieSchemaVersion is the version written into every canonical record.
const MovieSchemaVersion = 1

// ContentTypeJSON is the content type of every document this service writes.
const ContentTypeJSON = "application/json"

type observationWire struct {
	Ranking *int   `json:"ranking"`
	Revenue *int64 `json:"revenue"`
}

type movieWire struct {
	SchemaVersion *int                        `json:"schema_version,omitempty"`
	ID            *string                     `json:"id"`
	Title         *string                     `json:"title"`
	ReleaseDate   *civil.Date                 `json:"release_date"`
	Revenues      map[string]*observationWire `json:"revenues"`
	NumOfTheaters *int                        `json:"num_of_theaters"`
	Distributor   *string                     `json:"distributor"`
}

type snapshotRowWire struct {
	ID      *string `json:"id"`
	Title   *string `json:"title"`
	NthDay  *int    `json:"nth_day"`
	Ranking *int    `json:"ranking"`
	Revenue *int64  `json:"revenue"`
}

// EncodeMovie renders the canonical movie record.
func EncodeMovie(m *Movie) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil movie", ErrMalformedRecord)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	version := MovieSchemaVersion
	id, title, theaters := m.ID, m.Title, m.TheaterCount
	wire := movieWire{
		SchemaVersion: &version,
		ID:            &id,
		Title:         &title,
		ReleaseDate:   m.ReleaseDate,
		Revenues:      make(map[string]*observationWire, len(m.Revenues)),
		NumOfTheaters: &theaters,
		Distributor:   m.Distributor,
	}
	for offset, obs := range m.Revenues {
		rank, revenue := obs.Rank, obs.Revenue
		wire.Revenues[strconv.Itoa(offset)] = &observationWire{Ranking: &rank, Revenue: &revenue}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal movie %s: %w", m.ID, err)
	}
	return data, nil
}

// DecodeMovie parses a canonical movie record. Records written before
// versioning carry no schema_version and are read as version 1.
func DecodeMovie(data []byte) (*Movie, error) {
	var wire movieWire
	if err := strictUnmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: movie record: %v", ErrMalformedRecord, err)
	}
	if wire.SchemaVersion != nil && *wire.SchemaVersion != MovieSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema_version %d", ErrMalformedRecord, *wire.SchemaVersion)
	}
	switch {
	case wire.ID == nil:
		return nil, fmt.Errorf("%w: movie record missing id", ErrMalformedRecord)
	case wire.Title == nil:
		return nil, fmt.Errorf("%w: movie record missing title", ErrMalformedRecord)
	case wire.Revenues == nil:
		return nil, fmt.Errorf("%w: movie record missing revenues", ErrMalformedRecord)
	}
	m := NewMovie(*wire.ID, *wire.Title)
	m.ReleaseDate = wire.ReleaseDate
	m.Distributor = wire.Distributor
	if wire.NumOfTheaters != nil {
		m.TheaterCount = *wire.NumOfTheaters
	}
	for key, obs := range wire.Revenues {
		offset, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: revenue key %q is not an integer", ErrMalformedRecord, key)
		}
		if obs == nil || obs.Ranking == nil || obs.Revenue == nil {
			return nil, fmt.Errorf("%w: revenue %q missing ranking or revenue", ErrMalformedRecord, key)
		}
		m.Revenues[offset] = DailyObservation{Rank: *obs.Ranking, Revenue: *obs.Revenue}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeSnapshot renders a ranking snapshot: one entry per movie-day row.
func EncodeSnapshot(rows []RankingRow) ([]byte, error) {
	wire := make([]snapshotRowWire, 0, len(rows))
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			return nil, err
		}
		id, title, day := row.MovieID, row.Title, row.DayOffset
		rank, revenue := row.Observation.Rank, row.Observation.Revenue
		wire = append(wire, snapshotRowWire{ID: &id, Title: &title, NthDay: &day, Ranking: &rank, Revenue: &revenue})
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a ranking snapshot. Theater counts are not part of
// the snapshot and come back unknown.
func DecodeSnapshot(data []byte) ([]RankingRow, error) {
	var wire []snapshotRowWire
	if err := strictUnmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: snapshot: %v", ErrMalformedRecord, err)
	}
	if wire == nil {
		return nil, fmt.Errorf("%w: snapshot is not an array", ErrMalformedRecord)
	}
	rows := make([]RankingRow, 0, len(wire))
	for i, w := range wire {
		if w.ID == nil || w.Title == nil || w.NthDay == nil || w.Ranking == nil || w.Revenue == nil {
			return nil, fmt.Errorf("%w: snapshot row %d missing a required field", ErrMalformedRecord, i)
		}
		row := RankingRow{
			MovieID:      *w.ID,
			Title:        *w.Title,
			DayOffset:    *w.NthDay,
			Observation:  DailyObservation{Rank: *w.Ranking, Revenue: *w.Revenue},
			TheaterCount: UnknownTheaterCount,
		}
		if err := row.Validate(); err != nil {
			return nil, fmt.Errorf("snapshot row %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("trailing data after document")
	}
	return nil
}
