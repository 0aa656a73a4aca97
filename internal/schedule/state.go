// Package schedule owns the crawl scheduling state machine: which ranking
// dates to crawl next and which dispatched dates still await confirmation.
package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"cloud.google.com/go/civil"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
)

// State is the persisted scheduling document.
type State struct {
	// NextDateToCrawl is the newest date not yet handed out by the watermark.
	// It only moves backwards in normal operation.
	NextDateToCrawl civil.Date `json:"next_date_to_crawl"`
	// RankingQueue holds dates awaiting their first crawl, front first.
	RankingQueue []civil.Date `json:"ranking_queue"`
	// ValidationQueue holds dispatched dates not yet confirmed.
	ValidationQueue     []civil.Date `json:"validation_queue"`
	NumOfRankingToCrawl int          `json:"num_of_ranking_to_crawl"`
}

// Clone returns a deep copy so transitions never alias the caller's queues.
func (s State) Clone() State {
	out := s
	out.RankingQueue = cloneDates(s.RankingQueue)
	out.ValidationQueue = cloneDates(s.ValidationQueue)
	return out
}

// Pending reports whether d sits in either queue.
func (s State) Pending(d civil.Date) bool {
	return slices.Contains(s.RankingQueue, d) || slices.Contains(s.ValidationQueue, d)
}

func cloneDates(in []civil.Date) []civil.Date {
	out := make([]civil.Date, len(in))
	copy(out, in)
	return out
}

type stateWire struct {
	NextDateToCrawl     *civil.Date  `json:"next_date_to_crawl"`
	RankingQueue        []civil.Date `json:"ranking_queue"`
	ValidationQueue     []civil.Date `json:"validation_queue"`
	NumOfRankingToCrawl *int         `json:"num_of_ranking_to_crawl"`
}

// EncodeState renders the state document. Empty queues are written as [].
func EncodeState(s State) ([]byte, error) {
	s = s.Clone()
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule state: %w", err)
	}
	return data, nil
}

// DecodeState parses the state document, rejecting unknown fields and
// requiring the watermark and quota.
func DecodeState(data []byte) (State, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w stateWire
	if err := dec.Decode(&w); err != nil {
		return State{}, fmt.Errorf("%w: schedule state: %v", boxoffice.ErrMalformedRecord, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return State{}, fmt.Errorf("%w: schedule state: trailing data", boxoffice.ErrMalformedRecord)
	}
	if w.NextDateToCrawl == nil || !w.NextDateToCrawl.IsValid() {
		return State{}, fmt.Errorf("%w: schedule state: next_date_to_crawl is required", boxoffice.ErrMalformedRecord)
	}
	if w.NumOfRankingToCrawl == nil {
		return State{}, fmt.Errorf("%w: schedule state: num_of_ranking_to_crawl is required", boxoffice.ErrMalformedRecord)
	}
	return State{
		NextDateToCrawl:     *w.NextDateToCrawl,
		RankingQueue:        cloneDates(w.RankingQueue),
		ValidationQueue:     cloneDates(w.ValidationQueue),
		NumOfRankingToCrawl: *w.NumOfRankingToCrawl,
	}, nil
}
