package schedule

import (
	"errors"
	"fmt"
	"slices"

	"cloud.google.com/go/civil"

	"github.com/JakeFAU/boxoffice-crawler/internal/boxoffice"
)

// DefaultCrawlLagDays is how far behind today PrepareNewDate schedules.
// Upstream figures for a day are unreliable until one or two days later.
const DefaultCrawlLagDays = 2

var (
	// ErrInvalidQuota is returned when the per-tick batch size is not positive.
	ErrInvalidQuota = errors.New("num_of_ranking_to_crawl must be positive")
	// ErrUnsupportedEvent is returned for events the controller does not own.
	// It is always wrapped with boxoffice.ErrMalformedRecord so a stray
	// envelope on the control topic is dropped instead of redelivered.
	ErrUnsupportedEvent = errors.New("event not handled by the schedule controller")
)

// Defaults carries deployment settings the transition needs.
type Defaults struct {
	// Epoch is the watermark Reset rewinds to.
	Epoch        civil.Date
	BatchSize    int
	CrawlLagDays int
}

// Event is one controller input. Today is only read by PrepareNewDate.
type Event struct {
	Type  boxoffice.EventType
	Dates []civil.Date
	Today civil.Date
}

// Outcome is the result of a transition.
type Outcome struct {
	State State
	// Dispatch lists the dates to hand to the ingestion pipeline.
	Dispatch []civil.Date
	// Mutated is false when the state document need not be written.
	Mutated bool
}

// Transition applies ev to s and returns the next state. It has no side
// effects and never modifies s.
func Transition(s State, ev Event, d Defaults) (Outcome, error) {
	next := s.Clone()
	switch ev.Type {
	case boxoffice.EventReset:
		next.NextDateToCrawl = d.Epoch
		next.RankingQueue = []civil.Date{}
		next.ValidationQueue = []civil.Date{}
		if next.NumOfRankingToCrawl <= 0 {
			next.NumOfRankingToCrawl = d.BatchSize
		}
		return Outcome{State: next, Mutated: true}, nil

	case boxoffice.EventDebug:
		return Outcome{State: next}, nil

	case boxoffice.EventPrepareNewDate:
		lag := d.CrawlLagDays
		if lag <= 0 {
			lag = DefaultCrawlLagDays
		}
		date := ev.Today.AddDays(-lag)
		if next.Pending(date) {
			return Outcome{State: next}, nil
		}
		next.RankingQueue = slices.Insert(next.RankingQueue, 0, date)
		return Outcome{State: next, Mutated: true}, nil

	case boxoffice.EventPrepareRanking:
		return prepareRanking(next)

	case boxoffice.EventValidateRanking:
		remaining := make([]civil.Date, 0, len(next.ValidationQueue))
		for _, q := range next.ValidationQueue {
			if !slices.Contains(ev.Dates, q) {
				remaining = append(remaining, q)
			}
		}
		mutated := len(remaining) != len(next.ValidationQueue)
		next.ValidationQueue = remaining
		return Outcome{State: next, Mutated: mutated}, nil

	default:
		return Outcome{}, fmt.Errorf("%w: %w: %s", boxoffice.ErrMalformedRecord, ErrUnsupportedEvent, ev.Type)
	}
}

// prepareRanking retries unconfirmed dates first, then drains the backlog,
// then synthesizes older dates from the watermark until the quota is met.
func prepareRanking(next State) (Outcome, error) {
	quota := next.NumOfRankingToCrawl
	if quota <= 0 {
		return Outcome{}, fmt.Errorf("%w: got %d", ErrInvalidQuota, quota)
	}
	combined := append(cloneDates(next.ValidationQueue), next.RankingQueue...)
	take := min(quota, len(combined))

	target := make([]civil.Date, 0, quota)
	target = append(target, combined[:take]...)
	cursor := next.NextDateToCrawl
	for len(target) < quota {
		target = append(target, cursor)
		cursor = cursor.AddDays(-1)
	}

	next.NextDateToCrawl = cursor
	next.RankingQueue = cloneDates(combined[take:])
	next.ValidationQueue = target
	return Outcome{State: next, Dispatch: cloneDates(target), Mutated: true}, nil
}
