package boxoffice

import (
	"fmt"
	"sort"
)

// RevenueSeries maps a day-offset (days in theaters) to that day's observation.
// A later observation for an offset replaces the earlier one wholesale.
type RevenueSeries map[int]DailyObservation

// NewestDayOffset returns the highest offset. An empty series has none and
// reports ErrEmptySeries.
func (s RevenueSeries) NewestDayOffset() (int, error) {
	if len(s) == 0 {
		return 0, ErrEmptySeries
	}
	newest := -1
	for offset := range s {
		if offset > newest {
			newest = offset
		}
	}
	return newest, nil
}

// Gross sums all revenues in the series.
func (s RevenueSeries) Gross() int64 {
	var total int64
	for _, obs := range s {
		total += obs.Revenue
	}
	return total
}

// Offsets returns the keys in ascending order.
func (s RevenueSeries) Offsets() []int {
	offsets := make([]int, 0, len(s))
	for offset := range s {
		offsets = append(offsets, offset)
	}
	sort.Ints(offsets)
	return offsets
}

// Clone returns an independent copy.
func (s RevenueSeries) Clone() RevenueSeries {
	out := make(RevenueSeries, len(s))
	for offset, obs := range s {
		out[offset] = obs
	}
	return out
}

// Validate rejects negative offsets and invalid observations.
func (s RevenueSeries) Validate() error {
	for offset, obs := range s {
		if offset < 0 {
			return fmt.Errorf("%w: day offset %d is negative", ErrMalformedRecord, offset)
		}
		if err := obs.Validate(); err != nil {
			return fmt.Errorf("day offset %d: %w", offset, err)
		}
	}
	return nil
}

// Merge combines two series for the same movie. Incoming overwrites base on
// overlapping offsets. Neither input is modified.
func Merge(base, incoming RevenueSeries) RevenueSeries {
	out := make(RevenueSeries, len(base)+len(incoming))
	for offset, obs := range base {
		out[offset] = obs
	}
	for offset, obs := range incoming {
		out[offset] = obs
	}
	return out
}
