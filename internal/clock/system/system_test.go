package system

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"
)

func TestClockNowDefaultsToUTC(t *testing.T) {
	t.Parallel()

	clk := New(nil)
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	require.False(t, got.Before(before) || got.After(after))
}

func TestClockNowUsesLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("PST", -8*60*60)
	require.Equal(t, loc, New(loc).Now().Location())
}

func TestToday(t *testing.T) {
	t.Parallel()

	late := time.Date(2024, 3, 8, 23, 30, 0, 0, time.FixedZone("PST", -8*60*60))
	require.Equal(t, civil.Date{Year: 2024, Month: 3, Day: 8}, Today(late))
}
