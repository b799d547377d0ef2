package feed

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RevisionMonotonic(t *testing.T) {
	t.Parallel()
	s := NewStore(10)

	updates := []Update{
		MetricUpdate{Name: MetricTotalProfit, Value: 12.5},
		PositionUpsert{TokenID: "T1", Entry: 1.0, Current: 1.1, Size: 2},
		PositionClose{TokenID: "T1"},
		PositionClose{TokenID: "T1"}, // no-op merge still advances
		ActivityAppend{Icon: "⚡", Title: "Signal", Detail: "test"},
	}

	var prev uint64
	for i, u := range updates {
		_, rev, err := s.Merge(u)
		require.NoError(t, err)
		assert.Equal(t, prev+1, rev, "merge %d must bump revision by exactly 1", i)
		prev = rev

		snap := s.Snapshot()
		assert.Equal(t, rev, snap.Revision)
	}
}

func TestStore_SnapshotRevisionNeverDecreases(t *testing.T) {
	t.Parallel()
	s := NewStore(10)

	var mu sync.Mutex
	var observed []uint64

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _, err := s.Merge(MetricUpdate{Name: MetricTotalProfit, Value: float64(j)})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			snap := s.Snapshot()
			mu.Lock()
			observed = append(observed, snap.Revision)
			mu.Unlock()
		}
	}()
	wg.Wait()

	for i := 1; i < len(observed); i++ {
		require.GreaterOrEqual(t, observed[i], observed[i-1], "snapshot revisions must be monotone")
	}
	assert.Equal(t, uint64(200), s.Revision())
}

func TestStore_PositionUpsertCloseLifecycle(t *testing.T) {
	t.Parallel()
	s := NewStore(10)

	d, _, err := s.Merge(PositionUpsert{TokenID: "T1", Entry: 1.0, Current: 1.2, Size: 3, Source: "vip-signal"})
	require.NoError(t, err)
	require.Len(t, d.Positions, 1)

	snap := s.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.InDelta(t, 0.2, snap.Positions[0].PnL(), 1e-9)
	assert.Equal(t, float64(1), snap.Metrics[MetricOpenPositions])

	// Price update via upsert keeps the original open time.
	opened := snap.Positions[0].OpenedAt
	d, _, err = s.Merge(PositionUpsert{TokenID: "T1", Entry: 1.0, Current: 1.5, Size: 3, Source: "vip-signal"})
	require.NoError(t, err)
	require.Len(t, d.Positions, 1)
	assert.Equal(t, opened, d.Positions[0].OpenedAt)
	// openPositions unchanged, so it must not reappear in the delta.
	assert.NotContains(t, d.Metrics, MetricOpenPositions)

	d, _, err = s.Merge(PositionClose{TokenID: "T1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, d.Closed)
	assert.Empty(t, s.Snapshot().Positions)

	// Closing twice is a no-op both times, never an error.
	for i := 0; i < 2; i++ {
		d, _, err = s.Merge(PositionClose{TokenID: "T1"})
		require.NoError(t, err)
		assert.True(t, d.Empty())
	}
}

func TestStore_ActivityEviction(t *testing.T) {
	t.Parallel()
	s := NewStore(10)

	for i := 1; i <= 15; i++ {
		_, _, err := s.Merge(ActivityAppend{Icon: "🚀", Title: fmt.Sprintf("event-%d", i)})
		require.NoError(t, err)
	}

	snap := s.Snapshot()
	require.Len(t, snap.Activity, 10)
	// Newest first: 15 down to 6; 1..5 evicted oldest-first.
	for i, ev := range snap.Activity {
		assert.Equal(t, fmt.Sprintf("event-%d", 15-i), ev.Title)
	}
}

func TestStore_SnapshotIsolation(t *testing.T) {
	t.Parallel()
	s := NewStore(10)
	_, _, err := s.Merge(PositionUpsert{TokenID: "T1", Entry: 2.0, Current: 2.5, Size: 1})
	require.NoError(t, err)
	_, _, err = s.Merge(ActivityAppend{Title: "opened"})
	require.NoError(t, err)

	snap := s.Snapshot()
	snap.Metrics[MetricTotalProfit] = 999
	snap.Positions[0].Current = 0
	snap.Activity[0].Title = "mutated"

	fresh := s.Snapshot()
	assert.NotContains(t, fresh.Metrics, MetricTotalProfit)
	assert.Equal(t, 2.5, fresh.Positions[0].Current)
	assert.Equal(t, "opened", fresh.Activity[0].Title)
}

func TestStore_RejectsInvalidUpdates(t *testing.T) {
	t.Parallel()
	s := NewStore(10)

	cases := []Update{
		nil,
		MetricUpdate{Name: "bogus", Value: 1},
		MetricUpdate{Name: MetricTotalProfit, Value: math.NaN()},
		MetricUpdate{Name: MetricWinRate, Value: 101},
		MetricUpdate{Name: MetricWinRate, Value: 42.5},
		MetricUpdate{Name: MetricUptimeSeconds, Value: -1},
		PositionUpsert{TokenID: "", Entry: 1, Current: 1, Size: 1},
		PositionUpsert{TokenID: "T1", Entry: 0, Current: 1, Size: 1},
		PositionUpsert{TokenID: "T1", Entry: 1, Current: math.Inf(1), Size: 1},
		PositionUpsert{TokenID: "T1", Entry: 1, Current: 1, Size: -1},
		PositionClose{TokenID: ""},
		ActivityAppend{Title: ""},
	}
	for i, u := range cases {
		_, _, err := s.Merge(u)
		require.ErrorIs(t, err, ErrInvalidUpdate, "case %d", i)
	}

	// Rejected updates leave the store untouched.
	assert.Equal(t, uint64(0), s.Revision())
	snap := s.Snapshot()
	assert.Empty(t, snap.Metrics)
	assert.Empty(t, snap.Positions)
	assert.Empty(t, snap.Activity)
}

func TestStore_WinRateBounds(t *testing.T) {
	t.Parallel()
	s := NewStore(10)
	for _, v := range []float64{0, 50, 100} {
		_, _, err := s.Merge(MetricUpdate{Name: MetricWinRate, Value: v})
		require.NoError(t, err)
	}
	assert.Equal(t, float64(100), s.Snapshot().Metrics[MetricWinRate])
}

func TestStore_ActivityCapacityDefault(t *testing.T) {
	t.Parallel()
	s := NewStore(0)
	for i := 0; i < DefaultActivityCapacity+5; i++ {
		_, _, err := s.Merge(ActivityAppend{Title: "e"})
		require.NoError(t, err)
	}
	assert.Len(t, s.Snapshot().Activity, DefaultActivityCapacity)
}

func TestPosition_PnL(t *testing.T) {
	t.Parallel()
	p := Position{Entry: 1.0, Current: 1.2}
	assert.InDelta(t, 0.2, p.PnL(), 1e-9)

	loss := Position{Entry: 2.0, Current: 1.0}
	assert.InDelta(t, -0.5, loss.PnL(), 1e-9)

	assert.Zero(t, Position{}.PnL())
}

func TestStore_MetricDeltaOnlyOnChange(t *testing.T) {
	t.Parallel()
	s := NewStore(10)

	d, _, err := s.Merge(MetricUpdate{Name: MetricTotalProfit, Value: 7})
	require.NoError(t, err)
	assert.Equal(t, map[MetricName]float64{MetricTotalProfit: 7}, d.Metrics)

	// Same value again: revision advances but the delta is empty.
	d, rev, err := s.Merge(MetricUpdate{Name: MetricTotalProfit, Value: 7})
	require.NoError(t, err)
	assert.True(t, d.Empty())
	assert.Equal(t, uint64(2), rev)
}

func TestStore_OpenedAtDefaultsToNow(t *testing.T) {
	t.Parallel()
	s := NewStore(10)
	before := time.Now()
	_, _, err := s.Merge(PositionUpsert{TokenID: "T1", Entry: 1, Current: 1.01, Size: 1})
	require.NoError(t, err)
	opened := s.Snapshot().Positions[0].OpenedAt
	assert.False(t, opened.Before(before))
	assert.False(t, opened.After(time.Now()))
}
