// Package feed implements the live data core behind the dashboard: a
// Metrics Store holding the latest value of every tracked metric, the open
// positions map and a bounded activity log, plus a Broadcast Hub that merges
// producer updates into the store and fans snapshot/delta frames out to any
// number of viewer sessions.
//
// The store is a pure in-memory data holder with no I/O. All mutation goes
// through Merge, which applies one update atomically and bumps a global
// revision counter exactly once per call. Rendering is an external concern;
// viewers only ever see immutable snapshots and deltas.
package feed

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// DefaultActivityCapacity is the activity log bound used when the store is
// constructed with a non-positive capacity.
const DefaultActivityCapacity = 10

// Position is one open position keyed by its token identifier. The P&L
// ratio is derived from entry/current at read time and never stored.
type Position struct {
	TokenID  string    `json:"tokenId"`
	Entry    float64   `json:"entry"`
	Current  float64   `json:"current"`
	Size     float64   `json:"size"`
	OpenedAt time.Time `json:"openedAt"`
	Source   string    `json:"source"`
}

// PnL returns the profit/loss ratio (current - entry) / entry.
func (p Position) PnL() float64 {
	if p.Entry == 0 {
		return 0
	}
	return (p.Current - p.Entry) / p.Entry
}

// MarshalJSON includes the derived pnl field so viewers never have to
// recompute it.
func (p Position) MarshalJSON() ([]byte, error) {
	type alias Position
	return json.Marshal(struct {
		alias
		PnL float64 `json:"pnl"`
	}{alias(p), p.PnL()})
}

// ActivityEvent is an immutable entry in the bounded activity log.
type ActivityEvent struct {
	Icon      string    `json:"icon"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Delta describes only the fields changed by a single merge.
type Delta struct {
	Metrics   map[MetricName]float64 `json:"metrics,omitempty"`
	Positions []Position             `json:"positions,omitempty"`
	Closed    []string               `json:"closed,omitempty"`
	Activity  []ActivityEvent        `json:"activity,omitempty"`
}

// Empty reports whether the merge changed nothing (e.g. closing an unknown
// position). The revision still advances for empty deltas.
func (d Delta) Empty() bool {
	return len(d.Metrics) == 0 && len(d.Positions) == 0 && len(d.Closed) == 0 && len(d.Activity) == 0
}

// Snapshot is an immutable point-in-time copy of the full store state,
// tagged with the revision it was taken at. Activity is ordered newest
// first, positions by token id.
type Snapshot struct {
	Revision  uint64                 `json:"revision"`
	Metrics   map[MetricName]float64 `json:"metrics"`
	Positions []Position             `json:"positions"`
	Activity  []ActivityEvent        `json:"activity"`
}

// Store holds the latest known dashboard state. It is safe for concurrent
// use; a single coarse mutex is adequate at the expected update rates.
type Store struct {
	mu          sync.RWMutex
	revision    uint64
	metrics     map[MetricName]float64
	positions   map[string]Position
	activity    []ActivityEvent // oldest first
	activityCap int
	now         func() time.Time
}

// NewStore creates an empty store. activityCap bounds the activity log;
// non-positive values fall back to DefaultActivityCapacity.
func NewStore(activityCap int) *Store {
	if activityCap <= 0 {
		activityCap = DefaultActivityCapacity
	}
	return &Store{
		metrics:     make(map[MetricName]float64),
		positions:   make(map[string]Position),
		activity:    make([]ActivityEvent, 0, activityCap),
		activityCap: activityCap,
		now:         time.Now,
	}
}

// Merge applies one update atomically, bumps the global revision exactly
// once and returns the delta of changed fields together with the new
// revision. Invalid updates are rejected with ErrInvalidUpdate before any
// state is touched.
func (s *Store) Merge(u Update) (Delta, uint64, error) {
	if u == nil {
		return Delta{}, 0, ErrInvalidUpdate
	}
	if err := u.validate(); err != nil {
		return Delta{}, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var d Delta
	switch v := u.(type) {
	case MetricUpdate:
		s.setMetricLocked(&d, v.Name, v.Value)

	case PositionUpsert:
		pos := Position{
			TokenID:  v.TokenID,
			Entry:    v.Entry,
			Current:  v.Current,
			Size:     v.Size,
			OpenedAt: v.OpenedAt,
			Source:   v.Source,
		}
		if pos.OpenedAt.IsZero() {
			if prev, ok := s.positions[v.TokenID]; ok {
				// Price updates keep the original open time.
				pos.OpenedAt = prev.OpenedAt
			} else {
				pos.OpenedAt = s.now()
			}
		}
		s.positions[v.TokenID] = pos
		d.Positions = []Position{pos}
		s.setMetricLocked(&d, MetricOpenPositions, float64(len(s.positions)))

	case PositionClose:
		if _, ok := s.positions[v.TokenID]; ok {
			delete(s.positions, v.TokenID)
			d.Closed = []string{v.TokenID}
			s.setMetricLocked(&d, MetricOpenPositions, float64(len(s.positions)))
		}
		// Unknown token: no-op, revision still advances.

	case ActivityAppend:
		ev := ActivityEvent{
			Icon:      v.Icon,
			Title:     v.Title,
			Detail:    v.Detail,
			Timestamp: s.now(),
		}
		if len(s.activity) >= s.activityCap {
			// Strict FIFO: evict the oldest before appending.
			copy(s.activity, s.activity[1:])
			s.activity = s.activity[:len(s.activity)-1]
		}
		s.activity = append(s.activity, ev)
		d.Activity = []ActivityEvent{ev}
	}

	s.revision++
	return d, s.revision, nil
}

// setMetricLocked records a scalar value and adds it to the delta only when
// it actually changed. Caller must hold s.mu.
func (s *Store) setMetricLocked(d *Delta, name MetricName, value float64) {
	if prev, ok := s.metrics[name]; ok && prev == value {
		return
	}
	s.metrics[name] = value
	if d.Metrics == nil {
		d.Metrics = make(map[MetricName]float64)
	}
	d.Metrics[name] = value
}

// Snapshot returns an immutable deep copy of the current state plus its
// revision. It never blocks a concurrent Merge beyond the lock handoff, and
// readers always observe a fully applied update.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Revision:  s.revision,
		Metrics:   make(map[MetricName]float64, len(s.metrics)),
		Positions: make([]Position, 0, len(s.positions)),
		Activity:  make([]ActivityEvent, len(s.activity)),
	}
	for k, v := range s.metrics {
		snap.Metrics[k] = v
	}
	for _, p := range s.positions {
		snap.Positions = append(snap.Positions, p)
	}
	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].TokenID < snap.Positions[j].TokenID
	})
	// Newest first for display.
	for i, ev := range s.activity {
		snap.Activity[len(s.activity)-1-i] = ev
	}
	return snap
}

// Revision returns the current global revision.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}
