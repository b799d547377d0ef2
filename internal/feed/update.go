package feed

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidUpdate is returned by Publish and Merge when an update is
// malformed. The store is never touched by a rejected update.
var ErrInvalidUpdate = errors.New("invalid update")

// MetricName identifies one of the tracked scalar metrics.
type MetricName string

const (
	MetricTotalProfit   MetricName = "totalProfit"
	MetricWinRate       MetricName = "winRate"
	MetricOpenPositions MetricName = "openPositions"
	MetricUptimeSeconds MetricName = "uptimeSeconds"
)

// Valid reports whether n is one of the known metric names.
func (n MetricName) Valid() bool {
	switch n {
	case MetricTotalProfit, MetricWinRate, MetricOpenPositions, MetricUptimeSeconds:
		return true
	}
	return false
}

// Update is the producer-facing tagged union accepted by Publish and Merge.
// Exactly four shapes exist: MetricUpdate, PositionUpsert, PositionClose
// and ActivityAppend.
type Update interface {
	validate() error
}

// MetricUpdate sets the latest value of a scalar metric.
type MetricUpdate struct {
	Name  MetricName
	Value float64
}

func (u MetricUpdate) validate() error {
	if !u.Name.Valid() {
		return fmt.Errorf("%w: unknown metric %q", ErrInvalidUpdate, string(u.Name))
	}
	if math.IsNaN(u.Value) || math.IsInf(u.Value, 0) {
		return fmt.Errorf("%w: metric %s value is not finite", ErrInvalidUpdate, u.Name)
	}
	switch u.Name {
	case MetricWinRate:
		if u.Value != math.Trunc(u.Value) || u.Value < 0 || u.Value > 100 {
			return fmt.Errorf("%w: winRate must be an integer percentage 0-100, got %v", ErrInvalidUpdate, u.Value)
		}
	case MetricOpenPositions, MetricUptimeSeconds:
		if u.Value < 0 || u.Value != math.Trunc(u.Value) {
			return fmt.Errorf("%w: metric %s must be a non-negative integer, got %v", ErrInvalidUpdate, u.Name, u.Value)
		}
	}
	return nil
}

// PositionUpsert creates or replaces an open position. An upsert for an
// unknown token creates it; repeated upserts for the same token are how
// producers report price moves.
type PositionUpsert struct {
	TokenID  string
	Entry    float64
	Current  float64
	Size     float64
	OpenedAt time.Time
	Source   string
}

func (u PositionUpsert) validate() error {
	if u.TokenID == "" {
		return fmt.Errorf("%w: position upsert missing token id", ErrInvalidUpdate)
	}
	for name, v := range map[string]float64{"entry": u.Entry, "current": u.Current, "size": u.Size} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: position %s %s is not finite", ErrInvalidUpdate, u.TokenID, name)
		}
	}
	if u.Entry <= 0 {
		return fmt.Errorf("%w: position %s entry price must be positive, got %v", ErrInvalidUpdate, u.TokenID, u.Entry)
	}
	if u.Current <= 0 {
		return fmt.Errorf("%w: position %s current price must be positive, got %v", ErrInvalidUpdate, u.TokenID, u.Current)
	}
	if u.Size <= 0 {
		return fmt.Errorf("%w: position %s size must be positive, got %v", ErrInvalidUpdate, u.TokenID, u.Size)
	}
	return nil
}

// PositionClose removes an open position. Closing an unknown token is a
// no-op, not an error.
type PositionClose struct {
	TokenID string
}

func (u PositionClose) validate() error {
	if u.TokenID == "" {
		return fmt.Errorf("%w: position close missing token id", ErrInvalidUpdate)
	}
	return nil
}

// ActivityAppend appends one event to the bounded activity log.
type ActivityAppend struct {
	Icon   string
	Title  string
	Detail string
}

func (u ActivityAppend) validate() error {
	if u.Title == "" {
		return fmt.Errorf("%w: activity event missing title", ErrInvalidUpdate)
	}
	return nil
}
