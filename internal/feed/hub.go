package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// DefaultQueueCapacity bounds each subscriber's outbound frame queue when
// the hub is constructed with a non-positive capacity.
const DefaultQueueCapacity = 64

// ErrDetached is returned by Subscription.Next once the subscription has
// been detached, either explicitly or after a fatal transport failure.
var ErrDetached = errors.New("subscription detached")

// SubscriberState tracks one viewer session's lifecycle:
// Attaching -> Live -> (NeedsResync <-> Live) -> Detached.
type SubscriberState int32

const (
	StateAttaching SubscriberState = iota
	StateLive
	StateNeedsResync
	StateDetached
)

func (s SubscriberState) String() string {
	switch s {
	case StateAttaching:
		return "attaching"
	case StateLive:
		return "live"
	case StateNeedsResync:
		return "needs_resync"
	case StateDetached:
		return "detached"
	}
	return "unknown"
}

// Telemetry receives hub events. Implementations must be safe for
// concurrent use; the prometheus-backed one lives in internal/telemetry.
type Telemetry interface {
	PublishInc()
	InvalidUpdateInc()
	DeltaDroppedInc()
	ResyncInc()
	SubscriberCount(n int)
}

// NopTelemetry discards all hub events.
type NopTelemetry struct{}

func (NopTelemetry) PublishInc()         {}
func (NopTelemetry) InvalidUpdateInc()   {}
func (NopTelemetry) DeltaDroppedInc()    {}
func (NopTelemetry) ResyncInc()          {}
func (NopTelemetry) SubscriberCount(int) {}

// Hub decouples producers from viewers. Producers call Publish at arbitrary
// rates; each subscriber drains its own bounded queue at its own pace. A
// full queue never blocks a producer: the delta is dropped for that
// subscriber only and the subscriber is marked for resync, after which its
// next delivery is a fresh snapshot instead of the missed deltas.
type Hub struct {
	store    *Store
	queueCap int
	tel      Telemetry

	mu     sync.Mutex // guards subs and keeps merge-plus-fanout atomic
	subs   map[uint64]*subscriber
	nextID uint64
}

type subscriber struct {
	id      uint64
	frames  chan Frame
	state   atomic.Int32
	lastAck atomic.Uint64
}

func (s *subscriber) currentState() SubscriberState {
	return SubscriberState(s.state.Load())
}

// Subscription is the receive-side handle returned by Attach.
type Subscription struct {
	hub *Hub
	sub *subscriber
}

// NewHub wraps a store. queueCap bounds each subscriber's frame queue;
// non-positive values fall back to DefaultQueueCapacity. A nil telemetry
// falls back to NopTelemetry.
func NewHub(store *Store, queueCap int, tel Telemetry) *Hub {
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}
	if tel == nil {
		tel = NopTelemetry{}
	}
	return &Hub{
		store:    store,
		queueCap: queueCap,
		tel:      tel,
		subs:     make(map[uint64]*subscriber),
	}
}

// Store exposes the wrapped metrics store for read-only snapshot access.
func (h *Hub) Store() *Store { return h.store }

// Publish validates the update, merges it into the store and enqueues the
// resulting delta frame to every live subscriber without ever blocking.
// Merge and fan-out happen under the hub lock as one step, so concurrent
// publishes enqueue their frames in revision order on every queue.
// Subscribers marked for resync are skipped; the snapshot they will receive
// covers everything published in the meantime. The only error Publish can
// return is ErrInvalidUpdate; subscriber behavior never surfaces here.
func (h *Hub) Publish(u Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	delta, rev, err := h.store.Merge(u)
	if err != nil {
		h.tel.InvalidUpdateInc()
		return err
	}
	h.tel.PublishInc()

	frame := deltaFrame(rev, delta)
	for _, sub := range h.subs {
		switch sub.currentState() {
		case StateNeedsResync, StateDetached:
			continue
		}
		select {
		case sub.frames <- frame:
		default:
			// Queue full: drop for this subscriber only and force a
			// snapshot resync on its next delivery opportunity.
			sub.state.Store(int32(StateNeedsResync))
			h.tel.DeltaDroppedInc()
			log.Debug().
				Uint64("subscriber", sub.id).
				Uint64("revision", rev).
				Msg("subscriber queue full, marked for resync")
		}
	}
	return nil
}

// Attach registers a new viewer session and places a full snapshot at the
// head of its queue so the first delivered frame always synchronizes the
// viewer before any delta arrives.
func (h *Hub) Attach() *Subscription {
	h.mu.Lock()
	h.nextID++
	sub := &subscriber{
		id:     h.nextID,
		frames: make(chan Frame, h.queueCap),
	}
	sub.state.Store(int32(StateAttaching))
	snap := h.store.Snapshot()
	sub.lastAck.Store(snap.Revision)
	sub.frames <- snapshotFrame(snap)
	h.subs[sub.id] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.tel.SubscriberCount(n)
	log.Debug().Uint64("subscriber", sub.id).Uint64("revision", snap.Revision).Msg("subscriber attached")
	return &Subscription{hub: h, sub: sub}
}

// Detach removes a subscriber and releases its queue. It is idempotent:
// detaching twice or detaching an unknown id is a silent no-op, and a
// detach racing an in-flight Publish is tolerated.
func (h *Hub) Detach(id uint64) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.subs, id)
	sub.state.Store(int32(StateDetached))
	close(sub.frames)
	n := len(h.subs)
	h.mu.Unlock()

	h.tel.SubscriberCount(n)
	log.Debug().Uint64("subscriber", id).Msg("subscriber detached")
}

// resync replaces a lagging subscriber's pending deltas with a fresh
// snapshot. Holding the hub lock keeps concurrent publishes out, so the
// snapshot revision is current as of delivery time and every later publish
// lands in the queue again.
func (h *Hub) resync(sub *subscriber) (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.currentState() == StateDetached {
		return Frame{}, false
	}
	for {
		select {
		case <-sub.frames:
			continue
		default:
		}
		break
	}
	snap := h.store.Snapshot()
	sub.lastAck.Store(snap.Revision)
	sub.state.Store(int32(StateLive))
	h.tel.ResyncInc()
	log.Debug().Uint64("subscriber", sub.id).Uint64("revision", snap.Revision).Msg("subscriber resynced")
	return snapshotFrame(snap), true
}

// ID returns the subscription's hub-assigned identifier.
func (s *Subscription) ID() uint64 { return s.sub.id }

// State returns the subscriber's current lifecycle state.
func (s *Subscription) State() SubscriberState { return s.sub.currentState() }

// LastRevision returns the revision of the last delivered frame. It never
// exceeds the store's current revision.
func (s *Subscription) LastRevision() uint64 { return s.sub.lastAck.Load() }

// Detach removes this subscription from the hub. Safe to call repeatedly.
func (s *Subscription) Detach() { s.hub.Detach(s.sub.id) }

// Next blocks until the next frame is available, the context is canceled or
// the subscription is detached. A subscriber marked for resync receives a
// fresh snapshot in place of its queued deltas.
func (s *Subscription) Next(ctx context.Context) (Frame, error) {
	for {
		switch s.sub.currentState() {
		case StateDetached:
			return Frame{}, ErrDetached
		case StateNeedsResync:
			frame, ok := s.hub.resync(s.sub)
			if !ok {
				return Frame{}, ErrDetached
			}
			return frame, nil
		}

		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case frame, ok := <-s.sub.frames:
			if !ok {
				return Frame{}, ErrDetached
			}
			s.sub.state.CompareAndSwap(int32(StateAttaching), int32(StateLive))
			s.sub.lastAck.Store(frame.Revision)
			return frame, nil
		}
	}
}
