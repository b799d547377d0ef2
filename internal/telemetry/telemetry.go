// Package telemetry provides Prometheus metrics for the feed core and its
// HTTP surface. Counters cover publish throughput, rejected updates, the
// drop-and-resync backpressure path and frame delivery; a gauge tracks the
// attached subscriber count.
//
// The feed package only depends on the small feed.Telemetry interface;
// Metrics implements it so the prometheus wiring stays at the edge.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the feed service.
type Metrics struct {
	PublishesTotal      prometheus.Counter // Updates accepted by the hub
	InvalidUpdatesTotal prometheus.Counter // Updates rejected before merge
	DeltasDroppedTotal  prometheus.Counter // Deltas dropped on full subscriber queues
	ResyncsTotal        prometheus.Counter // Snapshot resyncs delivered to lagging subscribers
	FramesSentTotal     prometheus.Counter // Frames written to viewer transports
	Subscribers         prometheus.Gauge   // Currently attached subscribers
	JournalErrorsTotal  prometheus.Counter // Activity journal write failures
}

// New creates and registers all metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry, which keeps test
// runs isolated from the global Prometheus state.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PublishesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_publishes_total",
			Help: "Total number of updates accepted by the hub",
		}),
		InvalidUpdatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_invalid_updates_total",
			Help: "Total number of updates rejected before merge",
		}),
		DeltasDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_deltas_dropped_total",
			Help: "Total number of deltas dropped on full subscriber queues",
		}),
		ResyncsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_resyncs_total",
			Help: "Total number of snapshot resyncs delivered to lagging subscribers",
		}),
		FramesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_frames_sent_total",
			Help: "Total number of frames written to viewer transports",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "feed_subscribers",
			Help: "Number of currently attached subscribers",
		}),
		JournalErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "feed_journal_errors_total",
			Help: "Total number of activity journal write failures",
		}),
	}
}

// PublishInc implements feed.Telemetry.
func (m *Metrics) PublishInc() { m.PublishesTotal.Inc() }

// InvalidUpdateInc implements feed.Telemetry.
func (m *Metrics) InvalidUpdateInc() { m.InvalidUpdatesTotal.Inc() }

// DeltaDroppedInc implements feed.Telemetry.
func (m *Metrics) DeltaDroppedInc() { m.DeltasDroppedTotal.Inc() }

// ResyncInc implements feed.Telemetry.
func (m *Metrics) ResyncInc() { m.ResyncsTotal.Inc() }

// SubscriberCount implements feed.Telemetry.
func (m *Metrics) SubscriberCount(n int) { m.Subscribers.Set(float64(n)) }

// FrameSentInc records one frame written to a viewer transport.
func (m *Metrics) FrameSentInc() { m.FramesSentTotal.Inc() }

// JournalErrorInc records one activity journal write failure.
func (m *Metrics) JournalErrorInc() { m.JournalErrorsTotal.Inc() }
