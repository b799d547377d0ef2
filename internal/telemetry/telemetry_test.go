package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neongrid/internal/feed"
)

func TestNewWithRegistry(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	require.NotNil(t, m)

	// Metrics satisfies the hub's telemetry contract.
	var _ feed.Telemetry = m

	m.PublishInc()
	m.PublishInc()
	m.InvalidUpdateInc()
	m.DeltaDroppedInc()
	m.ResyncInc()
	m.SubscriberCount(3)
	m.FramesSentTotal.Inc()
	m.JournalErrorsTotal.Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PublishesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvalidUpdatesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeltasDroppedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ResyncsTotal))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Subscribers))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FramesSentTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JournalErrorsTotal))
}

func TestHubDrivesTelemetry(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	hub := feed.NewHub(feed.NewStore(10), 4, m)

	sub := hub.Attach()
	require.NoError(t, hub.Publish(feed.MetricUpdate{Name: feed.MetricTotalProfit, Value: 1}))
	require.Error(t, hub.Publish(feed.MetricUpdate{Name: "bogus", Value: 1}))
	sub.Detach()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.InvalidUpdatesTotal))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Subscribers))
}
