package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neongrid/internal/feed"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournal_RecordAndRecent(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)

	for rev := uint64(1); rev <= 5; rev++ {
		err := j.Record(rev, []feed.ActivityEvent{{
			Icon:      "🚀",
			Title:     fmt.Sprintf("event-%d", rev),
			Timestamp: time.Now(),
		}})
		require.NoError(t, err)
	}

	entries, err := j.Recent(3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// Newest first.
	assert.Equal(t, "event-5", entries[0].Event.Title)
	assert.Equal(t, "event-4", entries[1].Event.Title)
	assert.Equal(t, "event-3", entries[2].Event.Title)
	assert.Equal(t, uint64(5), entries[0].Revision)
}

func TestJournal_RecentMoreThanStored(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)

	require.NoError(t, j.Record(1, []feed.ActivityEvent{{Title: "only"}}))

	entries, err := j.Recent(10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	entries, err = j.Recent(0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournal_RecordEmpty(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	require.NoError(t, j.Record(1, nil))

	entries, err := j.Recent(5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournal_MultipleEventsPerRevision(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)

	events := []feed.ActivityEvent{{Title: "first"}, {Title: "second"}}
	require.NoError(t, j.Record(7, events))

	entries, err := j.Recent(5)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Event.Title)
	assert.Equal(t, "first", entries[1].Event.Title)
}

func TestRun_JournalsActivityFromHub(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	hub := feed.NewHub(feed.NewStore(10), 16, nil)
	sub := hub.Attach()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Run(ctx, sub, j, nil)
	}()

	require.NoError(t, hub.Publish(feed.ActivityAppend{Icon: "⚡", Title: "signal detected"}))
	require.NoError(t, hub.Publish(feed.MetricUpdate{Name: feed.MetricTotalProfit, Value: 1}))
	require.NoError(t, hub.Publish(feed.ActivityAppend{Title: "position opened", Detail: "T1"}))

	require.Eventually(t, func() bool {
		entries, err := j.Recent(10)
		return err == nil && len(entries) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}

	entries, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "position opened", entries[0].Event.Title)
	assert.Equal(t, "signal detected", entries[1].Event.Title)
}
