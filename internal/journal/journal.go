// Package journal provides an optional append-only record of activity
// events on BoltDB, keyed by the feed revision that produced them. The feed
// core itself stays purely in-memory; the journal attaches to the hub as a
// regular subscriber and only ever observes frames, so a slow disk can
// never stall a producer.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/rs/zerolog/log"

	"neongrid/internal/feed"
)

const activityBucket = "activity"

// Entry is one journaled activity event.
type Entry struct {
	Revision uint64             `json:"revision"`
	Event    feed.ActivityEvent `json:"event"`
}

// Journal persists activity events to a BoltDB file under dataPath.
type Journal struct {
	db *bbolt.DB
}

// Open opens (or creates) the journal database inside dataPath.
func Open(dataPath string) (*Journal, error) {
	dbPath := filepath.Join(dataPath, "neongrid-activity.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(activityBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create activity bucket: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Record appends the activity events produced at the given revision. Keys
// are revision-ordered so Recent can walk backwards from the newest entry.
func (j *Journal) Record(revision uint64, events []feed.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(activityBucket))
		for i, ev := range events {
			data, err := json.Marshal(Entry{Revision: revision, Event: ev})
			if err != nil {
				return fmt.Errorf("marshal activity entry: %w", err)
			}
			if err := b.Put(entryKey(revision, uint16(i)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Recent returns up to n journaled entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	var entries []Entry
	err := j.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(activityBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(entries) < n; k, v = c.Prev() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				continue // skip malformed records
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

func entryKey(revision uint64, idx uint16) []byte {
	key := make([]byte, 10)
	binary.BigEndian.PutUint64(key[:8], revision)
	binary.BigEndian.PutUint16(key[8:], idx)
	return key
}

// Telemetry counts journal write failures; satisfied by telemetry.Metrics.
type Telemetry interface {
	JournalErrorInc()
}

// Run consumes an attached subscription and journals the activity carried
// by delta frames until the context is canceled or the subscription is
// detached. Write failures are logged and counted but never propagate
// upstream.
func Run(ctx context.Context, sub *feed.Subscription, j *Journal, tel Telemetry) {
	defer sub.Detach()

	for {
		frame, err := sub.Next(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, feed.ErrDetached) {
				log.Warn().Err(err).Msg("journal subscription ended")
			}
			return
		}
		if frame.Type != feed.FrameDelta || frame.Changed == nil || len(frame.Changed.Activity) == 0 {
			continue
		}
		if err := j.Record(frame.Revision, frame.Changed.Activity); err != nil {
			log.Warn().Err(err).Uint64("revision", frame.Revision).Msg("journal write failed")
			if tel != nil {
				tel.JournalErrorInc()
			}
		}
	}
}
