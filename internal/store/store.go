// Package store persists the monitor state and a bounded history of poll
// cycles in BoltDB.
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/serverbot/internal/trend"
)

var (
	bucketState  = []byte("state")
	bucketCycles = []byte("cycles")

	keyMonitorState = []byte("monitor")
)

// CycleRecord is the stored outcome of one poll cycle
type CycleRecord struct {
	ID            string    `json:"id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Result        string    `json:"result"`
	Stage         string    `json:"stage,omitempty"`
	Error         string    `json:"error,omitempty"`
	Players       int       `json:"players"`
	MaxPlayers    int       `json:"max_players"`
	Queue         int       `json:"queue"`
	Map           string    `json:"map,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	Notifications []string  `json:"notifications,omitempty"`
}

// storedState wraps the monitor state with its save time
type storedState struct {
	SavedAt time.Time   `json:"saved_at"`
	State   trend.State `json:"state"`
}

// BoltStore keeps state and cycle history in a BoltDB file
type BoltStore struct {
	db *bolt.DB
}

// Open opens or creates the database at path
func Open(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketState, bucketCycles} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// SaveState stores the committed monitor state
func (s *BoltStore) SaveState(ctx context.Context, st trend.State) error {
	data, err := json.Marshal(storedState{SavedAt: time.Now().UTC(), State: st})
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Put(keyMonitorState, data)
	})
}

// LoadState returns the stored monitor state. ok is false when nothing was saved.
func (s *BoltStore) LoadState(ctx context.Context) (st trend.State, savedAt time.Time, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketState).Get(keyMonitorState)
		if data == nil {
			return nil
		}

		var stored storedState
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal state: %w", err)
		}
		st, savedAt, ok = stored.State, stored.SavedAt, true
		return nil
	})
	return st, savedAt, ok, err
}

// ResetState removes the stored monitor state
func (s *BoltStore) ResetState(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketState).Delete(keyMonitorState)
	})
}

// AppendCycle stores a cycle record and drops the oldest records beyond maxRecords.
// maxRecords <= 0 keeps everything.
func (s *BoltStore) AppendCycle(ctx context.Context, rec CycleRecord, maxRecords int) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal cycle: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCycles)
		if err := bucket.Put(makeIndexKey(rec.StartedAt, rec.ID), data); err != nil {
			return fmt.Errorf("failed to store cycle: %w", err)
		}

		if maxRecords <= 0 {
			return nil
		}

		var keys [][]byte
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte{}, k...))
		}

		// Delete oldest first
		for i := 0; i < len(keys)-maxRecords; i++ {
			if err := bucket.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecentCycles returns up to limit records, newest first. limit <= 0 returns all.
func (s *BoltStore) RecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	var records []CycleRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCycles).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}

			var rec CycleRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// CountCycles returns the number of stored cycle records
func (s *BoltStore) CountCycles(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCycles).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// PruneCycles removes records started before cutoff
func (s *BoltStore) PruneCycles(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCycles)

		var expired [][]byte
		c := bucket.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if !parseTimestampFromKey(k).Before(cutoff) {
				break // keys are time ordered
			}
			expired = append(expired, append([]byte{}, k...))
		}

		for _, k := range expired {
			if err := bucket.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}

// Close closes the database connection
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *BoltStore) DB() *bolt.DB {
	return s.db
}

// makeIndexKey creates a sortable key: 8-byte big-endian unix nanos, then the id
func makeIndexKey(t time.Time, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(t.UnixNano()))
	return append(key, id...)
}

// parseTimestampFromKey extracts the timestamp from an index key
func parseTimestampFromKey(key []byte) time.Time {
	if len(key) < 8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[:8])))
}
