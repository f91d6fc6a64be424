// Package storage persists the disk registry and published readings in
// a bbolt database so the status API can serve them without touching
// the publish loop's state.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// disksBucket stores one DiskRecord per alias.
	disksBucket = "disks"

	// readingsBucket stores the latest published reading per alias.
	readingsBucket = "readings"

	// historyBucket holds one sub-bucket per alias with
	// timestamp-keyed reading entries.
	historyBucket = "history"

	// maxHistory bounds the per-disk history length.
	maxHistory = 288
)

// ErrNotFound is returned when a disk or reading does not exist.
var ErrNotFound = errors.New("not found")

// DiskRecord is the stored registry entry for one disk.
type DiskRecord struct {
	Serial       string    `json:"serial"`
	Alias        string    `json:"alias"`
	Model        string    `json:"model"`
	Firmware     string    `json:"firmware"`
	Availability string    `json:"availability"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HistoryEntry is one archived reading.
type HistoryEntry struct {
	At    time.Time       `json:"at"`
	State json.RawMessage `json:"state"`
}

// Store is a bbolt-backed reading store.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{disksBucket, readingsBucket, historyBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveDisk writes a disk registry entry keyed by alias.
func (s *Store) SaveDisk(rec DiskRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal disk record: %w", err)
		}
		return tx.Bucket([]byte(disksBucket)).Put([]byte(rec.Alias), data)
	})
}

// GetDisk returns the registry entry for alias.
func (s *Store) GetDisk(alias string) (*DiskRecord, error) {
	var rec *DiskRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(disksBucket)).Get([]byte(alias))
		if data == nil {
			return ErrNotFound
		}
		rec = &DiskRecord{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

// ListDisks returns every registry entry ordered by alias.
func (s *Store) ListDisks() ([]DiskRecord, error) {
	var records []DiskRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(disksBucket)).ForEach(func(_, v []byte) error {
			var rec DiskRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal disk record: %w", err)
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// SetAvailability updates the availability field of an existing entry.
func (s *Store) SetAvailability(alias, availability string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(disksBucket))
		data := bucket.Get([]byte(alias))
		if data == nil {
			return ErrNotFound
		}

		var rec DiskRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal disk record: %w", err)
		}
		rec.Availability = availability
		rec.UpdatedAt = time.Now()

		updated, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal disk record: %w", err)
		}
		return bucket.Put([]byte(alias), updated)
	})
}

// SaveReading stores the latest reading for alias and appends it to the
// disk's history, trimming the oldest entries past the history bound.
func (s *Store) SaveReading(alias string, state []byte, at time.Time) error {
	entry := HistoryEntry{At: at, State: state}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(readingsBucket)).Put([]byte(alias), data); err != nil {
			return err
		}

		diskHistory, err := tx.Bucket([]byte(historyBucket)).CreateBucketIfNotExists([]byte(alias))
		if err != nil {
			return fmt.Errorf("failed to create history bucket: %w", err)
		}

		// Timestamp keys sort chronologically.
		key := []byte(fmt.Sprintf("%020d", at.UnixNano()))
		if err := diskHistory.Put(key, data); err != nil {
			return err
		}
		return trimHistory(diskHistory, maxHistory)
	})
}

// LatestReading returns the most recent reading stored for alias.
func (s *Store) LatestReading(alias string) (*HistoryEntry, error) {
	var entry *HistoryEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(readingsBucket)).Get([]byte(alias))
		if data == nil {
			return ErrNotFound
		}
		entry = &HistoryEntry{}
		return json.Unmarshal(data, entry)
	})
	return entry, err
}

// ReadingHistory returns up to limit of the newest history entries for
// alias, oldest first.
func (s *Store) ReadingHistory(alias string, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		diskHistory := tx.Bucket([]byte(historyBucket)).Bucket([]byte(alias))
		if diskHistory == nil {
			return nil
		}

		var all []HistoryEntry
		cursor := diskHistory.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var entry HistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue // skip corrupted entries
			}
			all = append(all, entry)
		}

		if limit > 0 && len(all) > limit {
			entries = all[len(all)-limit:]
		} else {
			entries = all
		}
		return nil
	})
	return entries, err
}

// trimHistory deletes the oldest entries beyond max.
func trimHistory(bucket *bbolt.Bucket, max int) error {
	var count int
	cursor := bucket.Cursor()
	for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
		count++
	}
	if count <= max {
		return nil
	}

	toDelete := count - max
	cursor = bucket.Cursor()
	for k, _ := cursor.First(); k != nil && toDelete > 0; k, _ = cursor.Next() {
		if err := bucket.Delete(k); err != nil {
			return fmt.Errorf("failed to trim history: %w", err)
		}
		toDelete--
	}
	return nil
}
