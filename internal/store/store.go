// SPDX-License-Identifier: MPL-2.0

// Package store provides the durable keyed storage backing build records and
// the layer cache index. It has no build semantics: every method is a single
// atomic read or write of one record.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"imagebender/internal/build"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: record not found")

	bucketBuilds = []byte("builds")
	bucketLayers = []byte("layers")
)

// Store is a bbolt-backed record store. Each write is a single transaction,
// so a record is always readable with whatever state was last committed,
// even if the process died mid-build. Distinct keys may be accessed from
// concurrent builds without coordination.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens (creating if necessary) the store at path. The parent directory
// is created when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketBuilds, bucketLayers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize store buckets: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the filesystem path of the store. The task engine receives it
// so that per-task callback invocations reach the same persisted state.
func (s *Store) Path() string { return s.path }

// Close releases the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutBuild persists the build record keyed by its id, overwriting any
// previous version. A creation sequence number is assigned on first write.
func (s *Store) PutBuild(b *build.Build) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketBuilds)
		if b.Seq == 0 {
			seq, err := bkt.NextSequence()
			if err != nil {
				return fmt.Errorf("assign build sequence: %w", err)
			}
			b.Seq = seq
		}
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("encode build %s: %w", b.ID, err)
		}
		if err := bkt.Put([]byte(b.ID), data); err != nil {
			return fmt.Errorf("put build %s: %w", b.ID, err)
		}
		return nil
	})
}

// GetBuild loads the build record with the given id.
func (s *Store) GetBuild(id string) (*build.Build, error) {
	var b *build.Build
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBuilds).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("build %q: %w", id, ErrNotFound)
		}
		b = &build.Build{}
		if err := json.Unmarshal(data, b); err != nil {
			return fmt.Errorf("decode build %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ListBuilds returns all build records ordered by creation.
func (s *Store) ListBuilds() ([]*build.Build, error) {
	var builds []*build.Build
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBuilds).ForEach(func(_, data []byte) error {
			b := &build.Build{}
			if err := json.Unmarshal(data, b); err != nil {
				return fmt.Errorf("decode build record: %w", err)
			}
			builds = append(builds, b)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(builds, func(i, j int) bool { return builds[i].Seq < builds[j].Seq })
	return builds, nil
}

// LatestBuild returns the most recently created build record.
func (s *Store) LatestBuild() (*build.Build, error) {
	builds, err := s.ListBuilds()
	if err != nil {
		return nil, err
	}
	if len(builds) == 0 {
		return nil, fmt.Errorf("latest build: %w", ErrNotFound)
	}
	return builds[len(builds)-1], nil
}

// GetCacheEntry returns the value stored under key in the layer cache index.
func (s *Store) GetCacheEntry(key string) (string, error) {
	var value string
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLayers).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("cache entry %q: %w", key, ErrNotFound)
		}
		value = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

// PutCacheEntryIfAbsent writes value under key unless the key already holds
// a value, and returns whatever is stored after the call. The check and the
// write happen in one transaction, so concurrent writers observe a single
// winner rather than an overwrite.
func (s *Store) PutCacheEntryIfAbsent(key, value string) (string, error) {
	stored := value
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketLayers)
		if existing := bkt.Get([]byte(key)); existing != nil {
			stored = string(existing)
			return nil
		}
		if err := bkt.Put([]byte(key), []byte(value)); err != nil {
			return fmt.Errorf("put cache entry %q: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return stored, nil
}
