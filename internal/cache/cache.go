// SPDX-License-Identifier: MPL-2.0

// Package cache maps (content fingerprint, base layer id) pairs to previously
// produced layer ids. The pair is the key: identical task content applied on
// top of different ancestry is a different cache entry.
package cache

import (
	"errors"
	"fmt"

	"imagebender/internal/store"
)

// ErrConflict is the sentinel error wrapped by ConflictError.
var ErrConflict = errors.New("cache entry conflict")

type (
	// LayerCache is the content-addressed layer index, built on the
	// persistent store. Entries are written once and never updated or
	// deleted; staleness is handled at base-image granularity outside of it.
	LayerCache struct {
		store *store.Store
	}

	// ConflictError is returned when an insert would associate an existing
	// (content, base layer) key with a different layer id. Divergent cache
	// history is a logic error and is never silently resolved by overwrite.
	ConflictError struct {
		Content  string
		BaseID   string
		Existing string
		LayerID  string
	}
)

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("cache entry for (%q, %q) already holds layer %q, refusing to store %q",
		e.Content, e.BaseID, e.Existing, e.LayerID)
}

// Unwrap returns ErrConflict so callers can use errors.Is.
func (e *ConflictError) Unwrap() error { return ErrConflict }

// New creates a LayerCache over the given store.
func New(s *store.Store) *LayerCache {
	return &LayerCache{store: s}
}

// Lookup returns the layer id recorded for (content, baseID), or ok=false
// when no entry matches both fields exactly.
func (c *LayerCache) Lookup(content, baseID string) (string, bool, error) {
	layerID, err := c.store.GetCacheEntry(entryKey(content, baseID))
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return layerID, true, nil
}

// Insert records layerID under (content, baseID). Re-inserting the same
// value is a no-op; inserting a different value for an existing key returns
// a ConflictError.
func (c *LayerCache) Insert(content, baseID, layerID string) error {
	stored, err := c.store.PutCacheEntryIfAbsent(entryKey(content, baseID), layerID)
	if err != nil {
		return err
	}
	if stored != layerID {
		return &ConflictError{
			Content:  content,
			BaseID:   baseID,
			Existing: stored,
			LayerID:  layerID,
		}
	}
	return nil
}

// entryKey joins the pair with a NUL byte, which cannot appear in content
// fingerprints or layer ids.
func entryKey(content, baseID string) string {
	return content + "\x00" + baseID
}
