// SPDX-License-Identifier: MPL-2.0

// Package build defines the build entity: one image build's identity,
// configuration, lifecycle state, and its append-only chain of layers.
package build

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptyLayerChain is returned when the top layer is requested before
	// the base layer has been recorded.
	ErrEmptyLayerChain = errors.New("layer chain is empty")

	// ErrInvariantViolation is the sentinel error wrapped by LayerMismatchError.
	ErrInvariantViolation = errors.New("layer ancestry invariant violated")
)

type (
	// Layer is an immutable snapshot of the image filesystem after one task
	// (or the base image). Content is the fingerprint of the task that
	// produced it and is empty for the base layer. BaseID is the id of the
	// layer it was produced from and is empty only for the base layer.
	Layer struct {
		Content string `json:"content,omitempty"`
		ID      string `json:"id"`
		BaseID  string `json:"base_id,omitempty"`
		Cached  bool   `json:"cached"`
	}

	// Build represents one image build. Identity and configuration are fixed
	// at creation; lifecycle fields and the layer chain mutate as the build
	// progresses. A Build is owned by exactly one orchestrator invocation at
	// a time and is never shared across builds.
	Build struct {
		ID          string `json:"id"`
		BaseImage   string `json:"base_image"`
		TargetImage string `json:"target_image"`
		BuilderName string `json:"builder_name"`
		CacheTasks  bool   `json:"cache_tasks"`
		Debug       bool   `json:"debug"`
		Verbose     bool   `json:"verbose"`

		State      State     `json:"state"`
		CreatedAt  time.Time `json:"created_at"`
		StartTime  time.Time `json:"start_time,omitzero"`
		FinishTime time.Time `json:"finish_time,omitzero"`
		LogLines   []string  `json:"log_lines,omitempty"`

		Layers []Layer `json:"layers,omitempty"`

		// Seq is assigned by the store on first persistence and orders
		// builds by creation for "latest build" queries.
		Seq uint64 `json:"seq,omitempty"`
	}

	// LayerMismatchError is returned by RecordLayer when the supplied base
	// layer id does not match the current top of the chain. It indicates
	// out-of-order or concurrent misuse of the callback protocol.
	LayerMismatchError struct {
		BaseID string // base id the caller supplied
		TopID  string // id actually at the top of the chain
	}

	// Params carries the immutable configuration for a new Build.
	Params struct {
		BaseImage   string
		TargetImage string
		BuilderName string
		CacheTasks  bool
		Debug       bool
		Verbose     bool
	}
)

// Error implements the error interface.
func (e *LayerMismatchError) Error() string {
	return fmt.Sprintf("recorded layer's base id %q does not match top layer id %q", e.BaseID, e.TopID)
}

// Unwrap returns ErrInvariantViolation so callers can use errors.Is.
func (e *LayerMismatchError) Unwrap() error { return ErrInvariantViolation }

// New creates a Build in the scheduled state with a generated id.
func New(p Params) *Build {
	return &Build{
		ID:          uuid.NewString(),
		BaseImage:   p.BaseImage,
		TargetImage: p.TargetImage,
		BuilderName: p.BuilderName,
		CacheTasks:  p.CacheTasks,
		Debug:       p.Debug,
		Verbose:     p.Verbose,
		State:       StateScheduled,
		CreatedAt:   time.Now().UTC(),
	}
}

// RecordLayer appends a layer to the chain. The base layer (empty content,
// empty baseID) must be recorded first; every subsequent layer's baseID must
// equal the current top layer's id, keeping the chain a singly linked
// ancestry list.
func (b *Build) RecordLayer(content, layerID, baseID string, cached bool) error {
	if len(b.Layers) == 0 {
		if baseID != "" {
			return &LayerMismatchError{BaseID: baseID}
		}
	} else {
		top := b.Layers[len(b.Layers)-1].ID
		if baseID != top {
			return &LayerMismatchError{BaseID: baseID, TopID: top}
		}
	}
	b.Layers = append(b.Layers, Layer{
		Content: content,
		ID:      layerID,
		BaseID:  baseID,
		Cached:  cached,
	})
	return nil
}

// TopLayerID returns the id of the most recently appended layer. It is the
// ancestry anchor for the next cache lookup.
func (b *Build) TopLayerID() (string, error) {
	if len(b.Layers) == 0 {
		return "", ErrEmptyLayerChain
	}
	return b.Layers[len(b.Layers)-1].ID, nil
}
