// SPDX-License-Identifier: MPL-2.0

package build

import "time"

// Detail is the read-only projection of a Build exposed to CLI/API callers.
// It carries only public fields: captured log lines have a dedicated query
// and store-internal bookkeeping (sequence number) is never part of the type.
type Detail struct {
	ID          string    `json:"id"`
	BaseImage   string    `json:"base_image"`
	TargetImage string    `json:"target_image"`
	BuilderName string    `json:"builder_name"`
	CacheTasks  bool      `json:"cache_tasks"`
	State       State     `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	StartTime   time.Time `json:"start_time,omitzero"`
	FinishTime  time.Time `json:"finish_time,omitzero"`
	Layers      []Layer   `json:"layers,omitempty"`
}

// Detail returns the redacted projection of the build.
func (b *Build) Detail() Detail {
	layers := make([]Layer, len(b.Layers))
	copy(layers, b.Layers)
	return Detail{
		ID:          b.ID,
		BaseImage:   b.BaseImage,
		TargetImage: b.TargetImage,
		BuilderName: b.BuilderName,
		CacheTasks:  b.CacheTasks,
		State:       b.State,
		CreatedAt:   b.CreatedAt,
		StartTime:   b.StartTime,
		FinishTime:  b.FinishTime,
		Layers:      layers,
	}
}
