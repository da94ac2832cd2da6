// SPDX-License-Identifier: MPL-2.0

// Package builder defines the container engine contract the orchestrator
// drives, and a buildah CLI adapter implementing it. The orchestrator only
// ever talks through the Builder interface; everything the engine does
// internally (registries, storage drivers, retries) stays behind it.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"imagebender/internal/build"
)

// ErrUnknownBuilder is the sentinel error wrapped by UnknownBuilderError.
var ErrUnknownBuilder = errors.New("unknown builder backend")

type (
	// Builder is the external container engine adapter for one build. It is
	// created for a specific build record and holds the working container
	// between calls. All methods are blocking; any retry policy for flaky
	// engine calls belongs to the implementation, not the caller.
	Builder interface {
		// GetImageID resolves an image reference to its engine-side id.
		GetImageID(ctx context.Context, ref string) (string, error)
		// IsBaseImagePresent reports whether the build's base image is
		// available locally.
		IsBaseImagePresent(ctx context.Context) (bool, error)
		// Pull fetches the build's base image.
		Pull(ctx context.Context) error
		// FindInterpreter discovers the path of the interpreter the task
		// engine needs inside the base image.
		FindInterpreter(ctx context.Context) (string, error)
		// Create materializes the working container, propagating requested
		// bind-mount volumes ("/host:/container" specs).
		Create(ctx context.Context, volumes []string) error
		// SwapWorkingContainer replaces the working container with one
		// created from the given layer id, rewinding to cached state.
		SwapWorkingContainer(ctx context.Context, toLayerID string) error
		// Commit snapshots the working container's filesystem under
		// imageName and returns the resulting layer id.
		Commit(ctx context.Context, imageName string) (string, error)
		// Clean releases the working container. It runs on every exit path
		// and must tolerate being called when nothing was created.
		Clean(ctx context.Context) error
		// WorkingContainer returns the name the task engine targets when
		// running tasks inside the working container.
		WorkingContainer() string
	}

	// Factory constructs a Builder for a build record. The orchestrator
	// holds a Factory rather than a Builder so that tests can substitute
	// fakes and so each build gets a fresh working-container state.
	Factory func(b *build.Build, logger *slog.Logger) (Builder, error)

	// UnknownBuilderError is returned when a build names a backend no
	// factory exists for.
	UnknownBuilderError struct {
		Name string
	}
)

// Error implements the error interface.
func (e *UnknownBuilderError) Error() string {
	return fmt.Sprintf("unknown builder backend %q (available: buildah)", e.Name)
}

// Unwrap returns ErrUnknownBuilder so callers can use errors.Is.
func (e *UnknownBuilderError) Unwrap() error { return ErrUnknownBuilder }

// New resolves the builder backend named by the build record.
func New(b *build.Build, logger *slog.Logger) (Builder, error) {
	switch b.BuilderName {
	case BackendBuildah:
		return NewBuildahBuilder(b, logger), nil
	default:
		return nil, &UnknownBuilderError{Name: b.BuilderName}
	}
}
