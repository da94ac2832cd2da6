// SPDX-License-Identifier: MPL-2.0

// Package app contains the orchestrator that drives one build end-to-end:
// it initializes the build record, walks the external builder through the
// image-build lifecycle, hands task execution to the task engine, and
// exposes the three per-task callbacks that integrate the layer cache into
// the engine's execution loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"imagebender/internal/build"
	"imagebender/internal/builder"
	"imagebender/internal/cache"
	"imagebender/internal/runner"
	"imagebender/internal/store"
)

// ErrResourceNotFound is the sentinel error wrapped by ResourceNotFoundError.
var ErrResourceNotFound = errors.New("resource not found")

type (
	// Application orchestrates builds over one persistent store. All
	// collaborators are injected at construction; it holds no process-wide
	// state and can run concurrently with other Applications targeting
	// different builds.
	Application struct {
		store      *store.Store
		cache      *cache.LayerCache
		logger     *slog.Logger
		newBuilder builder.Factory
		newRunner  runner.Factory
		debug      bool
		verbose    bool
	}

	// Option configures an Application.
	Option func(*Application)

	// ResourceNotFoundError is returned when a referenced playbook or build
	// id does not exist. The build is not started (or left untouched).
	ResourceNotFoundError struct {
		Resource string
	}
)

// Error implements the error interface.
func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("no such file or directory: %s", e.Resource)
}

// Unwrap returns ErrResourceNotFound so callers can use errors.Is.
func (e *ResourceNotFoundError) Unwrap() error { return ErrResourceNotFound }

// WithBuilderFactory overrides how builders are constructed. Used by tests
// to substitute fakes.
func WithBuilderFactory(f builder.Factory) Option {
	return func(a *Application) { a.newBuilder = f }
}

// WithRunnerFactory overrides how task engines are constructed.
func WithRunnerFactory(f runner.Factory) Option {
	return func(a *Application) { a.newRunner = f }
}

// WithDebug enables debug output on builds run by this Application.
func WithDebug(debug bool) Option {
	return func(a *Application) { a.debug = debug }
}

// WithVerbose enables verbose output on builds run by this Application.
func WithVerbose(verbose bool) Option {
	return func(a *Application) { a.verbose = verbose }
}

// New creates an Application over the given store. The logger is required:
// there is no package-level fallback.
func New(s *store.Store, logger *slog.Logger, opts ...Option) *Application {
	a := &Application{
		store:      s,
		cache:      cache.New(s),
		logger:     logger,
		newBuilder: builder.New,
	}
	a.newRunner = func() runner.Runner {
		return runner.NewPlaybookRunner(a.logger, runner.WithOutputMirror(os.Stdout))
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Build drives one build to completion. The build record is persisted before
// any external side effect, so partial progress is always recoverable via
// its id. On task failure the partial container is committed under
// "<target>-failed", the failure is recorded, and the error is returned
// unchanged. Builder resources are released on every exit path.
func (a *Application) Build(ctx context.Context, playbookPath string, b *build.Build, volumes []string) error {
	info, err := os.Stat(playbookPath)
	if err != nil || info.IsDir() {
		return &ResourceNotFoundError{Resource: playbookPath}
	}

	b.Debug = a.debug
	b.Verbose = a.verbose

	// Record as soon as possible, before touching the engine.
	if err := a.store.PutBuild(b); err != nil {
		return err
	}

	bld, err := a.newBuilder(b, a.logger)
	if err != nil {
		return err
	}

	// The pulled base image is the first link of the ancestry chain.
	baseID, err := bld.GetImageID(ctx, b.BaseImage)
	if err != nil {
		return err
	}
	if err := b.RecordLayer("", baseID, "", true); err != nil {
		return err
	}

	if err := b.Transition(build.StateInProgress); err != nil {
		return err
	}
	if err := a.store.PutBuild(b); err != nil {
		return err
	}

	present, err := bld.IsBaseImagePresent(ctx)
	if err != nil {
		return err
	}
	if !present {
		if err := bld.Pull(ctx); err != nil {
			return err
		}
	}

	interpreter, err := bld.FindInterpreter(ctx)
	if err != nil {
		return err
	}

	if err := bld.Create(ctx, volumes); err != nil {
		return err
	}
	defer func() {
		if err := bld.Clean(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("failed to release working container", "build", b.ID, "error", err)
		}
	}()

	lines, err := a.newRunner().Run(ctx, runner.Request{
		PlaybookPath: playbookPath,
		Target:       bld.WorkingContainer(),
		Interpreter:  interpreter,
		StorePath:    a.store.Path(),
		BuildID:      b.ID,
		Volumes:      volumes,
	})
	if err != nil {
		var failed *runner.TaskFailedError
		if errors.As(err, &failed) {
			if ferr := a.finish(ctx, bld, b.ID, build.StateFailed, failed.Output); ferr != nil {
				a.logger.Error("failed to record build failure", "build", b.ID, "error", ferr)
			}
		}
		return err
	}

	return a.finish(ctx, bld, b.ID, build.StateDone, lines)
}

// finish reloads the build (callback invocations updated the persisted copy
// during task execution), records the terminal state and output, and commits
// the container under the target name, suffixed with "-failed" when the
// build did not succeed.
func (a *Application) finish(ctx context.Context, bld builder.Builder, buildID string, state build.State, lines []string) error {
	b, err := a.store.GetBuild(buildID)
	if err != nil {
		return err
	}
	if err := b.Transition(state); err != nil {
		return err
	}
	b.LogLines = lines
	if err := a.store.PutBuild(b); err != nil {
		return err
	}

	imageName := b.TargetImage
	if state == build.StateFailed {
		imageName += "-failed"
	}
	if _, err := bld.Commit(ctx, imageName); err != nil {
		return err
	}

	if state == build.StateDone {
		a.logger.Info("image built successfully", "image", imageName, "build", b.ID)
	} else {
		a.logger.Info("image build failed, progress preserved", "image", imageName, "build", b.ID)
	}
	return nil
}

// MaybeLoadFromCache is the check-cache callback, invoked by the task engine
// before each task. When caching is enabled and a layer exists for (content,
// top layer), the working container is rewound to it and its id is returned
// so the engine can skip executing the task. Otherwise it returns "" and the
// task runs normally.
func (a *Application) MaybeLoadFromCache(ctx context.Context, content, buildID string) (string, error) {
	b, err := a.store.GetBuild(buildID)
	if err != nil {
		return "", err
	}
	if !b.CacheTasks {
		return "", nil
	}

	top, err := b.TopLayerID()
	if err != nil {
		return "", err
	}
	layerID, ok, err := a.cache.Lookup(content, top)
	if err != nil || !ok {
		return "", err
	}

	bld, err := a.newBuilder(b, a.logger)
	if err != nil {
		return "", err
	}
	if err := bld.SwapWorkingContainer(ctx, layerID); err != nil {
		return "", err
	}

	a.logger.Debug("task loaded from cache", "build", buildID, "layer", layerID)
	return layerID, nil
}

// RecordProgress is the record-progress callback, invoked by the task engine
// after each task, executed or skipped. An empty layerID marks a skipped
// task whose layer is re-derived from the cache and flagged cached. The
// layer is appended to the build's chain and the build persisted. Returns
// the base layer id the layer was recorded against.
func (a *Application) RecordProgress(ctx context.Context, content, layerID, buildID string) (string, error) {
	b, err := a.store.GetBuild(buildID)
	if err != nil {
		return "", err
	}
	return a.recordProgress(ctx, b, content, layerID)
}

func (a *Application) recordProgress(_ context.Context, b *build.Build, content, layerID string) (string, error) {
	top, err := b.TopLayerID()
	if err != nil {
		return "", err
	}

	cached := false
	if layerID == "" {
		// Skipped task: its layer must already be in the cache.
		id, ok, err := a.cache.Lookup(content, top)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("skipped task %q has no cached layer on top of %q: %w",
				content, top, build.ErrInvariantViolation)
		}
		layerID = id
		cached = true
	}

	if err := b.RecordLayer(content, layerID, top, cached); err != nil {
		return "", err
	}
	if err := a.store.PutBuild(b); err != nil {
		return "", err
	}
	return top, nil
}

// CacheTaskResult is the commit-and-cache callback, invoked by the task
// engine after each executed task. It snapshots the working container under
// a generated unique image name and records the resulting layer so the chain
// grows even when caching is off. The cache insert and the returned image
// name happen only when caching is enabled for the build; with caching
// disabled the name is "" and the snapshot is never eligible for reuse.
func (a *Application) CacheTaskResult(ctx context.Context, content, buildID string) (string, error) {
	b, err := a.store.GetBuild(buildID)
	if err != nil {
		return "", err
	}

	bld, err := a.newBuilder(b, a.logger)
	if err != nil {
		return "", err
	}

	imageName := snapshotImageName(b.TargetImage)
	layerID, err := bld.Commit(ctx, imageName)
	if err != nil {
		return "", err
	}

	baseID, err := a.recordProgress(ctx, b, content, layerID)
	if err != nil {
		return "", err
	}
	if !b.CacheTasks {
		return "", nil
	}

	if err := a.cache.Insert(content, baseID, layerID); err != nil {
		return "", err
	}

	a.logger.Debug("task result cached", "build", buildID, "image", imageName, "layer", layerID)
	return imageName, nil
}

// snapshotImageName derives a unique image name for an intermediate commit.
// Engines reject upper case in image names, and the uuid suffix keeps names
// unique even within one clock tick.
func snapshotImageName(targetImage string) string {
	stamp := time.Now().UTC().Format("20060102-150405")
	suffix := uuid.NewString()[:8]
	return strings.ToLower(fmt.Sprintf("%s-%s-%s", targetImage, stamp, suffix))
}
