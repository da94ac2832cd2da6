// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"imagebender/internal/build"
)

// BackendBuildah is the name of the buildah builder backend.
const BackendBuildah = "buildah"

// ErrNoInterpreter is returned when no usable interpreter is found inside
// the base image.
var ErrNoInterpreter = errors.New("no python interpreter found in base image")

// interpreterProbe locates the interpreter inside a container. python3 wins
// over a bare python when both exist.
const interpreterProbe = "command -v python3 || command -v python"

// BuildahBuilder drives the buildah binary. It holds the name of the working
// container between calls; SwapWorkingContainer and Clean recreate or remove
// it as the build progresses.
type BuildahBuilder struct {
	*BaseCLIBuilder

	build  *build.Build
	logger *slog.Logger

	container string   // working container name, lowercase per buildah
	volumes   []string // bind-mount specs re-applied when the container is recreated
	created   bool
}

// NewBuildahBuilder creates a buildah-backed Builder for the given build
// record.
func NewBuildahBuilder(b *build.Build, logger *slog.Logger, opts ...CLIBuilderOption) *BuildahBuilder {
	path, _ := exec.LookPath(BackendBuildah)
	return &BuildahBuilder{
		BaseCLIBuilder: NewBaseCLIBuilder(BackendBuildah, path, opts...),
		build:          b,
		logger:         logger,
		container:      workingContainerName(b),
	}
}

// workingContainerName derives a buildah-acceptable (lowercase) container
// name unique to the build.
func workingContainerName(b *build.Build) string {
	id := b.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToLower(fmt.Sprintf("%s-%s-cont", b.TargetImage, id))
}

// GetImageID resolves an image reference to its image id.
func (b *BuildahBuilder) GetImageID(ctx context.Context, ref string) (string, error) {
	out, err := b.RunCommandWithOutput(ctx, "inspect", "--type", "image", "--format", "{{.FromImageID}}", ref)
	if err != nil {
		return "", fmt.Errorf("resolve image id of %q: %w", ref, err)
	}
	return strings.TrimSpace(out), nil
}

// IsBaseImagePresent reports whether the base image exists in local storage.
func (b *BuildahBuilder) IsBaseImagePresent(ctx context.Context) (bool, error) {
	err := b.RunCommandStatus(ctx, "inspect", "--type", "image", b.build.BaseImage)
	return err == nil, nil
}

// Pull fetches the base image.
func (b *BuildahBuilder) Pull(ctx context.Context) error {
	b.logger.Info("pulling base image", "image", b.build.BaseImage)
	if err := b.RunCommandStatus(ctx, "pull", b.build.BaseImage); err != nil {
		return fmt.Errorf("pull %q: %w", b.build.BaseImage, err)
	}
	return nil
}

// FindInterpreter probes the base image for a python interpreter using a
// throwaway container.
func (b *BuildahBuilder) FindInterpreter(ctx context.Context) (string, error) {
	probe, err := b.RunCommandWithOutput(ctx, "from", b.build.BaseImage)
	if err != nil {
		return "", fmt.Errorf("create probe container: %w", err)
	}
	probeName := strings.TrimSpace(probe)
	defer func() {
		if err := b.RunCommandStatus(context.WithoutCancel(ctx), "rm", probeName); err != nil {
			b.logger.Debug("failed to remove probe container", "container", probeName, "error", err)
		}
	}()

	out, err := b.RunCommandWithOutput(ctx, "run", probeName, "--", "sh", "-c", interpreterProbe)
	if err != nil {
		return "", fmt.Errorf("probe for interpreter: %w", err)
	}
	path := strings.TrimSpace(out)
	if path == "" {
		return "", fmt.Errorf("%q: %w", b.build.BaseImage, ErrNoInterpreter)
	}
	return path, nil
}

// Create materializes the working container from the base image.
func (b *BuildahBuilder) Create(ctx context.Context, volumes []string) error {
	b.volumes = volumes
	if err := b.createFrom(ctx, b.build.BaseImage); err != nil {
		return err
	}
	b.logger.Debug("working container created", "container", b.container)
	return nil
}

// SwapWorkingContainer replaces the working container with one created from
// the given layer id. Used to rewind to cached state on a cache hit.
func (b *BuildahBuilder) SwapWorkingContainer(ctx context.Context, toLayerID string) error {
	// The builder may be a fresh instance (callback invocations construct
	// one per call), so remove by derived name rather than trusting the
	// created flag. A missing container is not an error.
	if err := b.RunCommandStatus(ctx, "rm", b.container); err != nil {
		b.logger.Debug("working container not removed before swap", "container", b.container, "error", err)
	}
	b.created = false
	if err := b.createFrom(ctx, toLayerID); err != nil {
		return err
	}
	b.logger.Debug("working container swapped", "container", b.container, "layer", toLayerID)
	return nil
}

// Commit snapshots the working container under imageName and returns the
// resulting layer id printed by buildah.
func (b *BuildahBuilder) Commit(ctx context.Context, imageName string) (string, error) {
	out, err := b.RunCommandWithOutput(ctx, "commit", b.container, imageName)
	if err != nil {
		return "", fmt.Errorf("commit %q as %q: %w", b.container, imageName, err)
	}
	// buildah prints progress lines first and the image id last.
	lines := strings.Fields(strings.TrimSpace(out))
	if len(lines) == 0 {
		return "", fmt.Errorf("commit %q as %q: no image id in output", b.container, imageName)
	}
	return lines[len(lines)-1], nil
}

// Clean removes the working container. Safe to call when nothing was created.
func (b *BuildahBuilder) Clean(ctx context.Context) error {
	if !b.created {
		return nil
	}
	if err := b.RunCommandStatus(ctx, "rm", b.container); err != nil {
		return fmt.Errorf("remove working container %q: %w", b.container, err)
	}
	b.created = false
	return nil
}

// WorkingContainer returns the name of the working container. The task
// engine targets it when running tasks.
func (b *BuildahBuilder) WorkingContainer() string { return b.container }

func (b *BuildahBuilder) createFrom(ctx context.Context, ref string) error {
	args := []string{"from", "--name", b.container}
	for _, v := range b.volumes {
		args = append(args, "--volume", v)
	}
	args = append(args, ref)

	if err := b.RunCommandStatus(ctx, args...); err != nil {
		return fmt.Errorf("create working container from %q: %w", ref, err)
	}
	b.created = true
	return nil
}
