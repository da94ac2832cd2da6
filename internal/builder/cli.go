// SPDX-License-Identifier: MPL-2.0

package builder

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// Tests inject mock implementations through it.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// CLIBuilderOption configures a BaseCLIBuilder.
	CLIBuilderOption func(*BaseCLIBuilder)

	// BaseCLIBuilder provides the shared plumbing for builders that drive an
	// engine through its command-line binary. Concrete builders embed it and
	// express engine operations as argument lists.
	BaseCLIBuilder struct {
		name        string // engine name for error messages
		binaryPath  string // resolved at construction via exec.LookPath
		execCommand ExecCommandFunc
	}
)

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) CLIBuilderOption {
	return func(b *BaseCLIBuilder) {
		b.execCommand = fn
	}
}

// WithBinaryPath overrides the engine binary path.
func WithBinaryPath(path string) CLIBuilderOption {
	return func(b *BaseCLIBuilder) {
		b.binaryPath = path
	}
}

// NewBaseCLIBuilder creates the shared CLI plumbing for the named engine
// binary.
func NewBaseCLIBuilder(name, binaryPath string, opts ...CLIBuilderOption) *BaseCLIBuilder {
	b := &BaseCLIBuilder{
		name:        name,
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the engine name used in error messages.
func (b *BaseCLIBuilder) Name() string { return b.name }

// BinaryPath returns the path to the engine binary.
func (b *BaseCLIBuilder) BinaryPath() string { return b.binaryPath }

// Available reports whether the engine binary was found on the host.
func (b *BaseCLIBuilder) Available() bool { return b.binaryPath != "" }

// CreateCommand creates an exec.Cmd for the given arguments. Callers that
// need to customize stdio use this instead of the run helpers.
func (b *BaseCLIBuilder) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return b.execCommand(ctx, b.binaryPath, args...)
}

// RunCommandStatus runs the engine binary and reports only success/failure.
func (b *BaseCLIBuilder) RunCommandStatus(ctx context.Context, args ...string) error {
	if err := b.CreateCommand(ctx, args...).Run(); err != nil {
		return fmt.Errorf("%s %v failed: %w", b.name, args, err)
	}
	return nil
}

// RunCommandWithOutput runs the engine binary and captures stdout. Stderr is
// folded into the returned error on failure.
func (b *BaseCLIBuilder) RunCommandWithOutput(ctx context.Context, args ...string) (string, error) {
	cmd := b.CreateCommand(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return "", fmt.Errorf("%s %v failed: %s: %w", b.name, args, bytes.TrimSpace(stderr.Bytes()), err)
		}
		return "", fmt.Errorf("%s %v failed: %w", b.name, args, err)
	}

	return stdout.String(), nil
}
