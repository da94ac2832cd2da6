// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Environment variables the callback plugin reads to reach the orchestrator's
// per-task callbacks.
const (
	EnvStorePath = "IMAGEBENDER_STORE_PATH"
	EnvBuildID   = "IMAGEBENDER_BUILD_ID"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// Tests inject mock implementations through it.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// PlaybookRunnerOption configures a PlaybookRunner.
	PlaybookRunnerOption func(*PlaybookRunner)

	// PlaybookRunner delegates task execution to the ansible-playbook
	// binary, targeting the working container over the buildah connection
	// plugin. It owns no task semantics: ordering, fingerprinting and
	// callback invocation all happen inside the engine it launches.
	PlaybookRunner struct {
		logger      *slog.Logger
		binaryPath  string
		execCommand ExecCommandFunc
		stdout      io.Writer // mirrors captured output when verbose
	}
)

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) PlaybookRunnerOption {
	return func(r *PlaybookRunner) {
		r.execCommand = fn
	}
}

// WithBinaryPath overrides the ansible-playbook binary path.
func WithBinaryPath(path string) PlaybookRunnerOption {
	return func(r *PlaybookRunner) {
		r.binaryPath = path
	}
}

// WithOutputMirror mirrors engine output to w as it is captured.
func WithOutputMirror(w io.Writer) PlaybookRunnerOption {
	return func(r *PlaybookRunner) {
		r.stdout = w
	}
}

// NewPlaybookRunner creates an ansible-playbook backed Runner.
func NewPlaybookRunner(logger *slog.Logger, opts ...PlaybookRunnerOption) *PlaybookRunner {
	path, _ := exec.LookPath("ansible-playbook")
	r := &PlaybookRunner{
		logger:      logger,
		binaryPath:  path,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the playbook against the working container and returns the
// captured output lines. A non-zero engine exit surfaces as a
// TaskFailedError carrying the partial output.
func (r *PlaybookRunner) Run(ctx context.Context, req Request) ([]string, error) {
	args := []string{
		"--connection", "buildah",
		"--inventory", req.Target + ",",
	}
	if req.Interpreter != "" {
		args = append(args, "--extra-vars", "ansible_python_interpreter="+req.Interpreter)
	}
	args = append(args, req.PlaybookPath)

	cmd := r.execCommand(ctx, r.binaryPath, args...)
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env,
		EnvStorePath+"="+req.StorePath,
		EnvBuildID+"="+req.BuildID,
	)

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("attach to engine output: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	r.logger.Debug("starting task engine", "playbook", req.PlaybookPath, "target", req.Target)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start task engine: %w", err)
	}

	var lines []string
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		lines = append(lines, line)
		if r.stdout != nil {
			fmt.Fprintln(r.stdout, line)
		}
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		return nil, &TaskFailedError{Output: lines, Err: err}
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read engine output: %w", scanErr)
	}
	return lines, nil
}

// String returns the binary the runner delegates to, for diagnostics.
func (r *PlaybookRunner) String() string {
	return "ansible-playbook (" + strings.TrimSpace(r.binaryPath) + ")"
}
