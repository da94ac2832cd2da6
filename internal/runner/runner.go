// SPDX-License-Identifier: MPL-2.0

// Package runner defines the task engine contract: given a playbook, a
// working container and a store location, execute tasks in order and return
// the captured output. The engine drives the orchestrator's per-task
// callbacks itself; this package never interprets task content.
package runner

import (
	"context"
	"errors"
	"fmt"
)

// ErrTaskFailed is the sentinel error wrapped by TaskFailedError.
var ErrTaskFailed = errors.New("task execution failed")

type (
	// Request carries everything the task engine needs for one build: the
	// playbook to execute, the working container to execute it in, and the
	// store coordinates its callback invocations must reach.
	Request struct {
		// PlaybookPath is the task-definition file.
		PlaybookPath string
		// Target is the working container the tasks run against.
		Target string
		// Interpreter is the interpreter path discovered in the base image.
		Interpreter string
		// StorePath locates the persistent store for callback invocations.
		StorePath string
		// BuildID identifies the build the callbacks operate on.
		BuildID string
		// Volumes are bind-mount specs propagated to task execution.
		Volumes []string
	}

	// Runner executes all tasks of a playbook in order, invoking the
	// orchestrator's per-task callbacks, and returns the full captured
	// output as ordered lines. A failed task surfaces as a TaskFailedError
	// carrying whatever output was captured before the failure.
	Runner interface {
		Run(ctx context.Context, req Request) ([]string, error)
	}

	// Factory constructs a Runner. The orchestrator holds a Factory so
	// tests can substitute scripted engines.
	Factory func() Runner

	// TaskFailedError reports a failed task together with the partial
	// output captured before the failure.
	TaskFailedError struct {
		Output []string
		Err    error
	}
)

// Error implements the error interface.
func (e *TaskFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task execution failed: %v", e.Err)
	}
	return "task execution failed"
}

// Unwrap returns ErrTaskFailed so callers can use errors.Is.
func (e *TaskFailedError) Unwrap() error { return ErrTaskFailed }
