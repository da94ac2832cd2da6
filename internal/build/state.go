// SPDX-License-Identifier: MPL-2.0

package build

import (
	"errors"
	"fmt"
	"time"
)

const (
	// StateScheduled is the implicit state before the build starts executing.
	StateScheduled State = "scheduled"
	// StateInProgress means the build is currently executing tasks.
	StateInProgress State = "in-progress"
	// StateDone is the terminal success state.
	StateDone State = "done"
	// StateFailed is the terminal failure state.
	StateFailed State = "failed"
)

// ErrInvalidTransition is the sentinel error wrapped by TransitionError.
var ErrInvalidTransition = errors.New("invalid build state transition")

type (
	// State is a build's lifecycle state.
	State string

	// TransitionError is returned when an illegal state transition is
	// attempted. It indicates a logic error upstream, not a runtime failure.
	TransitionError struct {
		From State
		To   State
	}
)

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition build from %q to %q", e.From, e.To)
}

// Unwrap returns ErrInvalidTransition so callers can use errors.Is.
func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Terminal reports whether the state permits no further transitions.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// String returns the string representation of the State.
func (s State) String() string { return string(s) }

// Transition moves the build to newState. Allowed transitions are
// scheduled→in-progress, in-progress→done and in-progress→failed.
// Entering in-progress stamps the start time; entering a terminal state
// stamps the finish time. Re-entering the same terminal state is a no-op so
// that persistence can be retried after a crash.
func (b *Build) Transition(newState State) error {
	if b.State == newState && newState.Terminal() {
		return nil
	}

	switch {
	case b.State == StateScheduled && newState == StateInProgress:
		b.StartTime = time.Now().UTC()
	case b.State == StateInProgress && newState.Terminal():
		b.FinishTime = time.Now().UTC()
	default:
		return &TransitionError{From: b.State, To: newState}
	}

	b.State = newState
	return nil
}
