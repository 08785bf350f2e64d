package workflow

import (
	"errors"
	"fmt"

	"adcp-sales-agent/pkg/models"
)

var (
	// ErrTerminalStep is returned for any transition out of completed, failed or canceled.
	ErrTerminalStep = errors.New("step is in a terminal state")

	// ErrInvalidTransition is returned when the transition table has no edge
	// between the current and requested status.
	ErrInvalidTransition = errors.New("invalid step transition")

	// ErrConcurrentTransition is returned to the loser of a transition race. The
	// caller must discard whatever result it was about to record.
	ErrConcurrentTransition = errors.New("step was transitioned concurrently")

	// ErrContextMismatch is returned when a context id belongs to another principal.
	ErrContextMismatch = errors.New("context belongs to a different principal")

	ErrQueueFull         = errors.New("dispatcher queue is full")
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
)

// TransitionError describes a refused or lost step transition.
type TransitionError struct {
	StepID string
	From   models.StepStatus
	To     models.StepStatus
	Err    error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("step %s: %s -> %s: %v", e.StepID, e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
