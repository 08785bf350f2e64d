package services

import (
	"errors"
	"fmt"

	"adcp-sales-agent/internal/envelope"
	"adcp-sales-agent/internal/repository"
	"adcp-sales-agent/internal/workflow"
)

// Error is a service failure that knows its buyer-facing status.
type Error struct {
	Code   string
	Status envelope.Status
	Err    error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) EnvelopeStatus() envelope.Status { return e.Status }

func (e *Error) ErrorCode() string { return e.Code }

// notFound hides objects of other tenants or principals behind the same error
// as missing ones.
func notFound(kind, id string) error {
	return &Error{
		Code:   "not_found",
		Status: envelope.StatusFailed,
		Err:    fmt.Errorf("%s %s: %w", kind, id, repository.ErrNotFound),
	}
}

// classify turns ledger and store errors into service errors.
func classify(err error) error {
	var svcErr *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &svcErr):
		return err
	case errors.Is(err, workflow.ErrTerminalStep), errors.Is(err, workflow.ErrInvalidTransition):
		return &Error{Code: "invalid_transition", Status: envelope.StatusFailed, Err: err}
	case errors.Is(err, workflow.ErrConcurrentTransition):
		return &Error{Code: "conflict", Status: envelope.StatusFailed, Err: err}
	case errors.Is(err, workflow.ErrContextMismatch):
		return &Error{Code: "invalid_context", Status: envelope.StatusInputRequired, Err: err}
	case errors.Is(err, repository.ErrNotFound):
		return &Error{Code: "not_found", Status: envelope.StatusFailed, Err: err}
	}
	return err
}
