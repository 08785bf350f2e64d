package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a row with the same key already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrStaleTransition indicates a conditional status update found the step in
	// a different status than expected; another writer got there first.
	ErrStaleTransition = errors.New("stale step transition")
)

// StoreError wraps a storage failure with the operation and key involved.
type StoreError struct {
	Op  string // Operation being performed (e.g. "GetStep", "TransitionStep")
	Key string // Primary key of the row, if applicable
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: err}
}

// IsNotFound checks if an error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
