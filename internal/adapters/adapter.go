// Package adapters connects the sales agent to publisher ad servers.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"adcp-sales-agent/internal/envelope"
)

// ErrUnsupportedAdapter is returned for adapter types this build cannot execute.
var ErrUnsupportedAdapter = errors.New("unsupported adapter")

// Adapter is one publisher's ad server.
type Adapter interface {
	Name() string
	// ManualApprovalRequiredFor reports whether the ad server demands a human
	// sign-off for operation, independent of tenant policy.
	ManualApprovalRequiredFor(operation string) bool
	Execute(ctx context.Context, operation string, params json.RawMessage) (*Result, error)
}

// Result is what the ad server returned for a successful operation.
type Result struct {
	PlatformID string         `json:"platform_id,omitempty"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
}

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindPlatform   ErrorKind = "platform"
	KindAuth       ErrorKind = "auth"
)

// Error is a classified adapter failure.
type Error struct {
	Kind      ErrorKind
	Adapter   string
	Operation string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s adapter %s %s: %v", e.Adapter, e.Operation, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// EnvelopeStatus maps the error onto the buyer-facing status.
func (e *Error) EnvelopeStatus() envelope.Status {
	if e.Kind == KindAuth {
		return envelope.StatusAuthRequired
	}
	return envelope.StatusFailed
}

func (e *Error) ErrorCode() string {
	return "adapter_" + string(e.Kind) + "_error"
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
