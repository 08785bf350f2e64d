package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"adcp-sales-agent/pkg/models"
)

// MockAdapter simulates an ad server in-process. It is the development and
// test adapter and the only one that executes operations.
type MockAdapter struct {
	cfg models.MockAdapterConfig
}

func NewMockAdapter(cfg models.MockAdapterConfig) *MockAdapter {
	return &MockAdapter{cfg: cfg}
}

func (a *MockAdapter) Name() string { return string(models.AdapterTypeMock) }

func (a *MockAdapter) ManualApprovalRequiredFor(operation string) bool {
	return contains(a.cfg.ManualApprovalOperations, operation)
}

// Execute waits for the configured latency, then succeeds unless operation is
// listed in FailOperations. params must be a JSON object.
func (a *MockAdapter) Execute(ctx context.Context, operation string, params json.RawMessage) (*Result, error) {
	var fields map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &fields); err != nil {
			return nil, &Error{Kind: KindValidation, Adapter: a.Name(), Operation: operation,
				Err: fmt.Errorf("params must be a JSON object: %w", err)}
		}
	}

	if a.cfg.Latency > 0 {
		timer := time.NewTimer(a.cfg.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, &Error{Kind: KindPlatform, Adapter: a.Name(), Operation: operation, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	if contains(a.cfg.FailOperations, operation) {
		return nil, &Error{Kind: KindPlatform, Adapter: a.Name(), Operation: operation,
			Err: errors.New("simulated ad server failure")}
	}

	return &Result{
		PlatformID: fmt.Sprintf("mock-%s-%s", operation, uuid.New().String()[:8]),
		Status:     "active",
		Data:       fields,
	}, nil
}
