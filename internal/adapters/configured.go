package adapters

import (
	"context"
	"encoding/json"

	"adcp-sales-agent/pkg/models"
)

// configuredAdapter stands in for an ad server integration this build does not
// ship. Its approval policy comes from tenant configuration so approval
// decisions stay correct, but every execution fails.
type configuredAdapter struct {
	kind models.AdapterType
	ops  []string
}

func (a *configuredAdapter) Name() string { return string(a.kind) }

func (a *configuredAdapter) ManualApprovalRequiredFor(operation string) bool {
	return contains(a.ops, operation)
}

func (a *configuredAdapter) Execute(ctx context.Context, operation string, params json.RawMessage) (*Result, error) {
	return nil, &Error{Kind: KindPlatform, Adapter: a.Name(), Operation: operation, Err: ErrUnsupportedAdapter}
}
