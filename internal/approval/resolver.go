// Package approval decides whether an operation needs a human sign-off before
// it reaches the ad server.
package approval

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/pkg/models"
)

// TenantConfigProvider supplies the tenant-level review setting.
type TenantConfigProvider interface {
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// Policy is the adapter side of the decision. Adapters satisfy it.
type Policy interface {
	ManualApprovalRequiredFor(operation string) bool
}

// Decision records both inputs so callers can explain the outcome.
type Decision struct {
	Required        bool
	TenantRequires  bool
	AdapterRequires bool
	Reason          string
}

// Resolver combines tenant and adapter policy. Either side alone is enough to
// require approval.
type Resolver struct {
	tenants   TenantConfigProvider
	logger    *logging.Logger
	decisions metric.Int64Counter
}

// NewResolver creates a Resolver backed by tenants.
func NewResolver(tenants TenantConfigProvider, logger *logging.Logger) (*Resolver, error) {
	counter, err := otel.Meter("adcp-sales-agent/approval").Int64Counter("approval.decisions",
		metric.WithDescription("Approval policy decisions by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create approval counter: %w", err)
	}
	return &Resolver{tenants: tenants, logger: logger, decisions: counter}, nil
}

// Resolve decides whether operation, run for tenantID through adapter, must wait
// for a human. A tenant lookup failure counts as the tenant requiring review. A
// nil adapter never requires it.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, adapter Policy, operation string) Decision {
	d := Decision{
		TenantRequires:  r.tenantRequires(ctx, tenantID),
		AdapterRequires: adapter != nil && adapter.ManualApprovalRequiredFor(operation),
	}
	d.Required = d.TenantRequires || d.AdapterRequires

	switch {
	case d.TenantRequires && d.AdapterRequires:
		d.Reason = "tenant and adapter both require manual approval"
	case d.TenantRequires:
		d.Reason = "tenant requires human review"
	case d.AdapterRequires:
		d.Reason = fmt.Sprintf("adapter requires manual approval for %s", operation)
	default:
		d.Reason = "no approval required"
	}

	r.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("required", d.Required),
	))
	r.logger.Info("approval decision",
		"tenant_id", tenantID,
		"operation", operation,
		"required", d.Required,
		"tenant_requires", d.TenantRequires,
		"adapter_requires", d.AdapterRequires,
	)
	return d
}

func (r *Resolver) tenantRequires(ctx context.Context, tenantID string) bool {
	tenant, err := r.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		r.logger.Warn("tenant config unavailable, requiring review", "tenant_id", tenantID, "error", err)
		return true
	}
	if tenant == nil || tenant.HumanReviewRequired == nil {
		return true
	}
	return *tenant.HumanReviewRequired
}
