package adapters

import (
	"context"
	"fmt"
	"sync"

	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/pkg/models"
)

// TenantSource supplies the adapter configuration of a tenant.
type TenantSource interface {
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// Build constructs the adapter described by cfg.
func Build(cfg models.AdapterConfig) (Adapter, error) {
	switch cfg.Type {
	case models.AdapterTypeMock:
		var mock models.MockAdapterConfig
		if cfg.Mock != nil {
			mock = *cfg.Mock
		}
		return NewMockAdapter(mock), nil
	case models.AdapterTypeGoogleAdManager, models.AdapterTypeKevel, models.AdapterTypeTriton:
		return &configuredAdapter{kind: cfg.Type, ops: cfg.ManualApprovalOperations()}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedAdapter, cfg.Type)
}

// Registry builds each tenant's adapter once and reuses it.
type Registry struct {
	tenants TenantSource
	logger  *logging.Logger

	mu       sync.Mutex
	adapters map[string]Adapter
}

func NewRegistry(tenants TenantSource, logger *logging.Logger) *Registry {
	return &Registry{tenants: tenants, logger: logger.With("module", "adapter-registry"), adapters: make(map[string]Adapter)}
}

// For returns the adapter of tenantID.
func (r *Registry) For(ctx context.Context, tenantID string) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[tenantID]; ok {
		return a, nil
	}
	tenant, err := r.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	a, err := Build(tenant.Adapter)
	if err != nil {
		return nil, err
	}
	r.adapters[tenantID] = a
	r.logger.Info("adapter built", "tenant_id", tenantID, "adapter", a.Name())
	return a, nil
}

// Reload forgets the cached adapter of tenantID.
func (r *Registry) Reload(tenantID string) {
	r.mu.Lock()
	delete(r.adapters, tenantID)
	r.mu.Unlock()
}
