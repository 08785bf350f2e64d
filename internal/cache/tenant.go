package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/pkg/models"
)

// TenantSource is the authoritative tenant store.
type TenantSource interface {
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
}

// TenantProvider serves tenant configuration through a Cache. A cache failure
// falls through to the source; a source failure is returned to the caller.
type TenantProvider struct {
	source TenantSource
	cache  Cache
	ttl    time.Duration
	logger *logging.Logger
}

func NewTenantProvider(source TenantSource, cache Cache, ttl time.Duration, logger *logging.Logger) *TenantProvider {
	return &TenantProvider{source: source, cache: cache, ttl: ttl, logger: logger.With("module", "tenant-cache")}
}

func tenantKey(tenantID string) string {
	return "tenant:" + tenantID
}

func (p *TenantProvider) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	raw, err := p.cache.Get(ctx, tenantKey(tenantID))
	switch {
	case err == nil:
		var t models.Tenant
		if err := json.Unmarshal(raw, &t); err == nil {
			return &t, nil
		}
		p.logger.Warn("discarding undecodable cached tenant", "tenant_id", tenantID)
	case !errors.Is(err, ErrMiss):
		p.logger.Warn("tenant cache read failed", "tenant_id", tenantID, "error", err)
	}

	t, err := p.source.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(t); err == nil {
		if err := p.cache.Set(ctx, tenantKey(tenantID), raw, p.ttl); err != nil {
			p.logger.Warn("tenant cache write failed", "tenant_id", tenantID, "error", err)
		}
	}
	return t, nil
}

// Invalidate drops the cached copy of a tenant so the next read reloads it.
func (p *TenantProvider) Invalidate(ctx context.Context, tenantID string) error {
	return p.cache.Delete(ctx, tenantKey(tenantID))
}
