package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE tenants (
				tenant_id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				domain VARCHAR(255) NOT NULL UNIQUE,
				human_review_required BOOLEAN,
				adapter_config JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE principals (
				tenant_id VARCHAR(255) NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
				principal_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				access_token VARCHAR(255) NOT NULL UNIQUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (tenant_id, principal_id)
			);

			CREATE TABLE contexts (
				context_id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
				principal_id VARCHAR(255) NOT NULL,
				conversation_history JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				last_activity_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_contexts_tenant_principal ON contexts(tenant_id, principal_id);

			CREATE TABLE workflow_steps (
				step_id VARCHAR(255) PRIMARY KEY,
				context_id VARCHAR(255) REFERENCES contexts(context_id) ON DELETE CASCADE,
				tenant_id VARCHAR(255) NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
				principal_id VARCHAR(255) NOT NULL,
				step_type VARCHAR(50) NOT NULL CHECK (step_type IN ('tool_call', 'approval', 'notification')),
				tool_name VARCHAR(255) NOT NULL,
				request_data JSONB,
				response_data JSONB,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'in_progress', 'requires_approval', 'completed', 'failed', 'canceled')),
				owner VARCHAR(50) NOT NULL CHECK (owner IN ('principal', 'publisher', 'system')),
				assigned_to VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT '',
				comments JSONB NOT NULL DEFAULT '[]',
				push_notification_config JSONB,
				objects JSONB NOT NULL DEFAULT '[]'
			);

			CREATE INDEX idx_workflow_steps_context_id ON workflow_steps(context_id);
			CREATE INDEX idx_workflow_steps_tenant_status ON workflow_steps(tenant_id, status);
			CREATE INDEX idx_workflow_steps_principal ON workflow_steps(tenant_id, principal_id);

			CREATE TABLE object_workflow_mapping (
				id BIGSERIAL PRIMARY KEY,
				object_type VARCHAR(50) NOT NULL,
				object_id VARCHAR(255) NOT NULL,
				step_id VARCHAR(255) NOT NULL REFERENCES workflow_steps(step_id) ON DELETE CASCADE,
				action VARCHAR(50) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_object_workflow_object ON object_workflow_mapping(object_type, object_id);
			CREATE INDEX idx_object_workflow_step ON object_workflow_mapping(step_id);
		`,
		2: `
			CREATE TABLE media_buys (
				media_buy_id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
				principal_id VARCHAR(255) NOT NULL,
				context_id VARCHAR(255),
				buyer_ref VARCHAR(255) NOT NULL,
				budget DOUBLE PRECISION NOT NULL,
				currency VARCHAR(3) NOT NULL,
				start_time TIMESTAMP WITH TIME ZONE NOT NULL,
				end_time TIMESTAMP WITH TIME ZONE NOT NULL,
				packages JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_media_buys_principal ON media_buys(tenant_id, principal_id);

			CREATE TABLE creatives (
				creative_id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL REFERENCES tenants(tenant_id) ON DELETE CASCADE,
				principal_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				format_id VARCHAR(255) NOT NULL,
				url TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
	}
}

// Migrate brings the schema up to date. Each version is applied in its own
// transaction together with its schema_migrations row.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to query current schema version: %w", err)
	}

	all := migrations()
	versions := make([]int, 0, len(all))
	for v := range all {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	for _, v := range versions {
		if v <= current {
			continue
		}
		tx, err := db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", v, err)
		}
		if _, err := tx.Exec(ctx, all[v]); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to apply migration %d: %w", v, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", v); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %d: %w", v, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", v, err)
		}
	}

	return nil
}
