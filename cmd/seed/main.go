package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"adcp-sales-agent/internal/config"
	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/internal/repository"
	"adcp-sales-agent/pkg/models"
)

type seedOptions struct {
	configPath  string
	domain      string
	tenantName  string
	adapter     string
	manualOps   []string
	humanReview bool
	buyerName   string
	buyerToken  string
}

func main() {
	if err := newSeedCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newSeedCmd() *cobra.Command {
	var opts seedOptions
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Create a development tenant and buyer principal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return seed(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "path to a config file")
	f.StringVar(&opts.domain, "domain", "localhost", "email domain of the tenant's staff")
	f.StringVar(&opts.tenantName, "tenant-name", "Local Dev Publisher", "tenant display name")
	f.StringVar(&opts.adapter, "adapter", string(models.AdapterTypeMock), "ad server adapter type")
	f.StringSliceVar(&opts.manualOps, "manual-approval", nil, "operations the adapter requires manual approval for")
	f.BoolVar(&opts.humanReview, "human-review", true, "require human review of every buyer operation")
	f.StringVar(&opts.buyerName, "buyer", "Dev Buyer", "buyer principal name")
	f.StringVar(&opts.buyerToken, "token", "", "buyer access token (generated when empty)")
	return cmd
}

func seed(cmd *cobra.Command, opts seedOptions) error {
	ctx := cmd.Context()
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	if err := repository.Migrate(ctx, pool); err != nil {
		return err
	}
	store := repository.NewPostgresStore(pool, logger)

	tenant, err := ensureTenant(ctx, store, opts, logger)
	if err != nil {
		return err
	}

	token := opts.buyerToken
	if token == "" {
		if token, err = newToken(); err != nil {
			return err
		}
	}
	principal := &models.Principal{
		PrincipalID: "prn_" + uuid.New().String()[:8],
		TenantID:    tenant.TenantID,
		Name:        opts.buyerName,
		AccessToken: token,
	}
	if err := store.CreatePrincipal(ctx, principal); err != nil {
		return fmt.Errorf("failed to create principal: %w", err)
	}
	logger.Info("created buyer principal", "tenant_id", tenant.TenantID, "principal_id", principal.PrincipalID)

	cmd.Printf("tenant:    %s (%s)\n", tenant.TenantID, tenant.Domain)
	cmd.Printf("principal: %s\n", principal.PrincipalID)
	cmd.Printf("token:     %s\n", token)
	return nil
}

func ensureTenant(ctx context.Context, store repository.TenantStore, opts seedOptions, logger *logging.Logger) (*models.Tenant, error) {
	tenant, err := store.GetTenantByDomain(ctx, opts.domain)
	if err == nil {
		logger.Info("found existing tenant", "tenant_id", tenant.TenantID, "domain", opts.domain)
		return tenant, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up tenant: %w", err)
	}

	review := opts.humanReview
	adapter := models.AdapterConfig{Type: models.AdapterType(opts.adapter)}
	if adapter.Type == models.AdapterTypeMock {
		adapter.Mock = &models.MockAdapterConfig{ManualApprovalOperations: opts.manualOps}
	}
	tenant = &models.Tenant{
		Name:                opts.tenantName,
		Domain:              opts.domain,
		HumanReviewRequired: &review,
		Adapter:             adapter,
	}
	if err := store.CreateTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	logger.Info("created tenant", "tenant_id", tenant.TenantID, "domain", opts.domain, "adapter", opts.adapter)
	return tenant, nil
}

func newToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
