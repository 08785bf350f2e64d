package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"adcp-sales-agent/internal/adapters"
	"adcp-sales-agent/internal/api"
	"adcp-sales-agent/internal/approval"
	"adcp-sales-agent/internal/auth"
	"adcp-sales-agent/internal/cache"
	"adcp-sales-agent/internal/config"
	"adcp-sales-agent/internal/events"
	"adcp-sales-agent/internal/logging"
	"adcp-sales-agent/internal/mcp"
	"adcp-sales-agent/internal/repository"
	"adcp-sales-agent/internal/services"
	"adcp-sales-agent/internal/tls"
	"adcp-sales-agent/internal/webhook"
	"adcp-sales-agent/internal/workflow"
)

const serviceName = "adcp-sales-agent"

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "salesagent",
		Short:        "AdCP sales agent: buyer MCP tools and publisher approval API",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (default: ./config.yaml)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, MCP and webhook services",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger := logging.NewLogger(cfg.LogLevel)
			defer func() { _ = logger.Sync() }()

			pool, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := repository.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info("database migrated", "database", cfg.DB.Name)
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version)
		},
	})
	return root
}

func serve(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		"environment", cfg.Environment,
		"storage", cfg.Storage,
		"okta_issuer", cfg.Auth.OktaDomain,
		"swagger_client_id", cfg.Auth.SwaggerClientID,
	)
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("swagger client id matches the backend client id; PKCE login from /docs will fail for a web app client")
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tenantCache, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	tenants := cache.NewTenantProvider(store, tenantCache, cfg.Cache.TenantTTL, logger)
	registry := adapters.NewRegistry(tenants, logger)
	resolver, err := approval.NewResolver(tenants, logger)
	if err != nil {
		return err
	}

	bus := events.NewBus(logger)
	defer func() { _ = bus.Close() }()

	ledger, err := workflow.NewLedger(store, bus, logger)
	if err != nil {
		return err
	}

	deliverer := webhook.NewDeliverer(webhook.DelivererConfig{
		Timeout:       cfg.Webhook.DeliveryTimeout,
		RatePerSecond: cfg.Webhook.RatePerSecond,
		Burst:         cfg.Webhook.Burst,
	}, logger)
	if err := webhook.NewNotifier(ledger, deliverer, logger).Start(ctx, bus); err != nil {
		return err
	}

	dispatcher := workflow.NewDispatcher(workflow.DispatcherConfig{
		Workers:   cfg.Workflow.Workers,
		QueueSize: cfg.Workflow.QueueSize,
	}, logger)
	dispatcher.Start(ctx)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := dispatcher.Shutdown(drainCtx); err != nil {
			logger.Warn("dispatcher stopped with error", "error", err)
		}
	}()

	var reviewer services.CreativeReviewer
	if cfg.Review.URL != "" {
		reviewer = services.NewHTTPReviewClient(cfg.Review.URL, cfg.Review.Timeout)
		logger.Info("creative review enabled", "url", cfg.Review.URL)
	}

	svc := services.NewMediaBuyService(services.Deps{
		Store:            store,
		Ledger:           ledger,
		Resolver:         resolver,
		Adapters:         registry,
		Dispatcher:       dispatcher,
		Reviewer:         reviewer,
		Logger:           logger,
		PollAfterSeconds: cfg.Workflow.PollAfterSeconds,
	})

	authz, err := auth.New(ctx, cfg, store, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	routes := api.Routes{RequireStaff: echo.WrapMiddleware(authz.RequireAuth)}
	if cfg.Webhook.CallbackSecret != "" {
		routes.VerifyCallback = webhook.NewVerifier(cfg.Webhook.CallbackSecret, cfg.Webhook.ReplayWindow).Middleware()
	} else {
		logger.Warn("webhook.callback_secret not set; adapter callbacks are disabled")
	}
	api.RegisterHandlers(e, api.NewHandler(svc, tenants, registry, store, logger, version), routes)

	e.GET("/openapi.yaml", api.SpecHandler(cfg.Auth.OktaDomain))
	e.GET("/docs", api.SwaggerHandler(cfg.Auth.SwaggerClientID))
	e.GET("/docs/oauth2-redirect.html", api.OAuthRedirectHandler)

	sse := mcp.NewServer(svc, store, logger).SSEServer(cfg.Server.BaseURL, "/mcp")
	e.Any("/mcp/*", echo.WrapHandler(sse))
	logger.Info("handlers mounted", "mcp", cfg.Server.BaseURL+"/mcp/sse")

	port := cfg.Server.Port
	if cfg.TLS.Enable {
		port = cfg.Server.TLSPort
		generated, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			return fmt.Errorf("failed to prepare tls certificate: %w", err)
		}
		if generated {
			logger.Warn("generated a self-signed certificate", "cert_file", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           e,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server starting", "address", srv.Addr, "tls", cfg.TLS.Enable, "version", version)
		if cfg.TLS.Enable {
			serverErrors <- srv.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			return
		}
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		// SSE streams stay open until their server is told to stop
		if err := sse.Shutdown(shutdownCtx); err != nil {
			logger.Warn("mcp shutdown error", "error", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
			_ = srv.Close()
		}
		logger.Info("server stopped gracefully")
	}
	return nil
}

// openStore returns the configured repository and a func releasing it.
func openStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (repository.Repository, func(), error) {
	if cfg.Storage == "memory" {
		logger.Warn("using in-memory storage; all state is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}

	pool, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("database connected", "host", cfg.DB.Host, "database", cfg.DB.Name)
	return repository.NewPostgresStore(pool, logger), pool.Close, nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func openCache(ctx context.Context, cfg *config.Config, logger *logging.Logger) (cache.Cache, func(), error) {
	if cfg.Redis.URL == "" {
		return cache.NewMemoryCache(), func() {}, nil
	}
	rc, err := cache.NewRedisCache(ctx, cfg.Redis.URL, "salesagent:")
	if err != nil {
		return nil, nil, err
	}
	logger.Info("tenant cache backed by redis")
	return rc, func() { _ = rc.Close() }, nil
}
