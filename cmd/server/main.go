// Package main is the entrypoint for the image tool server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcaelas/mcp/internal/api"
	"github.com/arcaelas/mcp/internal/api/handler"
	mw "github.com/arcaelas/mcp/internal/api/middleware"
	"github.com/arcaelas/mcp/internal/cache"
	"github.com/arcaelas/mcp/internal/config"
	"github.com/arcaelas/mcp/internal/jobs"
	"github.com/arcaelas/mcp/internal/storage"
	"github.com/arcaelas/mcp/internal/store"
	"github.com/arcaelas/mcp/internal/tools"
	"github.com/arcaelas/mcp/internal/upscaling"
	"github.com/arcaelas/mcp/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	shutdownTimeout = 30 * time.Second
	migrationsDir   = "migrations"
	bootstrapName   = "bootstrap-admin"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"upscaling_base_url", cfg.Upscaling.BaseURL,
		"output_backend", cfg.Output.Backend,
		"key_strategy", cfg.Upscaling.KeyStrategy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, migrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Artifact storage
	sinks, err := storage.NewFactory(cfg.Output)
	if err != nil {
		return fmt.Errorf("create artifact storage: %w", err)
	}
	if err := sinks.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("prepare artifact storage: %w", err)
	}
	slog.Info("artifact storage ready", "backend", cfg.Output.Backend)

	// 6. Tools and job service
	if err := os.MkdirAll(cfg.Upscaling.InputDir, 0o755); err != nil {
		return fmt.Errorf("create input directory: %w", err)
	}
	registry, err := buildRegistry(cfg.Upscaling, sinks)
	if err != nil {
		return fmt.Errorf("register tools: %w", err)
	}
	slog.Info("tools registered", "tools", registry.Names(), "input_dir", cfg.Upscaling.InputDir)

	pgStore := store.NewPostgresStore(pool)
	jobService := jobs.NewService(pgStore, redisCache, registry)
	if _, err := jobService.Recover(ctx); err != nil {
		return fmt.Errorf("recover unfinished jobs: %w", err)
	}

	if err := bootstrapAdminKey(ctx, pgStore, cfg.Server.BootstrapAdminKey); err != nil {
		return fmt.Errorf("bootstrap admin key: %w", err)
	}

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RequestsPerMinute),

		HealthHandler:    handler.NewHealthHandler(pgStore, redisCache, registry),
		ListToolsHandler: handler.NewListToolsHandler(registry),
		CallToolHandler:  handler.NewCallToolHandler(jobService),
		SubmitJobHandler: handler.NewSubmitJobHandler(jobService),
		GetJobHandler:    handler.NewGetJobHandler(jobService),
		ListJobsHandler:  handler.NewListJobsHandler(jobService),
		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	// Synchronous tool calls hold the response open for the whole job.
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Background jobs record their final state before connections drain.
	if err := jobService.Close(shutdownCtx); err != nil {
		slog.Warn("jobs did not stop in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// buildRegistry registers the background removal and upscaling tools
// against the remote job service.
func buildRegistry(cfg config.UpscalingConfig, sinks tools.SinkFactory) (*tools.Registry, error) {
	settings, err := tools.SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	settings.Logger = slog.Default()

	client := upscaling.NewFromConfig(cfg)

	bgSettings := settings
	bgSettings.MaxAttempts = cfg.RemoveBGMaxPoll
	upSettings := settings
	upSettings.MaxAttempts = cfg.UpscaleMaxPoll

	registry := tools.NewRegistry()
	if err := registry.Register(
		tools.NewBackgroundRemover(client.ForService(upscaling.BackgroundRemoval), sinks, bgSettings),
		tools.NewUpscaler(client.ForService(upscaling.Upscaling), sinks, upSettings),
	); err != nil {
		return nil, err
	}
	return registry, nil
}

// bootstrapAdminKey stores rawKey as an admin key unless an active key with
// the same value already exists. An empty rawKey is a no-op.
func bootstrapAdminKey(ctx context.Context, s store.Store, rawKey string) error {
	if rawKey == "" {
		return nil
	}
	if len(rawKey) < mw.KeyPrefixLen {
		return fmt.Errorf("MCP_ADMIN_KEY must be at least %d characters", mw.KeyPrefixLen)
	}

	existing, err := s.GetAPIKeyByPrefix(ctx, rawKey[:mw.KeyPrefixLen])
	if err != nil {
		return fmt.Errorf("look up key: %w", err)
	}
	for _, k := range existing {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(rawKey)) == nil {
			slog.Info("bootstrap admin key already present", "key_prefix", k.KeyPrefix)
			return nil
		}
	}

	key, err := handler.NewAPIKey(bootstrapName, rawKey, []string{models.ScopeAdmin})
	if err != nil {
		return err
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			slog.Warn("bootstrap admin key name is taken by a different key; revoke it to rotate",
				"name", bootstrapName)
			return nil
		}
		return fmt.Errorf("create key: %w", err)
	}
	slog.Info("bootstrap admin key created", "key_prefix", key.KeyPrefix)
	return nil
}
