// Package main provides the registry-api service binary: the HTTP
// surface (spec §6) in front of the artifact trust pipeline, publish
// ingestion, device-flow/API-key auth, rate limiting, and TUF metadata
// signing.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/env-architect/architect/internal/artifactstore"
	"github.com/env-architect/architect/internal/audit"
	"github.com/env-architect/architect/internal/auth"
	"github.com/env-architect/architect/internal/cryptoutil"
	"github.com/env-architect/architect/internal/httpapi"
	"github.com/env-architect/architect/internal/ingestion"
	"github.com/env-architect/architect/internal/jobs"
	"github.com/env-architect/architect/internal/metadataservice"
	"github.com/env-architect/architect/internal/observability"
	"github.com/env-architect/architect/internal/ratelimit"
	"github.com/env-architect/architect/internal/registry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cmd := buildRootCmd()
	if err := cmd.Execute(); err != nil {
		slog.Error("registry-api exited with error", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "registry-api",
		Short:        "registry-api - env-architect's registry HTTP service",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

// settings are the binary's runtime configuration, loaded directly from
// environment variables. internal/config was deleted rather than
// adapted — it was shaped for a different assistant's onboarding flow
// with no registry-service analog — see DESIGN.md.
type settings struct {
	databaseURL      string
	redisAddr        string
	jwtSecret        string
	listenAddr       string
	artifactRoot     string
	tufRefreshPeriod time.Duration
}

func loadSettings() (settings, error) {
	s := settings{
		databaseURL:      os.Getenv("REGISTRY_DATABASE_URL"),
		redisAddr:        envOr("REGISTRY_REDIS_ADDR", "localhost:6379"),
		jwtSecret:        os.Getenv("REGISTRY_JWT_SECRET"),
		listenAddr:       envOr("REGISTRY_LISTEN_ADDR", ":8080"),
		artifactRoot:     envOr("REGISTRY_ARTIFACT_ROOT", "/var/lib/env-architect/artifacts"),
		tufRefreshPeriod: envDurationOr("REGISTRY_TUF_REFRESH_INTERVAL", time.Hour),
	}
	if s.databaseURL == "" {
		return settings{}, fmt.Errorf("REGISTRY_DATABASE_URL is required")
	}
	if s.jwtSecret == "" {
		return settings{}, fmt.Errorf("REGISTRY_JWT_SECRET is required")
	}
	return s, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func runServe(ctx context.Context) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{Format: "json", Level: "info"})

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)

	registryMigrator, err := registry.NewMigrator(db)
	if err != nil {
		return fmt.Errorf("init registry migrator: %w", err)
	}
	if err := registryMigrator.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("apply registry migrations: %w", err)
	}

	authMigrator, err := auth.NewMigrator(db)
	if err != nil {
		return fmt.Errorf("init auth migrator: %w", err)
	}
	if err := authMigrator.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("apply auth migrations: %w", err)
	}

	repo, err := registry.NewRepository(db, logger)
	if err != nil {
		return fmt.Errorf("init registry repository: %w", err)
	}

	authStore, err := auth.NewStore(db, logger)
	if err != nil {
		return fmt.Errorf("init auth store: %w", err)
	}

	authSvc := auth.NewService(auth.Config{JWTSecret: cfg.jwtSecret, TokenExpiry: time.Hour})
	deviceFlow := &auth.DeviceFlow{
		Store:           authStore,
		JWT:             auth.NewJWTService(cfg.jwtSecret, time.Hour),
		VerificationURI: envOr("REGISTRY_DEVICE_VERIFICATION_URI", "https://env-architect.example/device"),
	}
	signingKeys := &auth.SigningKeyRegistry{Store: authStore}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
	limiter := ratelimit.NewRedisLimiter(redisClient, logger)

	artifacts := artifactstore.New(cfg.artifactRoot)
	auditRecorder := audit.NewRecorder(1000)

	ingestionSvc := &ingestion.Service{
		DB:     db,
		Keys:   signingKeys,
		Store:  artifacts,
		Queue:  scanQueueOrNil(),
		Logger: logger,
		Audit:  auditRecorder,
	}

	tufCache := &httpapi.TUFCache{}
	tufSigner, err := loadTUFSigner()
	if err != nil {
		logger.Warn(ctx, "tuf signing disabled: no root key configured", "error", err)
	} else {
		metadataSvc := &metadataservice.Service{
			Components: repo,
			Signer:     tufSigner,
			Versions:   metadataservice.NewVersionCounters(),
		}
		refresher, err := jobs.NewRunner("tuf-metadata-refresh", jobs.EveryExpr(cfg.tufRefreshPeriod), logger, func(ctx context.Context) error {
			m, err := metadataSvc.RefreshAll(ctx)
			if err != nil {
				return err
			}
			tufCache.Set(m)
			return nil
		})
		if err != nil {
			return fmt.Errorf("schedule tuf refresh: %w", err)
		}
		go refresher.Start(ctx)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Registry:    repo,
		Ingestion:   ingestionSvc,
		AuthService: authSvc,
		APIKeys:     authStore,
		DeviceFlow:  deviceFlow,
		Limiter:     limiter,
		Logger:      logger,
		TUF:         tufCache,
		Audit:       auditRecorder,
	})

	server := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "registry-api listening", "addr", cfg.listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info(context.Background(), "registry-api stopped gracefully")
	return nil
}

// scanQueueOrNil is a placeholder handoff point: in a split deployment
// the scan-worker binary owns its own queue and polls the registry
// directly, so registry-api's ingestion.Service runs without a push
// queue and relies entirely on the worker's poll loop (spec §4.11).
func scanQueueOrNil() ingestion.ScanQueue {
	return nil
}

func loadTUFSigner() (metadataservice.Signer, error) {
	encoded := os.Getenv("REGISTRY_TUF_ROOT_KEY")
	if encoded == "" {
		return metadataservice.Signer{}, fmt.Errorf("REGISTRY_TUF_ROOT_KEY not set")
	}
	priv, err := cryptoutil.DecodePrivateKey(encoded)
	if err != nil {
		return metadataservice.Signer{}, fmt.Errorf("decode REGISTRY_TUF_ROOT_KEY: %w", err)
	}
	keyID := envOr("REGISTRY_TUF_ROOT_KEY_ID", "root-1")
	return metadataservice.Signer{KeyID: keyID, PrivateKey: priv}, nil
}

