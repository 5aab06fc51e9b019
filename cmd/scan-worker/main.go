// Package main provides the scan-worker service binary: the background
// scan pipeline (spec §4.11) that polls the registry for published
// versions lacking a scan result, fetches their artifact bytes, and
// records a verdict.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/env-architect/architect/internal/artifactstore"
	"github.com/env-architect/architect/internal/audit"
	"github.com/env-architect/architect/internal/observability"
	"github.com/env-architect/architect/internal/ociadapter"
	"github.com/env-architect/architect/internal/registry"
	"github.com/env-architect/architect/internal/scanworker"
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
		slog.Error("scan-worker exited with error", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "scan-worker",
		Short:        "scan-worker - env-architect's background artifact scan pipeline",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
	return cmd
}

type settings struct {
	databaseURL   string
	artifactRoot  string
	ociRepository string
	ociToken      string
	pollInterval  time.Duration
}

func loadSettings() (settings, error) {
	s := settings{
		databaseURL:   os.Getenv("SCAN_WORKER_DATABASE_URL"),
		artifactRoot:  envOr("SCAN_WORKER_ARTIFACT_ROOT", "/var/lib/env-architect/artifacts"),
		ociRepository: os.Getenv("SCAN_WORKER_OCI_REPOSITORY"),
		ociToken:      os.Getenv("SCAN_WORKER_OCI_TOKEN"),
		pollInterval:  envDurationOr("SCAN_WORKER_POLL_INTERVAL", scanworker.DefaultPollInterval),
	}
	if s.databaseURL == "" {
		return settings{}, fmt.Errorf("SCAN_WORKER_DATABASE_URL is required")
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

func runWorker(ctx context.Context) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{Format: "json", Level: "info"})

	db, err := sql.Open("postgres", cfg.databaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	repo, err := registry.NewRepository(db, logger)
	if err != nil {
		return fmt.Errorf("init registry repository: %w", err)
	}

	local := artifactstore.New(cfg.artifactRoot)
	var fetcher scanworker.ArtifactFetcher = scanworker.ChainFetcher{
		Local: local,
		OCI:   ociFetcher(cfg),
	}

	worker := &scanworker.Worker{
		Queue:        scanworker.NewQueue(256),
		Pending:      repo,
		Artifacts:    fetcher,
		Results:      repo,
		Logger:       logger,
		PollInterval: cfg.pollInterval,
		Audit:        audit.NewRecorder(1000),
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info(ctx, "scan-worker started", "poll_interval", cfg.pollInterval.String())
	err = worker.Run(ctx)
	if err != nil && ctx.Err() != nil {
		logger.Info(context.Background(), "scan-worker stopped gracefully")
		return nil
	}
	return err
}

// ociFetcher returns an OCI fallback fetcher if a repository is
// configured, otherwise nil so ChainFetcher falls back to an error
// rather than attempting an unconfigured pull.
func ociFetcher(cfg settings) scanworker.OCIFetcher {
	if cfg.ociRepository == "" {
		return nil
	}
	return &artifactstore.OCIFallback{
		Client:     ociadapter.NewClient(ociadapter.WithAuthToken(cfg.ociToken)),
		Repository: cfg.ociRepository,
	}
}
