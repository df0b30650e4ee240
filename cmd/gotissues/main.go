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

	"github.com/joho/godotenv"

	"github.com/civicsignal/gotissues/internal/analytics"
	"github.com/civicsignal/gotissues/internal/config"
	"github.com/civicsignal/gotissues/internal/correlate"
	"github.com/civicsignal/gotissues/internal/ratelimit"
	"github.com/civicsignal/gotissues/internal/server"
	"github.com/civicsignal/gotissues/internal/storage"
	"github.com/civicsignal/gotissues/internal/telemetry"
	"github.com/civicsignal/gotissues/internal/tracker"
	"github.com/civicsignal/gotissues/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("GOTISSUES_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("gotissues starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and apply migrations.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Open the analytics session from the service-account credentials.
	keyPEM, err := os.ReadFile(cfg.ServiceAccountKeyPath)
	if err != nil {
		return fmt.Errorf("read service account key: %w", err)
	}
	session, err := analytics.NewSession(analytics.SessionConfig{
		Email:     cfg.ServiceAccountEmail,
		KeyPEM:    keyPEM,
		ProfileID: cfg.AnalyticsProfileID,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	agg := analytics.NewAggregator(analytics.AggregatorConfig{
		Source:        session,
		StartDate:     cfg.AnalyticsStartDate,
		EventCategory: cfg.EventCategoryFilter,
		PagePath:      cfg.PagePathFilter,
		RankLimit:     cfg.RankLimit,
		Logger:        logger,
	})

	// Issue resolver and the correlation pipeline.
	issues := tracker.NewClient(tracker.ClientConfig{
		APIBase: cfg.GitHubAPIBase,
		Token:   cfg.GitHubToken,
		Logger:  logger,
	})
	correlator := correlate.New(issues, db, cfg.ResolveConcurrency, logger)

	// Per-IP rate limiter for the report endpoint.
	limiter := ratelimit.NewMemoryLimiter(cfg.ReportRateLimit, cfg.ReportRateBurst)
	defer func() { _ = limiter.Close() }()

	srv := server.New(server.ServerConfig{
		Aggregator:   agg,
		Correlator:   correlator,
		Store:        db,
		Limiter:      limiter,
		Source:       cfg.PagePathFilter,
		Logger:       logger,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("gotissues shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	slog.Info("gotissues stopped")
	return nil
}
