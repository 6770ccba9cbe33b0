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

	"github.com/hoshu-ai/hoshu/internal/config"
	"github.com/hoshu-ai/hoshu/internal/model"
	"github.com/hoshu-ai/hoshu/internal/prom"
	"github.com/hoshu-ai/hoshu/internal/server"
	"github.com/hoshu-ai/hoshu/internal/service/aggregate"
	"github.com/hoshu-ai/hoshu/internal/service/dataset"
	"github.com/hoshu-ai/hoshu/internal/service/metrics"
	"github.com/hoshu-ai/hoshu/internal/service/reward"
	"github.com/hoshu-ai/hoshu/internal/storage"
	"github.com/hoshu-ai/hoshu/internal/telemetry"
	"github.com/hoshu-ai/hoshu/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("HOSHU_LOG_LEVEL") == "debug" {
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

	slog.Info("hoshu starting", "version", version, "port", cfg.Port)

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

	// Seed a default weight config so scoring works out of the box.
	if err := seedDefaultWeights(ctx, db, cfg); err != nil {
		return fmt.Errorf("seed weights: %w", err)
	}

	stats := prom.New()

	// Wire the pipeline: aggregation -> scoring -> datasets -> metrics.
	aggregator := aggregate.New(db, logger)
	rewardSvc := reward.NewService(aggregator, db, stats, cfg.ScoreWorkers, logger)
	builder := dataset.NewBuilder(db, stats, cfg.DatasetWaitTimeout, logger)

	width, err := model.ParseBucketWidth(cfg.MetricsBucketWidth)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	tracker := metrics.NewTracker(width, db, stats, logger)
	go tracker.Run(ctx, cfg.MetricsFlushEvery)

	srv := server.New(server.ServerConfig{
		Deps: server.HandlersDeps{
			Aggregator:      aggregator,
			RewardSvc:       rewardSvc,
			Builder:         builder,
			Tracker:         tracker,
			WeightStore:     db,
			Logger:          logger,
			Health:          db.Ping,
			DefaultHalfLife: cfg.DefaultHalfLife,
			Version:         version,
		},
		PromHandler:         stats.Handler(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Logger:              logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: drain HTTP first (in-flight requests may still feed
	// the tracker), then flush the remaining metrics deltas.
	slog.Info("hoshu shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := tracker.Flush(flushCtx); err != nil {
		slog.Error("final metrics flush", "error", err)
	}
	flushCancel()

	slog.Info("hoshu stopped")
	return nil
}

// seedDefaultWeights creates the bootstrap weight config when the store has
// none. Existing configs are never touched; tuning means a new version.
func seedDefaultWeights(ctx context.Context, db *storage.DB, cfg config.Config) error {
	_, err := db.LatestWeightConfig(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	wc, err := model.NewWeightConfig("v1",
		cfg.DefaultRatingsWeight, cfg.DefaultBinaryWeight,
		cfg.DefaultCitationWeight, cfg.DefaultLatencyWeight,
		cfg.DefaultHalfLife)
	if err != nil {
		return err
	}
	if err := db.CreateWeightConfig(ctx, wc); err != nil {
		// A concurrent replica may have seeded first.
		if errors.Is(err, storage.ErrWeightVersionExists) {
			return nil
		}
		return err
	}
	slog.Info("seeded default weight config", "version", wc.Version)
	return nil
}
