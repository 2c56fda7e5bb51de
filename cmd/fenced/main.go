// Command fenced runs the fence diagnostics service: health, per-tenant
// audit trails, and security events over HTTP.
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
	"golang.org/x/sync/errgroup"

	"github.com/fieldline/fence/internal/config"
	"github.com/fieldline/fence/internal/server"
	"github.com/fieldline/fence/internal/storage"
	"github.com/fieldline/fence/internal/telemetry"
	"github.com/fieldline/fence/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("FENCE_LOG_LEVEL") == "debug" {
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
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("fenced starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:          cfg.OTELEndpoint,
		ServiceName:       cfg.ServiceName,
		Version:           version,
		Insecure:          cfg.OTELInsecure,
		MetricInterval:    cfg.OTELMetricInterval,
		TraceBatchTimeout: cfg.OTELTraceBatchTimeout,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	srv := server.New(server.ServerConfig{
		DB:           db,
		Logger:       logger,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Version:      version,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("fenced stopped")
	return nil
}
