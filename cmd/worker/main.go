package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"

	"github.com/todoexport/api/internal/config"
	"github.com/todoexport/api/internal/jobs"
	"github.com/todoexport/api/internal/observability"
	"github.com/todoexport/api/internal/store"
	"github.com/todoexport/api/internal/worker"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, cfg.Server.LogLevel).With(slog.String("process", "worker"))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Observability)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	metrics := observability.NewMetrics(version, cfg.Server.Env)

	backendOpts, err := redis.ParseURL(cfg.Redis.ResultBackendURL)
	if err != nil {
		return fmt.Errorf("invalid result backend url: %w", err)
	}
	backend := redis.NewClient(backendOpts)
	defer backend.Close()

	todoStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open todo store: %w", err)
	}
	defer todoStore.Close()

	srv, mux, err := worker.Setup(cfg, logger, jobs.NewRedisStore(backend, cfg.Export.Retention), todoStore, metrics)
	if err != nil {
		return err
	}

	// Metrics endpoint
	metricsApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	metricsApp.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	metricsApp.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	go func() {
		addr := ":" + cfg.Worker.MetricsPort
		if err := metricsApp.Listen(addr); err != nil {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()
	defer metricsApp.ShutdownWithTimeout(5 * time.Second)

	logger.Info("worker starting",
		slog.String("queue", cfg.Export.Queue),
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.String("export_dir", cfg.Export.Dir),
		slog.String("export_source", cfg.Export.Source),
	)
	return worker.Run(ctx, srv, mux)
}
