package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/todoexport/api/internal/config"
	"github.com/todoexport/api/internal/handler"
	"github.com/todoexport/api/internal/jobs"
	"github.com/todoexport/api/internal/middleware"
	"github.com/todoexport/api/internal/observability"
	"github.com/todoexport/api/internal/server"
	"github.com/todoexport/api/internal/service"
	"github.com/todoexport/api/internal/store"
	ws "github.com/todoexport/api/internal/websocket"
	"github.com/todoexport/api/internal/worker"
)

var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
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

	// Redis clients for the result backend and the broker
	backendOpts, err := redis.ParseURL(cfg.Redis.ResultBackendURL)
	if err != nil {
		return fmt.Errorf("invalid result backend url: %w", err)
	}
	backend := redis.NewClient(backendOpts)
	defer backend.Close()

	brokerOpts, err := redis.ParseURL(cfg.Redis.BrokerURL)
	if err != nil {
		return fmt.Errorf("invalid broker url: %w", err)
	}
	broker := redis.NewClient(brokerOpts)
	defer broker.Close()

	if err := backend.Ping(ctx).Err(); err != nil {
		logger.Warn("result backend not available", slog.Any("error", err))
	}

	// Initialize Asynq client
	brokerConn, err := asynq.ParseRedisURI(cfg.Redis.BrokerURL)
	if err != nil {
		return fmt.Errorf("invalid broker url: %w", err)
	}
	asynqClient := asynq.NewClient(brokerConn)
	defer asynqClient.Close()

	todoStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open todo store: %w", err)
	}
	defer todoStore.Close()

	jobStore := jobs.NewRedisStore(backend, cfg.Export.Retention)

	// Initialize WebSocket hub
	hub := ws.NewHub(logger)
	go hub.Run(ctx)
	go func() {
		if err := hub.Listen(ctx, backend); err != nil {
			logger.Warn("job event listener stopped", slog.Any("error", err))
		}
	}()

	exportService := service.NewExportService(jobStore, asynqClient, cfg.Export, metrics, logger)

	app := server.New(server.Deps{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Todos:       service.NewTodoService(todoStore),
		Exports:     exportService,
		Health:      handler.NewHealthHandler(broker, backend),
		Hub:         hub,
		RateLimiter: middleware.NewRateLimiter(backend, logger),
	})

	if cfg.Worker.Embedded {
		go startWorkerServer(ctx, cfg, logger, jobStore, todoStore, metrics)
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error("server shutdown error", slog.Any("error", err))
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info("server starting",
		slog.String("addr", addr),
		slog.String("version", version),
		slog.String("todo_store", cfg.Database.Driver),
		slog.Bool("embedded_worker", cfg.Worker.Embedded),
	)
	return app.Listen(addr)
}

// startWorkerServer runs the export executor inside the web process.
func startWorkerServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, jobStore jobs.Store, todoStore store.Store, metrics *observability.Metrics) {
	srv, mux, err := worker.Setup(cfg, logger, jobStore, todoStore, metrics)
	if err != nil {
		logger.Error("failed to set up embedded worker", slog.Any("error", err))
		return
	}
	if err := worker.Run(ctx, srv, mux); err != nil {
		logger.Error("asynq worker error", slog.Any("error", err))
	}
}
