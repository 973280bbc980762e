package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/todoexport/api/internal/config"
	"github.com/todoexport/api/internal/export"
	"github.com/todoexport/api/internal/jobs"
	"github.com/todoexport/api/internal/observability"
	"github.com/todoexport/api/internal/store"
)

const shutdownTimeout = 30 * time.Second

func asynqLogLevel(level string) asynq.LogLevel {
	switch observability.ParseLevel(level) {
	case slog.LevelDebug:
		return asynq.DebugLevel
	case slog.LevelWarn:
		return asynq.WarnLevel
	case slog.LevelError:
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

// NewServer creates an asynq server consuming the export queue on the
// broker Redis.
func NewServer(cfg *config.Config, logger *slog.Logger) (*asynq.Server, error) {
	opt, err := asynq.ParseRedisURI(cfg.Redis.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url: %w", err)
	}

	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			cfg.Export.Queue: 1,
		},
		Logger:          observability.NewAsynqLogger(logger),
		LogLevel:        asynqLogLevel(cfg.Server.LogLevel),
		ErrorHandler:    ErrorHandler(logger),
		ShutdownTimeout: shutdownTimeout,
	}), nil
}

// Run serves mux until ctx is cancelled, then drains in-flight tasks.
func Run(ctx context.Context, srv *asynq.Server, mux *asynq.ServeMux) error {
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	<-ctx.Done()
	srv.Shutdown()
	return nil
}

// Setup builds the asynq server and a mux serving every registered task.
func Setup(cfg *config.Config, logger *slog.Logger, jobStore jobs.Store, todos store.Store, metrics *observability.Metrics) (*asynq.Server, *asynq.ServeMux, error) {
	source, err := export.NewSource(cfg.Export.Source, todos)
	if err != nil {
		return nil, nil, err
	}

	exportWorker := NewExportWorker(jobStore, source, cfg.Export, metrics, logger)
	registry, err := NewTaskRegistry(exportWorker)
	if err != nil {
		return nil, nil, err
	}

	srv, err := NewServer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("task registry ready", slog.Any("task_types", registry.Types()))
	return srv, registry.Mux(LoggingMiddleware(logger)), nil
}
