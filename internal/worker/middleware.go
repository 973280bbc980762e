package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// LoggingMiddleware logs the start and end of every task.
func LoggingMiddleware(logger *slog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			taskID, _ := asynq.GetTaskID(ctx)
			attrs := []any{
				slog.String("task_id", taskID),
				slog.String("task_name", t.Type()),
			}

			logger.InfoContext(ctx, "task starting", attrs...)
			err := next.ProcessTask(ctx, t)
			attrs = append(attrs, slog.Int64("duration_ms", time.Since(start).Milliseconds()))
			if err != nil {
				logger.ErrorContext(ctx, "task failed", append(attrs, slog.Any("error", err))...)
				return err
			}
			logger.InfoContext(ctx, "task completed", attrs...)
			return nil
		})
	}
}

// ErrorHandler reports tasks that asynq will retry or archive.
func ErrorHandler(logger *slog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		taskID, _ := asynq.GetTaskID(ctx)
		logger.ErrorContext(ctx, "task processing error",
			slog.String("task_id", taskID),
			slog.String("task_name", t.Type()),
			slog.Int("retried", retried),
			slog.Int("max_retry", maxRetry),
			slog.Any("error", err),
		)
	})
}
