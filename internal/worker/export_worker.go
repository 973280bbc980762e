package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/todoexport/api/internal/config"
	"github.com/todoexport/api/internal/export"
	"github.com/todoexport/api/internal/jobs"
	"github.com/todoexport/api/internal/model"
	"github.com/todoexport/api/internal/observability"
	"github.com/todoexport/api/internal/service"
)

// Outcome is the result of one export run: exactly one of Result and Err
// is set.
type Outcome struct {
	Result *model.ExportResult
	Err    error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil && o.Result != nil
}

// ExportWorker executes export tasks
type ExportWorker struct {
	jobs    jobs.Store
	source  export.ItemSource
	dir     string
	delay   time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewExportWorker creates a worker writing artifacts under cfg.Dir.
func NewExportWorker(store jobs.Store, source export.ItemSource, cfg config.ExportConfig, metrics *observability.Metrics, logger *slog.Logger) *ExportWorker {
	return &ExportWorker{
		jobs:    store,
		source:  source,
		dir:     cfg.Dir,
		delay:   cfg.Delay,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// ProcessTask claims the job, runs the export and records the outcome.
// A failed export is returned to asynq wrapped in SkipRetry after the
// failure has been recorded.
func (w *ExportWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := service.DecodeExportPayload(t)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	jobID := payload.JobID

	ctx = observability.ExtractTrace(ctx, payload.Trace)
	ctx, span := observability.Tracer().Start(ctx, "export.run",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("job.id", jobID)),
	)
	defer span.End()

	current, err := w.jobs.Get(ctx, jobID)
	switch {
	case err == nil && current.State.Terminal():
		w.logger.InfoContext(ctx, "export already finished, skipping",
			slog.String("task_id", jobID),
			slog.String("state", string(current.State)),
		)
		return nil
	case err != nil && !errors.Is(err, jobs.ErrNotFound):
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	job := w.claim(current, jobID, payload.Filters)
	if err := w.jobs.Advance(ctx, job); err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) {
			// another delivery finished it between Get and Advance
			return nil
		}
		return fmt.Errorf("failed to mark job %s started: %w", jobID, err)
	}
	w.metrics.JobTransition(model.JobTypeExport, model.JobTransitionStarted)

	outcome := w.Run(ctx, jobID, payload.Filters)

	done := *job
	completedAt := w.now().UTC()
	done.CompletedAt = &completedAt
	transition := model.JobTransitionSucceeded
	if outcome.Succeeded() {
		done.State = model.JobStateSucceeded
		done.Result = outcome.Result
	} else {
		done.State = model.JobStateFailed
		done.Error = outcome.Err.Error()
		transition = model.JobTransitionFailed
	}

	if err := w.jobs.Advance(ctx, &done); err != nil {
		return fmt.Errorf("failed to record outcome of job %s: %w", jobID, err)
	}
	w.metrics.JobTransition(model.JobTypeExport, transition)

	if !outcome.Succeeded() {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
		return fmt.Errorf("export job %s: %w: %w", jobID, outcome.Err, asynq.SkipRetry)
	}

	w.logger.InfoContext(ctx, "export written",
		slog.String("task_id", jobID),
		slog.String("csv_path", outcome.Result.CSVPath),
		slog.Int("count", outcome.Result.Count),
	)
	return nil
}

// claim builds the Started record, keeping what the submitter recorded.
func (w *ExportWorker) claim(current *model.Job, jobID string, filters json.RawMessage) *model.Job {
	now := w.now().UTC()
	job := &model.Job{
		ID:        jobID,
		Type:      model.JobTypeExport,
		Filters:   filters,
		CreatedAt: now,
	}
	if current != nil {
		job.CreatedAt = current.CreatedAt
		job.Attempts = current.Attempts
	}
	job.State = model.JobStateStarted
	job.StartedAt = &now
	job.Attempts++
	return job
}

// Run performs the export of jobID. It is safe to call again for the same
// job: the artifact path is fixed and the file is replaced.
func (w *ExportWorker) Run(ctx context.Context, jobID string, filters json.RawMessage) Outcome {
	filter, err := export.ParseFilters(filters)
	if err != nil {
		return Outcome{Err: err}
	}

	if w.delay > 0 {
		select {
		case <-time.After(w.delay):
		case <-ctx.Done():
			return Outcome{Err: ctx.Err()}
		}
	}

	todos, err := w.source.List(ctx, filter)
	if err != nil {
		return Outcome{Err: fmt.Errorf("failed to load todos: %w", err)}
	}

	path := export.ArtifactPath(w.dir, jobID)
	count, err := export.WriteCSV(path, export.RowsFromTodos(todos))
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Result: &model.ExportResult{CSVPath: path, Count: count}}
}
