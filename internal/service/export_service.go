package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/todoexport/api/internal/config"
	"github.com/todoexport/api/internal/export"
	"github.com/todoexport/api/internal/jobs"
	"github.com/todoexport/api/internal/model"
	"github.com/todoexport/api/internal/observability"
)

var (
	// ErrNotCompleted is returned when a download is requested for a job
	// that has not succeeded.
	ErrNotCompleted = errors.New("task not completed")
	// ErrArtifactNotFound is returned when a succeeded job's file is gone.
	ErrArtifactNotFound = errors.New("csv not found")
)

// TaskEnqueuer is the part of *asynq.Client used to submit work.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Artifact is a downloadable export file.
type Artifact struct {
	Path        string
	Name        string
	ContentType string
}

// ExportService submits export jobs and answers status and download queries
type ExportService struct {
	jobs    jobs.Store
	queue   TaskEnqueuer
	cfg     config.ExportConfig
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewExportService(store jobs.Store, queue TaskEnqueuer, cfg config.ExportConfig, metrics *observability.Metrics, logger *slog.Logger) *ExportService {
	return &ExportService{
		jobs:    store,
		queue:   queue,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Submit enqueues an export and returns its job id without waiting for it
// to run. If the broker rejects the task no job is created.
func (s *ExportService) Submit(ctx context.Context, filters json.RawMessage) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "export.submit")
	defer span.End()

	jobID := uuid.NewString()

	task, err := newExportTask(ExportPayload{
		JobID:   jobID,
		Filters: filters,
		Trace:   observability.InjectTrace(ctx),
	})
	if err != nil {
		return "", err
	}

	_, err = s.queue.EnqueueContext(ctx, task,
		asynq.TaskID(jobID),
		asynq.Queue(s.cfg.Queue),
		asynq.MaxRetry(0),
		asynq.Retention(s.cfg.Retention),
	)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	// The worker may already have claimed the job; a rejected Pending write
	// then just means the record is ahead of us.
	job := &model.Job{
		ID:        jobID,
		Type:      model.JobTypeExport,
		State:     model.JobStatePending,
		Filters:   filters,
		CreatedAt: s.now().UTC(),
	}
	if err := s.jobs.Advance(ctx, job); err != nil && !errors.Is(err, jobs.ErrInvalidTransition) {
		s.logger.WarnContext(ctx, "failed to record pending job",
			slog.String("task_id", jobID),
			slog.Any("error", err),
		)
	}

	s.metrics.JobTransition(model.JobTypeExport, model.JobTransitionEnqueued)
	s.logger.InfoContext(ctx, "export enqueued",
		slog.String("task_id", jobID),
		slog.String("queue", s.cfg.Queue),
	)
	return jobID, nil
}

// Status reports the state of a job. Unknown ids report as pending.
func (s *ExportService) Status(ctx context.Context, jobID string) (model.TaskStatusResponse, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return model.NewTaskStatus(jobID, nil), nil
		}
		return model.TaskStatusResponse{}, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return model.NewTaskStatus(jobID, job), nil
}

// Fetch locates the artifact of a succeeded job.
func (s *ExportService) Fetch(ctx context.Context, jobID string) (*Artifact, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return nil, ErrNotCompleted
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	if job.State != model.JobStateSucceeded || job.Result == nil {
		return nil, ErrNotCompleted
	}

	info, err := os.Stat(job.Result.CSVPath)
	if err != nil || info.IsDir() {
		return nil, ErrArtifactNotFound
	}

	return &Artifact{
		Path:        job.Result.CSVPath,
		Name:        export.DownloadName(jobID),
		ContentType: export.ContentType,
	}, nil
}
