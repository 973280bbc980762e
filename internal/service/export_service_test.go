package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/todoexport/api/internal/config"
	"github.com/todoexport/api/internal/jobs"
	"github.com/todoexport/api/internal/model"
)

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	info, _ := args.Get(0).(*asynq.TaskInfo)
	return info, args.Error(1)
}

func newTestExportService(t *testing.T, q TaskEnqueuer) (*ExportService, *jobs.MemoryStore) {
	t.Helper()
	store := jobs.NewMemoryStore()
	cfg := config.ExportConfig{Dir: t.TempDir(), Queue: "export"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExportService(store, q, cfg, nil, logger), store
}

func TestExportService_Submit(t *testing.T) {
	q := &mockEnqueuer{}
	q.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(&asynq.TaskInfo{}, nil).Once()

	svc, store := newTestExportService(t, q)
	filters := json.RawMessage(`{"done":true}`)

	id, err := svc.Submit(context.Background(), filters)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	q.AssertExpectations(t)

	task := q.Calls[0].Arguments.Get(1).(*asynq.Task)
	assert.Equal(t, TaskTypeExport, task.Type())
	payload, err := DecodeExportPayload(task)
	require.NoError(t, err)
	assert.Equal(t, id, payload.JobID)
	assert.JSONEq(t, `{"done":true}`, string(payload.Filters))

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePending, job.State)
	assert.Equal(t, model.JobTypeExport, job.Type)
}

func TestExportService_StatusAfterSubmitIsNotTerminal(t *testing.T) {
	q := &mockEnqueuer{}
	q.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(&asynq.TaskInfo{}, nil)
	svc, _ := newTestExportService(t, q)

	id, err := svc.Submit(context.Background(), nil)
	require.NoError(t, err)

	status, err := svc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, status.TaskID)
	assert.False(t, status.Ready)
	assert.False(t, status.Successful)
	assert.Equal(t, model.JobStatePending, status.State)
	assert.Empty(t, status.Info)
}

func TestExportService_SubmitRacingWorker(t *testing.T) {
	q := &mockEnqueuer{}
	svc, store := newTestExportService(t, q)

	// the worker claims the job before Submit records it as pending
	q.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			payload, err := DecodeExportPayload(args.Get(1).(*asynq.Task))
			require.NoError(t, err)
			require.NoError(t, store.Advance(context.Background(), &model.Job{ID: payload.JobID, State: model.JobStateStarted}))
		}).
		Return(&asynq.TaskInfo{}, nil)

	id, err := svc.Submit(context.Background(), nil)
	require.NoError(t, err)

	job, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateStarted, job.State)
}

func TestExportService_SubmitEnqueueFailure(t *testing.T) {
	q := &mockEnqueuer{}
	q.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp: connection refused"))
	svc, store := newTestExportService(t, q)

	id, err := svc.Submit(context.Background(), nil)
	require.Error(t, err)
	assert.Empty(t, id)

	task := q.Calls[0].Arguments.Get(1).(*asynq.Task)
	payload, err := DecodeExportPayload(task)
	require.NoError(t, err)
	_, err = store.Get(context.Background(), payload.JobID)
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestExportService_ConcurrentSubmitsGetDistinctIDs(t *testing.T) {
	q := &mockEnqueuer{}
	q.On("EnqueueContext", mock.Anything, mock.Anything, mock.Anything).Return(&asynq.TaskInfo{}, nil)
	svc, _ := newTestExportService(t, q)

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := svc.Submit(context.Background(), nil)
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestExportService_StatusUnknownIsPending(t *testing.T) {
	svc, _ := newTestExportService(t, &mockEnqueuer{})

	status, err := svc.Status(context.Background(), "never-submitted")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePending, status.State)
	assert.False(t, status.Ready)
}

func TestExportService_StatusTerminal(t *testing.T) {
	svc, store := newTestExportService(t, &mockEnqueuer{})
	ctx := context.Background()

	require.NoError(t, store.Advance(ctx, &model.Job{ID: "ok", State: model.JobStateStarted}))
	require.NoError(t, store.Advance(ctx, &model.Job{ID: "ok", State: model.JobStateSucceeded, Result: &model.ExportResult{CSVPath: "/x.csv", Count: 2}}))
	require.NoError(t, store.Advance(ctx, &model.Job{ID: "bad", State: model.JobStateStarted}))
	require.NoError(t, store.Advance(ctx, &model.Job{ID: "bad", State: model.JobStateFailed, Error: "disk full"}))

	status, err := svc.Status(ctx, "ok")
	require.NoError(t, err)
	assert.True(t, status.Ready)
	assert.True(t, status.Successful)
	assert.Equal(t, 2, status.Info["count"])

	status, err = svc.Status(ctx, "bad")
	require.NoError(t, err)
	assert.True(t, status.Ready)
	assert.False(t, status.Successful)
	assert.Equal(t, "disk full", status.Info["error"])
}

func TestExportService_Fetch(t *testing.T) {
	svc, store := newTestExportService(t, &mockEnqueuer{})
	ctx := context.Background()

	_, err := svc.Fetch(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotCompleted)

	require.NoError(t, store.Advance(ctx, &model.Job{ID: "job-1", State: model.JobStatePending}))
	_, err = svc.Fetch(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotCompleted)

	require.NoError(t, store.Advance(ctx, &model.Job{ID: "job-1", State: model.JobStateStarted}))
	_, err = svc.Fetch(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotCompleted)

	path := filepath.Join(svc.cfg.Dir, "todos_export_job-1.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,title,done\n"), 0o644))
	require.NoError(t, store.Advance(ctx, &model.Job{ID: "job-1", State: model.JobStateSucceeded, Result: &model.ExportResult{CSVPath: path}}))

	artifact, err := svc.Fetch(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, path, artifact.Path)
	assert.Equal(t, "todos_job-1.csv", artifact.Name)
	assert.Equal(t, "text/csv", artifact.ContentType)

	require.NoError(t, os.Remove(path))
	_, err = svc.Fetch(ctx, "job-1")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestExportService_FetchFailedJob(t *testing.T) {
	svc, store := newTestExportService(t, &mockEnqueuer{})
	ctx := context.Background()

	require.NoError(t, store.Advance(ctx, &model.Job{ID: "job-1", State: model.JobStateStarted}))
	require.NoError(t, store.Advance(ctx, &model.Job{ID: "job-1", State: model.JobStateFailed, Error: fmt.Sprintf("boom %d", 1)}))

	_, err := svc.Fetch(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestDecodeExportPayload(t *testing.T) {
	_, err := DecodeExportPayload(asynq.NewTask(TaskTypeExport, []byte("not json")))
	assert.Error(t, err)

	_, err = DecodeExportPayload(asynq.NewTask(TaskTypeExport, []byte(`{"filters":{}}`)))
	assert.Error(t, err)
}
