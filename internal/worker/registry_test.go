package worker

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todoexport/api/internal/export"
	"github.com/todoexport/api/internal/observability"
	"github.com/todoexport/api/internal/service"
)

func noop(ctx context.Context, t *asynq.Task) error { return nil }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterFunc("b:task", noop))
	require.NoError(t, r.RegisterFunc("a:task", noop))

	err := r.RegisterFunc("a:task", noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	assert.Error(t, r.RegisterFunc("", noop))
	assert.Error(t, r.Register("c:task", nil))
	assert.Error(t, r.RegisterFunc("c:task", nil))

	assert.Equal(t, []string{"a:task", "b:task"}, r.Types())
}

func TestRegistry_MuxRoutesByType(t *testing.T) {
	r := NewRegistry()
	var called []string
	require.NoError(t, r.RegisterFunc("a:task", func(ctx context.Context, t *asynq.Task) error {
		called = append(called, "a")
		return nil
	}))

	mux := r.Mux()
	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask("a:task", nil)))
	assert.Equal(t, []string{"a"}, called)

	assert.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask("unknown:task", nil)))
}

func TestNewTaskRegistry(t *testing.T) {
	w, _, _ := newTestWorker(t, export.DemoSource{})

	r, err := NewTaskRegistry(w)
	require.NoError(t, err)
	assert.Equal(t, []string{service.TaskTypeExport}, r.Types())
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(&buf, "info")

	r := NewRegistry()
	require.NoError(t, r.RegisterFunc("ok:task", noop))
	require.NoError(t, r.RegisterFunc("bad:task", func(ctx context.Context, t *asynq.Task) error {
		return errors.New("boom")
	}))
	mux := r.Mux(LoggingMiddleware(logger))

	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask("ok:task", nil)))
	assert.Contains(t, buf.String(), `"msg":"task starting"`)
	assert.Contains(t, buf.String(), `"msg":"task completed"`)
	assert.Contains(t, buf.String(), `"task_name":"ok:task"`)

	require.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask("bad:task", nil)))
	assert.Contains(t, buf.String(), `"msg":"task failed"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)
}
