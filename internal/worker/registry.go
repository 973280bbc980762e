package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/hibiken/asynq"

	"github.com/todoexport/api/internal/service"
)

// Registry maps task type names to their handlers. It is filled at startup
// and mounted on an asynq.ServeMux.
type Registry struct {
	handlers map[string]asynq.Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]asynq.Handler)}
}

// Register adds a handler for taskType. Registering the same type twice
// is an error.
func (r *Registry) Register(taskType string, h asynq.Handler) error {
	if taskType == "" {
		return fmt.Errorf("task type is required")
	}
	if h == nil {
		return fmt.Errorf("nil handler for task type %q", taskType)
	}
	if _, exists := r.handlers[taskType]; exists {
		return fmt.Errorf("task type %q already registered", taskType)
	}
	r.handlers[taskType] = h
	return nil
}

func (r *Registry) RegisterFunc(taskType string, fn func(context.Context, *asynq.Task) error) error {
	if fn == nil {
		return fmt.Errorf("nil handler for task type %q", taskType)
	}
	return r.Register(taskType, asynq.HandlerFunc(fn))
}

// Types lists the registered task types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Mux returns a ServeMux serving every registered type behind mws.
func (r *Registry) Mux(mws ...asynq.MiddlewareFunc) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(mws...)
	for _, t := range r.Types() {
		mux.Handle(t, r.handlers[t])
	}
	return mux
}

// NewTaskRegistry registers the handlers of every task this service runs.
func NewTaskRegistry(exportWorker *ExportWorker) (*Registry, error) {
	r := NewRegistry()
	if err := r.RegisterFunc(service.TaskTypeExport, exportWorker.ProcessTask); err != nil {
		return nil, err
	}
	return r, nil
}
