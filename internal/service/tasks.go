package service

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task types
const (
	TaskTypeExport = "export:todos"
)

// ExportPayload is the body of an export task. Filters are forwarded
// untouched; Trace carries the submitting request's span context.
type ExportPayload struct {
	JobID   string            `json:"job_id"`
	Filters json.RawMessage   `json:"filters,omitempty"`
	Trace   map[string]string `json:"trace,omitempty"`
}

func newExportTask(payload ExportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export payload: %w", err)
	}
	return asynq.NewTask(TaskTypeExport, data), nil
}

// DecodeExportPayload reads the payload of an export task.
func DecodeExportPayload(t *asynq.Task) (*ExportPayload, error) {
	var p ExportPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task payload: %w", err)
	}
	if p.JobID == "" {
		return nil, fmt.Errorf("export task payload has no job_id")
	}
	return &p, nil
}
