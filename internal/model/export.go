package model

import "encoding/json"

// ExportRequest is the optional body of POST /export. Filters are passed
// through to the worker untouched.
type ExportRequest struct {
	Filters json.RawMessage `json:"filters"`
}

// ExportStartResponse is returned when an export has been enqueued
type ExportStartResponse struct {
	TaskID string `json:"task_id"`
}

// TaskStatusResponse reports the state of an export job
type TaskStatusResponse struct {
	TaskID     string                 `json:"task_id"`
	State      JobState               `json:"state"`
	Info       map[string]interface{} `json:"info"`
	Ready      bool                   `json:"ready"`
	Successful bool                   `json:"successful"`
}

// NewTaskStatus builds the status of taskID from its job record. A nil job
// (unknown or not yet visible) reports as pending.
func NewTaskStatus(taskID string, job *Job) TaskStatusResponse {
	state := JobStatePending
	if job != nil {
		state = job.State
	}
	return TaskStatusResponse{
		TaskID:     taskID,
		State:      state,
		Info:       job.Info(),
		Ready:      state.Terminal(),
		Successful: state == JobStateSucceeded,
	}
}

// ExportFilters is the worker's reading of the opaque filters object
type ExportFilters struct {
	Done  *bool  `json:"done"`
	Query string `json:"query"`
	Limit int    `json:"limit"`
}
