package model

import (
	"encoding/json"
	"time"
)

// Job is the record of one export job as kept in the result backend.
// Result is set only in JobStateSucceeded and Error only in JobStateFailed.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	State       JobState        `json:"state"`
	Filters     json.RawMessage `json:"filters,omitempty"`
	Result      *ExportResult   `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// ExportResult describes the artifact written by a successful export.
type ExportResult struct {
	CSVPath string `json:"csv_path"`
	Count   int    `json:"count"`
}

// Info returns the state-dependent details reported by status queries:
// the result on success, the error on failure and an empty object otherwise.
func (j *Job) Info() map[string]interface{} {
	info := map[string]interface{}{}
	if j == nil {
		return info
	}
	switch j.State {
	case JobStateSucceeded:
		if j.Result != nil {
			info["csv_path"] = j.Result.CSVPath
			info["count"] = j.Result.Count
		}
	case JobStateFailed:
		info["error"] = j.Error
	}
	return info
}
