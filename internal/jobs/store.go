// Package jobs keeps export job records and enforces their state machine:
// Pending -> Started -> Succeeded | Failed.
package jobs

import (
	"context"
	"errors"

	"github.com/todoexport/api/internal/model"
)

var (
	// ErrNotFound is returned when no record exists for a job id.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a write would move a job
	// backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Store persists job records. Advance writes job only if the move from the
// stored state to job.State is allowed, atomically per job id.
type Store interface {
	Get(ctx context.Context, id string) (*model.Job, error)
	Advance(ctx context.Context, job *model.Job) error
}

// CanTransition reports whether a job may move from one state to another.
// An empty from means no record exists yet. Started -> Started is allowed so
// that a redelivered job can be claimed again.
func CanTransition(from, to model.JobState) bool {
	switch from {
	case "":
		return to == model.JobStatePending || to == model.JobStateStarted
	case model.JobStatePending:
		return to == model.JobStateStarted
	case model.JobStateStarted:
		return to == model.JobStateStarted || to.Terminal()
	default:
		return false
	}
}

// Validate checks the record invariant: a result only on success, an error
// only on failure.
func Validate(job *model.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id is required")
	}
	switch job.State {
	case model.JobStateSucceeded:
		if job.Result == nil || job.Error != "" {
			return errors.New("succeeded job must carry a result and no error")
		}
	case model.JobStateFailed:
		if job.Result != nil || job.Error == "" {
			return errors.New("failed job must carry an error and no result")
		}
	case model.JobStatePending, model.JobStateStarted:
		if job.Result != nil || job.Error != "" {
			return errors.New("non-terminal job must not carry a result or error")
		}
	default:
		return errors.New("unknown job state")
	}
	return nil
}
