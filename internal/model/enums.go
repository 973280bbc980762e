package model

// JobState is the lifecycle state of an export job. The string values are
// the ones reported on the wire.
type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateStarted   JobState = "STARTED"
	JobStateSucceeded JobState = "SUCCESS"
	JobStateFailed    JobState = "FAILURE"
)

// Terminal reports whether no further transitions can follow s.
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// Job types
const (
	JobTypeExport = "export"
)

// Job transition labels used for metrics
const (
	JobTransitionEnqueued  = "enqueued"
	JobTransitionStarted   = "started"
	JobTransitionSucceeded = "succeeded"
	JobTransitionFailed    = "failed"
)
