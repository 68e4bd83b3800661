package domain

import (
	"context"
	"time"
)

// SearchRunner defines the contract for executing one BLAST search.
// A search that ran but reported errors yields a failed JobResult and a nil
// error; the error return is reserved for infrastructure failures.
type SearchRunner interface {
	Run(ctx context.Context, job SearchJob) (JobResult, error)
}

// SearchJob is a unit of work travelling through the job queue.
type SearchJob struct {
	ID       string `json:"id"`
	QueryID  string `json:"query_id"`
	Sequence string `json:"sequence"`
	Database string `json:"database"`
	Program  string `json:"program"`

	// RawID is the internal Stream ID from Redis (e.g. 1700000-0).
	// We need this to Acknowledge the message later.
	RawID string `json:"-"`
}

// JobState is the lifecycle position of a backend job.
type JobState string

const (
	StateQueued  JobState = "queued"
	StateRunning JobState = "running"
	StateDone    JobState = "done"
	StateFailed  JobState = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s JobState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// JobStatus is the stored and broadcast view of a backend job.
type JobStatus struct {
	JobID     string    `json:"job_id"`
	State     JobState  `json:"status"`
	Rows      []Row     `json:"rows,omitempty"`
	Errors    []string  `json:"errors,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Finished builds the terminal status for a result.
func Finished(jobID string, res JobResult) JobStatus {
	res = res.Normalize()
	st := JobStatus{JobID: jobID, State: StateDone, Rows: res.Rows, UpdatedAt: time.Now().UTC()}
	if res.Failed() {
		st.State = StateFailed
		st.Rows = nil
		st.Errors = res.Errors
	}
	return st
}

// Result converts a terminal status back into a JobResult.
func (s JobStatus) Result() JobResult {
	if s.State == StateFailed {
		return Failure(s.Errors...)
	}
	return JobResult{Rows: s.Rows, Errors: s.Errors}.Normalize()
}
