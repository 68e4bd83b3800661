package domain

import "context"

// Query is one named sequence-search input.
type Query struct {
	// ID is the FASTA description line, without the leading '>'.
	ID       string `json:"id"`
	Sequence string `json:"sequence"`
}

// JobHandle identifies one in-flight remote search.
type JobHandle struct {
	ID      string
	QueryID string
	Target  string
}

// JobClient defines the contract shared by every remote BLAST backend.
type JobClient interface {
	// Submit creates one remote job for q against target.
	// It fails with *SubmissionError if the backend is unreachable or rejects q.
	Submit(ctx context.Context, q Query, target string) (JobHandle, error)

	// Wait blocks until the job behind h is terminal and returns its result.
	// It fails with *PollingError, *TimeoutError or ErrCancelled.
	Wait(ctx context.Context, h JobHandle) (JobResult, error)

	// ListSupportedTargets returns the database names the backend accepts.
	ListSupportedTargets(ctx context.Context) (map[string]struct{}, error)
}

// TargetSet builds a set from a list of names.
func TargetSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}
