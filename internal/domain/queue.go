package domain

import "context"

// JobQueue defines the contract for the BLAST-GCP job broker.
// It decouples the gateway and workers from the underlying store (Redis).
type JobQueue interface {
	// Publish enqueues a search job for processing.
	Publish(ctx context.Context, job SearchJob) error

	// Subscribe returns a read-only channel that streams jobs from the queue.
	// It handles the details of consumer groups internally.
	Subscribe(ctx context.Context) (<-chan SearchJob, error)

	// Acknowledge confirms that the stream entry rawID has been processed.
	// This removes it from the Pending Entry List (PEL).
	Acknowledge(ctx context.Context, rawID string) error

	// Claim takes ownership of the pending entry rawID right before it is
	// run and resets its idle time. False means the entry is gone.
	Claim(ctx context.Context, rawID string) (bool, error)

	// SaveStatus stores the latest status of a job and broadcasts it.
	SaveStatus(ctx context.Context, st JobStatus) error

	// LoadStatus returns the stored status of a job, or ErrJobNotFound.
	LoadStatus(ctx context.Context, jobID string) (JobStatus, error)

	// SubscribeStatus streams status updates broadcast by SaveStatus.
	SubscribeStatus(ctx context.Context) (<-chan JobStatus, error)
}
