package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/blastgcp/blastq/internal/domain"
)

// StatusStore is the part of domain.JobQueue the pool reports to.
type StatusStore interface {
	Claim(ctx context.Context, rawID string) (bool, error)
	SaveStatus(ctx context.Context, st domain.JobStatus) error
	Acknowledge(ctx context.Context, rawID string) error
}

// Pool implements a fixed-size worker pool pattern.
// It throttles the number of concurrent search containers.
type Pool struct {
	// workerCount determines how many searches can run at once.
	workerCount int
	// tasksCh is the queue for incoming jobs.
	tasksCh chan domain.SearchJob
	// wg tracks active workers to ensure graceful shutdown.
	wg sync.WaitGroup

	runner     domain.SearchRunner
	store      StatusStore
	jobTimeout time.Duration
	log        *slog.Logger
}

// NewPool initializes the worker pool with a fixed concurrency limit.
func NewPool(concurrency int, runner domain.SearchRunner, store StatusStore, jobTimeout time.Duration, log *slog.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		workerCount: concurrency,
		// Unbuffered: a job is only taken off the stream side once a
		// worker is free, so delivered jobs do not queue up here.
		tasksCh:    make(chan domain.SearchJob),
		runner:     runner,
		store:      store,
		jobTimeout: jobTimeout,
		log:        log,
	}
}

// Start spawns the fixed number of worker goroutines.
// It returns immediately.
func (p *Pool) Start(ctx context.Context) {
	p.log.Info("Starting worker pool", "concurrency", p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop initiates a graceful shutdown.
// It closes the jobs channel, which signals all workers to finish their current task and exit.
// It blocks until all workers have exited.
func (p *Pool) Stop() {
	p.log.Info("Stopping worker pool, waiting for tasks to drain...")
	close(p.tasksCh)
	p.wg.Wait()
	p.log.Info("Worker pool stopped")
}

// Submit hands a job to the next free worker.
// It blocks while all workers are busy.
func (p *Pool) Submit(job domain.SearchJob) {
	p.tasksCh <- job
}

// Consume feeds every job from jobs into the pool until the channel closes.
func (p *Pool) Consume(jobs <-chan domain.SearchJob) {
	for job := range jobs {
		p.Submit(job)
	}
}

// worker is the core logic that runs inside a goroutine.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.log.Debug("Worker started", "workerID", id)

	// Range over the channel continuously reads jobs until the channel is closed.
	for job := range p.tasksCh {
		p.process(ctx, id, job)
	}

	p.log.Debug("Worker stopped", "workerID", id)
}

func (p *Pool) process(ctx context.Context, workerID int, job domain.SearchJob) {
	log := p.log.With("workerID", workerID, "jobID", job.ID)
	log.Info("Processing job", "db", job.Database)

	// Restart the idle clock of the stream entry so the recovery routine
	// measures from here, not from delivery.
	if job.RawID != "" {
		owned, err := p.store.Claim(ctx, job.RawID)
		switch {
		case err != nil:
			log.Warn("Failed to claim job; running it anyway", "error", err)
		case !owned:
			log.Warn("Job was already released by recovery; skipping")
			return
		}
	}

	running := domain.JobStatus{JobID: job.ID, State: domain.StateRunning, UpdatedAt: time.Now().UTC()}
	if err := p.store.SaveStatus(ctx, running); err != nil {
		log.Warn("Failed to publish running status", "error", err)
	}

	// Each job gets its own deadline.
	runCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	res, err := p.runner.Run(runCtx, job)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			// Shutting down: leave the entry pending so the recovery
			// routine or another worker picks it up.
			log.Warn("Job interrupted by shutdown", "error", err)
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			res = domain.Failure("search exceeded the job timeout of " + p.jobTimeout.String())
		} else {
			res = domain.Failure("search could not be run: " + err.Error())
		}
		log.Error("Search failed", "error", err)
	}

	// Status updates must land even if ctx ends now.
	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancelSave()

	if err := p.store.SaveStatus(saveCtx, domain.Finished(job.ID, res)); err != nil {
		log.Error("Failed to save result; leaving job pending", "error", err)
		return
	}
	if job.RawID != "" {
		if err := p.store.Acknowledge(saveCtx, job.RawID); err != nil {
			log.Error("Failed to acknowledge job", "error", err)
		}
	}
	log.Info("Job finished", "failed", res.Failed(), "rows", len(res.Rows))
}
