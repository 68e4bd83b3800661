package queue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blastgcp/blastq/internal/domain"
)

// recoveryConsumer is the consumer name the recovery routine claims under.
const recoveryConsumer = "recovery-agent"

// StartRecoveryRoutine polls the PEL for jobs whose worker disappeared,
// marks them failed so waiting clients are released, and acknowledges them.
func (r *RedisQueue) StartRecoveryRoutine(ctx context.Context, interval time.Duration, maxAge time.Duration) {
	if err := r.ensureGroup(ctx); err != nil {
		r.log.Error("Recovery routine cannot start", "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Info("Starting Redis Recovery Routine", "interval", interval, "maxAge", maxAge)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.recoverStale(ctx, maxAge)
		}
	}
}

func (r *RedisQueue) recoverStale(ctx context.Context, maxAge time.Duration) {
	start := "-" // Start from beginning of stream

	for {
		// XAUTOCLAIM: claim entries pending for longer than maxAge, 10 at a time.
		messages, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.stream,
			Group:    r.group,
			MinIdle:  maxAge,
			Start:    start,
			Count:    10,
			Consumer: recoveryConsumer,
		}).Result()
		if err != nil {
			r.log.Error("Recovery routine failed", "error", err)
			return
		}
		if len(messages) > 0 {
			r.log.Info("Recovered stale jobs", "count", len(messages))
		}

		for _, msg := range messages {
			r.failStale(ctx, msg, maxAge)
		}

		start = next
		if start == "0-0" || len(messages) == 0 {
			return
		}
	}
}

func (r *RedisQueue) failStale(ctx context.Context, msg redis.XMessage, maxAge time.Duration) {
	job, err := decodeJob(msg)
	if err != nil {
		r.log.Warn("Acknowledging malformed stale entry", "msgID", msg.ID, "error", err)
		r.client.XAck(ctx, r.stream, r.group, msg.ID)
		return
	}

	st := domain.Finished(job.ID, domain.Failure(
		"worker lost: job was not completed within " + maxAge.String(),
	))
	if err := r.SaveStatus(ctx, st); err != nil {
		// Leave it pending; the next pass retries.
		r.log.Error("Failed to mark stale job", "jobID", job.ID, "error", err)
		return
	}
	r.log.Warn("Stale job marked failed", "jobID", job.ID, "msgID", msg.ID)
	r.client.XAck(ctx, r.stream, r.group, msg.ID)
}
