package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blastgcp/blastq/internal/domain"
)

// Default key names.
const (
	DefaultStream  = "blastgcp:jobs"
	DefaultGroup   = "blastgcp:workers"
	DefaultChannel = "blastgcp:status"
	statusPrefix   = "blastgcp:job:"
)

// Options names the Redis keys a RedisQueue uses.
type Options struct {
	Addr      string
	Stream    string
	Group     string
	Channel   string
	StatusTTL time.Duration
	// Consumer identifies this process inside the consumer group.
	// Defaults to the hostname.
	Consumer string
}

// RedisQueue implements domain.JobQueue using Redis Streams for jobs and
// plain keys plus Pub/Sub for job status.
type RedisQueue struct {
	client    *redis.Client
	stream    string
	group     string
	channel   string
	statusTTL time.Duration
	consumer  string
	log       *slog.Logger
}

// Ensure RedisQueue satisfies the interface
var _ domain.JobQueue = (*RedisQueue)(nil)

// NewRedisQueue connects to Redis and fails fast if it is unreachable. The
// consumer group is created here so that jobs published before any worker
// starts are still delivered.
func NewRedisQueue(ctx context.Context, opts Options, log *slog.Logger) (*RedisQueue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: opts.Addr,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	q := newRedisQueue(rdb, opts, log)
	if err := q.ensureGroup(pingCtx); err != nil {
		rdb.Close()
		return nil, err
	}
	return q, nil
}

func newRedisQueue(rdb *redis.Client, opts Options, log *slog.Logger) *RedisQueue {
	if opts.Stream == "" {
		opts.Stream = DefaultStream
	}
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 24 * time.Hour
	}
	if opts.Consumer == "" {
		opts.Consumer = consumerName()
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisQueue{
		client:    rdb,
		stream:    opts.Stream,
		group:     opts.Group,
		channel:   opts.Channel,
		statusTTL: opts.StatusTTL,
		consumer:  opts.Consumer,
		log:       log,
	}
}

// Close releases the Redis connection pool.
func (r *RedisQueue) Close() error {
	return r.client.Close()
}

// Publish enqueues a job to the Redis stream using XADD (Producer)
func (r *RedisQueue) Publish(ctx context.Context, job domain.SearchJob) error {
	data, err := encodeJob(job)
	if err != nil {
		return err
	}

	// "*" lets Redis generate a timestamp-based ID.
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			jobField: data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

// Subscribe returns a channel of jobs using XREADGROUP (Consumer).
func (r *RedisQueue) Subscribe(ctx context.Context) (<-chan domain.SearchJob, error) {
	// 1. Ensure the Consumer Group exists
	// MkStream guarantees the stream exists even if empty.
	if err := r.ensureGroup(ctx); err != nil {
		return nil, err
	}

	// 2. Spawn a background listener
	outCh := make(chan domain.SearchJob)

	go func() {
		defer close(outCh)

		for {
			if ctx.Err() != nil {
				return
			}
			// Block for 2s at a time so ctx is rechecked.
			streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    r.group,
				Consumer: r.consumer,
				Streams:  []string{r.stream, ">"}, // ">" means new messages
				Count:    1,
				Block:    2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				r.log.Error("Redis read error", "error", err)
				time.Sleep(1 * time.Second) // Backoff
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					job, err := decodeJob(msg)
					if err != nil {
						r.log.Error("Dropping malformed job", "msgID", msg.ID, "error", err)
						r.client.XAck(ctx, r.stream, r.group, msg.ID)
						continue
					}
					select {
					case outCh <- job:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return outCh, nil
}

// ensureGroup creates the consumer group at the start of the stream, so
// entries added before the group existed are delivered too.
func (r *RedisQueue) ensureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Acknowledge confirms processing using XACK.
func (r *RedisQueue) Acknowledge(ctx context.Context, rawID string) error {
	return r.client.XAck(ctx, r.stream, r.group, rawID).Err()
}

// Claim moves the pending entry rawID to this consumer and resets its idle
// time. It reports false when the entry is no longer pending, which happens
// once the recovery routine has failed and acknowledged it.
func (r *RedisQueue) Claim(ctx context.Context, rawID string) (bool, error) {
	ids, err := r.client.XClaimJustID(ctx, &redis.XClaimArgs{
		Stream:   r.stream,
		Group:    r.group,
		Consumer: r.consumer,
		MinIdle:  0,
		Messages: []string{rawID},
	}).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", rawID, err)
	}
	return len(ids) > 0, nil
}

// SaveStatus stores st under its job key and publishes it on the status channel.
func (r *RedisQueue) SaveStatus(ctx context.Context, st domain.JobStatus) error {
	data, err := encodeStatus(st)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, statusPrefix+st.JobID, data, r.statusTTL)
	pipe.Publish(ctx, r.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save status of %s: %w", st.JobID, err)
	}
	return nil
}

// LoadStatus reads the stored status of jobID.
func (r *RedisQueue) LoadStatus(ctx context.Context, jobID string) (domain.JobStatus, error) {
	data, err := r.client.Get(ctx, statusPrefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.JobStatus{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
		}
		return domain.JobStatus{}, fmt.Errorf("load status of %s: %w", jobID, err)
	}
	return decodeStatus(data)
}

// SubscribeStatus subscribes to the status channel and streams updates to a
// Go channel.
func (r *RedisQueue) SubscribeStatus(ctx context.Context) (<-chan domain.JobStatus, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)

	// Wait for confirmation that we are subscribed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to status updates: %w", err)
	}

	outCh := make(chan domain.JobStatus)

	go func() {
		defer close(outCh)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				st, err := decodeStatus([]byte(msg.Payload))
				if err != nil {
					r.log.Error("Failed to decode status update", "error", err)
					continue
				}
				select {
				case outCh <- st:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return outCh, nil
}

// consumerName generates a unique consumer name (e.g: hostname-pid).
func consumerName() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "consumer"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
