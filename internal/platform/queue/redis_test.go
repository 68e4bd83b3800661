package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blastgcp/blastq/internal/domain"
)

func newTestQueue(t *testing.T, mr *miniredis.Miniredis, consumer string) *RedisQueue {
	t.Helper()
	q, err := NewRedisQueue(context.Background(), Options{Addr: mr.Addr(), Consumer: consumer}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

// deliver reads one entry as consumer, the way a worker would, and returns
// its stream ID.
func deliver(t *testing.T, q *RedisQueue) string {
	t.Helper()
	streams, err := q.client.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, streams[0].Messages, 1)
	return streams[0].Messages[0].ID
}

func pending(t *testing.T, q *RedisQueue) int64 {
	t.Helper()
	p, err := q.client.XPending(context.Background(), q.stream, q.group).Result()
	require.NoError(t, err)
	return p.Count
}

func receive(t *testing.T, jobs <-chan domain.SearchJob) domain.SearchJob {
	t.Helper()
	select {
	case job, ok := <-jobs:
		require.True(t, ok, "job channel closed")
		return job
	case <-time.After(5 * time.Second):
		t.Fatal("no job delivered")
		return domain.SearchJob{}
	}
}

func TestPublishBeforeFirstWorker(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gateway := newTestQueue(t, mr, "gateway")
	require.NoError(t, gateway.Publish(ctx, domain.SearchJob{ID: "job-1", QueryID: "q1", Sequence: "ACGT", Database: "nt"}))

	worker := newTestQueue(t, mr, "worker-1")
	jobs, err := worker.Subscribe(ctx)
	require.NoError(t, err)

	job := receive(t, jobs)
	assert.Equal(t, "job-1", job.ID)
	assert.NotEmpty(t, job.RawID)
}

func TestPublishBeforeGroupExists(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A producer that never created the group, such as an older gateway.
	producer := newRedisQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), Options{Consumer: "producer"}, nil)
	t.Cleanup(func() { producer.Close() })
	require.NoError(t, producer.Publish(ctx, domain.SearchJob{ID: "early", Database: "nt"}))

	worker := newTestQueue(t, mr, "worker-1")
	jobs, err := worker.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, "early", receive(t, jobs).ID)
}

func TestStatusStore(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	q := newTestQueue(t, mr, "gateway")

	_, err := q.LoadStatus(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	st := domain.Finished("job-1", domain.Success([]domain.Row{{QueryAcc: "q1", SubjectAcc: "s1"}}))
	require.NoError(t, q.SaveStatus(ctx, st))

	got, err := q.LoadStatus(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, got.State)
	assert.Equal(t, st.Rows, got.Rows)
	assert.Equal(t, 24*time.Hour, mr.TTL(statusPrefix+"job-1"))
}

func TestRecoveryFailsStaleJob(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	start := time.Now()
	mr.SetTime(start)

	q := newTestQueue(t, mr, "worker-1")
	require.NoError(t, q.Publish(ctx, domain.SearchJob{ID: "job-1", Database: "nt"}))
	rawID := deliver(t, q)

	mr.SetTime(start.Add(time.Hour))
	q.recoverStale(ctx, 2*time.Hour)
	assert.EqualValues(t, 1, pending(t, q))
	_, err := q.LoadStatus(ctx, "job-1")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	mr.SetTime(start.Add(3 * time.Hour))
	q.recoverStale(ctx, 2*time.Hour)
	assert.Zero(t, pending(t, q))

	st, err := q.LoadStatus(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, st.State)
	require.Len(t, st.Errors, 1)
	assert.Contains(t, st.Errors[0], "worker lost")

	owned, err := q.Claim(ctx, rawID)
	require.NoError(t, err)
	assert.False(t, owned, "a recovered entry must not be claimable")
}

func TestClaimRestartsIdleClock(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	start := time.Now()
	mr.SetTime(start)

	q := newTestQueue(t, mr, "worker-1")
	require.NoError(t, q.Publish(ctx, domain.SearchJob{ID: "job-1", Database: "nt"}))
	rawID := deliver(t, q)

	// The job sat in the hand-off for longer than stale-after, then a
	// worker picked it up.
	mr.SetTime(start.Add(3 * time.Hour))
	owned, err := q.Claim(ctx, rawID)
	require.NoError(t, err)
	assert.True(t, owned)

	mr.SetTime(start.Add(4 * time.Hour))
	q.recoverStale(ctx, 2*time.Hour)
	assert.EqualValues(t, 1, pending(t, q))
	_, err = q.LoadStatus(ctx, "job-1")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	require.NoError(t, q.Acknowledge(ctx, rawID))
	assert.Zero(t, pending(t, q))
}

func TestRecoveryAcksMalformedEntry(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	start := time.Now()
	mr.SetTime(start)

	q := newTestQueue(t, mr, "worker-1")
	require.NoError(t, q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{jobField: "{"},
	}).Err())
	deliver(t, q)

	mr.SetTime(start.Add(3 * time.Hour))
	q.recoverStale(ctx, 2*time.Hour)
	assert.Zero(t, pending(t, q))
}
