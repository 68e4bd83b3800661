package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blastgcp/blastq/internal/domain"
)

// fakeClient records calls and serves canned results keyed by query ID.
type fakeClient struct {
	targets   []string
	submitErr map[string]error
	waitErr   map[string]error
	results   map[string]domain.JobResult
	delay     map[string]time.Duration

	mu      sync.Mutex
	submits []string
	waits   []string
}

func (f *fakeClient) ListSupportedTargets(context.Context) (map[string]struct{}, error) {
	return domain.TargetSet(f.targets...), nil
}

func (f *fakeClient) Submit(_ context.Context, q domain.Query, target string) (domain.JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, q.ID)
	if err := f.submitErr[q.ID]; err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{QueryID: q.ID, Err: err}
	}
	return domain.JobHandle{ID: "job-" + q.ID, QueryID: q.ID, Target: target}, nil
}

func (f *fakeClient) Wait(ctx context.Context, h domain.JobHandle) (domain.JobResult, error) {
	if d := f.delay[h.QueryID]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return domain.JobResult{}, domain.ErrCancelled
		}
	}
	f.mu.Lock()
	f.waits = append(f.waits, h.QueryID)
	f.mu.Unlock()
	if err := f.waitErr[h.QueryID]; err != nil {
		return domain.JobResult{}, err
	}
	return f.results[h.QueryID], nil
}

func queries(ids ...string) []domain.Query {
	out := make([]domain.Query, len(ids))
	for i, id := range ids {
		out[i] = domain.Query{ID: id, Sequence: "ACGT"}
	}
	return out
}

func rowFor(id string) []domain.Row {
	return []domain.Row{{QueryAcc: id, SubjectAcc: "s-" + id, PercentIdentity: 100, Length: 4}}
}

func TestRunPreservesOrder(t *testing.T) {
	for _, parallel := range []int{1, 3} {
		t.Run(fmt.Sprintf("parallel=%d", parallel), func(t *testing.T) {
			f := &fakeClient{
				targets: []string{"nt", "nt_v5"},
				results: map[string]domain.JobResult{
					"a": domain.Success(rowFor("a")),
					"b": domain.Success(rowFor("b")),
					"c": domain.Success(rowFor("c")),
				},
				// later queries finish first
				delay: map[string]time.Duration{"a": 30 * time.Millisecond, "b": 10 * time.Millisecond},
			}
			in := queries("a", "b", "c")

			got, err := Run(context.Background(), f, "nt", in, Options{Parallel: parallel})
			require.NoError(t, err)
			require.Len(t, got, len(in))
			for i := range in {
				assert.Equal(t, in[i], got[i].Query)
				assert.Equal(t, in[i].ID, got[i].Result.Rows[0].QueryAcc)
			}
		})
	}
}

func TestRunUnsupportedTargetSubmitsNothing(t *testing.T) {
	f := &fakeClient{targets: []string{"nt", "nt_v5"}}

	_, err := Run(context.Background(), f, "nr", queries("a", "b"), Options{Address: "10.0.0.5:8080"})
	var unsupported *domain.UnsupportedTargetError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "nr", unsupported.Target)
	assert.Empty(t, f.submits)
	assert.Empty(t, f.waits)
}

func TestRunSubmitFailureSkipsWaits(t *testing.T) {
	f := &fakeClient{
		targets:   []string{"nt"},
		submitErr: map[string]error{"b": errors.New("connection refused")},
	}

	got, err := Run(context.Background(), f, "nt", queries("a", "b", "c"), Options{})
	var subErr *domain.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "b", subErr.QueryID)
	assert.Nil(t, got)
	assert.Equal(t, []string{"a", "b"}, f.submits)
	assert.Empty(t, f.waits)
}

func TestRunPerJobFailureIsNotAnError(t *testing.T) {
	f := &fakeClient{
		targets: []string{"nt"},
		results: map[string]domain.JobResult{
			"a": domain.Success(rowFor("a")),
			"b": domain.Failure("Database nt is offline"),
		},
	}

	got, err := Run(context.Background(), f, "nt", queries("a", "b"), Options{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.False(t, got[0].Result.Failed())
	assert.True(t, got[1].Result.Failed())
	assert.Equal(t, []string{"Database nt is offline"}, got[1].Result.Errors)
}

func TestRunEmptyResultIsSuccess(t *testing.T) {
	f := &fakeClient{targets: []string{"nt"}, results: map[string]domain.JobResult{}}

	got, err := Run(context.Background(), f, "nt", queries("a"), Options{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Result.Failed())
	assert.Empty(t, got[0].Result.Rows)
}

func TestRunWaitTimeoutReturnsPrefix(t *testing.T) {
	for _, parallel := range []int{1, 4} {
		t.Run(fmt.Sprintf("parallel=%d", parallel), func(t *testing.T) {
			f := &fakeClient{
				targets: []string{"nt"},
				results: map[string]domain.JobResult{
					"a": domain.Success(rowFor("a")),
					"c": domain.Success(rowFor("c")),
				},
				waitErr: map[string]error{"b": &domain.TimeoutError{JobID: "job-b", After: time.Second}},
			}

			got, err := Run(context.Background(), f, "nt", queries("a", "b", "c"), Options{Parallel: parallel})
			var timeout *domain.TimeoutError
			require.ErrorAs(t, err, &timeout)
			require.Len(t, got, 1)
			assert.Equal(t, "a", got[0].Query.ID)
		})
	}
}

func TestRunParallelWaitFailureDoesNotCancelOthers(t *testing.T) {
	f := &fakeClient{
		targets: []string{"nt"},
		results: map[string]domain.JobResult{"b": domain.Success(rowFor("b"))},
		waitErr: map[string]error{"a": &domain.PollingError{JobID: "job-a", Err: errors.New("reset")}},
		delay:   map[string]time.Duration{"b": 20 * time.Millisecond},
	}

	_, err := Run(context.Background(), f, "nt", queries("a", "b"), Options{Parallel: 2})
	var pollErr *domain.PollingError
	require.ErrorAs(t, err, &pollErr)
	assert.ElementsMatch(t, []string{"a", "b"}, f.waits)
}
