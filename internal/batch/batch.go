// Package batch runs a set of queries through a domain.JobClient: validate the
// target, submit every query, then collect results in submission order.
package batch

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/blastgcp/blastq/internal/domain"
)

// Options tunes a batch run.
type Options struct {
	// Parallel is the number of concurrent Wait calls. Values below 2 wait
	// sequentially.
	Parallel int

	// Address names the backend in user-facing messages.
	Address string

	Logger *slog.Logger
}

// Run validates target, submits all queries and waits for all of them.
//
// No query is submitted when target is unsupported. When a submission fails
// the remaining queries are not submitted and no handle is waited on. When a
// wait fails, the pairs that precede the failed one are returned together
// with the error.
func Run(ctx context.Context, c domain.JobClient, target string, queries []domain.Query, opts Options) (domain.Batch, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	// 1. Validate target
	targets, err := c.ListSupportedTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list supported targets: %w", err)
	}
	if _, ok := targets[target]; !ok {
		return nil, &domain.UnsupportedTargetError{Target: target, Address: opts.Address}
	}

	// 2. Submit all
	handles := make([]domain.JobHandle, 0, len(queries))
	for _, q := range queries {
		h, err := c.Submit(ctx, q, target)
		if err != nil {
			log.Error("Submission failed, aborting batch", "query", q.ID, "submitted", len(handles), "error", err)
			return nil, err
		}
		log.Info("Submitted search", "query", q.ID, "jobID", h.ID, "db", target)
		handles = append(handles, h)
	}

	// 3. Wait all
	if opts.Parallel > 1 {
		return waitParallel(ctx, c, queries, handles, opts.Parallel, log)
	}
	out := make(domain.Batch, 0, len(queries))
	for i, h := range handles {
		res, err := c.Wait(ctx, h)
		if err != nil {
			log.Error("Wait failed", "query", queries[i].ID, "jobID", h.ID, "error", err)
			return out, err
		}
		log.Debug("Search finished", "jobID", h.ID, "failed", res.Failed(), "rows", len(res.Rows))
		out = append(out, domain.Pair{Query: queries[i], Result: res.Normalize()})
	}
	return out, nil
}

// waitParallel waits on every handle with at most limit calls in flight.
// A failing wait does not cancel the others; the first failure in
// submission order decides the returned prefix.
func waitParallel(ctx context.Context, c domain.JobClient, queries []domain.Query, handles []domain.JobHandle, limit int, log *slog.Logger) (domain.Batch, error) {
	results := make([]domain.JobResult, len(handles))
	errs := make([]error, len(handles))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, h := range handles {
		g.Go(func() error {
			results[i], errs[i] = c.Wait(ctx, h)
			if errs[i] != nil {
				log.Error("Wait failed", "query", queries[i].ID, "jobID", h.ID, "error", errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(domain.Batch, 0, len(handles))
	for i := range handles {
		if errs[i] != nil {
			return out, errs[i]
		}
		out = append(out, domain.Pair{Query: queries[i], Result: results[i].Normalize()})
	}
	return out, nil
}
