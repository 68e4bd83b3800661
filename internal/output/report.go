// Package output prints a finished batch the way both client programs show it.
package output

import (
	"fmt"
	"io"

	"github.com/blastgcp/blastq/internal/domain"
	"github.com/blastgcp/blastq/internal/tabular"
)

// FailedBanner opens the block printed for a failed job.
const FailedBanner = "Search job finished with status: FAILED"

// WriteBatch prints each pair in batch order: a table for successes, the
// failure banner plus one line per message for failures.
func WriteBatch(w io.Writer, b domain.Batch) error {
	for _, p := range b {
		if err := WriteResult(w, p.Result); err != nil {
			return err
		}
	}
	return nil
}

// WriteResult prints a single job result.
func WriteResult(w io.Writer, res domain.JobResult) error {
	if res.Failed() {
		if _, err := fmt.Fprintln(w, FailedBanner); err != nil {
			return err
		}
		for _, msg := range res.Errors {
			if _, err := fmt.Fprintf(w, "Error message: %s\n", msg); err != nil {
				return err
			}
		}
		return nil
	}
	return tabular.Write(w, res.Rows)
}
