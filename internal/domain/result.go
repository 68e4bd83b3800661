package domain

// Fields lists the BLAST tabular columns carried by every Row, in output order.
var Fields = []string{
	"qaccver", "saccver", "pident", "length", "mismatch", "gapopen",
	"qstart", "qend", "sstart", "send", "evalue", "bitscore",
}

// Row is one alignment line of a BLAST tabular report.
type Row struct {
	QueryAcc        string  `json:"qaccver"`
	SubjectAcc      string  `json:"saccver"`
	PercentIdentity float64 `json:"pident"`
	Length          int     `json:"length"`
	Mismatches      int     `json:"mismatch"`
	GapOpens        int     `json:"gapopen"`
	QueryStart      int     `json:"qstart"`
	QueryEnd        int     `json:"qend"`
	SubjectStart    int     `json:"sstart"`
	SubjectEnd      int     `json:"send"`
	EValue          float64 `json:"evalue"`
	BitScore        float64 `json:"bitscore"`
}

// JobResult is the terminal outcome of one search job.
// A result with any error message is a failure; its rows are discarded.
type JobResult struct {
	Rows   []Row    `json:"rows,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// Success returns a successful result. A nil or empty rows slice is a
// success with no hits.
func Success(rows []Row) JobResult {
	if rows == nil {
		rows = []Row{}
	}
	return JobResult{Rows: rows}
}

// Failure returns a failed result carrying msgs. Empty messages are dropped;
// if none remain a generic message is used so the result stays a failure.
func Failure(msgs ...string) JobResult {
	kept := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m != "" {
			kept = append(kept, m)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, "search failed without an error message")
	}
	return JobResult{Errors: kept}
}

// Failed reports whether the result is the failure variant.
func (r JobResult) Failed() bool {
	return len(r.Errors) > 0
}

// Normalize enforces the errors-XOR-rows shape on a result decoded from a
// remote system.
func (r JobResult) Normalize() JobResult {
	if r.Failed() {
		return Failure(r.Errors...)
	}
	return Success(r.Rows)
}

// Pair binds a query to its result.
type Pair struct {
	Query  Query
	Result JobResult
}

// Batch is the ordered outcome of one invocation. Batch[i] belongs to the
// i-th submitted query.
type Batch []Pair
