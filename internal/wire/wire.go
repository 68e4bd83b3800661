// Package wire holds the JSON bodies exchanged between the BLAST-GCP
// gateway and its clients.
package wire

import "github.com/blastgcp/blastq/internal/domain"

// SubmitRequest is the body of POST /api/search.
type SubmitRequest struct {
	QueryID  string `json:"query_id"`
	Sequence string `json:"sequence"`
	Database string `json:"database"`
	Program  string `json:"program"`
}

// SubmitResponse is the body of a successful POST /api/search.
type SubmitResponse struct {
	JobID  string          `json:"job_id"`
	Status domain.JobState `json:"status"`
}

// DatabasesResponse is the body of GET /api/databases.
type DatabasesResponse struct {
	Databases []string `json:"databases"`
}

// ErrorResponse is the body of every non-2xx gateway reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
