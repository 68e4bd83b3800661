package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrConfig is matched by every configuration failure.
	ErrConfig = errors.New("configuration error")

	// ErrCancelled is returned by Wait when the caller gives up.
	ErrCancelled = errors.New("wait cancelled")

	// ErrJobNotFound is returned when a job ID is unknown to the backend.
	ErrJobNotFound = errors.New("job not found")
)

// ConfigError reports a missing or invalid configuration value.
type ConfigError struct {
	Path string
	Key  string
	Err  error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	if e.Key != "" {
		b.WriteString(": " + e.Key)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// UnsupportedTargetError is returned when the requested database is not
// offered by the backend. No job is submitted in that case.
type UnsupportedTargetError struct {
	Target  string
	Address string
}

func (e *UnsupportedTargetError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("%s is not supported", e.Target)
	}
	return fmt.Sprintf("%s is not supported by the BLAST system at %s", e.Target, e.Address)
}

// SubmissionError reports a failed Submit: the transport failed (Err set) or
// the backend rejected the query (Messages set).
type SubmissionError struct {
	QueryID  string
	Messages []string
	Err      error
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("submit %q", e.QueryID)
	if len(e.Messages) > 0 {
		msg += ": rejected: " + strings.Join(e.Messages, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollingError reports a transport failure while waiting on a job.
type PollingError struct {
	JobID string
	Err   error
}

func (e *PollingError) Error() string {
	return fmt.Sprintf("poll job %s: %v", e.JobID, e.Err)
}

func (e *PollingError) Unwrap() error { return e.Err }

// TimeoutError reports that a job did not finish within the configured
// maximum wait.
type TimeoutError struct {
	JobID string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s did not finish within %s", e.JobID, e.After)
}
