package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/blastgcp/blastq/internal/domain"
)

// jobField is the stream entry field holding the JSON job.
const jobField = "job"

func encodeJob(job domain.SearchJob) ([]byte, error) {
	if job.ID == "" {
		return nil, errors.New("job has no id")
	}
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	return data, nil
}

// decodeJob extracts the job from a stream entry and records the entry ID
// for acknowledgement.
func decodeJob(msg redis.XMessage) (domain.SearchJob, error) {
	val, ok := msg.Values[jobField].(string)
	if !ok {
		return domain.SearchJob{}, fmt.Errorf("entry %s has no %q field", msg.ID, jobField)
	}
	var job domain.SearchJob
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return domain.SearchJob{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	if job.ID == "" {
		return domain.SearchJob{}, fmt.Errorf("entry %s carries a job without id", msg.ID)
	}
	job.RawID = msg.ID
	return job, nil
}

func encodeStatus(st domain.JobStatus) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status: %w", err)
	}
	return data, nil
}

func decodeStatus(data []byte) (domain.JobStatus, error) {
	var st domain.JobStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.JobStatus{}, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	if st.JobID == "" {
		return domain.JobStatus{}, errors.New("status without job id")
	}
	return st, nil
}
