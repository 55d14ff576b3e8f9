package domain

import (
	"fmt"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

var allowedTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing: {JobStatusProcessing, JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether a record in status from may move to status to.
// processing -> processing is a re-claim of a redelivered item.
func CanTransition(from, to JobStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Job is the record kept for every submitted document.
type Job struct {
	ID          string     `json:"processing_id"`
	Status      JobStatus  `json:"status"`
	Parser      ParserKind `json:"parser"`
	Filename    string     `json:"filename"`
	Message     string     `json:"message,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	DocumentRef string     `json:"document_ref,omitempty"`
	Attempts    int        `json:"attempts"`
	Worker      string     `json:"worker,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Transition moves the job to status to, or returns ErrInvalidTransition.
func (j *Job) Transition(to JobStatus, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = now
	return nil
}

// Claim marks the job as picked up by worker.
func (j *Job) Claim(worker string, now time.Time) error {
	if err := j.Transition(JobStatusProcessing, now); err != nil {
		return err
	}
	j.Attempts++
	j.Worker = worker
	j.Message = "Processing PDF with " + string(j.Parser) + " parser"
	return nil
}

func (j *Job) Complete(result Result, now time.Time) error {
	if err := j.Transition(JobStatusCompleted, now); err != nil {
		return err
	}
	j.Result = &result
	j.Error = ""
	j.Message = "Processing completed successfully"
	return nil
}

func (j *Job) Fail(reason string, now time.Time) error {
	if err := j.Transition(JobStatusFailed, now); err != nil {
		return err
	}
	j.Result = nil
	j.Error = reason
	j.Message = "Processing failed: " + reason
	return nil
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	if j.Result != nil {
		result := j.Result.Clone()
		clone.Result = &result
	}
	return &clone
}

// WorkItem is the unit carried by the work queue. The document bytes stay in
// the blob store under DocumentRef.
type WorkItem struct {
	ProcessingID string     `json:"processing_id"`
	Parser       ParserKind `json:"parser"`
	Filename     string     `json:"filename"`
	DocumentRef  string     `json:"document_ref"`
	SizeBytes    int64      `json:"size_bytes"`
	RequestedAt  time.Time  `json:"requested_at"`
}
