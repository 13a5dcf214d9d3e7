package anchor

import "time"

// JobStatus tracks an outbox job through the anchoring lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobDone      JobStatus = "DONE"
	JobAbandoned JobStatus = "ABANDONED"
)

// Job asks the worker to anchor one data hash of one record. Jobs are written
// in the same transaction as the record change that produced the hash.
type Job struct {
	ID            string    `json:"id"`
	RecordID      string    `json:"record_id"`
	DataHash      string    `json:"data_hash"`
	Status        JobStatus `json:"status"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
	LedgerRef     string    `json:"ledger_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewJob builds a pending job that is due immediately.
func NewJob(id, recordID, dataHash string, now time.Time) *Job {
	return &Job{
		ID:            id,
		RecordID:      recordID,
		DataHash:      dataHash,
		Status:        JobPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Outcome labels the result of processing one job.
type Outcome string

const (
	OutcomeAnchored   Outcome = "anchored"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeRetry      Outcome = "retry"
	OutcomeAbandoned  Outcome = "abandoned"
)

// Result summarizes one worker pass.
type Result struct {
	Claimed    int `json:"claimed"`
	Anchored   int `json:"anchored"`
	Superseded int `json:"superseded"`
	Retried    int `json:"retried"`
	Abandoned  int `json:"abandoned"`
}

func (r *Result) add(o Outcome) {
	switch o {
	case OutcomeAnchored:
		r.Anchored++
	case OutcomeSuperseded:
		r.Superseded++
	case OutcomeRetry:
		r.Retried++
	case OutcomeAbandoned:
		r.Abandoned++
	}
}

// Merge returns the sum of r and o.
func (r Result) Merge(o Result) Result {
	return Result{
		Claimed:    r.Claimed + o.Claimed,
		Anchored:   r.Anchored + o.Anchored,
		Superseded: r.Superseded + o.Superseded,
		Retried:    r.Retried + o.Retried,
		Abandoned:  r.Abandoned + o.Abandoned,
	}
}
