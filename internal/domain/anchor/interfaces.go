package anchor

import (
	"context"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
)

// JobRepository persists outbox jobs.
type JobRepository interface {
	// Claim leases up to limit due pending jobs by pushing their next attempt
	// to now+lease, and returns them.
	Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Job, error)
	Complete(ctx context.Context, id, ledgerRef string, now time.Time) error
	Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string, now time.Time) error
	Abandon(ctx context.Context, id string, attempts int, lastErr string, now time.Time) error
	Get(ctx context.Context, id string) (*Job, error)
	ListByRecord(ctx context.Context, recordID string) ([]Job, error)
}

// Ledger anchors a data hash and returns the ledger transaction reference.
type Ledger interface {
	Anchor(ctx context.Context, recordID, dataHash string) (string, error)
}

// Records is the record-side view the worker needs.
type Records interface {
	CurrentDataHash(ctx context.Context, recordID string) (string, error)
	MarkAnchored(ctx context.Context, recordID, dataHash, ledgerRef string) (bool, error)
}

// ActivityRepository logs worker outcomes.
type ActivityRepository interface {
	Log(ctx context.Context, entry *activity.ActivityEntry) error
}

// Recorder observes worker outcomes for metrics.
type Recorder interface {
	AnchorProcessed(outcome string)
}
