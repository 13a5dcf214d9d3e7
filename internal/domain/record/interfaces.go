package record

import (
	"context"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

// RecordRepository provides persistence for records and their history.
type RecordRepository interface {
	// Create stores a new record together with its first anchor job.
	Create(ctx context.Context, rec *Record, job *anchor.Job) error
	// Get loads a record with its full history in timestamp order.
	Get(ctx context.Context, id string) (*Record, error)
	// Update writes status, visibility and version when the stored version
	// still equals expectedVersion.
	Update(ctx context.Context, rec *Record, expectedVersion int64) error
	// ApplyTransition atomically compares the version, appends entry, writes
	// the new record state and enqueues job.
	ApplyTransition(ctx context.Context, rec *Record, entry *StageHistoryEntry, expectedVersion int64, job *anchor.Job) error
	List(ctx context.Context, opts ListRecordsOptions) ([]Summary, error)
	// ExpireStale moves ACTIVE records not updated since cutoff to EXPIRED
	// and returns their IDs.
	ExpireStale(ctx context.Context, cutoff, now time.Time) ([]string, error)
	// SetBlockchainHash stores ledgerRef only while the record's data hash
	// still equals dataHash.
	SetBlockchainHash(ctx context.Context, id, dataHash, ledgerRef string) (bool, error)
}

// SearchRepository performs full-text search.
type SearchRepository interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
}

// ActivityRepository logs record activities.
type ActivityRepository interface {
	Log(ctx context.Context, entry *activity.ActivityEntry) error
}

// Authorizer decides whether an actor may act on a record.
type Authorizer interface {
	CanCreate(actor Actor, source stage.SourceType) bool
	CanTransition(actor Actor, rec *Record, target stage.Stage) bool
	CanChangeStatus(actor Actor, rec *Record, to Status) bool
	CanManage(actor Actor, rec *Record) bool
	CanView(viewer *Actor, rec *Record) bool
}

// Recorder observes transition outcomes for metrics.
type Recorder interface {
	TransitionObserved(target string, outcome string)
}
