package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

// RecordRepository is a mock for record.RecordRepository.
type RecordRepository struct {
	mock.Mock
}

func (m *RecordRepository) Create(ctx context.Context, rec *record.Record, job *anchor.Job) error {
	args := m.Called(ctx, rec, job)
	return args.Error(0)
}

func (m *RecordRepository) Get(ctx context.Context, id string) (*record.Record, error) {
	args := m.Called(ctx, id)
	if rec, ok := args.Get(0).(*record.Record); ok {
		// Hand out copies so services mutating their result do not leak
		// into later calls.
		return rec.Clone(), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RecordRepository) Update(ctx context.Context, rec *record.Record, expectedVersion int64) error {
	args := m.Called(ctx, rec, expectedVersion)
	return args.Error(0)
}

func (m *RecordRepository) ApplyTransition(ctx context.Context, rec *record.Record, entry *record.StageHistoryEntry, expectedVersion int64, job *anchor.Job) error {
	args := m.Called(ctx, rec, entry, expectedVersion, job)
	return args.Error(0)
}

func (m *RecordRepository) List(ctx context.Context, opts record.ListRecordsOptions) ([]record.Summary, error) {
	args := m.Called(ctx, opts)
	if list, ok := args.Get(0).([]record.Summary); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RecordRepository) ExpireStale(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	args := m.Called(ctx, cutoff, now)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RecordRepository) SetBlockchainHash(ctx context.Context, id, dataHash, ledgerRef string) (bool, error) {
	args := m.Called(ctx, id, dataHash, ledgerRef)
	return args.Bool(0), args.Error(1)
}

// SearchRepository is a mock for record.SearchRepository.
type SearchRepository struct {
	mock.Mock
}

func (m *SearchRepository) Search(ctx context.Context, query string, opts record.SearchOptions) ([]record.SearchResult, error) {
	args := m.Called(ctx, query, opts)
	if results, ok := args.Get(0).([]record.SearchResult); ok {
		return results, args.Error(1)
	}
	return nil, args.Error(1)
}

// ActivityRepository is a mock for activity.Repository.
type ActivityRepository struct {
	mock.Mock
}

func (m *ActivityRepository) Log(ctx context.Context, entry *activity.ActivityEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *ActivityRepository) List(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error) {
	args := m.Called(ctx, opts)
	if entries, ok := args.Get(0).([]activity.ActivityEntry); ok {
		return entries, args.Error(1)
	}
	return nil, args.Error(1)
}

// Authorizer is a mock for record.Authorizer.
type Authorizer struct {
	mock.Mock
}

func (m *Authorizer) CanCreate(actor record.Actor, source stage.SourceType) bool {
	return m.Called(actor, source).Bool(0)
}

func (m *Authorizer) CanTransition(actor record.Actor, rec *record.Record, target stage.Stage) bool {
	return m.Called(actor, rec, target).Bool(0)
}

func (m *Authorizer) CanChangeStatus(actor record.Actor, rec *record.Record, to record.Status) bool {
	return m.Called(actor, rec, to).Bool(0)
}

func (m *Authorizer) CanManage(actor record.Actor, rec *record.Record) bool {
	return m.Called(actor, rec).Bool(0)
}

func (m *Authorizer) CanView(viewer *record.Actor, rec *record.Record) bool {
	return m.Called(viewer, rec).Bool(0)
}

// JobRepository is a mock for anchor.JobRepository.
type JobRepository struct {
	mock.Mock
}

func (m *JobRepository) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]anchor.Job, error) {
	args := m.Called(ctx, now, lease, limit)
	if jobs, ok := args.Get(0).([]anchor.Job); ok {
		return jobs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *JobRepository) Complete(ctx context.Context, id, ledgerRef string, now time.Time) error {
	return m.Called(ctx, id, ledgerRef, now).Error(0)
}

func (m *JobRepository) Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string, now time.Time) error {
	return m.Called(ctx, id, attempts, next, lastErr, now).Error(0)
}

func (m *JobRepository) Abandon(ctx context.Context, id string, attempts int, lastErr string, now time.Time) error {
	return m.Called(ctx, id, attempts, lastErr, now).Error(0)
}

func (m *JobRepository) Get(ctx context.Context, id string) (*anchor.Job, error) {
	args := m.Called(ctx, id)
	if job, ok := args.Get(0).(*anchor.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *JobRepository) ListByRecord(ctx context.Context, recordID string) ([]anchor.Job, error) {
	args := m.Called(ctx, recordID)
	if jobs, ok := args.Get(0).([]anchor.Job); ok {
		return jobs, args.Error(1)
	}
	return nil, args.Error(1)
}

// Ledger is a mock for anchor.Ledger.
type Ledger struct {
	mock.Mock
}

func (m *Ledger) Anchor(ctx context.Context, recordID, dataHash string) (string, error) {
	args := m.Called(ctx, recordID, dataHash)
	return args.String(0), args.Error(1)
}

// AnchorRecords is a mock for anchor.Records.
type AnchorRecords struct {
	mock.Mock
}

func (m *AnchorRecords) CurrentDataHash(ctx context.Context, recordID string) (string, error) {
	args := m.Called(ctx, recordID)
	return args.String(0), args.Error(1)
}

func (m *AnchorRecords) MarkAnchored(ctx context.Context, recordID, dataHash, ledgerRef string) (bool, error) {
	args := m.Called(ctx, recordID, dataHash, ledgerRef)
	return args.Bool(0), args.Error(1)
}
