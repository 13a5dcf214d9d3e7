package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracceaqua/tracceaqua/internal/access"
	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
	"github.com/tracceaqua/tracceaqua/internal/repository"
)

func TestRecordRepository_CreateGet(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	rec := createTestRecord(t, db, "r1", "COD-001")

	repo := NewRecordRepository(db)
	loaded, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, rec.BatchCode, loaded.BatchCode)
	require.Equal(t, rec.SourceType, loaded.SourceType)
	require.Equal(t, record.StatusActive, loaded.Status)
	require.Equal(t, rec.Fishing, loaded.Fishing)
	require.Nil(t, loaded.Harvest)
	require.Equal(t, []string{"sha256:aa"}, loaded.FileHashes)
	require.Nil(t, loaded.BlockchainHash)
	require.Equal(t, int64(1), loaded.Version)
	require.True(t, baseTime.Equal(loaded.CreatedAt))
	require.Empty(t, loaded.History)

	jobs, err := NewJobRepository(db).ListByRecord(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "hash-1", jobs[0].DataHash)
	require.Equal(t, anchor.JobPending, jobs[0].Status)
}

func TestRecordRepository_CreateDuplicateBatch(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	createTestRecord(t, db, "r1", "COD-001")

	dup := newTestRecord("r2", "COD-001")
	err := NewRecordRepository(db).Create(ctx, dup, anchor.NewJob("job-r2", "r2", "h", baseTime))
	require.ErrorIs(t, err, repository.ErrConflict)

	_, err = NewRecordRepository(db).Get(ctx, "r2")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRecordRepository_GetNotFound(t *testing.T) {
	db := NewTestDB(t)
	_, err := NewRecordRepository(db).Get(context.Background(), "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRecordRepository_UpdateAndConflict(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	rec := createTestRecord(t, db, "r1", "COD-001")
	repo := NewRecordRepository(db)

	rec.Status = record.StatusCompleted
	rec.IsPublic = true
	rec.Version = 2
	rec.UpdatedAt = baseTime.Add(time.Hour)
	require.NoError(t, repo.Update(ctx, rec, 1))

	loaded, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, record.StatusCompleted, loaded.Status)
	require.True(t, loaded.IsPublic)
	require.Equal(t, int64(2), loaded.Version)

	rec.Version = 3
	err = repo.Update(ctx, rec, 1)
	require.ErrorIs(t, err, repository.ErrConflict)

	missing := newTestRecord("nope", "X")
	err = repo.Update(ctx, missing, 1)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func transitionTo(rec *record.Record, seq int, at time.Time) (*record.StageHistoryEntry, *anchor.Job) {
	rec.CurrentStage = stage.Harvest
	rec.Harvest = &stage.HarvestData{
		HarvestMethod:       "gutted on board",
		TotalWeight:         1100,
		PieceCount:          400,
		QualityGrade:        "A",
		PostHarvestHandling: "iced",
	}
	rec.FileHashes = append(rec.FileHashes, "sha256:bb")
	rec.Version++
	rec.UpdatedAt = at
	rec.DataHash = "hash-2"
	entry := &record.StageHistoryEntry{
		ID:         "h1",
		RecordID:   rec.ID,
		Seq:        seq,
		Stage:      stage.Harvest,
		Timestamp:  at,
		ActorID:    "fisher-1",
		Location:   "Port of Aberdeen",
		Notes:      "landed",
		Data:       json.RawMessage(`{"harvestMethod":"gutted on board"}`),
		FileHashes: []string{"sha256:bb"},
	}
	return entry, anchor.NewJob("job-2", rec.ID, rec.DataHash, at)
}

func TestRecordRepository_ApplyTransition(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	rec := createTestRecord(t, db, "r1", "COD-001")
	repo := NewRecordRepository(db)

	ref := "tx-1"
	ok, err := repo.SetBlockchainHash(ctx, "r1", "hash-1", ref)
	require.NoError(t, err)
	require.True(t, ok)

	at := baseTime.Add(2 * time.Hour)
	entry, job := transitionTo(rec, 1, at)
	rec.BlockchainHash = nil
	require.NoError(t, repo.ApplyTransition(ctx, rec, entry, 1, job))

	loaded, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, stage.Harvest, loaded.CurrentStage)
	require.Equal(t, int64(2), loaded.Version)
	require.Equal(t, "hash-2", loaded.DataHash)
	require.Nil(t, loaded.BlockchainHash)
	require.NotNil(t, loaded.Harvest)
	require.Equal(t, 400, loaded.Harvest.PieceCount)
	require.Equal(t, []string{"sha256:aa", "sha256:bb"}, loaded.FileHashes)
	require.Len(t, loaded.History, 1)
	require.Equal(t, 1, loaded.History[0].Seq)
	require.Equal(t, "landed", loaded.History[0].Notes)
	require.JSONEq(t, `{"harvestMethod":"gutted on board"}`, string(loaded.History[0].Data))
	require.True(t, at.Equal(loaded.History[0].Timestamp))

	jobs, err := NewJobRepository(db).ListByRecord(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestRecordRepository_ApplyTransitionConflictWritesNothing(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	rec := createTestRecord(t, db, "r1", "COD-001")
	repo := NewRecordRepository(db)

	entry, job := transitionTo(rec, 1, baseTime.Add(time.Hour))
	err := repo.ApplyTransition(ctx, rec, entry, 7, job)
	require.ErrorIs(t, err, repository.ErrConflict)

	loaded, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, stage.Fishing, loaded.CurrentStage)
	require.Empty(t, loaded.History)

	jobs, err := NewJobRepository(db).ListByRecord(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestRecordRepository_DuplicateSeqRollsBack(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	rec := createTestRecord(t, db, "r1", "COD-001")
	repo := NewRecordRepository(db)

	entry, job := transitionTo(rec, 1, baseTime.Add(time.Hour))
	require.NoError(t, repo.ApplyTransition(ctx, rec, entry, 1, job))

	entry2 := *entry
	entry2.ID = "h2"
	job2 := anchor.NewJob("job-3", "r1", "hash-3", baseTime)
	rec.Version++
	err := repo.ApplyTransition(ctx, rec, &entry2, 2, job2)
	require.ErrorIs(t, err, repository.ErrConflict)

	loaded, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, int64(2), loaded.Version)
}

func TestRecordRepository_List(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewRecordRepository(db)

	createTestRecord(t, db, "r1", "COD-001")
	r2 := newTestRecord("r2", "COD-002")
	r2.IsPublic = true
	r2.UpdatedAt = baseTime.Add(time.Hour)
	require.NoError(t, repo.Create(ctx, r2, nil))
	r3 := newTestRecord("r3", "SHR-001")
	r3.SourceType = stage.SourceFarmed
	r3.InitialStage = stage.Hatchery
	r3.CurrentStage = stage.Hatchery
	r3.Fishing = nil
	r3.OwnerID = "farmer-1"
	r3.Status = record.StatusRecalled
	require.NoError(t, repo.Create(ctx, r3, nil))

	all, err := repo.List(ctx, record.ListRecordsOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "r2", all[0].ID, "most recently updated first")

	public, err := repo.List(ctx, record.ListRecordsOptions{PublicOnly: true})
	require.NoError(t, err)
	require.Len(t, public, 1)

	farmed := stage.SourceFarmed
	byType, err := repo.List(ctx, record.ListRecordsOptions{SourceType: &farmed})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	require.Equal(t, "r3", byType[0].ID)

	active := record.StatusActive
	byStatus, err := repo.List(ctx, record.ListRecordsOptions{Status: &active, OwnerID: "fisher-1"})
	require.NoError(t, err)
	require.Len(t, byStatus, 2)

	paged, err := repo.List(ctx, record.ListRecordsOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
}

func TestRecordRepository_ExpireStale(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewRecordRepository(db)

	createTestRecord(t, db, "old", "COD-001")
	fresh := newTestRecord("fresh", "COD-002")
	fresh.UpdatedAt = baseTime.Add(48 * time.Hour)
	require.NoError(t, repo.Create(ctx, fresh, nil))
	done := newTestRecord("done", "COD-003")
	done.Status = record.StatusCompleted
	require.NoError(t, repo.Create(ctx, done, nil))

	now := baseTime.Add(72 * time.Hour)
	ids, err := repo.ExpireStale(ctx, baseTime.Add(24*time.Hour), now)
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, ids)

	loaded, err := repo.Get(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, record.StatusExpired, loaded.Status)
	require.Equal(t, int64(2), loaded.Version)
	require.True(t, now.Equal(loaded.UpdatedAt))

	loaded, err = repo.Get(ctx, "done")
	require.NoError(t, err)
	require.Equal(t, record.StatusCompleted, loaded.Status)
}

func TestRecordRepository_SetBlockchainHash(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	createTestRecord(t, db, "r1", "COD-001")
	repo := NewRecordRepository(db)

	ok, err := repo.SetBlockchainHash(ctx, "r1", "stale-hash", "tx-0")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.SetBlockchainHash(ctx, "r1", "hash-1", "tx-1")
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, loaded.BlockchainHash)
	require.Equal(t, "tx-1", *loaded.BlockchainHash)
	require.Equal(t, int64(1), loaded.Version)

	_, err = repo.SetBlockchainHash(ctx, "missing", "hash-1", "tx-1")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRecordService_ConcurrentTransitionsSerialize(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "tracceaqua.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	createTestRecord(t, db, "r1", "COD-001")

	svc := record.NewService(NewRecordRepository(db), nil, NewActivityRepository(db), access.NewRolePolicy(), nil,
		record.WithMaxAttempts(64))
	admin := record.Actor{ID: "admin-1", Role: record.RoleAdmin}

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.UpdateStage(ctx, admin, record.TransitionRequest{
				RecordID: "r1",
				Stage:    stage.Retail,
				Override: true,
				Notes:    fmt.Sprintf("writer %d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	loaded, err := NewRecordRepository(db).Get(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, loaded.History, writers)
	require.Equal(t, int64(writers+1), loaded.Version)
	require.Equal(t, stage.Retail, loaded.CurrentStage)
	notes := map[string]bool{}
	for i, entry := range loaded.History {
		require.Equal(t, i+1, entry.Seq)
		if i > 0 {
			require.False(t, entry.Timestamp.Before(loaded.History[i-1].Timestamp))
		}
		notes[entry.Notes] = true
	}
	require.Len(t, notes, writers)

	jobs, err := NewJobRepository(db).ListByRecord(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, jobs, writers+1)
}
