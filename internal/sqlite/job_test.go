package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/repository"
)

func TestJobRepository_ClaimLeasesDueJobs(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	createTestRecord(t, db, "r1", "COD-001")
	createTestRecord(t, db, "r2", "COD-002")
	repo := NewJobRepository(db)

	// job-r2 is not due yet.
	require.NoError(t, repo.Reschedule(ctx, "job-r2", 1, baseTime.Add(time.Hour), "boom", baseTime))

	now := baseTime.Add(time.Minute)
	jobs, err := repo.Claim(ctx, now, 30*time.Second, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "job-r1", jobs[0].ID)
	require.True(t, now.Add(30*time.Second).Equal(jobs[0].NextAttemptAt))

	again, err := repo.Claim(ctx, now.Add(10*time.Second), 30*time.Second, 10)
	require.NoError(t, err)
	require.Empty(t, again, "leased job must stay invisible")

	later, err := repo.Claim(ctx, now.Add(31*time.Second), 30*time.Second, 10)
	require.NoError(t, err)
	require.Len(t, later, 1)
}

func TestJobRepository_ClaimRespectsLimit(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	createTestRecord(t, db, "r1", "COD-001")
	createTestRecord(t, db, "r2", "COD-002")
	createTestRecord(t, db, "r3", "COD-003")

	jobs, err := NewJobRepository(db).Claim(ctx, baseTime, time.Minute, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

func TestJobRepository_Lifecycle(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	createTestRecord(t, db, "r1", "COD-001")
	createTestRecord(t, db, "r2", "COD-002")
	repo := NewJobRepository(db)

	require.NoError(t, repo.Reschedule(ctx, "job-r1", 1, baseTime.Add(2*time.Second), "unavailable", baseTime))
	job, err := repo.Get(ctx, "job-r1")
	require.NoError(t, err)
	require.Equal(t, 1, job.Attempts)
	require.Equal(t, "unavailable", job.LastError)

	require.NoError(t, repo.Complete(ctx, "job-r1", "tx-9", baseTime))
	job, err = repo.Get(ctx, "job-r1")
	require.NoError(t, err)
	require.Equal(t, anchor.JobDone, job.Status)
	require.Equal(t, "tx-9", job.LedgerRef)
	require.Empty(t, job.LastError)

	require.NoError(t, repo.Abandon(ctx, "job-r2", 8, "gave up", baseTime))
	job, err = repo.Get(ctx, "job-r2")
	require.NoError(t, err)
	require.Equal(t, anchor.JobAbandoned, job.Status)
	require.Equal(t, 8, job.Attempts)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[anchor.JobDone])
	require.Equal(t, 1, counts[anchor.JobAbandoned])
	require.Equal(t, 0, counts[anchor.JobPending])

	jobs, err := repo.Claim(ctx, baseTime.Add(time.Hour), time.Minute, 10)
	require.NoError(t, err)
	require.Empty(t, jobs, "finished jobs are never claimed")

	err = repo.Complete(ctx, "missing", "", baseTime)
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
}
