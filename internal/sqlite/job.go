package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/repository"
)

const jobColumns = `id, record_id, data_hash, status, attempts, next_attempt_at,
	last_error, ledger_ref, created_at, updated_at`

// JobRepository implements anchor.JobRepository for SQLite
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new JobRepository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

func insertJob(ctx context.Context, tx *sql.Tx, job *anchor.Job) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO anchor_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.RecordID, job.DataHash, job.Status, job.Attempts, job.NextAttemptAt,
		job.LastError, job.LedgerRef, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue anchor job: %w", mapWriteErr(err))
	}
	return nil
}

// Claim leases up to limit due jobs by moving their next attempt to now+lease.
func (r *JobRepository) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]anchor.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE anchor_jobs
		SET next_attempt_at = ?, updated_at = ?
		WHERE id IN (
			SELECT id FROM anchor_jobs
			WHERE status = ? AND next_attempt_at <= ?
			ORDER BY next_attempt_at, created_at
			LIMIT ?
		)
		RETURNING `+jobColumns,
		now.Add(lease), now, anchor.JobPending, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim anchor jobs: %w", err)
	}
	return collectJobs(rows)
}

// Complete marks a job done.
func (r *JobRepository) Complete(ctx context.Context, id, ledgerRef string, now time.Time) error {
	return r.exec(ctx, `
		UPDATE anchor_jobs SET status = ?, ledger_ref = ?, last_error = '', updated_at = ?
		WHERE id = ?`,
		anchor.JobDone, ledgerRef, now, id)
}

// Reschedule records a failed attempt and the time of the next one.
func (r *JobRepository) Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string, now time.Time) error {
	return r.exec(ctx, `
		UPDATE anchor_jobs SET attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		attempts, next, lastErr, now, id)
}

// Abandon stops retrying a job.
func (r *JobRepository) Abandon(ctx context.Context, id string, attempts int, lastErr string, now time.Time) error {
	return r.exec(ctx, `
		UPDATE anchor_jobs SET status = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		anchor.JobAbandoned, attempts, lastErr, now, id)
}

func (r *JobRepository) exec(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update anchor job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Get retrieves a job by ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*anchor.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM anchor_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get anchor job: %w", err)
	}
	return &job, nil
}

// ListByRecord returns every job of a record, oldest first.
func (r *JobRepository) ListByRecord(ctx context.Context, recordID string) ([]anchor.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM anchor_jobs
		WHERE record_id = ?
		ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list anchor jobs: %w", err)
	}
	return collectJobs(rows)
}

// CountByStatus returns the number of jobs in each status.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[anchor.JobStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM anchor_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count anchor jobs: %w", err)
	}
	defer rows.Close()

	counts := map[anchor.JobStatus]int{}
	for rows.Next() {
		var (
			status anchor.JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func collectJobs(rows *sql.Rows) ([]anchor.Job, error) {
	defer rows.Close()
	jobs := []anchor.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anchor job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating anchor jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row scanner) (anchor.Job, error) {
	var job anchor.Job
	err := row.Scan(&job.ID, &job.RecordID, &job.DataHash, &job.Status, &job.Attempts,
		&job.NextAttemptAt, &job.LastError, &job.LedgerRef, &job.CreatedAt, &job.UpdatedAt)
	job.NextAttemptAt = job.NextAttemptAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, err
}
