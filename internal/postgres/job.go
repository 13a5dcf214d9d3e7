package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/repository"
)

const jobColumns = `id, record_id, data_hash, status, attempts, next_attempt_at,
	last_error, ledger_ref, created_at, updated_at`

// JobRepository implements anchor.JobRepository for Postgres. Claims use
// SKIP LOCKED so several workers can drain the outbox together.
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

func insertJob(ctx context.Context, tx pgx.Tx, job *anchor.Job) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO anchor_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.RecordID, job.DataHash, string(job.Status), job.Attempts, job.NextAttemptAt,
		job.LastError, job.LedgerRef, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue anchor job: %w", mapWriteErr(err))
	}
	return nil
}

func (r *JobRepository) Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]anchor.Job, error) {
	rows, err := r.db.Pool.Query(ctx, `
		UPDATE anchor_jobs
		SET next_attempt_at = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM anchor_jobs
			WHERE status = $3 AND next_attempt_at <= $4
			ORDER BY next_attempt_at, created_at
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		now.Add(lease), now, string(anchor.JobPending), now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim anchor jobs: %w", err)
	}
	return collectJobs(rows)
}

func (r *JobRepository) Complete(ctx context.Context, id, ledgerRef string, now time.Time) error {
	return r.exec(ctx, `
		UPDATE anchor_jobs SET status = $1, ledger_ref = $2, last_error = '', updated_at = $3
		WHERE id = $4`,
		string(anchor.JobDone), ledgerRef, now, id)
}

func (r *JobRepository) Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string, now time.Time) error {
	return r.exec(ctx, `
		UPDATE anchor_jobs SET attempts = $1, next_attempt_at = $2, last_error = $3, updated_at = $4
		WHERE id = $5`,
		attempts, next, lastErr, now, id)
}

func (r *JobRepository) Abandon(ctx context.Context, id string, attempts int, lastErr string, now time.Time) error {
	return r.exec(ctx, `
		UPDATE anchor_jobs SET status = $1, attempts = $2, last_error = $3, updated_at = $4
		WHERE id = $5`,
		string(anchor.JobAbandoned), attempts, lastErr, now, id)
}

func (r *JobRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update anchor job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*anchor.Job, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM anchor_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get anchor job: %w", err)
	}
	return &job, nil
}

func (r *JobRepository) ListByRecord(ctx context.Context, recordID string) ([]anchor.Job, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+jobColumns+` FROM anchor_jobs
		WHERE record_id = $1
		ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list anchor jobs: %w", err)
	}
	return collectJobs(rows)
}

func (r *JobRepository) CountByStatus(ctx context.Context) (map[anchor.JobStatus]int, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT status, COUNT(*) FROM anchor_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count anchor jobs: %w", err)
	}
	defer rows.Close()

	counts := map[anchor.JobStatus]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[anchor.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func collectJobs(rows pgx.Rows) ([]anchor.Job, error) {
	defer rows.Close()
	jobs := []anchor.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anchor job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anchor jobs: %w", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (anchor.Job, error) {
	var job anchor.Job
	err := row.Scan(&job.ID, &job.RecordID, &job.DataHash, &job.Status, &job.Attempts,
		&job.NextAttemptAt, &job.LastError, &job.LedgerRef, &job.CreatedAt, &job.UpdatedAt)
	job.NextAttemptAt = job.NextAttemptAt.UTC()
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return job, err
}
