package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
)

// ActivityRepository implements activity.Repository for SQLite
type ActivityRepository struct {
	db *DB
}

// NewActivityRepository creates a new ActivityRepository
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Log inserts a new activity entry
func (r *ActivityRepository) Log(ctx context.Context, entry *activity.ActivityEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_log (record_id, actor_id, activity_type, summary, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.RecordID,
		entry.ActorID,
		entry.ActivityType,
		entry.Summary,
		entry.Details,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// List returns activity entries matching the given filters, newest first
func (r *ActivityRepository) List(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error) {
	query := `
		SELECT id, record_id, actor_id, activity_type, summary, details, created_at
		FROM activity_log
	`

	var (
		args       []any
		conditions []string
	)
	if opts.RecordID != nil {
		conditions = append(conditions, "record_id = ?")
		args = append(args, *opts.RecordID)
	}
	if opts.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, opts.ActorID)
	}
	if opts.ActivityType != nil {
		conditions = append(conditions, "activity_type = ?")
		args = append(args, *opts.ActivityType)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at DESC, id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	entries := []activity.ActivityEntry{}
	for rows.Next() {
		var (
			entry    activity.ActivityEntry
			recordID sql.NullString
		)
		if err := rows.Scan(
			&entry.ID,
			&recordID,
			&entry.ActorID,
			&entry.ActivityType,
			&entry.Summary,
			&entry.Details,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		if recordID.Valid {
			entry.RecordID = &recordID.String
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}

	return entries, nil
}
