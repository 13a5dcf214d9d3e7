package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
)

// ActivityRepository implements activity.Repository for Postgres.
type ActivityRepository struct {
	db *DB
}

func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

func (r *ActivityRepository) Log(ctx context.Context, entry *activity.ActivityEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO activity_log (record_id, actor_id, activity_type, summary, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		entry.RecordID, entry.ActorID, string(entry.ActivityType), entry.Summary, entry.Details, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

func (r *ActivityRepository) List(ctx context.Context, opts activity.ListActivityOptions) ([]activity.ActivityEntry, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.RecordID != nil {
		conditions = append(conditions, "record_id = "+arg(*opts.RecordID))
	}
	if opts.ActorID != "" {
		conditions = append(conditions, "actor_id = "+arg(opts.ActorID))
	}
	if opts.ActivityType != nil {
		conditions = append(conditions, "activity_type = "+arg(string(*opts.ActivityType)))
	}

	query := `SELECT id, record_id, actor_id, activity_type, summary, details, created_at FROM activity_log`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + arg(opts.Offset)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := []activity.ActivityEntry{}
	for rows.Next() {
		var entry activity.ActivityEntry
		if err := rows.Scan(&entry.ID, &entry.RecordID, &entry.ActorID, &entry.ActivityType,
			&entry.Summary, &entry.Details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity entry: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
