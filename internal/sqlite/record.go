package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/repository"
)

const recordColumns = `id, batch_code, product_name, species, source_type, initial_stage,
	current_stage, status, is_public, owner_id, location,
	hatchery_data, grow_out_data, fishing_data, harvest_data,
	processing_data, storage_data, transport_data,
	file_hashes, data_hash, blockchain_hash, version, created_at, updated_at`

const summaryColumns = `id, batch_code, product_name, species, source_type, current_stage,
	status, is_public, owner_id, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

// RecordRepository implements record.RecordRepository for SQLite
type RecordRepository struct {
	db *DB
}

// NewRecordRepository creates a new RecordRepository
func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Create inserts a record and its first anchor job in one transaction.
func (r *RecordRepository) Create(ctx context.Context, rec *record.Record, job *anchor.Job) error {
	cols, err := repository.EncodePayloads(rec.Payloads)
	if err != nil {
		return err
	}

	err = r.db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.BatchCode, rec.ProductName, rec.Species, rec.SourceType, rec.InitialStage,
			rec.CurrentStage, rec.Status, rec.IsPublic, rec.OwnerID, rec.Location,
			cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], cols[6],
			repository.EncodeStrings(rec.FileHashes), rec.DataHash, rec.BlockchainHash,
			rec.Version, rec.CreatedAt, rec.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create record: %w", mapWriteErr(err))
		}
		for i := range rec.History {
			if err := insertHistory(ctx, tx, &rec.History[i]); err != nil {
				return err
			}
		}
		if job != nil {
			return insertJob(ctx, tx, job)
		}
		return nil
	})
	return err
}

// Get retrieves a record by ID with its history in timestamp order.
func (r *RecordRepository) Get(ctx context.Context, id string) (*record.Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	history, err := r.history(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.History = history
	return rec, nil
}

func (r *RecordRepository) history(ctx context.Context, recordID string) ([]record.StageHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, record_id, seq, stage, timestamp, actor_id, location, notes, data, file_hashes
		FROM stage_history
		WHERE record_id = ?
		ORDER BY timestamp, seq`, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	history := []record.StageHistoryEntry{}
	for rows.Next() {
		var (
			e      record.StageHistoryEntry
			data   sql.NullString
			hashes string
		)
		if err := rows.Scan(&e.ID, &e.RecordID, &e.Seq, &e.Stage, &e.Timestamp,
			&e.ActorID, &e.Location, &e.Notes, &data, &hashes); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		if data.Valid && data.String != "" {
			e.Data = []byte(data.String)
		}
		if e.FileHashes, err = repository.DecodeStrings(hashes); err != nil {
			return nil, err
		}
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history rows: %w", err)
	}
	return history, nil
}

// Update writes status, visibility and version with optimistic concurrency
// control.
func (r *RecordRepository) Update(ctx context.Context, rec *record.Record, expectedVersion int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE records
		SET status = ?, is_public = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		rec.Status, rec.IsPublic, rec.Version, rec.UpdatedAt, rec.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", mapWriteErr(err))
	}
	return r.checkApplied(ctx, r.db, result, rec.ID)
}

// ApplyTransition appends entry and writes the new record state when the
// stored version still equals expectedVersion.
func (r *RecordRepository) ApplyTransition(ctx context.Context, rec *record.Record, entry *record.StageHistoryEntry, expectedVersion int64, job *anchor.Job) error {
	cols, err := repository.EncodePayloads(rec.Payloads)
	if err != nil {
		return err
	}

	return r.db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE records
			SET current_stage = ?, status = ?, is_public = ?, location = ?,
			    hatchery_data = ?, grow_out_data = ?, fishing_data = ?, harvest_data = ?,
			    processing_data = ?, storage_data = ?, transport_data = ?,
			    file_hashes = ?, data_hash = ?, blockchain_hash = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?`,
			rec.CurrentStage, rec.Status, rec.IsPublic, rec.Location,
			cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], cols[6],
			repository.EncodeStrings(rec.FileHashes), rec.DataHash, rec.BlockchainHash,
			rec.Version, rec.UpdatedAt, rec.ID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to apply transition: %w", mapWriteErr(err))
		}
		if err := r.checkApplied(ctx, tx, result, rec.ID); err != nil {
			return err
		}
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
		if job != nil {
			return insertJob(ctx, tx, job)
		}
		return nil
	})
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// checkApplied distinguishes a missing record from a version mismatch when
// an update touched no rows.
func (r *RecordRepository) checkApplied(ctx context.Context, q queryer, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM records WHERE id = ?)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check record existence: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

// List returns record summaries matching opts, most recently updated first.
func (r *RecordRepository) List(ctx context.Context, opts record.ListRecordsOptions) ([]record.Summary, error) {
	query := `SELECT ` + summaryColumns + ` FROM records`
	var (
		conditions []string
		args       []any
	)
	if opts.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, *opts.Status)
	}
	if opts.SourceType != nil {
		conditions = append(conditions, "source_type = ?")
		args = append(args, *opts.SourceType)
	}
	if opts.Stage != nil {
		conditions = append(conditions, "current_stage = ?")
		args = append(args, *opts.Stage)
	}
	if opts.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, opts.OwnerID)
	}
	if opts.PublicOnly {
		conditions = append(conditions, "is_public = 1")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
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
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	summaries := []record.Summary{}
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record rows: %w", err)
	}
	return summaries, nil
}

// ExpireStale marks ACTIVE records last updated before cutoff as EXPIRED.
func (r *RecordRepository) ExpireStale(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE records
		SET status = ?, version = version + 1, updated_at = ?
		WHERE status = ? AND updated_at < ?
		RETURNING id`,
		record.StatusExpired, now, record.StatusActive, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to expire records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired rows: %w", err)
	}
	return ids, nil
}

// SetBlockchainHash records ledgerRef if the record still carries dataHash.
func (r *RecordRepository) SetBlockchainHash(ctx context.Context, id, dataHash, ledgerRef string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE records SET blockchain_hash = ? WHERE id = ? AND data_hash = ?`,
		ledgerRef, id, dataHash,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set blockchain hash: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM records WHERE id = ?)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check record existence: %w", err)
	}
	if !exists {
		return false, repository.ErrNotFound
	}
	return false, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, e *record.StageHistoryEntry) error {
	var data any
	if len(e.Data) > 0 {
		data = string(e.Data)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stage_history (id, record_id, seq, stage, timestamp, actor_id, location, notes, data, file_hashes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RecordID, e.Seq, e.Stage, e.Timestamp, e.ActorID, e.Location, e.Notes,
		data, repository.EncodeStrings(e.FileHashes),
	)
	if err != nil {
		return fmt.Errorf("failed to append history: %w", mapWriteErr(err))
	}
	return nil
}

func scanRecord(row scanner) (*record.Record, error) {
	var (
		rec     record.Record
		cols    repository.PayloadColumns
		hashes  string
		ledger  sql.NullString
		species sql.NullString
	)
	err := row.Scan(
		&rec.ID, &rec.BatchCode, &rec.ProductName, &species, &rec.SourceType, &rec.InitialStage,
		&rec.CurrentStage, &rec.Status, &rec.IsPublic, &rec.OwnerID, &rec.Location,
		&cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5], &cols[6],
		&hashes, &rec.DataHash, &ledger, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Species = species.String
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if ledger.Valid {
		rec.BlockchainHash = &ledger.String
	}
	if rec.Payloads, err = repository.DecodePayloads(cols); err != nil {
		return nil, err
	}
	if rec.FileHashes, err = repository.DecodeStrings(hashes); err != nil {
		return nil, err
	}
	return &rec, nil
}

func scanSummary(row scanner) (record.Summary, error) {
	var s record.Summary
	err := row.Scan(&s.ID, &s.BatchCode, &s.ProductName, &s.Species, &s.SourceType,
		&s.CurrentStage, &s.Status, &s.IsPublic, &s.OwnerID, &s.UpdatedAt)
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, err
}
