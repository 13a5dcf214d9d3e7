package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

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

// RecordRepository implements record.RecordRepository for Postgres.
type RecordRepository struct {
	db *DB
}

func NewRecordRepository(db *DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) Create(ctx context.Context, rec *record.Record, job *anchor.Job) error {
	cols, err := repository.EncodePayloads(rec.Payloads)
	if err != nil {
		return err
	}
	return r.db.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`,
			rec.ID, rec.BatchCode, rec.ProductName, rec.Species, string(rec.SourceType), string(rec.InitialStage),
			string(rec.CurrentStage), string(rec.Status), rec.IsPublic, rec.OwnerID, rec.Location,
			cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], cols[6],
			repository.EncodeStrings(rec.FileHashes), rec.DataHash, rec.BlockchainHash,
			rec.Version, rec.CreatedAt, rec.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("create record: %w", mapWriteErr(err))
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
}

func (r *RecordRepository) Get(ctx context.Context, id string) (*record.Record, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, record_id, seq, stage, timestamp, actor_id, location, notes, data, file_hashes
		FROM stage_history
		WHERE record_id = $1
		ORDER BY timestamp, seq`, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	rec.History = []record.StageHistoryEntry{}
	for rows.Next() {
		var (
			e      record.StageHistoryEntry
			data   *string
			hashes string
		)
		if err := rows.Scan(&e.ID, &e.RecordID, &e.Seq, &e.Stage, &e.Timestamp,
			&e.ActorID, &e.Location, &e.Notes, &data, &hashes); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		if data != nil && *data != "" {
			e.Data = []byte(*data)
		}
		if e.FileHashes, err = repository.DecodeStrings(hashes); err != nil {
			return nil, err
		}
		rec.History = append(rec.History, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return rec, nil
}

func (r *RecordRepository) Update(ctx context.Context, rec *record.Record, expectedVersion int64) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE records
		SET status = $1, is_public = $2, version = $3, updated_at = $4
		WHERE id = $5 AND version = $6`,
		string(rec.Status), rec.IsPublic, rec.Version, rec.UpdatedAt, rec.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", mapWriteErr(err))
	}
	return checkApplied(ctx, r.db.Pool, tag, rec.ID)
}

func (r *RecordRepository) ApplyTransition(ctx context.Context, rec *record.Record, entry *record.StageHistoryEntry, expectedVersion int64, job *anchor.Job) error {
	cols, err := repository.EncodePayloads(rec.Payloads)
	if err != nil {
		return err
	}
	return r.db.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE records
			SET current_stage = $1, status = $2, is_public = $3, location = $4,
			    hatchery_data = $5, grow_out_data = $6, fishing_data = $7, harvest_data = $8,
			    processing_data = $9, storage_data = $10, transport_data = $11,
			    file_hashes = $12, data_hash = $13, blockchain_hash = $14, version = $15, updated_at = $16
			WHERE id = $17 AND version = $18`,
			string(rec.CurrentStage), string(rec.Status), rec.IsPublic, rec.Location,
			cols[0], cols[1], cols[2], cols[3], cols[4], cols[5], cols[6],
			repository.EncodeStrings(rec.FileHashes), rec.DataHash, rec.BlockchainHash,
			rec.Version, rec.UpdatedAt, rec.ID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("apply transition: %w", mapWriteErr(err))
		}
		if err := checkApplied(ctx, tx, tag, rec.ID); err != nil {
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

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func checkApplied(ctx context.Context, q rowQuerier, tag pgconn.CommandTag, id string) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM records WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check record existence: %w", err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}

func (r *RecordRepository) List(ctx context.Context, opts record.ListRecordsOptions) ([]record.Summary, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Status != nil {
		conditions = append(conditions, "status = "+arg(string(*opts.Status)))
	}
	if opts.SourceType != nil {
		conditions = append(conditions, "source_type = "+arg(string(*opts.SourceType)))
	}
	if opts.Stage != nil {
		conditions = append(conditions, "current_stage = "+arg(string(*opts.Stage)))
	}
	if opts.OwnerID != "" {
		conditions = append(conditions, "owner_id = "+arg(opts.OwnerID))
	}
	if opts.PublicOnly {
		conditions = append(conditions, "is_public")
	}

	query := `SELECT ` + summaryColumns + ` FROM records`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	if opts.Limit > 0 {
		query += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		query += " OFFSET " + arg(opts.Offset)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	summaries := []record.Summary{}
	for rows.Next() {
		var s record.Summary
		if err := rows.Scan(&s.ID, &s.BatchCode, &s.ProductName, &s.Species, &s.SourceType,
			&s.CurrentStage, &s.Status, &s.IsPublic, &s.OwnerID, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		s.UpdatedAt = s.UpdatedAt.UTC()
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *RecordRepository) ExpireStale(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		UPDATE records
		SET status = $1, version = version + 1, updated_at = $2
		WHERE status = $3 AND updated_at < $4
		RETURNING id`,
		string(record.StatusExpired), now, string(record.StatusActive), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("expire records: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect expired ids: %w", err)
	}
	return ids, nil
}

func (r *RecordRepository) SetBlockchainHash(ctx context.Context, id, dataHash, ledgerRef string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE records SET blockchain_hash = $1 WHERE id = $2 AND data_hash = $3`,
		ledgerRef, id, dataHash)
	if err != nil {
		return false, fmt.Errorf("set blockchain hash: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	if err := checkApplied(ctx, r.db.Pool, tag, id); errors.Is(err, repository.ErrNotFound) {
		return false, err
	}
	return false, nil
}

func insertHistory(ctx context.Context, tx pgx.Tx, e *record.StageHistoryEntry) error {
	var data *string
	if len(e.Data) > 0 {
		s := string(e.Data)
		data = &s
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO stage_history (id, record_id, seq, stage, timestamp, actor_id, location, notes, data, file_hashes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.RecordID, e.Seq, string(e.Stage), e.Timestamp, e.ActorID, e.Location, e.Notes,
		data, repository.EncodeStrings(e.FileHashes),
	)
	if err != nil {
		return fmt.Errorf("append history: %w", mapWriteErr(err))
	}
	return nil
}

func scanRecord(row pgx.Row) (*record.Record, error) {
	var (
		rec    record.Record
		cols   repository.PayloadColumns
		hashes string
	)
	err := row.Scan(
		&rec.ID, &rec.BatchCode, &rec.ProductName, &rec.Species, &rec.SourceType, &rec.InitialStage,
		&rec.CurrentStage, &rec.Status, &rec.IsPublic, &rec.OwnerID, &rec.Location,
		&cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5], &cols[6],
		&hashes, &rec.DataHash, &rec.BlockchainHash, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if rec.Payloads, err = repository.DecodePayloads(cols); err != nil {
		return nil, err
	}
	if rec.FileHashes, err = repository.DecodeStrings(hashes); err != nil {
		return nil, err
	}
	return &rec, nil
}
