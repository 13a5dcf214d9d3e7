package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/access"
	"github.com/tracceaqua/tracceaqua/internal/repository"
)

// APIKeyRepository implements access.KeyStore for SQLite
type APIKeyRepository struct {
	db *DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) CreateKey(ctx context.Context, key *access.APIKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO api_keys (key_hash, actor_id, role, description, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		key.Hash, key.ActorID, key.Role, key.Description, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", mapWriteErr(err))
	}
	return nil
}

func (r *APIKeyRepository) LookupKey(ctx context.Context, hash string) (*access.APIKey, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT key_hash, actor_id, role, description, created_at, last_used
		FROM api_keys WHERE key_hash = ?`, hash)
	key, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	return &key, nil
}

func (r *APIKeyRepository) TouchKey(ctx context.Context, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used = ? WHERE key_hash = ?`, at, hash)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepository) ListKeys(ctx context.Context) ([]access.APIKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key_hash, actor_id, role, description, created_at, last_used
		FROM api_keys ORDER BY created_at, key_hash`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := []access.APIKey{}
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepository) RevokeKey(ctx context.Context, hash string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE key_hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
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

func scanKey(row scanner) (access.APIKey, error) {
	var (
		key      access.APIKey
		lastUsed sql.NullTime
	)
	if err := row.Scan(&key.Hash, &key.ActorID, &key.Role, &key.Description, &key.CreatedAt, &lastUsed); err != nil {
		return key, err
	}
	key.CreatedAt = key.CreatedAt.UTC()
	if lastUsed.Valid {
		t := lastUsed.Time.UTC()
		key.LastUsed = &t
	}
	return key, nil
}
