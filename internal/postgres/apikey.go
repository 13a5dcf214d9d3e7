package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tracceaqua/tracceaqua/internal/access"
	"github.com/tracceaqua/tracceaqua/internal/repository"
)

// APIKeyRepository implements access.KeyStore for Postgres.
type APIKeyRepository struct {
	db *DB
}

func NewAPIKeyRepository(db *DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) CreateKey(ctx context.Context, key *access.APIKey) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO api_keys (key_hash, actor_id, role, description, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		key.Hash, key.ActorID, string(key.Role), key.Description, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", mapWriteErr(err))
	}
	return nil
}

func (r *APIKeyRepository) LookupKey(ctx context.Context, hash string) (*access.APIKey, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT key_hash, actor_id, role, description, created_at, last_used
		FROM api_keys WHERE key_hash = $1`, hash)
	key, err := scanKey(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("look up api key: %w", err)
	}
	return &key, nil
}

func (r *APIKeyRepository) TouchKey(ctx context.Context, hash string, at time.Time) error {
	if _, err := r.db.Pool.Exec(ctx, `UPDATE api_keys SET last_used = $1 WHERE key_hash = $2`, at, hash); err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepository) ListKeys(ctx context.Context) ([]access.APIKey, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT key_hash, actor_id, role, description, created_at, last_used
		FROM api_keys ORDER BY created_at, key_hash`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := []access.APIKey{}
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (r *APIKeyRepository) RevokeKey(ctx context.Context, hash string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM api_keys WHERE key_hash = $1`, hash)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanKey(row pgx.Row) (access.APIKey, error) {
	var key access.APIKey
	if err := row.Scan(&key.Hash, &key.ActorID, &key.Role, &key.Description, &key.CreatedAt, &key.LastUsed); err != nil {
		return key, err
	}
	key.CreatedAt = key.CreatedAt.UTC()
	if key.LastUsed != nil {
		t := key.LastUsed.UTC()
		key.LastUsed = &t
	}
	return key, nil
}
