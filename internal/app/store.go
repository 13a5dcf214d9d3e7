package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tracceaqua/tracceaqua/internal/access"
	"github.com/tracceaqua/tracceaqua/internal/config"
	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/postgres"
	"github.com/tracceaqua/tracceaqua/internal/sqlite"
)

// JobStore is the outbox as the worker and the metrics collector see it.
type JobStore interface {
	anchor.JobRepository
	CountByStatus(ctx context.Context) (map[anchor.JobStatus]int, error)
}

// Store bundles the repositories of one database.
type Store struct {
	Records  record.RecordRepository
	Search   record.SearchRepository
	Jobs     JobStore
	Activity activity.Repository
	Keys     access.KeyStore
	close    func() error
}

// Close releases the database.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStore opens and migrates the database selected by cfg.
func OpenStore(ctx context.Context, cfg config.DBConfig) (*Store, error) {
	switch cfg.Driver {
	case "sqlite":
		if err := ensureDBDir(cfg.Path); err != nil {
			return nil, fmt.Errorf("prepare database path: %w", err)
		}
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &Store{
			Records:  sqlite.NewRecordRepository(db),
			Search:   sqlite.NewSearchRepository(db),
			Jobs:     sqlite.NewJobRepository(db),
			Activity: sqlite.NewActivityRepository(db),
			Keys:     sqlite.NewAPIKeyRepository(db),
			close:    db.Close,
		}, nil
	case "postgres":
		db, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return &Store{
			Records:  postgres.NewRecordRepository(db),
			Search:   postgres.NewSearchRepository(db),
			Jobs:     postgres.NewJobRepository(db),
			Activity: postgres.NewActivityRepository(db),
			Keys:     postgres.NewAPIKeyRepository(db),
			close:    db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.Driver)
	}
}

func ensureDBDir(path string) error {
	if path == "" || path == ":memory:" || strings.Contains(path, "mode=memory") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
