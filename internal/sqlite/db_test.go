package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

// NewTestDB creates a migrated in-memory SQLite database for testing
func NewTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(":memory:")
	require.NoError(t, err, "failed to open test database")

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

var baseTime = time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

func newTestRecord(id, batch string) *record.Record {
	return &record.Record{
		ID:           id,
		BatchCode:    batch,
		ProductName:  "Atlantic Cod Fillet",
		Species:      "Gadus morhua",
		SourceType:   stage.SourceWildCapture,
		InitialStage: stage.Fishing,
		CurrentStage: stage.Fishing,
		Status:       record.StatusActive,
		OwnerID:      "fisher-1",
		Location:     "North Sea",
		Payloads: stage.Payloads{Fishing: &stage.FishingData{
			VesselID:    "V-42",
			FishingArea: "FAO 27",
			CatchMethod: "longline",
			CatchDate:   "2024-02-28",
			Species:     "Gadus morhua",
			TotalWeight: 1200,
		}},
		FileHashes: []string{"sha256:aa"},
		DataHash:   "hash-1",
		Version:    1,
		CreatedAt:  baseTime,
		UpdatedAt:  baseTime,
		History:    []record.StageHistoryEntry{},
	}
}

func createTestRecord(t *testing.T, db *DB, id, batch string) *record.Record {
	t.Helper()
	rec := newTestRecord(id, batch)
	job := anchor.NewJob("job-"+id, id, rec.DataHash, baseTime)
	require.NoError(t, NewRecordRepository(db).Create(context.Background(), rec, job))
	return rec
}

func TestMigrations(t *testing.T) {
	db := NewTestDB(t)

	tables := []string{
		"records",
		"stage_history",
		"anchor_jobs",
		"activity_log",
		"records_fts",
		"api_keys",
		"schema_migrations",
	}

	for _, table := range tables {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err, "failed to query table %s", table)
		require.Equal(t, 1, count, "table %s not found", table)
	}

	require.NoError(t, CheckMigrationStatus(db.DB))
	require.NoError(t, MigrateUp(db.DB), "second run must be a no-op")
}

func TestCheckMigrationStatus_FreshDatabase(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	err = CheckMigrationStatus(db.DB)
	require.Error(t, err)
	require.Contains(t, err.Error(), "needs migration")
}

func TestForeignKeys(t *testing.T) {
	db := NewTestDB(t)

	var enabled int
	err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled)
	require.NoError(t, err)
	require.Equal(t, 1, enabled, "foreign keys not enabled")

	_, err = db.Exec(`INSERT INTO stage_history (id, record_id, seq, stage, timestamp, actor_id)
		VALUES ('h1', 'missing', 1, 'HARVEST', ?, 'a')`, baseTime)
	require.Error(t, err)
}

func TestRecordsTable_SourceConstraints(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()

	rec := newTestRecord("r1", "B-1")
	rec.Hatchery = &stage.HatcheryData{Species: "x", EggCount: 1, SpawningDate: "2024-01-01", FeedType: "f"}
	err := NewRecordRepository(db).Create(ctx, rec, nil)
	require.Error(t, err, "wild capture record must not carry hatchery data")
}

func TestFTSIndex(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	createTestRecord(t, db, "r1", "COD-001")

	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records_fts WHERE records_fts MATCH ?`, "fillet").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = db.ExecContext(ctx, `UPDATE records SET product_name = ? WHERE id = ?`, "Haddock Loin", "r1")
	require.NoError(t, err)

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records_fts WHERE records_fts MATCH ?`, "haddock").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records_fts WHERE records_fts MATCH ?`, "fillet").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestDSN(t *testing.T) {
	mem := DSN(":memory:")
	require.Contains(t, mem, "file::memory:?")
	require.NotContains(t, mem, "journal_mode")

	file := DSN("/tmp/trace.db")
	require.Contains(t, file, "journal_mode%28WAL%29")
	require.Contains(t, file, "_txlock=immediate")
}
