package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracceaqua/tracceaqua/internal/domain/record"
)

func TestSearchRepository_Search(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	repo := NewRecordRepository(db)

	createTestRecord(t, db, "r1", "COD-001")
	shrimp := newTestRecord("r2", "SHR-777")
	shrimp.ProductName = "Tiger Prawn"
	shrimp.Species = "Penaeus monodon"
	shrimp.IsPublic = true
	require.NoError(t, repo.Create(ctx, shrimp, nil))

	search := NewSearchRepository(db)

	results, err := search.Search(ctx, "cod fil", record.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "r1", results[0].Record.ID)
	require.Contains(t, results[0].Snippet, "[")

	results, err = search.Search(ctx, "penaeus", record.SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "SHR-777", results[0].Record.BatchCode)

	results, err = search.Search(ctx, "fillet", record.SearchOptions{PublicOnly: true})
	require.NoError(t, err)
	require.Empty(t, results)

	results, err = search.Search(ctx, "prawn", record.SearchOptions{Statuses: []record.Status{record.StatusRecalled}})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchRepository_QuotesSyntax(t *testing.T) {
	db := NewTestDB(t)
	createTestRecord(t, db, "r1", "COD-001")

	results, err := NewSearchRepository(db).Search(context.Background(), `cod" OR NOT (`, record.SearchOptions{})
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestMatchExpression(t *testing.T) {
	require.Equal(t, `"cod"* "fillet"*`, matchExpression("  cod   fillet "))
	require.Equal(t, `"a""b"*`, matchExpression(`a"b`))
	require.Empty(t, matchExpression("   "))
}

func TestMatchExpression_DropsPunctuation(t *testing.T) {
	require.Equal(t, `"cod"*`, matchExpression("cod ( -"))
}
