package sqlite

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/tracceaqua/tracceaqua/internal/domain/record"
)

// SearchRepository implements record.SearchRepository over the FTS5 index
type SearchRepository struct {
	db *DB
}

// NewSearchRepository creates a new SearchRepository
func NewSearchRepository(db *DB) *SearchRepository {
	return &SearchRepository{db: db}
}

// matchExpression turns free text into an FTS5 query of quoted prefix terms,
// so user input can never be parsed as FTS syntax.
func matchExpression(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if !strings.ContainsFunc(f, isWordRune) {
			continue
		}
		f = strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+f+`"*`)
	}
	return strings.Join(terms, " ")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Search matches batch code, product name and species.
func (r *SearchRepository) Search(ctx context.Context, query string, opts record.SearchOptions) ([]record.SearchResult, error) {
	expr := matchExpression(query)
	if expr == "" {
		return []record.SearchResult{}, nil
	}

	sqlQuery := `
		SELECT
			r.id, r.batch_code, r.product_name, r.species, r.source_type, r.current_stage,
			r.status, r.is_public, r.owner_id, r.updated_at,
			-bm25(records_fts) AS score,
			snippet(records_fts, -1, '[', ']', '...', 8) AS snippet
		FROM records_fts
		JOIN records r ON r.rowid = records_fts.rowid
		WHERE records_fts MATCH ?
	`
	args := []any{expr}

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		sqlQuery += fmt.Sprintf(" AND r.status IN (%s)", strings.Join(placeholders, ","))
	}
	if opts.PublicOnly {
		sqlQuery += " AND r.is_public = 1"
	}

	sqlQuery += " ORDER BY score DESC, r.id"

	if opts.Limit > 0 {
		sqlQuery += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			sqlQuery += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	defer rows.Close()

	results := []record.SearchResult{}
	for rows.Next() {
		var result record.SearchResult
		s := &result.Record
		if err := rows.Scan(
			&s.ID, &s.BatchCode, &s.ProductName, &s.Species, &s.SourceType, &s.CurrentStage,
			&s.Status, &s.IsPublic, &s.OwnerID, &s.UpdatedAt,
			&result.Rank,
			&result.Snippet,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		s.UpdatedAt = s.UpdatedAt.UTC()
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}

	return results, nil
}
