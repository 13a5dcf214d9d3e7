package postgres

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/tracceaqua/tracceaqua/internal/domain/record"
)

const searchDocument = `to_tsvector('simple', r.batch_code || ' ' || r.product_name || ' ' || r.species)`

// SearchRepository implements record.SearchRepository with Postgres text
// search.
type SearchRepository struct {
	db *DB
}

func NewSearchRepository(db *DB) *SearchRepository {
	return &SearchRepository{db: db}
}

// tsQuery turns free text into an AND of prefix terms. Characters other than
// letters and digits split terms so no tsquery operator survives.
func tsQuery(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, strings.ToLower(w)+":*")
	}
	return strings.Join(terms, " & ")
}

func (r *SearchRepository) Search(ctx context.Context, query string, opts record.SearchOptions) ([]record.SearchResult, error) {
	expr := tsQuery(query)
	if expr == "" {
		return []record.SearchResult{}, nil
	}

	args := []any{expr}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sqlQuery := `
		SELECT
			r.id, r.batch_code, r.product_name, r.species, r.source_type, r.current_stage,
			r.status, r.is_public, r.owner_id, r.updated_at,
			ts_rank(` + searchDocument + `, q) AS score,
			ts_headline('simple', r.batch_code || ' ' || r.product_name || ' ' || r.species, q,
				'StartSel=[, StopSel=], MaxWords=12, MinWords=3') AS snippet
		FROM records r, to_tsquery('simple', $1) q
		WHERE ` + searchDocument + ` @@ q`

	if len(opts.Statuses) > 0 {
		statuses := make([]string, len(opts.Statuses))
		for i, s := range opts.Statuses {
			statuses[i] = string(s)
		}
		sqlQuery += " AND r.status = ANY(" + arg(statuses) + ")"
	}
	if opts.PublicOnly {
		sqlQuery += " AND r.is_public"
	}
	sqlQuery += " ORDER BY score DESC, r.id"
	if opts.Limit > 0 {
		sqlQuery += " LIMIT " + arg(opts.Limit)
	}
	if opts.Offset > 0 {
		sqlQuery += " OFFSET " + arg(opts.Offset)
	}

	rows, err := r.db.Pool.Query(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	results := []record.SearchResult{}
	for rows.Next() {
		var (
			result record.SearchResult
			score  float32
		)
		s := &result.Record
		if err := rows.Scan(&s.ID, &s.BatchCode, &s.ProductName, &s.Species, &s.SourceType, &s.CurrentStage,
			&s.Status, &s.IsPublic, &s.OwnerID, &s.UpdatedAt, &score, &result.Snippet); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		s.UpdatedAt = s.UpdatedAt.UTC()
		result.Rank = float64(score)
		results = append(results, result)
	}
	return results, rows.Err()
}
