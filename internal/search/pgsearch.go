package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch is the Postgres fallback: full-text match over item names and
// text cells, plus ILIKE so partial words still hit.
type PgSearch struct {
	db *sql.DB
}

func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

const itemMatch = `(
	to_tsvector('simple', i.name) @@ plainto_tsquery('simple', $1)
	OR i.name ILIKE $2
	OR EXISTS (
		SELECT 1 FROM cell_values cv
		WHERE cv.item_id = i.id
		AND (to_tsvector('simple', COALESCE(cv.text_value, '')) @@ plainto_tsquery('simple', $1)
			OR cv.text_value ILIKE $2)
	)
)`

func (p *PgSearch) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	args := []any{q.Text, "%" + escapeLike(q.Text) + "%"}
	where := itemMatch
	if q.BoardID != 0 {
		where += " AND i.board_id = $3"
		args = append(args, q.BoardID)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM board_items i WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgsearch count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT i.id, i.board_id, i.name,
			COALESCE((SELECT string_agg(cv.text_value, ' ' ORDER BY cv.column_id)
				FROM cell_values cv WHERE cv.item_id = i.id AND cv.text_value <> ''), '')
		FROM board_items i
		WHERE %s
		ORDER BY i.board_id, i.position, i.id
		LIMIT %d OFFSET %d`, where, q.limit(), offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgsearch query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ItemID, &r.BoardID, &r.Name, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgsearch scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
