package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches the generated laws.fts column with plainto_tsquery, ranks
// with ts_rank and builds snippets with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit, offset := normalizePage(q)

	tsQuery := "plainto_tsquery('simple', $1)"
	where := []string{"l.fts @@ " + tsQuery}
	args := []any{q.Text}
	if q.LanguageID != 0 {
		args = append(args, q.LanguageID)
		where = append(where, fmt.Sprintf("l.language_id = $%d", len(args)))
	}
	if q.GroupID != 0 {
		args = append(args, q.GroupID)
		where = append(where, fmt.Sprintf("l.group_id = $%d", len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	countSQL := `SELECT count(*) FROM laws l WHERE ` + whereSQL
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT l.id, l.group_id, l.language_id, l.law_code, l.plain_title,
			ts_headline('simple', l.plain_description, %s, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			g.title
		FROM laws l
		JOIN law_groups g ON g.id = l.group_id
		WHERE %s
		ORDER BY ts_rank(l.fts, %s) DESC, l.id
		LIMIT %d OFFSET %d`, tsQuery, whereSQL, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.GroupID, &r.LanguageID, &r.LawCode, &r.Title, &r.Snippet, &r.GroupTitle); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}
