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

// Search queries the consultations search_vector column with
// plainto_tsquery and ts_rank, using ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	const countSQL = `
		SELECT count(*)
		FROM consultations
		WHERE search_vector @@ plainto_tsquery('simple', $1)
	`
	var total int
	if err := p.db.QueryRow(countSQL, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id, title,
			ts_headline('simple', coalesce(description, ''), plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			status
		FROM consultations
		WHERE search_vector @@ plainto_tsquery('simple', $1)
		ORDER BY ts_rank(search_vector, plainto_tsquery('simple', $1)) DESC
		LIMIT %d OFFSET %d`, limit, offset)

	rows, err := p.db.Query(dataSQL, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts rows: %w", err)
	}

	return results, total, nil
}

// LoadAllRecords reads every consultation for bulk reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ConsultationRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, title, description, status FROM consultations`)
	if err != nil {
		return nil, fmt.Errorf("load consultations: %w", err)
	}
	defer rows.Close()

	var records []ConsultationRecord
	for rows.Next() {
		var r ConsultationRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Status); err != nil {
			return nil, fmt.Errorf("scan consultation record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
