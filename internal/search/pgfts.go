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

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. Without Postgres the API is down anyway.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks passages with plainto_tsquery and ts_rank and builds
// snippets with ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT ps.id, ps.document_id, d.title, ps.heading,
			ts_headline('english', ps.body, query, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>') AS snippet,
			ts_rank(ps.fts, query) AS rank
		FROM passages ps
		JOIN documents d ON d.id = ps.document_id,
			plainto_tsquery('english', $1) query
		WHERE ps.fts @@ query AND ($2 = '' OR ps.document_id <> $2)
		ORDER BY rank DESC
		LIMIT $3
	`, q.Text, q.ExcludeDocumentID, limit)
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Title, &r.Heading, &r.Snippet, &r.Score); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// LoadAllRecords returns every passage for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PassageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT ps.id, ps.document_id, d.title, ps.heading, ps.body, ps.position
		FROM passages ps
		JOIN documents d ON d.id = ps.document_id
		ORDER BY ps.document_id, ps.position
	`)
	if err != nil {
		return nil, fmt.Errorf("load passages: %w", err)
	}
	defer rows.Close()

	records := make([]PassageRecord, 0)
	for rows.Next() {
		var r PassageRecord
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Title, &r.Heading, &r.Body, &r.Position); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passages: %w", err)
	}
	return records, nil
}
