package search

import (
	"context"
	"database/sql"
	"log"
	"strings"

	"localehub/api/internal/content"
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

// Search runs plainto_tsquery over public files, ranking with ts_rank and
// producing snippets with ts_headline.
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

	const where = `f.is_public AND f.fts @@ plainto_tsquery('english', $1)`

	var total int
	countSQL := `SELECT count(*) FROM files f JOIN users u ON u.id = f.owner_id WHERE ` + where
	if err := p.db.QueryRow(countSQL, q.Text).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT f.id, f.name, u.display_name,
			ts_headline('english', f.name, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM files f
		JOIN users u ON u.id = f.owner_id
		WHERE ` + where + `
		ORDER BY ts_rank(f.fts, plainto_tsquery('english', $1)) DESC, f.updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := p.db.Query(dataSQL, q.Text, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.OwnerName, &r.Snippet); err != nil {
			return nil, 0, err
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords reads every public file for a full reindex into Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]FileRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT f.id, f.name, u.display_name, f.content
		FROM files f
		JOIN users u ON u.id = f.owner_id
		WHERE f.is_public`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []FileRecord
	for rows.Next() {
		var rec FileRecord
		var raw string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.OwnerName, &raw); err != nil {
			return nil, err
		}
		if catalog, err := content.ParseCatalog(raw); err == nil {
			rec.Languages = catalog.Languages()
		} else {
			log.Printf("search: reindex parse %s: %v", rec.ID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
