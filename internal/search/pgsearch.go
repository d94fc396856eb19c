package search

import (
	"database/sql"
	"fmt"
	"strings"
)

// PgSearch implements Searcher over the library_panel table as a fallback.
type PgSearch struct {
	db *sql.DB
}

// NewPgSearch creates a Postgres-backed panel searcher.
func NewPgSearch(db *sql.DB) *PgSearch {
	return &PgSearch{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgSearch) Healthy() bool {
	return true
}

// Search matches panel names case-insensitively. An empty query lists panels.
func (p *PgSearch) Search(q Query) ([]Result, int, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "org_id = $1"
	args := []any{q.OrgID}
	argN := 2

	if strings.TrimSpace(q.Text) != "" {
		where += fmt.Sprintf(" AND name ILIKE '%%' || $%d || '%%'", argN)
		args = append(args, strings.TrimSpace(q.Text))
		argN++
	}
	if q.FolderID != 0 {
		where += fmt.Sprintf(" AND folder_id = $%d", argN)
		args = append(args, q.FolderID)
		argN++
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM library_panel WHERE " + where
	if err := p.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count panel search: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT uid, name, COALESCE(model->>'type', ''), folder_id
		FROM library_panel
		WHERE %s
		ORDER BY name ASC
		LIMIT %d OFFSET %d
	`, where, limit, offset)
	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("panel search: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var item Result
		if err := rows.Scan(&item.UID, &item.Name, &item.Type, &item.FolderID); err != nil {
			return nil, 0, fmt.Errorf("scan panel search row: %w", err)
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate panel search rows: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every panel for reindexing into Meilisearch.
func (p *PgSearch) LoadAllRecords() ([]PanelRecord, error) {
	rows, err := p.db.Query(`
		SELECT uid, name, COALESCE(model->>'type', ''), org_id, folder_id
		FROM library_panel
	`)
	if err != nil {
		return nil, fmt.Errorf("load panel records: %w", err)
	}
	defer rows.Close()

	records := make([]PanelRecord, 0)
	for rows.Next() {
		var item PanelRecord
		if err := rows.Scan(&item.UID, &item.Name, &item.Type, &item.OrgID, &item.FolderID); err != nil {
			return nil, fmt.Errorf("scan panel record: %w", err)
		}
		records = append(records, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate panel records: %w", err)
	}
	return records, nil
}
