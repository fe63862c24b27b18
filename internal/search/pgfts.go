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

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across clients and notes using
// plainto_tsquery and ts_rank, with ts_headline for snippets. Every
// sub-query is scoped to the requester's active assignments.
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

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.CaseManagerID}
	argN := 3

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultClient {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'client'::text AS type, c.id, c.name AS title,
				ts_headline('english', coalesce(c.insurance, '') || ' ' || coalesce(c.external_id, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.id AS client_id,
				ts_rank(c.fts, %s) AS rank
			FROM clients c
			WHERE c.fts @@ %s
			  AND EXISTS (
				SELECT 1 FROM assignments a
				WHERE a.client_id = c.id AND a.case_manager_id = $2 AND NOT a.archived
			  )`, tsQuery, tsQuery, tsQuery))
	}

	if q.FilterType == "" || q.FilterType == ResultNote {
		noteWhere := `n.fts @@ ` + tsQuery + `
			  AND EXISTS (
				SELECT 1 FROM assignments a
				WHERE a.client_id = n.client_id AND a.case_manager_id = $2 AND NOT a.archived
			  )`
		if q.FilterClientID != "" {
			noteWhere += fmt.Sprintf(" AND n.client_id = $%d", argN)
			args = append(args, q.FilterClientID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id, c.name AS title,
				ts_headline('english', n.text, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				n.client_id,
				ts_rank(n.fts, %s) AS rank
			FROM notes n
			JOIN clients c ON c.id = n.client_id
			WHERE %s`, tsQuery, tsQuery, noteWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, client_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ClientID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
// Assignment lists are denormalized onto each record so Meilisearch can
// filter by case manager without a join.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ClientRecord, []NoteRecord, error) {
	assignRows, err := p.db.QueryContext(ctx, `
		SELECT client_id, case_manager_id FROM assignments WHERE NOT archived
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load assignments: %w", err)
	}
	defer assignRows.Close()

	managersByClient := make(map[string][]string)
	for assignRows.Next() {
		var clientID, caseManagerID string
		if err := assignRows.Scan(&clientID, &caseManagerID); err != nil {
			return nil, nil, fmt.Errorf("scan assignment: %w", err)
		}
		managersByClient[clientID] = append(managersByClient[clientID], caseManagerID)
	}
	if err := assignRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate assignments: %w", err)
	}

	clientRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, coalesce(external_id, ''), insurance FROM clients
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load clients: %w", err)
	}
	defer clientRows.Close()

	clients := make([]ClientRecord, 0)
	for clientRows.Next() {
		var c ClientRecord
		if err := clientRows.Scan(&c.ID, &c.Name, &c.ExternalID, &c.Insurance); err != nil {
			return nil, nil, fmt.Errorf("scan client: %w", err)
		}
		c.CaseManagerIDs = managersByClient[c.ID]
		clients = append(clients, c)
	}
	if err := clientRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate clients: %w", err)
	}

	noteRows, err := p.db.QueryContext(ctx, `
		SELECT n.id, n.text, n.client_id, c.name
		FROM notes n
		JOIN clients c ON c.id = n.client_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load notes: %w", err)
	}
	defer noteRows.Close()

	notes := make([]NoteRecord, 0)
	for noteRows.Next() {
		var n NoteRecord
		if err := noteRows.Scan(&n.ID, &n.Text, &n.ClientID, &n.ClientName); err != nil {
			return nil, nil, fmt.Errorf("scan note: %w", err)
		}
		n.CaseManagerIDs = managersByClient[n.ClientID]
		notes = append(notes, n)
	}
	if err := noteRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate notes: %w", err)
	}

	return clients, notes, nil
}
