// Package postgres stores backend documents as JSONB rows, one table for
// every database and collection.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"snapgram/internal/backend"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	database_id   TEXT NOT NULL,
	collection_id TEXT NOT NULL,
	id            TEXT NOT NULL,
	seq           BIGSERIAL,
	data          JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	PRIMARY KEY (database_id, collection_id, id)
);
CREATE INDEX IF NOT EXISTS documents_updated_idx ON documents (database_id, collection_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS documents_created_idx ON documents (database_id, collection_id, created_at DESC);
`

// DB is the part of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Documents struct {
	db DB
}

var _ backend.Documents = (*Documents)(nil)

func New(db DB) *Documents {
	return &Documents{db: db}
}

// EnsureSchema creates the documents table if it is missing.
func (s *Documents) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Documents) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (*backend.Document, error) {
	if documentID == "" {
		documentID = backend.UniqueID()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	d := backend.Document{ID: documentID, DatabaseID: databaseID, CollectionID: collectionID}
	err = s.db.QueryRow(ctx, `
		INSERT INTO documents (database_id, collection_id, id, data)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING data, created_at, updated_at`,
		databaseID, collectionID, documentID, payload,
	).Scan(&d.Data, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("document %s: %w", documentID, backend.ErrConflict)
		}
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return &d, nil
}

func (s *Documents) GetDocument(ctx context.Context, databaseID, collectionID, documentID string) (*backend.Document, error) {
	d := backend.Document{ID: documentID, DatabaseID: databaseID, CollectionID: collectionID}
	err := s.db.QueryRow(ctx, `
		SELECT data, created_at, updated_at FROM documents
		WHERE database_id = $1 AND collection_id = $2 AND id = $3`,
		databaseID, collectionID, documentID,
	).Scan(&d.Data, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", documentID, backend.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &d, nil
}

// UpdateDocument merges data into the stored attributes.
func (s *Documents) UpdateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (*backend.Document, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	d := backend.Document{ID: documentID, DatabaseID: databaseID, CollectionID: collectionID}
	err = s.db.QueryRow(ctx, `
		UPDATE documents SET data = data || $4::jsonb, updated_at = clock_timestamp()
		WHERE database_id = $1 AND collection_id = $2 AND id = $3
		RETURNING data, created_at, updated_at`,
		databaseID, collectionID, documentID, payload,
	).Scan(&d.Data, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", documentID, backend.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return &d, nil
}

func (s *Documents) DeleteDocument(ctx context.Context, databaseID, collectionID, documentID string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM documents WHERE database_id = $1 AND collection_id = $2 AND id = $3`,
		databaseID, collectionID, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", documentID, backend.ErrNotFound)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// builder collects SQL conditions and their positional arguments.
type builder struct {
	where []string
	args  []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// column returns the SQL expression for an attribute on table alias t.
// Attribute names are bound as parameters, never spliced in.
func (b *builder) column(t, attr string) string {
	switch attr {
	case backend.AttrID:
		return t + ".id"
	case backend.AttrCreatedAt:
		return t + ".created_at"
	case backend.AttrUpdatedAt:
		return t + ".updated_at"
	}
	return fmt.Sprintf("(%s.data ->> %s::text)", t, b.arg(attr))
}

func (b *builder) filter(q backend.Query) {
	switch q.Method {
	case backend.MethodEqual:
		vals := make([]string, len(q.Values))
		for i, v := range q.Values {
			vals[i] = fmt.Sprint(v)
		}
		col := b.column("d", q.Attribute)
		if q.Attribute == backend.AttrCreatedAt || q.Attribute == backend.AttrUpdatedAt {
			col = col + "::text"
		}
		b.where = append(b.where, fmt.Sprintf("%s = ANY(%s)", col, b.arg(vals)))
	case backend.MethodContains:
		b.where = append(b.where, fmt.Sprintf("(d.data -> %s::text) @> jsonb_build_array(%s::text)",
			b.arg(q.Attribute), b.arg(fmt.Sprint(q.Values[0]))))
	case backend.MethodSearch:
		term, _ := q.Values[0].(string)
		words := strings.Fields(term)
		if len(words) == 0 {
			b.where = append(b.where, "FALSE")
			return
		}
		for _, w := range words {
			b.where = append(b.where, fmt.Sprintf("%s ILIKE '%%' || %s::text || '%%'", b.column("d", q.Attribute), b.arg(likeEscaper.Replace(w))))
		}
	}
}

func (s *Documents) ListDocuments(ctx context.Context, databaseID, collectionID string, queries ...backend.Query) (*backend.DocumentList, error) {
	plan, err := backend.Compile(queries)
	if err != nil {
		return nil, err
	}

	b := &builder{}
	b.where = append(b.where,
		"d.database_id = "+b.arg(databaseID),
		"d.collection_id = "+b.arg(collectionID),
	)
	for _, f := range plan.Filters {
		b.filter(f)
	}

	order := "d.seq ASC"
	if plan.OrderBy != "" {
		dir := "ASC"
		if plan.Descending {
			dir = "DESC"
		}
		order = fmt.Sprintf("%s %s, d.seq ASC", b.column("d", plan.OrderBy), dir)
	}

	if plan.CursorAfter != "" {
		var exists bool
		err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE database_id = $1 AND collection_id = $2 AND id = $3)`,
			databaseID, collectionID, plan.CursorAfter).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("cursor lookup: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("cursor %s: %w", plan.CursorAfter, backend.ErrNotFound)
		}

		cur := fmt.Sprintf("(SELECT %%s FROM documents c WHERE c.database_id = d.database_id AND c.collection_id = d.collection_id AND c.id = %s)",
			b.arg(plan.CursorAfter))
		curSeq := fmt.Sprintf(cur, "c.seq")
		if plan.OrderBy == "" {
			b.where = append(b.where, "d.seq > "+curSeq)
		} else {
			op := ">"
			if plan.Descending {
				op = "<"
			}
			mine := b.column("d", plan.OrderBy)
			theirs := fmt.Sprintf(cur, b.column("c", plan.OrderBy))
			b.where = append(b.where, fmt.Sprintf("(%s %s %s OR (%s = %s AND d.seq > %s))", mine, op, theirs, mine, theirs, curSeq))
		}
	}

	sql := fmt.Sprintf(`
		SELECT d.id, d.data, d.created_at, d.updated_at, COUNT(*) OVER ()
		FROM documents d
		WHERE %s
		ORDER BY %s
		LIMIT %s`, strings.Join(b.where, " AND "), order, b.arg(plan.Limit))

	rows, err := s.db.Query(ctx, sql, b.args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	list := &backend.DocumentList{Documents: []backend.Document{}}
	for rows.Next() {
		d := backend.Document{DatabaseID: databaseID, CollectionID: collectionID}
		var total int64
		var created, updated time.Time
		if err := rows.Scan(&d.ID, &d.Data, &created, &updated, &total); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.CreatedAt, d.UpdatedAt = created.UTC(), updated.UTC()
		list.Total = int(total)
		list.Documents = append(list.Documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return list, nil
}
