package postgres

import (
	"context"
	"os"
	"testing"

	"snapgram/internal/backend/backendtest"
	"snapgram/internal/db"
)

func TestDocumentsContract(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.OpenPostgres(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	docs := New(pool)
	if err := docs.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}
	backendtest.RunDocuments(t, docs)
}

func TestColumnBindsAttributeNames(t *testing.T) {
	b := &builder{}
	got := b.column("d", "caption'; DROP TABLE documents; --")
	if got != "(d.data ->> $1::text)" {
		t.Errorf("column = %s", got)
	}
	if len(b.args) != 1 {
		t.Errorf("args = %v", b.args)
	}
	if got := b.column("c", "$updatedAt"); got != "c.updated_at" {
		t.Errorf("reserved column = %s", got)
	}
}
