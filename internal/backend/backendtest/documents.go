// Package backendtest holds the behaviour every backend.Documents
// implementation must share, run from each implementation's tests.
package backendtest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"snapgram/internal/backend"
)

// RunDocuments exercises docs against a fresh database id.
func RunDocuments(t *testing.T, docs backend.Documents) {
	t.Helper()
	ctx := context.Background()
	db := "test_" + backend.UniqueID()[:12]

	t.Run("CreateGetUpdateDelete", func(t *testing.T) {
		d, err := docs.CreateDocument(ctx, db, "posts", "", map[string]any{"caption": "hello", "tags": []string{"a", "b"}})
		if err != nil {
			t.Fatal(err)
		}
		if d.ID == "" || d.CreatedAt.IsZero() {
			t.Fatalf("created = %+v", d)
		}
		if _, err := docs.CreateDocument(ctx, db, "posts", d.ID, nil); !errors.Is(err, backend.ErrConflict) {
			t.Errorf("duplicate id: err = %v", err)
		}

		got, err := docs.GetDocument(ctx, db, "posts", d.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.String("caption") != "hello" {
			t.Errorf("caption = %q", got.String("caption"))
		}

		time.Sleep(2 * time.Millisecond)
		up, err := docs.UpdateDocument(ctx, db, "posts", d.ID, map[string]any{"caption": "bye"})
		if err != nil {
			t.Fatal(err)
		}
		if up.String("caption") != "bye" || up.Data["tags"] == nil {
			t.Errorf("updated = %+v", up.Data)
		}
		if !up.UpdatedAt.After(d.UpdatedAt) {
			t.Errorf("updatedAt did not move: %v -> %v", d.UpdatedAt, up.UpdatedAt)
		}

		if err := docs.DeleteDocument(ctx, db, "posts", d.ID); err != nil {
			t.Fatal(err)
		}
		if _, err := docs.GetDocument(ctx, db, "posts", d.ID); !errors.Is(err, backend.ErrNotFound) {
			t.Errorf("get after delete: err = %v", err)
		}
		if err := docs.DeleteDocument(ctx, db, "posts", d.ID); !errors.Is(err, backend.ErrNotFound) {
			t.Errorf("second delete: err = %v", err)
		}
	})

	t.Run("ListCursorPagination", func(t *testing.T) {
		const n = 7
		for i := 0; i < n; i++ {
			_, err := docs.CreateDocument(ctx, db, "feed", fmt.Sprintf("p%02d", i), map[string]any{"caption": fmt.Sprintf("post %d", i)})
			if err != nil {
				t.Fatal(err)
			}
			time.Sleep(2 * time.Millisecond)
		}

		var seen []string
		cursor := ""
		for page := 0; page < 10; page++ {
			qs := []backend.Query{backend.OrderDesc(backend.AttrUpdatedAt), backend.Limit(3)}
			if cursor != "" {
				qs = append(qs, backend.CursorAfter(cursor))
			}
			list, err := docs.ListDocuments(ctx, db, "feed", qs...)
			if err != nil {
				t.Fatal(err)
			}
			if len(list.Documents) == 0 {
				break
			}
			for _, d := range list.Documents {
				seen = append(seen, d.ID)
			}
			cursor = list.Documents[len(list.Documents)-1].ID
		}
		want := []string{"p06", "p05", "p04", "p03", "p02", "p01", "p00"}
		if fmt.Sprint(seen) != fmt.Sprint(want) {
			t.Errorf("pages = %v, want %v", seen, want)
		}

		if _, err := docs.ListDocuments(ctx, db, "feed", backend.CursorAfter("missing")); !errors.Is(err, backend.ErrNotFound) {
			t.Errorf("unknown cursor: err = %v", err)
		}
	})

	t.Run("Filters", func(t *testing.T) {
		seed := []map[string]any{
			{"caption": "Sunset at the beach", "creator": "u1", "likes": []string{"u2"}},
			{"caption": "beach volleyball", "creator": "u2", "likes": []string{"u1", "u2"}},
			{"caption": "mountain sunset", "creator": "u1", "likes": []string{}},
		}
		for _, s := range seed {
			if _, err := docs.CreateDocument(ctx, db, "filtered", "", s); err != nil {
				t.Fatal(err)
			}
		}
		count := func(qs ...backend.Query) int {
			t.Helper()
			list, err := docs.ListDocuments(ctx, db, "filtered", qs...)
			if err != nil {
				t.Fatal(err)
			}
			return len(list.Documents)
		}
		if got := count(backend.Equal("creator", "u1")); got != 2 {
			t.Errorf("equal creator = %d, want 2", got)
		}
		if got := count(backend.Search("caption", "BEACH")); got != 2 {
			t.Errorf("search beach = %d, want 2", got)
		}
		if got := count(backend.Search("caption", "sunset beach")); got != 1 {
			t.Errorf("search all words = %d, want 1", got)
		}
		if got := count(backend.Contains("likes", "u1")); got != 1 {
			t.Errorf("contains = %d, want 1", got)
		}
		if got := count(backend.Search("caption", "50%")); got != 0 {
			t.Errorf("search wildcard = %d, want 0", got)
		}
	})

	t.Run("InvalidQuery", func(t *testing.T) {
		_, err := docs.ListDocuments(ctx, db, "feed", backend.Query{Method: "between"})
		if !errors.Is(err, backend.ErrInvalidQuery) {
			t.Errorf("err = %v", err)
		}
	})
}
