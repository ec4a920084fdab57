package appwrite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"snapgram/internal/backend"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const project = "proj1"

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{Endpoint: srv.URL + "/v1", ProjectID: project, Timeout: 5 * time.Second})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestQueryString(t *testing.T) {
	got := QueryString([]backend.Query{
		backend.OrderDesc(backend.AttrUpdatedAt),
		backend.Limit(9),
		backend.CursorAfter("abc"),
	})
	want := `queries%5B%5D=orderDesc%28%22%24updatedAt%22%29&queries%5B%5D=limit%289%29&queries%5B%5D=cursorAfter%28%22abc%22%29`
	if got != want {
		t.Errorf("QueryString =\n%s\nwant\n%s", got, want)
	}
}

func TestSessionCookieIsCapturedAndSent(t *testing.T) {
	var mu sync.Mutex
	var seenCookie string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/account/sessions/email", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Appwrite-Project") != project {
			t.Errorf("project header = %q", r.Header.Get("X-Appwrite-Project"))
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "ada@example.com" {
			t.Errorf("body = %v", body)
		}
		http.SetCookie(w, &http.Cookie{Name: "a_session_" + project, Value: "secret-1", Path: "/"})
		writeJSON(w, http.StatusCreated, map[string]any{"$id": "s1", "userId": "acc1", "expire": "2030-01-01T00:00:00.000+00:00"})
	})
	mux.HandleFunc("/v1/account", func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("a_session_" + project)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "no session", "code": 401, "type": "general_unauthorized_scope"})
			return
		}
		mu.Lock()
		seenCookie = c.Value
		mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"$id": "acc1", "name": "Ada", "email": "ada@example.com"})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	if _, err := c.Get(ctx); !errors.Is(err, backend.ErrUnauthorized) {
		t.Fatalf("before sign in: err = %v", err)
	}
	sess, err := c.CreateEmailSession(ctx, "ada@example.com", "password1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.UserID != "acc1" || sess.ExpiresAt.Year() != 2030 {
		t.Errorf("session = %+v", sess)
	}
	acc, err := c.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if acc.ID != "acc1" {
		t.Errorf("account = %+v", acc)
	}
	mu.Lock()
	defer mu.Unlock()
	if seenCookie != "secret-1" {
		t.Errorf("cookie sent = %q", seenCookie)
	}
}

func TestListDocumentsDecodes(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/databases/db/collections/posts/documents" {
			http.NotFound(w, r)
			return
		}
		qs := r.URL.Query()["queries[]"]
		if len(qs) != 2 || qs[0] != `orderDesc("$updatedAt")` || qs[1] != "limit(9)" {
			t.Errorf("queries = %v", qs)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total": 1,
			"documents": []map[string]any{{
				"$id":           "p1",
				"$collectionId": "posts",
				"$databaseId":   "db",
				"$createdAt":    "2024-05-01T10:00:00.000+00:00",
				"$updatedAt":    "2024-05-02T10:00:00.000+00:00",
				"$permissions":  []string{},
				"caption":       "hello",
				"likes":         []string{"u1"},
				"creator":       map[string]any{"$id": "u9", "name": "Ada"},
			}},
		})
	})
	c := newTestClient(t, h)

	list, err := c.ListDocuments(context.Background(), "db", "posts", backend.OrderDesc(backend.AttrUpdatedAt), backend.Limit(9))
	if err != nil {
		t.Fatal(err)
	}
	if list.Total != 1 || len(list.Documents) != 1 {
		t.Fatalf("list = %+v", list)
	}
	d := list.Documents[0]
	if d.ID != "p1" || d.CollectionID != "posts" || d.String("caption") != "hello" {
		t.Errorf("doc = %+v", d)
	}
	if d.UpdatedAt.Day() != 2 || d.CreatedAt.Day() != 1 {
		t.Errorf("timestamps = %v %v", d.CreatedAt, d.UpdatedAt)
	}
	if _, ok := d.Data["$permissions"]; ok {
		t.Error("reserved attribute leaked into data")
	}
	if _, ok := d.Data["creator"].(map[string]any); !ok {
		t.Error("expanded relationship not kept")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, backend.ErrNotFound},
		{http.StatusConflict, backend.ErrConflict},
		{http.StatusUnauthorized, backend.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]any{"message": "nope", "code": tt.status, "type": "x"})
			}))
			_, err := c.GetDocument(context.Background(), "db", "posts", "p1")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			var apiErr *Error
			if !errors.As(err, &apiErr) || apiErr.Message != "nope" {
				t.Errorf("api error = %+v", apiErr)
			}
		})
	}
}

func TestCreateFileMultipart(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/storage/buckets/media/files" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if !bytes.Equal(data, []byte("jpeg-bytes")) || hdr.Filename != "a.jpg" {
			t.Errorf("file = %q %q", hdr.Filename, data)
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"$id": r.FormValue("fileId"), "bucketId": "media", "name": hdr.Filename, "sizeOriginal": len(data),
		})
	})
	c := newTestClient(t, h)

	f, err := c.CreateFile(context.Background(), "media", "file-1", backend.Upload{
		Name: "a.jpg", ContentType: "image/jpeg", Reader: strings.NewReader("jpeg-bytes"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != "file-1" || f.SizeBytes != 10 {
		t.Errorf("file = %+v", f)
	}
}

func TestFilePreviewURL(t *testing.T) {
	c := New(Config{Endpoint: "https://cloud.example/v1/", ProjectID: project})
	got, err := c.FilePreview("media", "f1", backend.DefaultPreview)
	if err != nil {
		t.Fatal(err)
	}
	want := "https://cloud.example/v1/storage/buckets/media/files/f1/preview?gravity=top&height=2000&project=proj1&quality=100&width=2000"
	if got != want {
		t.Errorf("preview =\n%s\nwant\n%s", got, want)
	}
	if _, err := c.FilePreview("media", "", backend.DefaultPreview); err == nil {
		t.Error("expected error for missing file id")
	}
	if got := c.InitialsURL("Ada L"); got != "https://cloud.example/v1/avatars/initials?name=Ada+L&project=proj1" {
		t.Errorf("initials = %s", got)
	}
}

func TestJWTExpiry(t *testing.T) {
	exp := time.Date(2031, 1, 2, 3, 4, 5, 0, time.UTC)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": "acc1",
		"exp":    exp.Unix(),
	}).SignedString([]byte("server-side-key"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := JWTExpiry(tok)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(exp) {
		t.Errorf("exp = %v, want %v", got, exp)
	}
	if _, err := JWTExpiry("not-a-jwt"); err == nil {
		t.Error("expected parse error")
	}
}

func TestRealtimeSubscribe(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("project") != project {
			t.Errorf("project = %q", r.URL.Query().Get("project"))
		}
		if got := r.URL.Query()["channels[]"]; len(got) != 1 || got[0] != "databases.db.collections.posts.documents" {
			t.Errorf("channels = %v", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connected","data":{"channels":[]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"event","data":{
			"events":["databases.db.collections.posts.documents.p1.update","databases.*.collections.*.documents.*.update"],
			"channels":["databases.db.collections.posts.documents"],
			"payload":{"$id":"p1","$collectionId":"posts"}}}`))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	})
	c := newTestClient(t, h)

	var got []Event
	err := c.Subscribe(context.Background(), []string{DocumentsChannel("db", "posts")}, func(ev Event) {
		got = append(got, ev)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	ev := got[0]
	if ev.Action() != "update" || ev.DocumentID() != "p1" || ev.CollectionID() != "posts" {
		t.Errorf("event = %+v", ev)
	}
}
