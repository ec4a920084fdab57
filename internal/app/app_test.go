package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"snapgram/internal/feed"
	"snapgram/internal/models"
)

func localConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Backend:           BackendLocal,
		DatabaseID:        "snapgram",
		BucketID:          "media",
		UserCollectionID:  "users",
		PostCollectionID:  "posts",
		SavesCollectionID: "saves",
		UploadDir:         t.TempDir(),
		BaseURL:           "http://localhost:3001",
		SearchDebounce:    10 * time.Millisecond,
		FeedPageSize:      9,
		RecentPostsLimit:  20,
		UsersLimit:        10,
		HTTPTimeout:       5 * time.Second,
	}
}

func TestValidate(t *testing.T) {
	if err := localConfig(t).Validate(); err != nil {
		t.Fatalf("local config: %v", err)
	}

	cfg := localConfig(t)
	cfg.Backend = BackendAppwrite
	cfg.PostCollectionID = ""
	err := cfg.Validate()
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v", err)
	}
	want := []string{
		"APPWRITE_POST_COLLECTION_ID is required",
		"APPWRITE_PROJECT_ID is required",
		"APPWRITE_URL is required",
	}
	if strings.Join(cerr.Problems, "|") != strings.Join(want, "|") {
		t.Errorf("problems = %q", cerr.Problems)
	}

	cfg = localConfig(t)
	cfg.Backend = "sqlite"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "SNAPGRAM_BACKEND must be one of") {
		t.Errorf("err = %v", err)
	}

	cfg = localConfig(t)
	cfg.Backend = BackendPostgres
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL is required") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SNAPGRAM_BACKEND", "local")
	t.Setenv("FEED_PAGE_SIZE", "")
	t.Setenv("SEARCH_DEBOUNCE", "250")
	cfg := LoadConfig()
	if cfg.PostCollectionID != "posts" || cfg.FeedPageSize != 9 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SearchDebounce != 250*time.Millisecond {
		t.Errorf("debounce = %v", cfg.SearchDebounce)
	}

	t.Setenv("SNAPGRAM_BACKEND", "appwrite")
	if cfg := LoadConfig(); cfg.PostCollectionID != "" {
		t.Errorf("appwrite ids must come from the environment, got %q", cfg.PostCollectionID)
	}
}

func TestSplitArgs(t *testing.T) {
	got, err := splitArgs(`create -caption "sunset at the beach" -location "" -tags a,b`)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"create", "-caption", "sunset at the beach", "-location", "", "-tags", "a,b"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("args = %q", got)
	}
	if _, err := splitArgs(`say "oops`); err == nil {
		t.Error("expected unterminated quote error")
	}
}

type harness struct {
	t   *testing.T
	app *App
	out *bytes.Buffer
	ctx context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	out := &bytes.Buffer{}
	ctx := context.Background()
	a, err := New(ctx, localConfig(t), out)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)
	return &harness{t: t, app: a, out: out, ctx: ctx}
}

func (h *harness) run(line string, v any) {
	h.t.Helper()
	args, err := splitArgs(line)
	if err != nil {
		h.t.Fatal(err)
	}
	h.out.Reset()
	if err := h.app.Exec(h.ctx, args); err != nil {
		h.t.Fatalf("%s: %v", line, err)
	}
	if v != nil {
		if err := json.Unmarshal(h.out.Bytes(), v); err != nil {
			h.t.Fatalf("%s: decode %q: %v", line, h.out.String(), err)
		}
	}
}

func writePNG(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		img.Set(x, 10, color.RGBA{R: 255, A: 255})
	}
	p := filepath.Join(t.TempDir(), "beach.png")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLocalSession(t *testing.T) {
	h := newHarness(t)
	pic := writePNG(t)

	var user models.User
	h.run(`signup -name Ada -username ada -email ada@example.com -password password1`, &user)
	h.run(`signin -email ada@example.com -password password1`, nil)

	var post models.Post
	h.run(`create -caption "Sunset at the beach" -location Lisbon -tags "sun, sea" -file `+pic, &post)
	if post.CreatorID != user.ID || len(post.Tags) != 2 || !strings.Contains(post.Image.URL, "/uploads/previews/") {
		t.Fatalf("post = %+v", post)
	}

	var like struct {
		Liked bool `json:"liked"`
		Likes int  `json:"likes"`
	}
	h.run("like "+post.ID, &like)
	if !like.Liked || like.Likes != 1 {
		t.Errorf("like = %+v", like)
	}
	var liked []models.Post
	h.run("liked "+user.ID, &liked)
	if len(liked) != 1 {
		t.Errorf("liked posts = %d", len(liked))
	}

	var save struct {
		Saved bool `json:"saved"`
	}
	h.run("save "+post.ID, &save)
	if !save.Saved {
		t.Error("post not saved")
	}
	var me models.User
	h.run("me", &me)
	if _, ok := me.SavedRecordFor(post.ID); !ok {
		t.Error("save record missing from current user")
	}

	var results []models.Post
	h.run("search beach", &results)
	if len(results) != 1 || results[0].ID != post.ID {
		t.Errorf("search = %+v", results)
	}

	var feedView struct {
		State     string        `json:"state"`
		EndOfFeed bool          `json:"end_of_feed"`
		Posts     []models.Post `json:"posts"`
	}
	h.run("feed -pages 3", &feedView)
	if len(feedView.Posts) != 1 || feedView.State != "exhausted" {
		t.Errorf("feed = %+v", feedView)
	}

	h.run("delete "+post.ID, nil)
	var recent []models.Post
	h.run("recent", &recent)
	if len(recent) != 0 {
		t.Errorf("recent after delete = %d", len(recent))
	}
}

func TestSearchIgnoresLeftoverResult(t *testing.T) {
	h := newHarness(t)
	pic := writePNG(t)
	h.run(`signup -name Ada -username ada -email ada@example.com -password password1`, nil)
	h.run(`signin -email ada@example.com -password password1`, nil)
	var post models.Post
	h.run(`create -caption "Sunset at the beach" -location Lisbon -file `+pic, &post)

	h.app.results <- feed.SearchResult{Term: "beach", Posts: []models.Post{{ID: "leftover"}}}

	var results []models.Post
	h.run("search beach", &results)
	if len(results) != 1 || results[0].ID != post.ID {
		t.Errorf("search = %+v", results)
	}
}

func TestExecUsage(t *testing.T) {
	h := newHarness(t)
	err := h.app.Exec(h.ctx, []string{"frobnicate"})
	if !errors.Is(err, ErrUsage) {
		t.Errorf("err = %v", err)
	}
	err = h.app.Exec(h.ctx, []string{"post"})
	if !errors.Is(err, ErrUsage) || !strings.Contains(err.Error(), "post <postId>") {
		t.Errorf("err = %v", err)
	}
	if err := h.app.Exec(h.ctx, []string{"session"}); err == nil {
		t.Error("session outside appwrite mode should fail")
	}
}

func TestShell(t *testing.T) {
	h := newHarness(t)
	in := strings.NewReader("help\nbogus\nexit\nrecent\n")
	if err := h.app.Shell(h.ctx, in); err != nil {
		t.Fatal(err)
	}
	out := h.out.String()
	if !strings.Contains(out, "commands:") || !strings.Contains(out, `error: usage: unknown command "bogus"`) {
		t.Errorf("output = %s", out)
	}
	if strings.Contains(out, "[]") {
		t.Error("commands after exit were run")
	}
}
