// Package feed drives the infinite home/explore feed: cursor pagination,
// the debounced search that overrides it, and the combined explore view.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"snapgram/internal/cache"
	"snapgram/internal/models"
	"snapgram/internal/queries"

	"github.com/rs/zerolog/log"
)

var (
	ErrExhausted    = errors.New("feed: no more pages")
	ErrSearchActive = errors.New("feed: paused while a search term is active")
)

type State int

const (
	Idle State = iota
	LoadingFirstPage
	HasPages
	LoadingNextPage
	Exhausted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoadingFirstPage:
		return "loading-first-page"
	case HasPages:
		return "has-pages"
	case LoadingNextPage:
		return "loading-next-page"
	case Exhausted:
		return "exhausted"
	}
	return "unknown"
}

// PageSource fetches one page after cursor ("" for the first page).
type PageSource interface {
	FeedPage(ctx context.Context, cursor string) (*models.FeedPage, error)
}

// Engine holds one pagination run. Posts already shown, or newer than the
// oldest post shown so far, are dropped from later pages so the run stays
// duplicate free and in descending last-modified order.
type Engine struct {
	mu  sync.Mutex
	src PageSource

	state  State
	pages  []models.FeedPage
	cursor string
	seen   map[string]struct{}
	oldest time.Time
	stale  bool

	fetches int
}

func NewEngine(src PageSource) *Engine {
	return &Engine{src: src, seen: make(map[string]struct{})}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Pages returns a copy of the loaded pages, in fetch order.
func (e *Engine) Pages() []models.FeedPage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.FeedPage, len(e.pages))
	for i, p := range e.pages {
		out[i] = models.FeedPage{Posts: append([]models.Post(nil), p.Posts...), NextCursor: p.NextCursor}
	}
	return out
}

// Posts flattens the loaded pages.
func (e *Engine) Posts() []models.Post {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Post
	for _, p := range e.pages {
		out = append(out, p.Posts...)
	}
	return out
}

// HasNextPage reports whether another fetch may be issued.
func (e *Engine) HasNextPage() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Idle || (e.state == HasPages && e.cursor != "")
}

// Fetches returns how many page requests this engine has issued.
func (e *Engine) Fetches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fetches
}

// Stale reports whether the loaded pages were invalidated since they were fetched.
func (e *Engine) Stale() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stale
}

// FetchNextPage loads the first page from Idle, or the page after the
// current cursor. It returns false without fetching while another fetch is
// in flight, and ErrExhausted once an empty page has been seen.
func (e *Engine) FetchNextPage(ctx context.Context) (bool, error) {
	e.mu.Lock()
	var cursor string
	switch e.state {
	case Exhausted:
		e.mu.Unlock()
		return false, ErrExhausted
	case LoadingFirstPage, LoadingNextPage:
		e.mu.Unlock()
		return false, nil
	case Idle:
		e.state = LoadingFirstPage
	case HasPages:
		if e.cursor == "" {
			e.state = Exhausted
			e.mu.Unlock()
			return false, ErrExhausted
		}
		cursor = e.cursor
		e.state = LoadingNextPage
	}
	prev := e.state
	e.fetches++
	e.mu.Unlock()

	page, err := e.src.FeedPage(ctx, cursor)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		if prev == LoadingFirstPage {
			e.state = Idle
		} else {
			e.state = HasPages
		}
		return false, err
	}
	e.appendPage(page)
	return true, nil
}

// appendPage must be called with mu held.
func (e *Engine) appendPage(page *models.FeedPage) {
	if page == nil || len(page.Posts) == 0 {
		e.pages = append(e.pages, models.FeedPage{Posts: []models.Post{}})
		e.cursor = ""
		e.state = Exhausted
		return
	}

	kept := make([]models.Post, 0, len(page.Posts))
	for _, p := range page.Posts {
		if _, dup := e.seen[p.ID]; dup {
			log.Debug().Str("post_id", p.ID).Msg("feed: dropped duplicate post")
			continue
		}
		if !e.oldest.IsZero() && p.UpdatedAt.After(e.oldest) {
			log.Debug().Str("post_id", p.ID).Msg("feed: dropped post modified during pagination")
			continue
		}
		e.seen[p.ID] = struct{}{}
		kept = append(kept, p)
	}
	for _, p := range kept {
		if e.oldest.IsZero() || p.UpdatedAt.Before(e.oldest) {
			e.oldest = p.UpdatedAt
		}
	}

	// the cursor follows the raw page so filtering never stalls the run
	e.cursor = page.Posts[len(page.Posts)-1].ID
	e.pages = append(e.pages, models.FeedPage{Posts: kept, NextCursor: e.cursor})
	e.state = HasPages
}

// Reset discards the run and returns to Idle.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.reset()
}

func (e *Engine) reset() {
	e.state = Idle
	e.pages = nil
	e.cursor = ""
	e.seen = make(map[string]struct{})
	e.oldest = time.Time{}
	e.stale = false
}

// Refresh starts a new run and reloads as many pages as were loaded before,
// stopping early if the feed runs out.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	if e.state == LoadingFirstPage || e.state == LoadingNextPage {
		e.mu.Unlock()
		return nil
	}
	n := len(e.pages)
	if n == 0 {
		n = 1
	}
	e.reset()
	e.mu.Unlock()

	for i := 0; i < n; i++ {
		if _, err := e.FetchNextPage(ctx); err != nil {
			if errors.Is(err, ErrExhausted) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Watch marks the engine stale whenever a feed page is invalidated in c.
func (e *Engine) Watch(c *cache.Cache) (stop func()) {
	prefix := queries.FeedPrefix()
	return c.Subscribe(func(ev cache.Event) {
		switch ev.Type {
		case cache.EventInvalidated, cache.EventRemoved:
			if !ev.Key.HasPrefix(prefix) {
				return
			}
		case cache.EventCleared:
		default:
			return
		}
		e.mu.Lock()
		e.stale = true
		e.mu.Unlock()
	})
}
