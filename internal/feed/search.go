package feed

import (
	"context"
	"sync"
	"time"

	"snapgram/internal/models"

	"github.com/rs/zerolog/log"
)

// DefaultDebounce is the quiet period before a typed term is searched.
const DefaultDebounce = 500 * time.Millisecond

type SearchSource interface {
	SearchPosts(ctx context.Context, term string) ([]models.Post, error)
}

// Timer is the part of *time.Timer the searcher uses.
type Timer interface {
	Stop() bool
}

// Clock schedules debounce callbacks. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SearchResult is the outcome of one debounced search.
type SearchResult struct {
	Term  string
	Posts []models.Post
	Err   error
}

// Searcher debounces keystrokes into searches. Each new input cancels both
// the pending timer and any search still in flight, and a result is only
// published if no newer input arrived while it was running.
type Searcher struct {
	mu    sync.Mutex
	src   SearchSource
	delay time.Duration
	clock Clock

	base   context.Context
	close  context.CancelFunc
	term   string
	gen    uint64
	timer  Timer
	cancel context.CancelFunc

	searching bool
	result    SearchResult
	onResult  func(SearchResult)
}

type SearchOption func(*Searcher)

func WithDebounce(d time.Duration) SearchOption { return func(s *Searcher) { s.delay = d } }

func WithClock(c Clock) SearchOption { return func(s *Searcher) { s.clock = c } }

// OnResult registers a callback run for every published result.
func OnResult(fn func(SearchResult)) SearchOption { return func(s *Searcher) { s.onResult = fn } }

func NewSearcher(src SearchSource, opts ...SearchOption) *Searcher {
	s := &Searcher{src: src, delay: DefaultDebounce, clock: realClock{}}
	for _, o := range opts {
		o(s)
	}
	s.base, s.close = context.WithCancel(context.Background())
	return s
}

// Input records the raw search box value.
func (s *Searcher) Input(term string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if term == s.term {
		return
	}
	s.term = term
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.searching = false
	s.result = SearchResult{}

	if term == "" || s.base.Err() != nil {
		return
	}
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.delay, func() { s.run(gen, term) })
}

func (s *Searcher) run(gen uint64, term string) {
	s.mu.Lock()
	if gen != s.gen || s.base.Err() != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.base)
	s.cancel = cancel
	s.timer = nil
	s.searching = true
	s.mu.Unlock()

	posts, err := s.src.SearchPosts(ctx, term)
	cancel()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		log.Debug().Str("term", term).Msg("search: dropped superseded result")
		return
	}
	res := SearchResult{Term: term, Posts: posts, Err: err}
	s.result = res
	s.searching = false
	s.cancel = nil
	fn := s.onResult
	s.mu.Unlock()

	if fn != nil {
		fn(res)
	}
}

// Term is the raw input, which may not have been searched yet.
func (s *Searcher) Term() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term
}

// Pending reports whether a search is waiting out the debounce or in flight.
func (s *Searcher) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil || s.searching
}

// Result returns the last published result for the current term, if any.
func (s *Searcher) Result() (SearchResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result.Term == "" || s.result.Term != s.term {
		return SearchResult{}, false
	}
	return s.result, true
}

// Close cancels pending and running searches. Later input is ignored.
func (s *Searcher) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.close()
}
