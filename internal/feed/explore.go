package feed

import (
	"context"

	"snapgram/internal/models"
)

// Explore combines the feed and the search box. While the search box holds
// any text the feed is paused and search results are shown instead.
type Explore struct {
	feed   *Engine
	search *Searcher
}

func NewExplore(feed *Engine, search *Searcher) *Explore {
	return &Explore{feed: feed, search: search}
}

func (x *Explore) Feed() *Engine         { return x.feed }
func (x *Explore) Search() *Searcher     { return x.search }
func (x *Explore) SetSearch(term string) { x.search.Input(term) }

// SentinelVisible is called when the end-of-list marker scrolls into view.
func (x *Explore) SentinelVisible(ctx context.Context) (bool, error) {
	if x.search.Term() != "" {
		return false, ErrSearchActive
	}
	if x.feed.Stale() {
		if len(x.feed.Pages()) == 0 {
			x.feed.Reset()
		} else if err := x.feed.Refresh(ctx); err != nil {
			return false, err
		}
	}
	return x.feed.FetchNextPage(ctx)
}

// EndOfFeed is true when no search is active, at least one page has loaded
// and every loaded page is empty.
func (x *Explore) EndOfFeed() bool {
	if x.search.Term() != "" {
		return false
	}
	pages := x.feed.Pages()
	if len(pages) == 0 {
		return false
	}
	for _, p := range pages {
		if len(p.Posts) > 0 {
			return false
		}
	}
	return true
}

// View is what the explore screen renders.
type View struct {
	Searching     bool
	Term          string
	SearchPending bool
	SearchErr     error
	Posts         []models.Post
	EndOfFeed     bool
	State         State
}

func (x *Explore) View() View {
	term := x.search.Term()
	if term != "" {
		v := View{Searching: true, Term: term, SearchPending: x.search.Pending(), State: x.feed.State()}
		if res, ok := x.search.Result(); ok {
			v.Posts = res.Posts
			v.SearchErr = res.Err
		}
		return v
	}
	return View{
		Posts:     x.feed.Posts(),
		EndOfFeed: x.EndOfFeed(),
		State:     x.feed.State(),
	}
}
