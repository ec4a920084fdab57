// Package cache is the client-side query cache: results keyed by operation
// name plus parameters, concurrent identical fetches collapsed into one,
// prefix invalidation and change notification.
package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrQueryDisabled is returned for a key with an empty parameter. Nothing is fetched.
var ErrQueryDisabled = errors.New("cache: query disabled")

// Key identifies a query: the operation name followed by its parameters.
type Key []string

func (k Key) String() string { return strings.Join(k, "\x1f") }

// Enabled reports whether every part of the key is present.
func (k Key) Enabled() bool {
	if len(k) == 0 {
		return false
	}
	for _, p := range k {
		if p == "" {
			return false
		}
	}
	return true
}

// HasPrefix reports whether k starts with all parts of prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

type EventType int

const (
	EventUpdated EventType = iota
	EventInvalidated
	EventRemoved
	EventCleared
)

func (t EventType) String() string {
	switch t {
	case EventUpdated:
		return "updated"
	case EventInvalidated:
		return "invalidated"
	case EventRemoved:
		return "removed"
	case EventCleared:
		return "cleared"
	}
	return "unknown"
}

// Event is delivered to subscribers after the cache lock is released.
// Key is nil for EventCleared.
type Event struct {
	Type EventType
	Key  Key
}

type entry struct {
	key       Key
	value     any
	updatedAt time.Time
	stale     bool
	// bumped by every invalidation so an in-flight fetch can tell it raced one
	gen uint64
}

type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group

	subs    map[int]func(Event)
	nextSub int

	// bumped by Clear; fetches that straddle a Clear are not stored
	epoch uint64

	staleTime time.Duration
	now       func() time.Time
}

type Option func(*Cache)

// WithStaleTime marks entries stale once they are older than d. Zero keeps
// entries fresh until invalidated.
func WithStaleTime(d time.Duration) Option { return func(c *Cache) { c.staleTime = d } }

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		subs:    make(map[int]func(Event)),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch returns the cached value for key, or runs fn when there is none or
// it is stale. Concurrent callers for the same key share one fn call; errors
// are returned to all of them and never cached. fn does not see the caller's
// cancellation, so a caller that gives up only stops waiting.
func (c *Cache) Fetch(ctx context.Context, key Key, fn func(context.Context) (any, error)) (any, error) {
	if !key.Enabled() {
		return nil, ErrQueryDisabled
	}
	k := key.String()

	c.mu.Lock()
	var gen uint64
	epoch := c.epoch
	if e, ok := c.entries[k]; ok {
		if c.fresh(e) {
			v := e.value
			c.mu.Unlock()
			return v, nil
		}
		gen = e.gen
	}
	c.mu.Unlock()

	// a fetch started before an invalidation is not shared with callers after it
	flight := k + "@" + strconv.FormatUint(gen, 10)
	// the flight outlives whichever caller started it
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flight, func() (any, error) {
		log.Debug().Str("key", k).Msg("cache fetch")
		v, err := fn(fetchCtx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.epoch != epoch {
			c.mu.Unlock()
			return v, nil
		}
		e, ok := c.entries[k]
		if !ok {
			e = &entry{key: append(Key(nil), key...)}
			c.entries[k] = e
		}
		e.value = v
		e.updatedAt = c.now()
		// invalidated while we were fetching: keep the value but refetch next time
		e.stale = ok && e.gen != gen
		c.mu.Unlock()

		c.notify(Event{Type: EventUpdated, Key: key})
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fresh must be called with mu held.
func (c *Cache) fresh(e *entry) bool {
	if e.stale {
		return false
	}
	if c.staleTime > 0 && c.now().Sub(e.updatedAt) >= c.staleTime {
		return false
	}
	return true
}

// Get returns the cached value without fetching, stale or not.
func (c *Cache) Get(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// IsStale reports whether the next Fetch for key will call its fetcher.
func (c *Cache) IsStale(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.String()]
	return !ok || !c.fresh(e)
}

// Set stores value as a fresh result for key.
func (c *Cache) Set(key Key, value any) {
	if !key.Enabled() {
		return
	}
	k := key.String()
	c.mu.Lock()
	e, ok := c.entries[k]
	if !ok {
		e = &entry{key: append(Key(nil), key...)}
		c.entries[k] = e
	}
	e.value = value
	e.updatedAt = c.now()
	e.stale = false
	c.mu.Unlock()

	c.notify(Event{Type: EventUpdated, Key: key})
}

// Invalidate marks every entry whose key starts with one of prefixes as
// stale and returns how many were marked.
func (c *Cache) Invalidate(prefixes ...Key) int {
	var hit []Key
	c.mu.Lock()
	for _, e := range c.entries {
		for _, p := range prefixes {
			if e.key.HasPrefix(p) {
				e.stale = true
				e.gen++
				hit = append(hit, e.key)
				break
			}
		}
	}
	c.mu.Unlock()

	for _, k := range hit {
		log.Debug().Str("key", k.String()).Msg("cache invalidate")
		c.notify(Event{Type: EventInvalidated, Key: k})
	}
	return len(hit)
}

// Remove drops every entry under prefix.
func (c *Cache) Remove(prefix Key) int {
	var hit []Key
	c.mu.Lock()
	for k, e := range c.entries {
		if e.key.HasPrefix(prefix) {
			delete(c.entries, k)
			hit = append(hit, e.key)
		}
	}
	c.mu.Unlock()

	for _, k := range hit {
		c.notify(Event{Type: EventRemoved, Key: k})
	}
	return len(hit)
}

// Clear drops everything, e.g. on sign out.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.epoch++
	c.mu.Unlock()
	c.notify(Event{Type: EventCleared})
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Subscribe registers fn for every cache event. fn runs on the goroutine that
// caused the event and may call back into the cache.
func (c *Cache) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

func (c *Cache) notify(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
