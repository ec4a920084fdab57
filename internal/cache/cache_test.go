package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyEnabled(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want bool
	}{
		{"operation only", Key{"getRecentPosts"}, true},
		{"with param", Key{"getPostById", "p1"}, true},
		{"empty param", Key{"getPostById", ""}, false},
		{"empty key", Key{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.Enabled(); got != tt.want {
				t.Errorf("Enabled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFetchServesCachedValue(t *testing.T) {
	c := New()
	var calls int32
	fn := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.Fetch(context.Background(), Key{"getRecentPosts"}, fn)
		if err != nil {
			t.Fatal(err)
		}
		if v != "v" {
			t.Fatalf("got %v", v)
		}
	}
	if calls != 1 {
		t.Errorf("fetcher called %d times, want 1", calls)
	}
}

func TestFetchDedupsConcurrentCalls(t *testing.T) {
	c := New()
	release := make(chan struct{})
	var calls int32
	fn := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]any, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Fetch(context.Background(), Key{"getPostById", "p1"}, fn)
			if err != nil {
				t.Error(err)
			}
			results[i] = v
		}(i)
	}
	// let the goroutines pile up behind the first fetch
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Errorf("fetcher called %d times, want 1", calls)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("result %d = %v", i, v)
		}
	}
}

func TestFetchDisabledQuery(t *testing.T) {
	c := New()
	called := false
	_, err := c.Fetch(context.Background(), Key{"getSearchPosts", ""}, func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, ErrQueryDisabled) {
		t.Fatalf("err = %v, want ErrQueryDisabled", err)
	}
	if called {
		t.Error("disabled query was dispatched")
	}
}

func TestFetchErrorNotCached(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	n := 0
	fn := func(ctx context.Context) (any, error) {
		n++
		if n == 1 {
			return nil, boom
		}
		return "ok", nil
	}
	if _, err := c.Fetch(context.Background(), Key{"getUsers"}, fn); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	v, err := c.Fetch(context.Background(), Key{"getUsers"}, fn)
	if err != nil || v != "ok" {
		t.Fatalf("got %v, %v", v, err)
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c := New()
	c.Set(Key{"getPostById", "p1"}, 1)
	c.Set(Key{"getPostById", "p2"}, 2)
	c.Set(Key{"getPosts"}, "page0")
	c.Set(Key{"getPosts", "cur1"}, "page1")
	c.Set(Key{"getCurrentUser"}, "me")

	n := c.Invalidate(Key{"getPosts"}, Key{"getPostById", "p1"})
	if n != 3 {
		t.Errorf("invalidated %d entries, want 3", n)
	}

	for _, k := range []Key{{"getPostById", "p1"}, {"getPosts"}, {"getPosts", "cur1"}} {
		if !c.IsStale(k) {
			t.Errorf("%v should be stale", k)
		}
	}
	for _, k := range []Key{{"getPostById", "p2"}, {"getCurrentUser"}} {
		if c.IsStale(k) {
			t.Errorf("%v should be fresh", k)
		}
	}
}

func TestInvalidatedKeyRefetches(t *testing.T) {
	c := New()
	n := 0
	fn := func(ctx context.Context) (any, error) {
		n++
		return n, nil
	}
	key := Key{"getCurrentUser"}
	c.Fetch(context.Background(), key, fn)
	c.Invalidate(key)

	// stale value is still readable until the refetch lands
	if v, ok := c.Get(key); !ok || v != 1 {
		t.Errorf("Get = %v, %v", v, ok)
	}
	v, _ := c.Fetch(context.Background(), key, fn)
	if v != 2 {
		t.Errorf("after invalidate got %v, want fresh value 2", v)
	}
}

func TestInvalidateDuringFetchLeavesEntryStale(t *testing.T) {
	c := New()
	key := Key{"getRecentPosts"}
	c.Set(key, "old")
	c.Invalidate(key)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Fetch(context.Background(), key, func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "fetched-before-mutation", nil
		})
	}()
	<-started
	c.Invalidate(key)
	close(release)
	<-done

	if !c.IsStale(key) {
		t.Error("entry fetched across an invalidation should stay stale")
	}
}

func TestStaleTime(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(WithStaleTime(time.Minute), WithClock(func() time.Time { return now }))
	key := Key{"getUsers"}
	c.Set(key, "x")
	if c.IsStale(key) {
		t.Fatal("fresh entry reported stale")
	}
	now = now.Add(2 * time.Minute)
	if !c.IsStale(key) {
		t.Fatal("entry past stale time reported fresh")
	}
}

func TestSubscribe(t *testing.T) {
	c := New()
	var got []Event
	unsub := c.Subscribe(func(ev Event) { got = append(got, ev) })

	c.Set(Key{"getPosts"}, 1)
	c.Invalidate(Key{"getPosts"})
	c.Clear()
	unsub()
	c.Set(Key{"getPosts"}, 2)

	want := []EventType{EventUpdated, EventInvalidated, EventCleared}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i, ev := range got {
		if ev.Type != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.Type, want[i])
		}
	}
}

func TestClear(t *testing.T) {
	c := New()
	c.Set(Key{"a"}, 1)
	c.Set(Key{"b", "1"}, 2)
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len = %d after Clear", c.Len())
	}
}

func TestMutateInvalidatesOnlyOnSuccess(t *testing.T) {
	c := New()
	key := Key{"getCurrentUser"}
	c.Set(key, "me")

	_, err := Mutate(context.Background(), c, func(ctx context.Context) (string, error) {
		return "", errors.New("remote failed")
	}, func(string) []Key { return []Key{key} })
	if err == nil {
		t.Fatal("expected error")
	}
	if c.IsStale(key) {
		t.Fatal("failed mutation invalidated the cache")
	}

	_, err = Mutate(context.Background(), c, func(ctx context.Context) (string, error) {
		return "ok", nil
	}, func(string) []Key { return []Key{key} })
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsStale(key) {
		t.Fatal("successful mutation did not invalidate")
	}
}

func TestQueryTyped(t *testing.T) {
	c := New()
	got, err := Query(context.Background(), c, Key{"n"}, func(ctx context.Context) (int, error) { return 7, nil })
	if err != nil || got != 7 {
		t.Fatalf("got %d, %v", got, err)
	}

	c.Set(Key{"s"}, "not an int")
	if _, err := Query(context.Background(), c, Key{"s"}, func(ctx context.Context) (int, error) { return 0, nil }); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestFetchSurvivesFirstCallerCancel(t *testing.T) {
	c := New()
	key := Key{"getSearchPosts", "abc"}
	started := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		close(started)
		select {
		case <-release:
			return "posts", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := c.Fetch(ctxA, key, fn)
		errA <- err
	}()
	<-started

	type result struct {
		v   any
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := c.Fetch(context.Background(), key, func(context.Context) (any, error) {
			t.Error("second caller started its own fetch")
			return nil, nil
		})
		resB <- result{v, err}
	}()
	// give B time to join the flight
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("first caller err = %v, want context.Canceled", err)
	}
	close(release)

	r := <-resB
	if r.err != nil || r.v != "posts" {
		t.Errorf("second caller = %v, %v", r.v, r.err)
	}
	if v, ok := c.Get(key); !ok || v != "posts" {
		t.Errorf("cached = %v, %v", v, ok)
	}
}
