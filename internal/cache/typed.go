package cache

import (
	"context"
	"fmt"
)

// Query is Fetch with a typed result.
func Query[T any](ctx context.Context, c *Cache, key Key, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: %s holds %T", key, v)
	}
	return out, nil
}

// Mutate runs fn and, only when it succeeds, invalidates the keys returned
// by invalidates. The invalidation has happened by the time Mutate returns.
func Mutate[T any](ctx context.Context, c *Cache, fn func(context.Context) (T, error), invalidates func(T) []Key) (T, error) {
	out, err := fn(ctx)
	if err != nil {
		return out, err
	}
	if invalidates != nil {
		if keys := invalidates(out); len(keys) > 0 {
			c.Invalidate(keys...)
		}
	}
	return out, nil
}
