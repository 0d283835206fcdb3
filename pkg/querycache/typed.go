package querycache

import (
	"context"
	"fmt"
	"time"
)

// View is a typed Snapshot.
type View[T any] struct {
	Data        T
	HasData     bool
	Status      Status
	Fetching    bool
	Stale       bool
	LastUpdated time.Time
	Err         error
}

// IsLoading reports whether a fetch is outstanding with nothing to show yet.
func (v View[T]) IsLoading() bool {
	return v.Status == StatusLoading
}

// IsError reports whether the last fetch failed.
func (v View[T]) IsError() bool {
	return v.Status == StatusError
}

func cast[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("query cache: unexpected value type %T", v)
	}
	return typed, nil
}

func wrap[T any](fn func(context.Context) (T, error)) FetchFunc {
	return func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
}

// FetchAs is Cache.Fetch with a typed loader.
func FetchAs[T any](ctx context.Context, c *Cache, key string, fn func(context.Context) (T, error), opts ...QueryOption) (T, error) {
	v, err := c.Fetch(ctx, key, wrap(fn), opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](v)
}

// EnsureAs is Cache.Ensure with a typed loader.
func EnsureAs[T any](ctx context.Context, c *Cache, key string, fn func(context.Context) (T, error), opts ...QueryOption) (T, error) {
	v, err := c.Ensure(ctx, key, wrap(fn), opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](v)
}

// PeekAs returns the typed state of key.
func PeekAs[T any](c *Cache, key string) View[T] {
	snap, _ := c.Peek(key)
	data, _ := cast[T](snap.Data)
	return View[T]{
		Data:        data,
		HasData:     snap.HasData,
		Status:      snap.Status,
		Fetching:    snap.Fetching,
		Stale:       snap.Stale,
		LastUpdated: snap.LastUpdated,
		Err:         snap.Err,
	}
}
