// Package querycache is a keyed cache of asynchronous results shared by every
// data view. It guarantees at most one in-flight fetch per key and generation:
// later callers attach to the outstanding fetch instead of issuing another.
// Each key carries a generation that moves forward on invalidation, removal
// and direct writes; a fetch that completes under an older generation is
// dropped so it cannot overwrite newer state.
package querycache

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"onebookreader/internal/metrics"
	"onebookreader/pkg/broadcast"
)

const (
	DefaultStaleTime = 5 * time.Minute
	DefaultCacheTime = 30 * time.Minute
)

// Status is the lifecycle of one cache entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// FetchFunc loads the value for one key.
type FetchFunc func(ctx context.Context) (any, error)

// Snapshot is a read-only copy of one entry.
type Snapshot struct {
	Key         string
	Data        any
	HasData     bool
	Status      Status
	Fetching    bool
	Stale       bool
	LastUpdated time.Time
	Err         error
	Generation  uint64
}

// Event tells observers which key changed last.
type Event struct {
	Key    string
	Status Status
}

// Options configures a Cache.
type Options struct {
	// StaleTime is how long data stays fresh unless a query overrides it.
	StaleTime time.Duration
	// CacheTime is how long an entry nobody reads is retained before Prune
	// drops it.
	CacheTime time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// QueryOption tunes the entry a call touches.
type QueryOption func(*entry)

// WithStaleTime overrides the freshness window for the key.
func WithStaleTime(d time.Duration) QueryOption {
	return func(e *entry) { e.staleTime = d }
}

type entry struct {
	data        any
	hasData     bool
	status      Status
	err         error
	lastUpdated time.Time
	lastAccess  time.Time
	staleTime   time.Duration
	invalidated bool
	generation  uint64
	fetching    bool
	fetchingGen uint64
}

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextGen uint64
	group   singleflight.Group

	staleTime time.Duration
	cacheTime time.Duration
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
	events    *broadcast.Signal[Event]
}

// New builds an empty cache.
func New(opts Options) *Cache {
	if opts.StaleTime <= 0 {
		opts.StaleTime = DefaultStaleTime
	}
	if opts.CacheTime <= 0 {
		opts.CacheTime = DefaultCacheTime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{
		entries:   make(map[string]*entry),
		staleTime: opts.StaleTime,
		cacheTime: opts.CacheTime,
		now:       opts.Now,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		events:    broadcast.New(Event{}),
	}
}

// entryLocked returns the entry for key, creating it on first use.
func (c *Cache) entryLocked(key string) *entry {
	e, ok := c.entries[key]
	if !ok {
		c.nextGen++
		e = &entry{generation: c.nextGen, staleTime: c.staleTime}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) bumpLocked(e *entry) {
	c.nextGen++
	e.generation = c.nextGen
}

func (c *Cache) staleLocked(e *entry) bool {
	if !e.hasData || e.invalidated {
		return true
	}
	return c.now().Sub(e.lastUpdated) >= e.staleTime
}

func (c *Cache) snapshotLocked(key string, e *entry) Snapshot {
	return Snapshot{
		Key:         key,
		Data:        e.data,
		HasData:     e.hasData,
		Status:      e.status,
		Fetching:    e.fetching && e.fetchingGen == e.generation,
		Stale:       c.staleLocked(e),
		LastUpdated: e.lastUpdated,
		Err:         e.err,
		Generation:  e.generation,
	}
}

func (c *Cache) publish(key string, status Status) {
	c.events.Set(Event{Key: key, Status: status})
}

// Fetch loads key through fn, attaching to an outstanding fetch of the same
// generation when there is one. The fetch itself is not cancelled when ctx
// is; ctx only bounds how long this caller waits.
func (c *Cache) Fetch(ctx context.Context, key string, fn FetchFunc, opts ...QueryOption) (any, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	for _, opt := range opts {
		opt(e)
	}
	gen := e.generation
	e.lastAccess = c.now()
	e.fetching = true
	e.fetchingGen = gen
	if !e.hasData {
		e.status = StatusLoading
	}
	status := e.status
	c.mu.Unlock()
	c.publish(key, status)

	fetchCtx := context.WithoutCancel(ctx)
	executed := false
	ch := c.group.DoChan(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		executed = true
		c.metrics.CacheFetch(metrics.FetchNetwork)
		v, err := fn(fetchCtx)
		c.resolve(key, gen, v, err)
		return v, err
	})

	select {
	case res := <-ch:
		if !executed {
			c.metrics.CacheFetch(metrics.FetchDeduplicated)
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) resolve(key string, gen uint64, v any, err error) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.generation != gen {
		if ok && e.fetchingGen == gen {
			e.fetching = false
		}
		c.mu.Unlock()
		c.metrics.CacheFetch(metrics.FetchSuperseded)
		c.logger.Debug("query cache dropped superseded result", "key", key, "generation", gen)
		return
	}
	e.fetching = false
	if err != nil {
		e.status = StatusError
		e.err = err
	} else {
		e.data = v
		e.hasData = true
		e.status = StatusSuccess
		e.err = nil
		e.lastUpdated = c.now()
		e.invalidated = false
	}
	status := e.status
	c.mu.Unlock()
	c.publish(key, status)
}

// Ensure serves fresh cached data for key, fetching only when the entry is
// absent, stale or invalidated.
func (c *Cache) Ensure(ctx context.Context, key string, fn FetchFunc, opts ...QueryOption) (any, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	for _, opt := range opts {
		opt(e)
	}
	e.lastAccess = c.now()
	if !c.staleLocked(e) {
		data := e.data
		c.mu.Unlock()
		return data, nil
	}
	c.mu.Unlock()
	return c.Fetch(ctx, key, fn, opts...)
}

// Peek returns the current state of key without fetching.
func (c *Cache) Peek(key string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{Key: key}, false
	}
	return c.snapshotLocked(key, e), true
}

// Invalidate marks key stale so the next Ensure refetches. Cached data stays
// readable meanwhile. It reports whether the key existed.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		e.invalidated = true
		c.bumpLocked(e)
	}
	c.mu.Unlock()
	if ok {
		c.metrics.Invalidated(1)
		c.logger.Debug("query cache invalidated", "key", key)
	}
	return ok
}

// InvalidatePrefix invalidates every key starting with prefix and returns
// how many there were.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	n := 0
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			e.invalidated = true
			c.bumpLocked(e)
			n++
		}
	}
	c.mu.Unlock()
	c.metrics.Invalidated(n)
	if n > 0 {
		c.logger.Debug("query cache invalidated family", "prefix", prefix, "count", n)
	}
	return n
}

// Remove discards the cached data for key; the next read starts from a
// loading state rather than showing old data.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		c.bumpLocked(e)
		e.data = nil
		e.hasData = false
		e.status = StatusIdle
		e.err = nil
		e.lastUpdated = time.Time{}
		e.invalidated = false
	}
	c.mu.Unlock()
	if ok {
		c.metrics.Invalidated(1)
		c.publish(key, StatusIdle)
	}
}

// Keys lists cached keys with prefix in sorted order.
func (c *Cache) Keys(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Prune drops entries nobody has read for CacheTime and that have no fetch
// in flight. It returns how many were dropped.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for key, e := range c.entries {
		if e.fetching {
			continue
		}
		if now.Sub(e.lastAccess) >= c.cacheTime {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

// Subscribe observes the most recent change. Observers should re-read the
// keys they care about on every event.
func (c *Cache) Subscribe() *broadcast.Subscription[Event] {
	return c.events.Subscribe()
}

// Close releases subscribers.
func (c *Cache) Close() {
	c.events.Close()
}
