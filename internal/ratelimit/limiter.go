package ratelimit

import (
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter throttles actions per key with a token bucket refilled over a
// window. It is process-local; the client has no shared limiter state.
type Limiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLimiter allows limit actions per key per window, with a burst of limit.
func NewLimiter(limit int, window time.Duration) (*Limiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &Limiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*rate.Limiter),
	}, nil
}

// Allow returns true when the key is within quota. A nil limiter allows
// everything.
func (l *Limiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	every := l.window / time.Duration(l.limit)
	b := rate.NewLimiter(rate.Every(every), l.limit)
	l.buckets[key] = b
	return b
}
