// Package recommend keeps the recommendation list in sync: one cache entry,
// fetched when absent or stale, retried with backoff on transient failures
// and refreshed on demand.
package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"onebookreader/internal/metrics"
	"onebookreader/internal/ratelimit"
	"onebookreader/pkg/apierror"
	"onebookreader/pkg/domain"
	"onebookreader/pkg/querycache"
)

// Key is the cache key of the recommendation list.
const Key = "recommendations"

const (
	DefaultStaleTime = 10 * time.Minute
	// FallbackMessage is shown when an error carries no text of its own.
	FallbackMessage = "Unable to load recommendations. Please try again later."
)

// Backend is the subset of the API the controller uses.
type Backend interface {
	GetRecommendations(ctx context.Context) ([]domain.Recommendation, error)
	ClearRecommendationCache(ctx context.Context) error
}

// AuthState reports whether a signed-in session exists.
type AuthState interface {
	IsAuthenticated(ctx context.Context) bool
}

type Config struct {
	Cache   *querycache.Cache
	Backend Backend
	Auth    AuthState
	// Retry defaults to DefaultRetryPolicy when nil.
	Retry *RetryPolicy
	// StaleTime is how long a fetched list is served without refetching.
	StaleTime time.Duration
	// ClearLimiter throttles server cache clears; nil means unthrottled.
	ClearLimiter *ratelimit.Limiter
	// BreakerFailures is the number of consecutive failed loads that open
	// the circuit. Refresh and ForceRefresh bypass it.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// State is the read-only view offered to the rendering layer.
type State struct {
	Items     []domain.Recommendation
	IsLoading bool
	// IsFetching is true while any fetch is outstanding, including a
	// refresh over data already shown.
	IsFetching   bool
	IsError      bool
	Err          error
	ErrorMessage string
	LastUpdated  time.Time
}

// Controller is safe for concurrent use.
type Controller struct {
	cache     *querycache.Cache
	backend   Backend
	auth      AuthState
	retry     RetryPolicy
	staleTime time.Duration
	limiter   *ratelimit.Limiter
	breaker   *gobreaker.CircuitBreaker[[]domain.Recommendation]
	logger    *slog.Logger
	metrics   *metrics.Metrics
	sleep     sleepFunc
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.Cache == nil || cfg.Backend == nil || cfg.Auth == nil {
		return nil, fmt.Errorf("recommendation controller requires cache, backend and auth state")
	}
	if cfg.StaleTime <= 0 {
		cfg.StaleTime = DefaultStaleTime
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cache:     cfg.Cache,
		backend:   cfg.Backend,
		auth:      cfg.Auth,
		retry:     resolveRetry(cfg.Retry),
		staleTime: cfg.StaleTime,
		limiter:   cfg.ClearLimiter,
		breaker:   newBreaker(cfg.BreakerFailures, cfg.BreakerCooldown, logger),
		logger:    logger,
		metrics:   cfg.Metrics,
		sleep:     sleepContext,
	}, nil
}

// Load serves the cached list while it is fresh and fetches otherwise.
// While the circuit is open a stale or missing list fails fast.
func (c *Controller) Load(ctx context.Context) ([]domain.Recommendation, error) {
	if err := c.requireSession(ctx); err != nil {
		return nil, err
	}
	return querycache.EnsureAs(ctx, c.cache, Key, c.guardedFetch, querycache.WithStaleTime(c.staleTime))
}

// Refresh clears the server-side cache and fetches again with the full retry
// budget, whatever the circuit state. A failed clear is logged and does not
// stop the fetch.
func (c *Controller) Refresh(ctx context.Context) ([]domain.Recommendation, error) {
	if err := c.requireSession(ctx); err != nil {
		return nil, err
	}
	c.cache.Invalidate(Key)
	c.clearServerCache(ctx)
	return querycache.FetchAs(ctx, c.cache, Key, c.fetch, querycache.WithStaleTime(c.staleTime))
}

// ForceRefresh is Refresh after dropping the local entry, so observers see a
// loading state instead of the old list.
func (c *Controller) ForceRefresh(ctx context.Context) ([]domain.Recommendation, error) {
	if err := c.requireSession(ctx); err != nil {
		return nil, err
	}
	c.cache.Remove(Key)
	c.clearServerCache(ctx)
	return querycache.FetchAs(ctx, c.cache, Key, c.fetch, querycache.WithStaleTime(c.staleTime))
}

// State returns the current view of the list.
func (c *Controller) State() State {
	view := querycache.PeekAs[[]domain.Recommendation](c.cache, Key)
	st := State{
		Items:       view.Data,
		IsLoading:   view.IsLoading(),
		IsFetching:  view.Fetching,
		IsError:     view.IsError(),
		Err:         view.Err,
		LastUpdated: view.LastUpdated,
	}
	if view.IsError() {
		st.ErrorMessage = ErrorMessage(view.Err)
	}
	return st
}

// ErrorMessage derives the displayed text for err.
func ErrorMessage(err error) string {
	return apierror.Message(err, FallbackMessage)
}

func (c *Controller) requireSession(ctx context.Context) error {
	if c.auth.IsAuthenticated(ctx) {
		return nil
	}
	return &apierror.Error{
		Kind:    apierror.KindAuthenticationRequired,
		Code:    "anonymous",
		Message: "Sign in to see your recommendations.",
	}
}

func (c *Controller) clearServerCache(ctx context.Context) {
	if !c.limiter.Allow(Key) {
		c.logger.Debug("server recommendation cache clear throttled")
		return
	}
	if err := c.backend.ClearRecommendationCache(ctx); err != nil {
		c.logger.Warn("clear server recommendation cache failed",
			"kind", apierror.KindOf(err), "err", err)
	}
}

func (c *Controller) guardedFetch(ctx context.Context) ([]domain.Recommendation, error) {
	recs, err := c.breaker.Execute(func() ([]domain.Recommendation, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return recs, nil
}

// fetch runs the full retry budget against the backend.
func (c *Controller) fetch(ctx context.Context) ([]domain.Recommendation, error) {
	var recs []domain.Recommendation
	err := retryWithBackoff(ctx, c.retry, c.sleep,
		func(n int, delay time.Duration, err error) {
			c.metrics.Retry()
			c.logger.Warn("recommendation fetch failed, retrying",
				"retry", n, "max_retries", c.retry.MaxRetries, "delay", delay,
				"kind", apierror.KindOf(err), "err", err)
		},
		func(ctx context.Context) error {
			out, err := c.backend.GetRecommendations(ctx)
			if err != nil {
				return err
			}
			recs = out
			return nil
		})
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []domain.Recommendation{}
	}
	return recs, nil
}
