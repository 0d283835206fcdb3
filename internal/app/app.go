package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"onebookreader/internal/config"
	"onebookreader/internal/metrics"
	"onebookreader/internal/ratelimit"
	"onebookreader/pkg/apiclient"
	"onebookreader/pkg/catalog"
	"onebookreader/pkg/credstore"
	"onebookreader/pkg/querycache"
	"onebookreader/pkg/recommend"
	"onebookreader/pkg/reviews"
	"onebookreader/pkg/session"
)

// Config holds runtime configuration for the client core.
type Config struct {
	Settings config.Config
	// Store overrides the credential store named by Settings.
	Store      credstore.Store
	HTTPClient *http.Client
	// Registerer receives the client metrics; nil disables registration.
	Registerer prometheus.Registerer
	Logger     *slog.Logger
}

// App wires the session, the query cache and the controllers built on them.
type App struct {
	Session         *session.Manager
	Catalog         *catalog.Service
	Recommendations *recommend.Controller
	Reviews         *reviews.Coordinator
	Client          *apiclient.Client
	Metrics         *metrics.Metrics

	cache     *querycache.Cache
	store     credstore.Store
	ownsStore bool
	pruneTick time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs the application without touching the network.
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := cfg.Settings

	m, err := metrics.New(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	store := cfg.Store
	ownsStore := false
	if store == nil {
		store, err = credstore.Open(s.CredentialStore)
		if err != nil {
			return nil, fmt.Errorf("open credential store: %w", err)
		}
		ownsStore = true
	}

	var mgr *session.Manager
	client := apiclient.New(apiclient.Config{
		BaseURL:    s.APIBaseURL,
		Timeout:    s.RequestTimeout,
		HTTPClient: cfg.HTTPClient,
		Token: func() string {
			if mgr == nil {
				return ""
			}
			return mgr.Token()
		},
		Logger:  logger,
		Metrics: m,
	})

	mgr, err = session.NewManager(session.Config{
		Store:             store,
		Backend:           client,
		ValidationTimeout: s.Session.ValidationTimeout,
		Logger:            logger,
		Metrics:           m,
	})
	if err != nil {
		closeOwned(store, ownsStore, logger)
		return nil, err
	}

	cacheTime := s.Recommendations.CacheTime
	cache := querycache.New(querycache.Options{CacheTime: cacheTime, Logger: logger, Metrics: m})
	cat := catalog.New(cache, client, logger)

	var limiter *ratelimit.Limiter
	if s.Recommendations.CacheClearPerMinute > 0 {
		limiter, err = ratelimit.NewLimiter(s.Recommendations.CacheClearPerMinute, time.Minute)
		if err != nil {
			closeOwned(store, ownsStore, logger)
			return nil, err
		}
	}
	recs, err := recommend.NewController(recommend.Config{
		Cache:   cache,
		Backend: client,
		Auth:    mgr,
		Retry: &recommend.RetryPolicy{
			MaxRetries: s.Recommendations.MaxRetries,
			BaseDelay:  s.Recommendations.RetryBaseDelay,
			MaxDelay:   s.Recommendations.RetryMaxDelay,
		},
		StaleTime:       s.Recommendations.StaleTime,
		ClearLimiter:    limiter,
		BreakerFailures: uint32(max(s.Recommendations.BreakerFailures, 0)),
		BreakerCooldown: s.Recommendations.BreakerCooldown,
		Logger:          logger,
		Metrics:         m,
	})
	if err != nil {
		closeOwned(store, ownsStore, logger)
		return nil, err
	}

	coord, err := reviews.NewCoordinator(reviews.Config{
		Backend:  client,
		Identity: mgr,
		Catalog:  cat,
		Logger:   logger,
	})
	if err != nil {
		closeOwned(store, ownsStore, logger)
		return nil, err
	}

	pruneTick := cacheTime
	if pruneTick <= 0 {
		pruneTick = querycache.DefaultCacheTime
	}
	return &App{
		Session:         mgr,
		Catalog:         cat,
		Recommendations: recs,
		Reviews:         coord,
		Client:          client,
		Metrics:         m,
		cache:           cache,
		store:           store,
		ownsStore:       ownsStore,
		pruneTick:       pruneTick,
		logger:          logger,
	}, nil
}

// Start restores the stored session and starts pruning idle cache entries.
// Token validation continues in the background.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return errors.New("app already started")
	}
	pruneCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.cancel = cancel
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.prune(pruneCtx)
	if err := a.Session.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}
	return nil
}

func (a *App) prune(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.pruneTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.cache.Prune(); n > 0 {
				a.logger.Debug("query cache pruned", "entries", n)
			}
		}
	}
}

// Close stops background work and releases the credential store when the
// app opened it.
func (a *App) Close() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	a.Session.Close()
	a.cache.Close()
	if a.ownsStore {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("close credential store: %w", err)
		}
	}
	return nil
}

func closeOwned(store credstore.Store, owned bool, logger *slog.Logger) {
	if !owned {
		return
	}
	if err := store.Close(); err != nil {
		logger.Warn("close credential store failed", "err", err)
	}
}
