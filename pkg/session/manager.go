// Package session owns the authentication state machine.
//
// A Manager starts Initializing and settles on Authenticated or Anonymous.
// Initialization is optimistic: a stored session is shown as Authenticated
// immediately and validated against the server in the background. Only a
// credentials rejection (HTTP 401) during validation drops the session;
// timeouts, connectivity loss and server errors keep the last known user.
//
// Every transition is published on a broadcast signal. Other components
// observe it and never write session state themselves.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"onebookreader/internal/metrics"
	"onebookreader/internal/usertoken"
	"onebookreader/pkg/apierror"
	"onebookreader/pkg/broadcast"
	"onebookreader/pkg/credstore"
	"onebookreader/pkg/domain"
)

const (
	defaultValidationTimeout = 10 * time.Second
	defaultLogoutTimeout     = 5 * time.Second
)

// Status is the session state.
type Status int

const (
	StatusInitializing Status = iota
	StatusAuthenticated
	StatusAnonymous
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusAnonymous:
		return "anonymous"
	default:
		return "initializing"
	}
}

// State is the published session value.
type State struct {
	Status Status
	User   domain.User
	Token  string
	// ExpiresAt is the token's exp claim when the token is a JWT. It is
	// informational only; validity is decided by the server.
	ExpiresAt time.Time
}

// Authenticated reports whether the state carries a complete session.
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Token != "" && s.User.ID != ""
}

// Backend is the subset of the API the session needs.
type Backend interface {
	Login(ctx context.Context, creds domain.Credentials) (domain.AuthResult, error)
	Register(ctx context.Context, profile domain.Profile) (domain.AuthResult, error)
	Me(ctx context.Context, token string) (domain.User, error)
	Logout(ctx context.Context, token string) error
}

// Config wires a Manager.
type Config struct {
	Store   credstore.Store
	Backend Backend
	// ValidationTimeout bounds the background token check.
	ValidationTimeout time.Duration
	// LogoutTimeout bounds the best-effort server logout notification.
	LogoutTimeout time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Manager is safe for concurrent use.
type Manager struct {
	store             credstore.Store
	backend           Backend
	validationTimeout time.Duration
	logoutTimeout     time.Duration
	logger            *slog.Logger
	metrics           *metrics.Metrics

	// mu serialises transitions and the credential writes that go with
	// them. epoch moves forward on every login, registration and logout so
	// a validation started earlier can tell it has been overtaken.
	mu          sync.Mutex
	epoch       uint64
	initialized bool
	validated   chan struct{}

	authMu sync.Mutex
	signal *broadcast.Signal[State]
}

// NewManager builds a manager in the Initializing state.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session manager requires a credential store")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("session manager requires a backend")
	}
	if cfg.ValidationTimeout <= 0 {
		cfg.ValidationTimeout = defaultValidationTimeout
	}
	if cfg.LogoutTimeout <= 0 {
		cfg.LogoutTimeout = defaultLogoutTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:             cfg.Store,
		backend:           cfg.Backend,
		validationTimeout: cfg.ValidationTimeout,
		logoutTimeout:     cfg.LogoutTimeout,
		logger:            logger,
		metrics:           cfg.Metrics,
		validated:         make(chan struct{}),
		signal:            broadcast.New(State{Status: StatusInitializing}),
	}, nil
}

// Initialize restores the stored session. With no stored session it settles
// on Anonymous. Otherwise it publishes Authenticated with the cached user
// right away and validates the token in the background; Validated reports
// when that check has finished.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.initialized = true

	token, hasToken, tokenErr := m.store.Token(ctx)
	user, hasUser, userErr := m.store.User(ctx)
	if err := errors.Join(tokenErr, userErr); err != nil {
		m.logger.Warn("stored session unreadable, signing out", "err", err)
		m.clearStoredLocked(ctx)
		m.settleAnonymousLocked()
		return nil
	}
	if !hasToken || !hasUser {
		if hasToken || hasUser {
			// half-written session
			m.clearStoredLocked(ctx)
		}
		m.settleAnonymousLocked()
		return nil
	}

	epoch := m.epoch
	m.setLocked(authenticated(token, user))
	m.mu.Unlock()

	go m.validate(context.WithoutCancel(ctx), epoch, token)
	return nil
}

func (m *Manager) clearStoredLocked(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("clear stored credentials failed", "err", err)
	}
}

// settleAnonymousLocked finishes Initialize without background work and
// releases mu.
func (m *Manager) settleAnonymousLocked() {
	m.setLocked(State{Status: StatusAnonymous})
	m.mu.Unlock()
	close(m.validated)
}

// Validated is closed once Initialize has no background work left.
func (m *Manager) Validated() <-chan struct{} {
	return m.validated
}

func (m *Manager) validate(ctx context.Context, epoch uint64, token string) {
	defer close(m.validated)
	ctx, cancel := context.WithTimeout(ctx, m.validationTimeout)
	defer cancel()

	user, err := m.backend.Me(ctx, token)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		m.logger.Debug("session validation result dropped", "reason", "session changed")
		return
	}
	switch {
	case err == nil && user.ID == "":
		m.logger.Warn("session validation returned no user, keeping session")
	case err == nil:
		if err := m.store.Set(context.WithoutCancel(ctx), token, user); err != nil {
			m.logger.Warn("persist validated user failed", "err", err)
		}
		m.setLocked(authenticated(token, user))
	case apierror.Is(err, apierror.KindAuthenticationRequired):
		m.logger.Info("stored session rejected by server")
		if err := m.store.Clear(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("clear rejected credentials failed", "err", err)
		}
		m.setLocked(State{Status: StatusAnonymous})
	default:
		m.logger.Warn("session validation failed, keeping session",
			"kind", apierror.KindOf(err), "err", err)
	}
}

// Login exchanges credentials for a session. On failure the error is
// returned unchanged and the state is not touched.
func (m *Manager) Login(ctx context.Context, creds domain.Credentials) (domain.User, error) {
	return m.authenticate(ctx, func(ctx context.Context) (domain.AuthResult, error) {
		return m.backend.Login(ctx, creds)
	})
}

// Register creates an account and signs it in.
func (m *Manager) Register(ctx context.Context, profile domain.Profile) (domain.User, error) {
	return m.authenticate(ctx, func(ctx context.Context) (domain.AuthResult, error) {
		return m.backend.Register(ctx, profile)
	})
}

func (m *Manager) authenticate(ctx context.Context, call func(context.Context) (domain.AuthResult, error)) (domain.User, error) {
	if !m.authMu.TryLock() {
		return domain.User{}, ErrAuthInFlight
	}
	defer m.authMu.Unlock()

	res, err := call(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if res.Token == "" {
		return domain.User{}, ErrMissingToken
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(ctx, res.Token, res.User); err != nil {
		return domain.User{}, fmt.Errorf("persist credentials: %w", err)
	}
	m.epoch++
	m.setLocked(authenticated(res.Token, res.User))
	return res.User, nil
}

// Logout ends the session locally, then tells the server on a best-effort
// basis. A failed notification is only logged. The returned error reports a
// credential store failure; the state is Anonymous either way.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.epoch++
	token := m.signal.Get().Token
	clearErr := m.store.Clear(ctx)
	m.setLocked(State{Status: StatusAnonymous})
	m.mu.Unlock()

	if token != "" {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.logoutTimeout)
		defer cancel()
		if err := m.backend.Logout(notifyCtx, token); err != nil {
			m.logger.Warn("server logout failed", "kind", apierror.KindOf(err), "err", err)
		}
	}
	if clearErr != nil {
		return fmt.Errorf("clear credentials: %w", clearErr)
	}
	return nil
}

// Current returns the published state.
func (m *Manager) Current() State {
	return m.signal.Get()
}

// IsAuthenticated reports an Authenticated state with user and token
// present, confirmed against the credential store.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	st := m.signal.Get()
	if !st.Authenticated() {
		return false
	}
	stored, ok, err := m.store.Token(ctx)
	if err != nil {
		m.logger.Warn("confirm stored token failed", "err", err)
		return false
	}
	return ok && stored == st.Token
}

// CurrentUser returns the signed-in user.
func (m *Manager) CurrentUser() (domain.User, bool) {
	st := m.signal.Get()
	if !st.Authenticated() {
		return domain.User{}, false
	}
	return st.User, true
}

// Token returns the bearer token of the current session, or "".
func (m *Manager) Token() string {
	st := m.signal.Get()
	if st.Status != StatusAuthenticated {
		return ""
	}
	return st.Token
}

// Subscribe observes state transitions, starting with the current state.
func (m *Manager) Subscribe() *broadcast.Subscription[State] {
	return m.signal.Subscribe()
}

// Close ends all subscriptions.
func (m *Manager) Close() {
	m.signal.Close()
}

func (m *Manager) setLocked(st State) {
	var prev State
	m.signal.Update(func(old State) State {
		prev = old
		return st
	})
	if prev.Status != st.Status {
		m.metrics.SessionTransition(st.Status.String())
		m.logger.Debug("session transition", "from", prev.Status.String(), "to", st.Status.String())
	}
}

func authenticated(token string, user domain.User) State {
	return State{
		Status:    StatusAuthenticated,
		User:      user,
		Token:     token,
		ExpiresAt: usertoken.ExpiresAt(token),
	}
}
