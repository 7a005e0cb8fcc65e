package tokenmanager

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AmmannChristian/go-tokenrelay/oauth2client"
	"github.com/AmmannChristian/go-tokenrelay/tokenstore"
)

const (
	// DefaultRefreshMargin is how long before hard expiry a token turns stale.
	DefaultRefreshMargin = 5 * time.Minute
	// DefaultRefreshTimeout bounds a single exchange.
	DefaultRefreshTimeout = 10 * time.Second
	// DefaultCheckInterval is the longest the background task sleeps.
	DefaultCheckInterval = time.Minute
	// DefaultRetryInitial is the first retry delay after a failed refresh.
	DefaultRetryInitial = time.Second
	// DefaultRetryMax caps the retry delay.
	DefaultRetryMax = time.Minute

	minCheckDelay = time.Second
	refreshKey    = "refresh"
)

// Result labels reported to the Recorder.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultThrottled = "throttled"
)

// Exchanger performs a credential exchange with the identity provider.
// *oauth2client.Client implements it.
type Exchanger interface {
	Exchange(ctx context.Context, refreshCredential string) (*oauth2client.Grant, error)
}

// Recorder receives refresh metrics. All methods must be safe for concurrent use.
type Recorder interface {
	RefreshCompleted(result string, duration time.Duration)
	TokenStored(expiry time.Time)
}

// Clock abstracts time so tests can move it without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type noopRecorder struct{}

func (noopRecorder) RefreshCompleted(string, time.Duration) {}
func (noopRecorder) TokenStored(time.Time)                  {}

// Manager owns the cached token and its refresh lifecycle.
//
// It serves tokens from the store without I/O while they are fresh, funnels
// every refresh through a single-flight gate, refreshes proactively from a
// background task and keeps serving a previously obtained token until its
// hard expiry when refreshes fail. Manager is safe for concurrent use.
type Manager struct {
	store     *tokenstore.Store
	exchanger Exchanger
	clock     Clock
	logger    *slog.Logger
	metrics   Recorder

	refreshMargin  time.Duration
	refreshTimeout time.Duration
	checkInterval  time.Duration
	retryInitial   time.Duration
	retryMax       time.Duration
	limiter        *rate.Limiter

	group      singleflight.Group
	refreshing atomic.Bool

	mu          sync.Mutex // guards the fields below
	retry       *backoff.ExponentialBackOff
	failures    int
	lastErr     error
	lastFailure time.Time
	retryAt     time.Time
	started     bool
	closed      bool
	done        chan struct{}

	ctx    context.Context // cancelled by Shutdown
	cancel context.CancelFunc
}

// Option is a functional option for configuring Manager.
type Option func(*Manager)

// WithRefreshMargin sets how long before hard expiry a token is refreshed.
func WithRefreshMargin(margin time.Duration) Option {
	return func(m *Manager) {
		if margin >= 0 {
			m.refreshMargin = margin
		}
	}
}

// WithRefreshTimeout bounds each exchange. A timed-out exchange releases the
// single-flight gate and fails every waiter.
func WithRefreshTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		if timeout > 0 {
			m.refreshTimeout = timeout
		}
	}
}

// WithCheckInterval sets the longest sleep of the background refresh task.
func WithCheckInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.checkInterval = interval
		}
	}
}

// WithRetryBackoff sets the bounded exponential backoff used after failed refreshes.
func WithRetryBackoff(initial, maxDelay time.Duration) Option {
	return func(m *Manager) {
		if initial > 0 {
			m.retryInitial = initial
		}
		if maxDelay > 0 {
			m.retryMax = maxDelay
		}
	}
}

// WithRefreshRateLimit bounds how often exchanges may be attempted against
// the provider. Use rate.Inf to disable the limit.
func WithRefreshRateLimit(limit rate.Limit, burst int) Option {
	return func(m *Manager) {
		m.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithClock replaces the wall clock used for freshness decisions.
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger sets a structured logger for refresh events.
// If not set, no logging will occur.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithLoggingEnabled logs through slog.Default().
func WithLoggingEnabled() Option {
	return func(m *Manager) {
		m.logger = slog.Default()
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder Recorder) Option {
	return func(m *Manager) {
		if recorder != nil {
			m.metrics = recorder
		}
	}
}

// New creates a manager over store, refreshing through exchanger.
//
// The store may be seeded with an initial refresh credential; it must not be
// written by anyone else afterwards.
func New(exchanger Exchanger, store *tokenstore.Store, opts ...Option) *Manager {
	if store == nil {
		store = tokenstore.New(tokenstore.Record{})
	}

	m := &Manager{
		store:          store,
		exchanger:      exchanger,
		clock:          systemClock{},
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:        noopRecorder{},
		refreshMargin:  DefaultRefreshMargin,
		refreshTimeout: DefaultRefreshTimeout,
		checkInterval:  DefaultCheckInterval,
		retryInitial:   DefaultRetryInitial,
		retryMax:       DefaultRetryMax,
		limiter:        rate.NewLimiter(rate.Every(time.Second), 3),
	}

	for _, opt := range opts {
		opt(m)
	}

	// Never wait longer than a regular check between retries.
	if m.retryMax > m.checkInterval {
		m.retryMax = m.checkInterval
	}
	if m.retryInitial > m.retryMax {
		m.retryInitial = m.retryMax
	}

	m.retry = backoff.NewExponentialBackOff()
	m.retry.InitialInterval = m.retryInitial
	m.retry.MaxInterval = m.retryMax
	m.retry.Multiplier = 2
	m.retry.RandomizationFactor = 0.2
	m.retry.Reset()

	m.ctx, m.cancel = context.WithCancel(context.Background())

	return m
}

// Start performs one synchronous refresh and, if it succeeds, launches the
// background refresh task. If the initial refresh fails the task is not
// started and the error is returned; callers must not begin serving.
func (m *Manager) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrManagerClosed
	case m.started:
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.mu.Unlock()

	if err := m.refreshShared(ctx); err != nil {
		return &TokenUnavailableError{Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	m.done = make(chan struct{})
	go m.run(m.done)

	rec := m.store.Read()
	m.logger.Info("token manager started", "expiry", rec.Expiry.Format(time.RFC3339))

	return nil
}

// GetValidToken returns a currently valid access token.
//
// Fresh tokens are returned without I/O. Otherwise the caller joins the
// in-flight refresh (or triggers one) and waits for it; ctx only bounds the
// wait, never the shared exchange. If the refresh fails but the held token
// has not reached its hard expiry, that token is returned. With no usable
// token the result is a *TokenUnavailableError carrying the provider detail.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := m.clock.Now()
	current := m.store.Read()
	if current.Fresh(now, m.refreshMargin) {
		return current.AccessToken, nil
	}

	// A recent refresh failed: keep serving the stale token until the retry is due.
	if current.Usable(now) && m.inRetryWindow(now) {
		return current.AccessToken, nil
	}

	err := m.refreshShared(ctx)

	latest := m.store.Read()
	if latest.Usable(m.clock.Now()) {
		if err != nil {
			m.logger.Debug("serving stale token after failed refresh",
				"expiry", latest.Expiry.Format(time.RFC3339), "error", err)
		}
		return latest.AccessToken, nil
	}

	if err == nil {
		err = &oauth2client.ProviderResponseError{Err: errExpiredOnArrival}
	}
	return "", &TokenUnavailableError{Err: err}
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	if m.refreshing.Load() {
		return StateRefreshing
	}

	now := m.clock.Now()
	rec := m.store.Read()

	m.mu.Lock()
	failed := m.lastErr != nil
	lastFailure := m.lastFailure
	m.mu.Unlock()

	switch {
	case rec.Fresh(now, m.refreshMargin):
		return StateValid
	case rec.Usable(now):
		if failed {
			return StateFailed
		}
		return StateStale
	case failed && !lastFailure.Before(rec.Expiry):
		// The failure happened while no usable token was held.
		return StateFailed
	default:
		return StateEmpty
	}
}

// Snapshot returns diagnostic information about the managed token.
// Secret material is never included.
func (m *Manager) Snapshot() Status {
	state := m.State()
	rec := m.store.Read()

	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		State:               state,
		Servable:            rec.Usable(m.clock.Now()),
		Expiry:              rec.Expiry,
		ObtainedAt:          rec.ObtainedAt,
		ConsecutiveFailures: m.failures,
		RetryAt:             m.retryAt,
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}

// Shutdown stops the background task and cancels any in-flight exchange.
// It waits for the task to exit or for ctx to be done. Calling Shutdown more
// than once is safe.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	done := m.done
	m.mu.Unlock()

	m.cancel()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		m.logger.Info("token manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
