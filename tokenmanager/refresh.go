package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AmmannChristian/go-tokenrelay/oauth2client"
	"github.com/AmmannChristian/go-tokenrelay/tokenstore"
)

var (
	errEmptyGrant       = errors.New("provider returned no access token")
	errExpiredOnArrival = errors.New("token expired before it could be served")
	errNoExtension      = errors.New("grant does not extend the held token's expiry")
)

// refreshShared joins the in-flight refresh or starts one. The exchange runs
// detached from ctx, which only bounds how long this caller waits.
func (m *Manager) refreshShared(ctx context.Context) error {
	ch := m.group.DoChan(refreshKey, func() (interface{}, error) {
		return nil, m.refresh()
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// refresh performs one exchange. It must only run inside the single-flight gate.
func (m *Manager) refresh() error {
	if m.ctx.Err() != nil {
		return ErrManagerClosed
	}

	now := m.clock.Now()
	current := m.store.Read()

	// Another flight may have refreshed while this caller queued.
	if current.Fresh(now, m.refreshMargin) {
		return nil
	}

	if !m.limiter.AllowN(now, 1) {
		m.metrics.RefreshCompleted(ResultThrottled, 0)
		return m.throttled()
	}

	m.refreshing.Store(true)
	defer m.refreshing.Store(false)

	grantType := oauth2client.GrantClientCredentials
	if current.RefreshCredential != "" {
		grantType = oauth2client.GrantRefreshToken
	}
	logger := m.logger.With("attempt_id", uuid.NewString(), "grant_type", string(grantType))
	logger.Debug("refreshing access token", "held_until", formatExpiry(current.Expiry))

	ctx, cancel := context.WithTimeout(m.ctx, m.refreshTimeout)
	defer cancel()

	started := time.Now()
	grant, err := m.exchanger.Exchange(ctx, current.RefreshCredential)
	elapsed := time.Since(started)

	if err == nil {
		err = checkGrant(grant)
	}
	if err != nil {
		return m.refreshFailed(logger, current, now, err, elapsed)
	}

	next := tokenstore.Record{
		AccessToken:       grant.AccessToken,
		Expiry:            now.Add(grant.ExpiresIn),
		RefreshCredential: current.RefreshCredential,
		ObtainedAt:        now,
		Lifetime:          grant.ExpiresIn,
	}
	rotated := grant.RefreshToken != "" && grant.RefreshToken != current.RefreshCredential
	if grant.RefreshToken != "" {
		next.RefreshCredential = grant.RefreshToken
	}

	// The held token outlives the new one: keep it, but never drop a
	// rotated credential since the provider may have revoked the old one.
	if !current.Empty() && !next.Expiry.After(current.Expiry) {
		if rotated {
			kept := current
			kept.RefreshCredential = next.RefreshCredential
			m.store.Replace(kept)
		}
		err := &oauth2client.ProviderResponseError{
			Err: fmt.Errorf("%w: new expiry %s, held %s", errNoExtension, formatExpiry(next.Expiry), formatExpiry(current.Expiry)),
		}
		return m.refreshFailed(logger, current, now, err, elapsed)
	}

	m.store.Replace(next)
	m.recordSuccess()

	logger.Info("access token refreshed",
		"expiry", formatExpiry(next.Expiry),
		"expires_in", grant.ExpiresIn,
		"rotated", rotated,
		"duration", elapsed,
	)
	m.metrics.RefreshCompleted(ResultSuccess, elapsed)
	m.metrics.TokenStored(next.Expiry)

	return nil
}

func (m *Manager) refreshFailed(logger *slog.Logger, current tokenstore.Record, now time.Time, err error, elapsed time.Duration) error {
	failures, retryIn := m.recordFailure(now, err)
	logger.Warn("token refresh failed",
		"error", err,
		"consecutive_failures", failures,
		"retry_in", retryIn,
		"servable", current.Usable(m.clock.Now()),
	)
	m.metrics.RefreshCompleted(ResultFailure, elapsed)
	return err
}

func checkGrant(grant *oauth2client.Grant) error {
	switch {
	case grant == nil || grant.AccessToken == "":
		return &oauth2client.ProviderResponseError{Err: errEmptyGrant}
	case grant.ExpiresIn <= 0:
		return &oauth2client.ProviderResponseError{Err: fmt.Errorf("non-positive expires_in %s", grant.ExpiresIn)}
	}
	return nil
}

func (m *Manager) throttled() error {
	m.mu.Lock()
	lastErr := m.lastErr
	m.mu.Unlock()

	if lastErr == nil {
		return ErrRefreshThrottled
	}
	return fmt.Errorf("%w (last error: %w)", ErrRefreshThrottled, lastErr)
}

func (m *Manager) recordFailure(now time.Time, err error) (int, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delay := m.retry.NextBackOff()
	if delay < 0 || delay > m.retryMax {
		delay = m.retryMax
	}

	m.failures++
	m.lastErr = err
	m.lastFailure = now
	m.retryAt = now.Add(delay)

	return m.failures, delay
}

func (m *Manager) recordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures = 0
	m.lastErr = nil
	m.lastFailure = time.Time{}
	m.retryAt = time.Time{}
	m.retry.Reset()
}

// inRetryWindow reports whether the last refresh failed and its retry is not yet due.
func (m *Manager) inRetryWindow(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures > 0 && now.Before(m.retryAt)
}

// run is the background refresh task. It exits when the manager is shut down.
func (m *Manager) run(done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(m.nextCheck())
	defer timer.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-timer.C:
			m.backgroundRefresh()
			timer.Reset(m.nextCheck())
		}
	}
}

func (m *Manager) backgroundRefresh() {
	now := m.clock.Now()
	if m.store.Read().Fresh(now, m.refreshMargin) || m.inRetryWindow(now) {
		return
	}

	if err := m.refreshShared(m.ctx); err != nil && m.ctx.Err() == nil {
		m.logger.Debug("background refresh did not complete", "error", err)
	}
}

// nextCheck returns how long the background task sleeps: until the token
// turns stale, or until the retry is due while failing, never longer than
// the check interval.
func (m *Manager) nextCheck() time.Duration {
	now := m.clock.Now()
	delay := m.checkInterval

	m.mu.Lock()
	failing := m.failures > 0
	retryAt := m.retryAt
	m.mu.Unlock()

	if failing {
		delay = min(delay, retryAt.Sub(now))
	} else if rec := m.store.Read(); !rec.Empty() {
		delay = min(delay, rec.StaleAt(m.refreshMargin).Sub(now))
	}

	return max(delay, min(minCheckDelay, m.checkInterval))
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return "none"
	}
	return t.UTC().Format(time.RFC3339)
}
