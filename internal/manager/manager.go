// Package manager orchestrates the credential lifecycle: serving cached
// tokens, refreshing expired ones through the upstream Source, falling back
// to operator-provisioned credentials when refresh fails, and keeping every
// committed change durable in the store before a caller sees it.
//
// Concurrency contract: refresh attempts for the same key (the shared client
// token, or one user) are collapsed into a single in-flight network call;
// different keys refresh independently. The store's writer lock is never
// held across a network round trip.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/florianilch/tokenward/internal/store"
	"github.com/florianilch/tokenward/internal/token"
	"github.com/florianilch/tokenward/internal/upstream"
)

// ClientKey is the result-map key for the shared client token.
const ClientKey = "client"

// adoptedFallbackLifetime bounds how long an adopted fallback credential
// with no configured expiry is trusted before re-adoption.
const adoptedFallbackLifetime = 24 * time.Hour

// refreshParallelism caps concurrent per-user refreshes in the proactive
// and manual paths.
const refreshParallelism = 4

// UserKey returns the result-map key for a user id.
func UserKey(id string) string {
	return "user:" + id
}

// FallbackCredential is an operator-supplied static token living outside
// the store, consulted only after refresh fails.
type FallbackCredential struct {
	AccessToken string
	TokenType   string
	Scope       string
	// ExpiresAt zero means the credential does not carry an expiry; it is
	// re-adopted with a bounded lifetime instead of being trusted forever.
	ExpiresAt time.Time
}

// FallbackProvider resolves the operator fallback for a user, (nil, nil)
// when none is configured.
type FallbackProvider interface {
	Fallback(ctx context.Context, userID string) (*FallbackCredential, error)
}

// FallbackFunc adapts a function to FallbackProvider.
type FallbackFunc func(ctx context.Context, userID string) (*FallbackCredential, error)

// Fallback implements FallbackProvider.
func (f FallbackFunc) Fallback(ctx context.Context, userID string) (*FallbackCredential, error) {
	return f(ctx, userID)
}

// Option configures a Manager.
type Option func(*Manager)

// WithFallbacks installs the operator fallback provider.
func WithFallbacks(p FallbackProvider) Option {
	return func(m *Manager) { m.fallback = p }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithBuffers overrides the request-time and proactive-refresh buffer
// windows.
func WithBuffers(request, refresh time.Duration) Option {
	return func(m *Manager) {
		m.requestBuffer = request
		m.refreshBuffer = refresh
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// outcome is the recorded result of the most recent refresh attempt for a
// key, surfaced through Diagnostics.
type outcome struct {
	at       time.Time
	err      string
	degraded bool
}

// Manager is the single entry point the rest of the system calls for
// tokens.
type Manager struct {
	store    *store.Store
	source   upstream.Source
	fallback FallbackProvider
	log      *slog.Logger
	now      func() time.Time

	requestBuffer time.Duration
	refreshBuffer time.Duration

	flight singleflight.Group

	mu       sync.Mutex
	outcomes map[string]outcome
}

// New creates a Manager over the given store and credential source.
func New(st *store.Store, source upstream.Source, opts ...Option) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("missing store")
	}
	if source == nil {
		return nil, fmt.Errorf("missing credential source")
	}

	m := &Manager{
		store:         st,
		source:        source,
		log:           slog.Default(),
		now:           time.Now,
		requestBuffer: token.RequestBuffer,
		refreshBuffer: token.RefreshBuffer,
		outcomes:      make(map[string]outcome),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.requestBuffer >= m.refreshBuffer {
		return nil, fmt.Errorf("refresh buffer (%s) must exceed request buffer (%s)", m.refreshBuffer, m.requestBuffer)
	}

	return m, nil
}

// ClientToken returns a valid shared client access token, obtaining or
// refreshing it if the cached one is inside the request buffer.
func (m *Manager) ClientToken(ctx context.Context) (string, error) {
	if c, ok := m.store.ClientToken(); ok && !c.Expired(m.now(), m.requestBuffer) {
		return c.AccessToken, nil
	}

	v, err, _ := m.flight.Do(ClientKey, func() (any, error) {
		return m.refreshClient(ctx, false)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refreshClient runs inside the client-key flight. force skips the
// cached-still-valid shortcut (manual trigger path).
func (m *Manager) refreshClient(ctx context.Context, force bool) (string, error) {
	now := m.now()
	cached, hasCached := m.store.ClientToken()
	if !force && hasCached && !cached.Expired(now, m.requestBuffer) {
		// A coalesced caller already refreshed while we waited.
		return cached.AccessToken, nil
	}

	grant, err := m.source.ClientCredentials(ctx)
	if err != nil {
		// Degraded fallback: a token past the buffer but not yet past its
		// real expiry keeps the service alive through an upstream outage.
		if hasCached && !cached.Expired(now, 0) {
			m.log.Warn("client grant failed, serving cached token degraded",
				"error", err, "expires_at", cached.ExpiresAt)
			m.record(ClientKey, now, err, true)
			return cached.AccessToken, nil
		}
		m.record(ClientKey, now, err, false)
		return "", fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
	}

	next := token.ClientCredentials{
		AccessToken: grant.AccessToken,
		TokenType:   grant.TokenType,
		Scope:       grant.Scope,
		ObtainedAt:  now,
		ExpiresAt:   now.Add(grant.ExpiresIn),
	}
	if err := m.store.SetClientToken(next); err != nil {
		// Not durable, so the caller must not treat it as obtained.
		m.record(ClientKey, now, err, false)
		return "", err
	}

	m.record(ClientKey, now, nil, false)
	m.log.Info("client token obtained", "expires_at", next.ExpiresAt)
	return next.AccessToken, nil
}

// UserToken returns a valid access token for the user, refreshing or
// falling back as needed.
func (m *Manager) UserToken(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id cannot be empty")
	}

	if u, ok := m.store.UserToken(userID); ok && !u.Expired(m.now(), m.requestBuffer) {
		return u.AccessToken, nil
	}

	v, err, _ := m.flight.Do(UserKey(userID), func() (any, error) {
		return m.refreshUser(ctx, userID, false)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refreshUser runs inside the per-user flight: refresh grant first, operator
// fallback only after refresh fails. force skips the cached-still-valid
// shortcut.
func (m *Manager) refreshUser(ctx context.Context, userID string, force bool) (string, error) {
	now := m.now()
	rec, exists := m.store.UserToken(userID)
	if !force && exists && !rec.Expired(now, m.requestBuffer) {
		return rec.AccessToken, nil
	}

	var refreshErr error
	switch {
	case exists && rec.RefreshToken != "":
		grant, err := m.source.Refresh(ctx, rec.RefreshToken)
		if err == nil {
			next := token.UserToken{
				AccessToken:  grant.AccessToken,
				TokenType:    firstNonEmpty(grant.TokenType, rec.TokenType),
				Scope:        firstNonEmpty(grant.Scope, rec.Scope),
				RefreshToken: firstNonEmpty(grant.RefreshToken, rec.RefreshToken),
				ExpiresAt:    now.Add(grant.ExpiresIn),
				RefreshedAt:  now,
				Source:       token.SourceRefreshed,
			}
			if err := m.store.SetUserToken(userID, next); err != nil {
				m.record(UserKey(userID), now, err, false)
				return "", err
			}
			m.record(UserKey(userID), now, nil, false)
			return next.AccessToken, nil
		}
		refreshErr = err
	case exists:
		refreshErr = errors.New("no refresh token on record")
	}

	// Fallback chain, in order: operator-provisioned credential, then fail.
	fb, err := m.lookupFallback(ctx, userID, now)
	if err != nil {
		m.log.Warn("fallback lookup failed", "user_id", userID, "error", err)
	}
	if fb != nil {
		expiresAt := fb.ExpiresAt
		if expiresAt.IsZero() {
			expiresAt = now.Add(adoptedFallbackLifetime)
		}
		adopted := token.UserToken{
			AccessToken: fb.AccessToken,
			TokenType:   firstNonEmpty(fb.TokenType, "Bearer"),
			Scope:       fb.Scope,
			ExpiresAt:   expiresAt,
			RefreshedAt: now,
			Source:      token.SourceEnvMigration,
		}
		if err := m.store.SetUserToken(userID, adopted); err != nil {
			m.record(UserKey(userID), now, err, false)
			return "", err
		}
		m.log.Warn("adopted operator fallback credential",
			"user_id", userID, "refresh_error", refreshErr)
		m.record(UserKey(userID), now, refreshErr, true)
		return adopted.AccessToken, nil
	}

	if refreshErr == nil {
		m.record(UserKey(userID), now, ErrNoCredentialsForUser, false)
		return "", fmt.Errorf("%w: %s", ErrNoCredentialsForUser, userID)
	}
	m.record(UserKey(userID), now, refreshErr, false)
	return "", fmt.Errorf("%w: %w", ErrRefreshFailedNoFallback, refreshErr)
}

// lookupFallback resolves the operator fallback for a user and discards it
// when already expired.
func (m *Manager) lookupFallback(ctx context.Context, userID string, now time.Time) (*FallbackCredential, error) {
	if m.fallback == nil {
		return nil, nil
	}
	fb, err := m.fallback.Fallback(ctx, userID)
	if err != nil || fb == nil {
		return nil, err
	}
	if fb.AccessToken == "" {
		return nil, nil
	}
	if !fb.ExpiresAt.IsZero() && token.Expired(fb.ExpiresAt, now, 0) {
		return nil, nil
	}
	return fb, nil
}

// RefreshDue proactively refreshes the client token and every user token
// that is inside the refresh buffer. Failures are returned per key, never
// raised; the background refresher and the request path stay on the same
// refresh-and-fallback code.
func (m *Manager) RefreshDue(ctx context.Context) map[string]error {
	return m.refreshKeys(ctx, false)
}

// RefreshAll forces an immediate refresh attempt for the client token and
// every user token, returning the per-key results. Manual trigger for the
// admin surface.
func (m *Manager) RefreshAll(ctx context.Context) map[string]error {
	runID := uuid.NewString()
	m.log.Info("manual refresh started", "run_id", runID)

	results := m.refreshKeys(ctx, true)

	failed := 0
	for _, err := range results {
		if err != nil {
			failed++
		}
	}
	m.log.Info("manual refresh finished", "run_id", runID,
		"keys", len(results), "failed", failed)
	return results
}

// refreshKeys drives one refresh pass. Users proceed in parallel (bounded);
// per-key serialization still holds through the flight group.
func (m *Manager) refreshKeys(ctx context.Context, force bool) map[string]error {
	now := m.now()
	results := make(map[string]error)

	var resultsMu sync.Mutex
	record := func(key string, err error) {
		resultsMu.Lock()
		results[key] = err
		resultsMu.Unlock()
	}

	if c, ok := m.store.ClientToken(); force || (ok && c.Expired(now, m.refreshBuffer)) {
		_, err, _ := m.flight.Do(ClientKey, func() (any, error) {
			return m.refreshClient(ctx, force)
		})
		record(ClientKey, err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(refreshParallelism)
	for id, u := range m.store.UserTokens() {
		if !force && !u.Expired(now, m.refreshBuffer) {
			continue
		}
		g.Go(func() error {
			_, err, _ := m.flight.Do(UserKey(id), func() (any, error) {
				return m.refreshUser(gCtx, id, force)
			})
			record(UserKey(id), err)
			return nil // failures are per-key results, not pass aborts
		})
	}
	_ = g.Wait()

	return results
}

// record notes the latest refresh outcome for a key.
func (m *Manager) record(key string, at time.Time, err error, degraded bool) {
	o := outcome{at: at, degraded: degraded}
	if err != nil {
		o.err = err.Error()
	}
	m.mu.Lock()
	m.outcomes[key] = o
	m.mu.Unlock()
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
