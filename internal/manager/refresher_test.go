package manager_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/tokenward/internal/manager"
	"github.com/florianilch/tokenward/internal/token"
	"github.com/florianilch/tokenward/internal/upstream"
)

func TestRefresherRefreshesDueTokens(t *testing.T) {
	src := &fakeSource{refreshGrant: &upstream.Grant{AccessToken: "proactive", ExpiresIn: time.Hour}}
	m, st := newManager(t, src)

	require.NoError(t, st.SetUserToken("alice", token.UserToken{
		AccessToken:  "aging",
		RefreshToken: "alice-refresh",
		ExpiresAt:    testNow.Add(7 * time.Minute), // inside the 10m refresh buffer
	}))

	r, err := manager.NewRefresher(m, 10*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// The immediate first tick should refresh alice without waiting for the
	// interval.
	require.Eventually(t, func() bool {
		u, ok := st.UserToken("alice")
		return ok && u.AccessToken == "proactive"
	}, time.Second, 5*time.Millisecond)

	assert.True(t, r.Alive())

	cancel()
	require.NoError(t, <-done)
	assert.False(t, r.Alive())
}

func TestRefresherSurvivesUpstreamFailures(t *testing.T) {
	src := &fakeSource{refreshErr: errors.New("upstream down")}
	m, st := newManager(t, src)

	require.NoError(t, st.SetUserToken("alice", token.UserToken{
		AccessToken:  "dying",
		RefreshToken: "alice-refresh",
		ExpiresAt:    testNow.Add(-time.Minute),
	}))

	r, err := manager.NewRefresher(m, 5*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Multiple failing ticks must pass without the loop dying.
	require.Eventually(t, func() bool {
		_, refreshCalls := src.counts()
		return refreshCalls >= 3
	}, time.Second, time.Millisecond)

	assert.True(t, r.Alive(), "failed refreshes must not kill the loop")

	cancel()
	require.NoError(t, <-done)

	// Failure is visible on the diagnostic surface.
	d := m.Diagnostics()
	assert.Contains(t, d.Users["alice"].LastError, "upstream down")
}

func TestRefresherCancellationIsClean(t *testing.T) {
	src := &fakeSource{}
	m, _ := newManager(t, src)

	r, err := manager.NewRefresher(m, time.Hour, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop on cancellation")
	}
}

func TestRefresherDefaults(t *testing.T) {
	src := &fakeSource{}
	m, _ := newManager(t, src)

	r, err := manager.NewRefresher(m, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, manager.DefaultRefreshInterval, r.Interval())
	assert.False(t, r.Alive(), "not alive before Run")

	_, err = manager.NewRefresher(nil, time.Second, nil)
	assert.Error(t, err)
}
