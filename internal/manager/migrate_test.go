package manager_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/tokenward/internal/manager"
	"github.com/florianilch/tokenward/internal/token"
	"github.com/florianilch/tokenward/internal/upstream"
)

func TestMigrateSeedsMissingUsers(t *testing.T) {
	src := &fakeSource{}
	m, st := newManager(t, src)

	seeds := []manager.Seed{{
		UserID:      "alice",
		AccessToken: "legacy-token",
		Scope:       "api:read",
		ExpiresAt:   testNow.Add(time.Hour),
	}}
	require.NoError(t, m.Migrate(t.Context(), seeds))

	// Served straight from the migrated record, zero network calls.
	got, err := m.UserToken(t.Context(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", got)

	clientCalls, refreshCalls := src.counts()
	assert.Zero(t, clientCalls)
	assert.Zero(t, refreshCalls)

	stored, ok := st.UserToken("alice")
	require.True(t, ok)
	assert.Equal(t, token.SourceEnvMigration, stored.Source)
	assert.Equal(t, "Bearer", stored.TokenType)
}

func TestMigrateIsIdempotent(t *testing.T) {
	src := &fakeSource{}
	m, st := newManager(t, src)

	require.NoError(t, st.SetUserToken("alice", token.UserToken{
		AccessToken: "store-wins",
		ExpiresAt:   testNow.Add(time.Hour),
		Source:      token.SourceRefreshed,
	}))

	seeds := []manager.Seed{{UserID: "alice", AccessToken: "env-token"}}
	require.NoError(t, m.Migrate(t.Context(), seeds))
	require.NoError(t, m.Migrate(t.Context(), seeds))

	stored, _ := st.UserToken("alice")
	assert.Equal(t, "store-wins", stored.AccessToken)
	assert.Equal(t, token.SourceRefreshed, stored.Source)
}

func TestMigrateRefreshTokenOnlySeed(t *testing.T) {
	src := &fakeSource{refreshGrant: &upstream.Grant{AccessToken: "minted", ExpiresIn: time.Hour}}
	m, st := newManager(t, src)

	require.NoError(t, m.Migrate(t.Context(), []manager.Seed{{
		UserID:       "bob",
		RefreshToken: "bob-legacy-refresh",
	}}))

	// Seeded record is due immediately; first use mints an access token.
	stored, ok := st.UserToken("bob")
	require.True(t, ok)
	assert.Empty(t, stored.AccessToken)

	got, err := m.UserToken(t.Context(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "minted", got)
	assert.Equal(t, []string{"bob-legacy-refresh"}, src.seenRefresh)
}

func TestMigrateRejectsEmptySeeds(t *testing.T) {
	src := &fakeSource{}
	m, st := newManager(t, src)

	err := m.Migrate(t.Context(), []manager.Seed{
		{UserID: "", AccessToken: "x"},
		{UserID: "carol"},
		{UserID: "dave", AccessToken: "ok"},
	})
	require.Error(t, err)

	// Valid seeds still land despite invalid siblings.
	_, ok := st.UserToken("dave")
	assert.True(t, ok)
	_, ok = st.UserToken("carol")
	assert.False(t, ok)
}
