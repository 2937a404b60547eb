package admin_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/tokenward/internal/admin"
	"github.com/florianilch/tokenward/internal/manager"
	"github.com/florianilch/tokenward/internal/store"
	"github.com/florianilch/tokenward/internal/token"
	"github.com/florianilch/tokenward/internal/upstream"
)

func newTestServer(t *testing.T, src upstream.Source) (*admin.Server, *store.Store) {
	t.Helper()

	st, err := store.Load(filepath.Join(t.TempDir(), "tokens.json"), slog.Default())
	require.NoError(t, err)

	m, err := manager.New(st, src)
	require.NoError(t, err)

	r, err := manager.NewRefresher(m, time.Minute, slog.Default())
	require.NoError(t, err)

	srv, err := admin.New(m, r, slog.Default())
	require.NoError(t, err)
	return srv, st
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &stubSource{})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestStatusReportsTokens(t *testing.T) {
	srv, st := newTestServer(t, &stubSource{})

	require.NoError(t, st.SetClientToken(token.ClientCredentials{
		AccessToken: "svc",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	require.NoError(t, st.SetUserToken("alice", token.UserToken{
		AccessToken: "dead",
		ExpiresAt:   time.Now().Add(-time.Minute),
		Source:      token.SourceRefreshed,
	}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Client struct {
			Present bool `json:"present"`
			Valid   bool `json:"valid"`
		} `json:"client"`
		Users map[string]struct {
			Valid  bool   `json:"valid"`
			Source string `json:"source"`
		} `json:"users"`
		StoreFileExists bool `json:"store_file_exists"`
		RefresherAlive  bool `json:"refresher_alive"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.True(t, body.Client.Present)
	assert.True(t, body.Client.Valid)
	require.Contains(t, body.Users, "alice")
	assert.False(t, body.Users["alice"].Valid)
	assert.Equal(t, "refreshed", body.Users["alice"].Source)
	assert.True(t, body.StoreFileExists)
	assert.False(t, body.RefresherAlive, "refresher was never started")

	// The diagnostic surface is read-only: no access token values leak.
	assert.NotContains(t, rec.Body.String(), "svc")
	assert.NotContains(t, rec.Body.String(), "dead")
}

func TestManualRefresh(t *testing.T) {
	src := &stubSource{
		client: &upstream.Grant{AccessToken: "fresh-client", ExpiresIn: time.Hour},
		user:   &upstream.Grant{AccessToken: "fresh-user", ExpiresIn: time.Hour},
	}
	srv, st := newTestServer(t, src)

	require.NoError(t, st.SetUserToken("alice", token.UserToken{
		AccessToken:  "old",
		RefreshToken: "alice-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}))
	require.NoError(t, st.SetUserToken("broken", token.UserToken{
		AccessToken: "old",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh", nil))

	// Mixed results: partial success maps to 207.
	assert.Equal(t, http.StatusMultiStatus, rec.Code)

	var body struct {
		Results map[string]struct {
			OK    bool   `json:"ok"`
			Error string `json:"error,omitempty"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.True(t, body.Results["client"].OK)
	assert.True(t, body.Results["user:alice"].OK)
	assert.False(t, body.Results["user:broken"].OK)
	assert.NotEmpty(t, body.Results["user:broken"].Error)

	stored, _ := st.UserToken("alice")
	assert.Equal(t, "fresh-user", stored.AccessToken)
}

// stubSource serves fixed grants; nil grants mean failure.
type stubSource struct {
	client *upstream.Grant
	user   *upstream.Grant
}

func (s *stubSource) ClientCredentials(_ context.Context) (*upstream.Grant, error) {
	if s.client == nil {
		return nil, &upstream.Error{Op: "client_credentials", Err: assert.AnError}
	}
	g := *s.client
	return &g, nil
}

func (s *stubSource) Refresh(_ context.Context, _ string) (*upstream.Grant, error) {
	if s.user == nil {
		return nil, &upstream.Error{Op: "refresh", Err: assert.AnError}
	}
	g := *s.user
	return &g, nil
}
