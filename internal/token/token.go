// Package token defines the credential records held by the store and the
// expiry policy applied to them.
//
// Two kinds of credentials exist:
//   - ClientCredentials: the single shared token authenticating the service
//     itself to the upstream API (at most one per process)
//   - UserToken: a per-user access token, renewable via its refresh token
//
// Records are plain values; all persistence and locking lives in the store.
package token

import "time"

// Source records how a user token entered the store. Diagnostic only — no
// code path branches on it.
type Source string

const (
	// SourceFreshGrant marks a token obtained through a full grant.
	SourceFreshGrant Source = "fresh_grant"
	// SourceRefreshed marks a token obtained through a refresh-token grant.
	SourceRefreshed Source = "refreshed"
	// SourceEnvMigration marks a token seeded from operator configuration,
	// either at first-run migration or as an adopted fallback credential.
	SourceEnvMigration Source = "env_migration"
)

// ClientCredentials is the shared service token.
type ClientCredentials struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	Scope       string    `json:"scope"`
	ObtainedAt  time.Time `json:"obtained_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// UserToken is a per-user access token. The user id is the store key and is
// not repeated inside the record.
type UserToken struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshedAt  time.Time `json:"refreshed_at"`
	Source       Source    `json:"source"`
}

// Expired reports whether the client token should be treated as expired at
// now, given a safety buffer.
func (c ClientCredentials) Expired(now time.Time, buffer time.Duration) bool {
	return Expired(c.ExpiresAt, now, buffer)
}

// TTL returns the remaining wall-clock lifetime at now, negative once past.
func (c ClientCredentials) TTL(now time.Time) time.Duration {
	return c.ExpiresAt.Sub(now)
}

// Expired reports whether the user token should be treated as expired at
// now, given a safety buffer.
func (u UserToken) Expired(now time.Time, buffer time.Duration) bool {
	return Expired(u.ExpiresAt, now, buffer)
}

// TTL returns the remaining wall-clock lifetime at now, negative once past.
func (u UserToken) TTL(now time.Time) time.Duration {
	return u.ExpiresAt.Sub(now)
}
