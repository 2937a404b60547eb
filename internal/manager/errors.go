package manager

import "errors"

var (
	// ErrAuthUnavailable means the client-credentials grant failed and no
	// still-valid cached token exists to fall back on.
	ErrAuthUnavailable = errors.New("authentication unavailable")

	// ErrRefreshFailedNoFallback means a user token could not be refreshed
	// and no operator fallback credential was available. Distinct from
	// ErrNoCredentialsForUser so callers can tell "broken" from "never
	// authenticated".
	ErrRefreshFailedNoFallback = errors.New("refresh failed and no fallback available")

	// ErrNoCredentialsForUser means the user has never authenticated: no
	// store record and no operator fallback.
	ErrNoCredentialsForUser = errors.New("no credentials for user")
)
