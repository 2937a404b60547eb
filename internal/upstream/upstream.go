// Package upstream exchanges credentials with the upstream OAuth token
// endpoint: the shared client-credentials grant and per-user refresh-token
// grants. The manager depends on the Source interface, never on the wire
// details.
package upstream

import (
	"context"
	"fmt"
	"time"
)

// Grant is the result of a token-endpoint exchange.
type Grant struct {
	AccessToken string
	TokenType   string
	Scope       string
	// ExpiresIn is the lifetime the endpoint reported for the access token.
	ExpiresIn time.Duration
	// RefreshToken is set only when the grant issued one. Refresh grants do
	// not always rotate the refresh token; empty means "keep using the old
	// one".
	RefreshToken string
}

// Source performs the network exchanges. Both operations may fail with a
// network or HTTP-status error; callers treat any failure as "refresh
// failed".
type Source interface {
	ClientCredentials(ctx context.Context) (*Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

// Error wraps a token-endpoint failure with the operation that produced it.
type Error struct {
	Op  string // "client_credentials" or "refresh"
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream %s grant: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
