package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/florianilch/tokenward/internal/token"
)

// Seed is an externally-configured legacy credential imported into the
// store on first run.
type Seed struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	// ExpiresAt zero: with an access token, a bounded lifetime is assumed;
	// with only a refresh token, the record starts expired and the normal
	// refresh path mints the first access token.
	ExpiresAt time.Time
}

// Migrate imports seeds for users that have no store entry yet. Idempotent:
// an existing store entry always wins over the environment. Runs before the
// background refresher starts.
func (m *Manager) Migrate(ctx context.Context, seeds []Seed) error {
	var errs []error

	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		if seed.UserID == "" {
			errs = append(errs, errors.New("migration seed missing user id"))
			continue
		}
		if seed.AccessToken == "" && seed.RefreshToken == "" {
			errs = append(errs, fmt.Errorf("migration seed for %q has no credential material", seed.UserID))
			continue
		}

		if _, exists := m.store.UserToken(seed.UserID); exists {
			m.log.Debug("migration skipped, store entry exists", "user_id", seed.UserID)
			continue
		}

		now := m.now()
		expiresAt := seed.ExpiresAt
		if expiresAt.IsZero() {
			if seed.AccessToken == "" {
				// Refresh-token-only seed: due immediately.
				expiresAt = now
			} else {
				expiresAt = now.Add(adoptedFallbackLifetime)
			}
		}

		u := token.UserToken{
			AccessToken:  seed.AccessToken,
			TokenType:    firstNonEmpty(seed.TokenType, "Bearer"),
			Scope:        seed.Scope,
			RefreshToken: seed.RefreshToken,
			ExpiresAt:    expiresAt,
			RefreshedAt:  now,
			Source:       token.SourceEnvMigration,
		}
		if err := m.store.SetUserToken(seed.UserID, u); err != nil {
			errs = append(errs, fmt.Errorf("migrating %q: %w", seed.UserID, err))
			continue
		}
		m.log.Info("migrated legacy credential", "user_id", seed.UserID,
			"has_refresh_token", seed.RefreshToken != "", "expires_at", expiresAt)
	}

	return errors.Join(errs...)
}
