package app

import (
	"context"
	"fmt"
	"time"

	"github.com/florianilch/tokenward/internal/credstore"
	"github.com/florianilch/tokenward/internal/manager"
)

// resolvedFallback pairs a config entry with its credential source. The
// source is read at lookup time so rotated operator material is picked up
// without a restart.
type resolvedFallback struct {
	entry     FallbackEntry
	source    credstore.Source // nil for literal tokens
	expiresAt time.Time
}

// newFallbackProvider builds the manager's fallback provider from config.
// Backend construction fails fast; credential reads are deferred.
func newFallbackProvider(entries []FallbackEntry) (manager.FallbackProvider, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	byUser := make(map[string]resolvedFallback, len(entries))
	for i := range entries {
		entry := entries[i]
		source, err := entry.NewSource()
		if err != nil {
			return nil, err
		}
		expiresAt, err := entry.expiresAt()
		if err != nil {
			return nil, err
		}
		byUser[entry.UserID] = resolvedFallback{entry: entry, source: source, expiresAt: expiresAt}
	}

	return manager.FallbackFunc(func(ctx context.Context, userID string) (*manager.FallbackCredential, error) {
		rf, ok := byUser[userID]
		if !ok {
			return nil, nil
		}

		material := rf.entry.Token
		if rf.source != nil {
			var err error
			material, err = rf.source.Read(ctx)
			if err != nil {
				return nil, fmt.Errorf("reading fallback for %q: %w", userID, err)
			}
		}

		return &manager.FallbackCredential{
			AccessToken: material,
			TokenType:   rf.entry.TokenType,
			Scope:       rf.entry.Scope,
			ExpiresAt:   rf.expiresAt,
		}, nil
	}), nil
}

// resolveSeeds turns config seed entries into manager seeds, reading any
// environment indirections.
func resolveSeeds(ctx context.Context, entries []SeedEntry) ([]manager.Seed, error) {
	seeds := make([]manager.Seed, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		refreshToken := entry.RefreshToken
		if entry.RefreshTokenEnv != "" {
			source, err := credstore.NewEnvSource(entry.RefreshTokenEnv)
			if err != nil {
				return nil, fmt.Errorf("seed for %q: %w", entry.UserID, err)
			}
			refreshToken, err = source.Read(ctx)
			if err != nil {
				return nil, fmt.Errorf("seed for %q: %w", entry.UserID, err)
			}
		}

		var expiresAt time.Time
		if entry.ExpiresAt != "" {
			var err error
			expiresAt, err = time.Parse(time.RFC3339, entry.ExpiresAt)
			if err != nil {
				return nil, fmt.Errorf("seed for %q: invalid expires_at: %w", entry.UserID, err)
			}
		}

		seeds = append(seeds, manager.Seed{
			UserID:       entry.UserID,
			AccessToken:  entry.AccessToken,
			RefreshToken: refreshToken,
			TokenType:    entry.TokenType,
			Scope:        entry.Scope,
			ExpiresAt:    expiresAt,
		})
	}
	return seeds, nil
}
