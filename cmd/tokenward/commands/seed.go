package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/tokenward/internal/store"
	"github.com/florianilch/tokenward/internal/token"
)

// seededLifetime bounds access tokens imported without a known expiry.
const seededLifetime = 24 * time.Hour

func seedTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed-token",
		Usage: "import a credential for one user into the token store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user-id",
				Usage:    "user the credential belongs to",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "access-token",
				Usage: "access token value (omit to be prompted for a refresh token)",
			},
			&cli.StringFlag{
				Name:  "expires-at",
				Usage: "access token expiry, RFC3339",
			},
			&cli.StringFlag{
				Name:  "scope",
				Usage: "granted scope",
			},
			&cli.StringFlag{
				Name:  "store--path",
				Usage: "token store file path",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "overwrite an existing store entry",
			},
		},
		Action: seedTokenAction,
	}
}

func seedTokenAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfigUnvalidated(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	st, err := store.Load(cfg.Store.Path, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open token store: %w", err)
	}

	userID := cmd.String("user-id")
	if _, ok := st.UserToken(userID); ok && !cmd.Bool("force") {
		return fmt.Errorf("store already holds a credential for %q (use --force to overwrite)", userID)
	}

	now := time.Now().UTC()
	entry := token.UserToken{
		TokenType:   "Bearer",
		Scope:       cmd.String("scope"),
		RefreshedAt: now,
		Source:      token.SourceEnvMigration,
	}

	if accessToken := cmd.String("access-token"); accessToken != "" {
		entry.AccessToken = accessToken
		entry.ExpiresAt = now.Add(seededLifetime)
		if raw := cmd.String("expires-at"); raw != "" {
			ts, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return fmt.Errorf("invalid expires-at: %w", err)
			}
			entry.ExpiresAt = ts
		}
	} else {
		refreshToken, err := promptSecret("Refresh token for " + userID + ": ")
		if err != nil {
			return err
		}
		if refreshToken == "" {
			return fmt.Errorf("no refresh token entered")
		}
		// No access token yet: mark the entry due so the first use (or the
		// background refresher) mints one.
		entry.RefreshToken = refreshToken
		entry.ExpiresAt = now
	}

	if err := st.SetUserToken(userID, entry); err != nil {
		return fmt.Errorf("failed to write token store: %w", err)
	}

	fmt.Printf("stored credential for %q in %s\n", userID, st.Path())
	return nil
}

// promptSecret reads a line from the terminal without echo.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
