package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/tokenward/internal/credstore"
	"github.com/florianilch/tokenward/internal/token"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// keyringService identifies this application's entries in the OS keyring.
const keyringService = "tokenward-credentials"

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigTelemetryExporter = "none"
	DefaultConfigServerHost        = "127.0.0.1"
	DefaultConfigServerPort        = 7460
	DefaultConfigShutdownTimeout   = 5 * time.Second
	DefaultConfigRefreshInterval   = 60 * time.Second
)

// ServerConfig holds the admin server listen address.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// TelemetryConfig selects the optional log export pipeline.
type TelemetryConfig struct {
	Exporter string `json:"exporter" validate:"omitempty,oneof=none stdout otlp-http otlp-grpc"`
	Endpoint string `json:"endpoint,omitempty"`
	Insecure bool   `json:"insecure,omitempty"`
}

// UpstreamConfig describes the OAuth token endpoint this service exchanges
// credentials with.
type UpstreamConfig struct {
	TokenURL     string `json:"token_url" validate:"required,url"`
	ClientID     string `json:"client_id" validate:"required"`
	ClientSecret string `json:"client_secret,omitempty"`
	// ClientSecretEnv names an environment variable holding the secret,
	// taking precedence over the literal.
	ClientSecretEnv string   `json:"client_secret_env,omitempty"`
	Scopes          []string `json:"scopes,omitempty"`
}

// StoreConfig holds token store persistence settings.
type StoreConfig struct {
	Path string `json:"path"`
}

// RefreshConfig holds the expiry buffers and the background interval.
type RefreshConfig struct {
	Interval time.Duration `json:"interval"`
	// RequestBuffer is the request-time validity margin; RefreshBuffer is
	// the wider proactive margin and must exceed it.
	RequestBuffer time.Duration `json:"request_buffer"`
	RefreshBuffer time.Duration `json:"refresh_buffer"`
}

// FallbackEntry configures an operator-provisioned fallback credential for
// one user. Exactly one of Token, EnvKey, File, or KeyringUser supplies the
// credential material.
type FallbackEntry struct {
	UserID      string `json:"user_id" validate:"required"`
	Token       string `json:"token,omitempty"`        // literal token value
	EnvKey      string `json:"env_key,omitempty"`      // environment variable name
	File        string `json:"file,omitempty"`         // path to a 0600 credential file
	KeyringUser string `json:"keyring_user,omitempty"` // OS keyring user identifier
	TokenType   string `json:"token_type,omitempty"`
	Scope       string `json:"scope,omitempty"`
	// ExpiresAt is RFC3339; empty means no configured expiry (a bounded
	// lifetime is applied on adoption).
	ExpiresAt string `json:"expires_at,omitempty"`
}

// NewSource creates the credential source for this entry. Literal tokens
// need no backend and return (nil, nil).
func (f *FallbackEntry) NewSource() (credstore.Source, error) {
	switch {
	case f.Token != "":
		return nil, nil
	case f.EnvKey != "":
		return credstore.NewEnvSource(f.EnvKey)
	case f.File != "":
		return credstore.NewFileSource(f.File)
	case f.KeyringUser != "":
		return credstore.NewKeyringSource(keyringService, f.KeyringUser)
	default:
		return nil, fmt.Errorf("fallback for %q has no credential source", f.UserID)
	}
}

func (f *FallbackEntry) expiresAt() (time.Time, error) {
	if f.ExpiresAt == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, f.ExpiresAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("fallback for %q: invalid expires_at: %w", f.UserID, err)
	}
	return ts, nil
}

// SeedEntry configures a legacy credential imported on first run.
type SeedEntry struct {
	UserID          string `json:"user_id" validate:"required"`
	AccessToken     string `json:"access_token,omitempty"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	RefreshTokenEnv string `json:"refresh_token_env,omitempty"` // environment variable holding the refresh token
	TokenType       string `json:"token_type,omitempty"`
	Scope           string `json:"scope,omitempty"`
	ExpiresAt       string `json:"expires_at,omitempty"` // RFC3339
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Server    ServerConfig    `json:"server"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
	Upstream  UpstreamConfig  `json:"upstream"`
	Store     StoreConfig     `json:"store"`
	Refresh   RefreshConfig   `json:"refresh"`
	Fallbacks []FallbackEntry `json:"fallbacks,omitempty"`
	Seeds     []SeedEntry     `json:"seeds,omitempty"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Refresh.Interval == 0 {
		c.Refresh.Interval = DefaultConfigRefreshInterval
	}
	if c.Refresh.RequestBuffer == 0 {
		c.Refresh.RequestBuffer = token.RequestBuffer
	}
	if c.Refresh.RefreshBuffer == 0 {
		c.Refresh.RefreshBuffer = token.RefreshBuffer
	}

	if c.Store.Path == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("store.path required (auto-detect failed: %w)", err)
		}
		c.Store.Path = filepath.Join(configDir, "tokenward", "tokens.json")
	}

	return nil
}

// Validate validates the configuration using struct tags plus the
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Refresh.RequestBuffer >= c.Refresh.RefreshBuffer {
		return errors.New("refresh.refresh_buffer must exceed refresh.request_buffer")
	}

	seen := make(map[string]bool, len(c.Fallbacks))
	for i := range c.Fallbacks {
		f := &c.Fallbacks[i]
		if seen[f.UserID] {
			return fmt.Errorf("duplicate fallback for user %q", f.UserID)
		}
		seen[f.UserID] = true

		sources := 0
		for _, set := range []bool{f.Token != "", f.EnvKey != "", f.File != "", f.KeyringUser != ""} {
			if set {
				sources++
			}
		}
		if sources != 1 {
			return fmt.Errorf("fallback for %q must set exactly one of token, env_key, file, keyring_user", f.UserID)
		}
		if _, err := f.expiresAt(); err != nil {
			return err
		}
	}

	for i := range c.Seeds {
		s := &c.Seeds[i]
		if s.AccessToken == "" && s.RefreshToken == "" && s.RefreshTokenEnv == "" {
			return fmt.Errorf("seed for %q has no credential material", s.UserID)
		}
		if s.ExpiresAt != "" {
			if _, err := time.Parse(time.RFC3339, s.ExpiresAt); err != nil {
				return fmt.Errorf("seed for %q: invalid expires_at: %w", s.UserID, err)
			}
		}
	}

	return nil
}

// clientSecret resolves the upstream client secret, preferring the
// environment indirection over the literal.
func (c *Config) clientSecret() (string, error) {
	if c.Upstream.ClientSecretEnv != "" {
		secret := os.Getenv(c.Upstream.ClientSecretEnv)
		if secret == "" {
			return "", fmt.Errorf("environment variable %s is empty", c.Upstream.ClientSecretEnv)
		}
		return secret, nil
	}
	return c.Upstream.ClientSecret, nil
}
