package upstream

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// clientConfig holds configuration for NewClient.
type clientConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
	maxTries      uint
}

// WithTransport sets a custom base transport for token endpoint requests
// (e.g., for proxies or tests). If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *clientConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds each token endpoint request. Defaults to 30 seconds.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithMaxTries caps attempts per exchange, transient failures included.
// Defaults to 3.
func WithMaxTries(n uint) ClientOption {
	return func(c *clientConfig) {
		c.maxTries = n
	}
}

// Client implements Source against a standard OAuth2 token endpoint.
// Transient failures (network errors, 5xx, 429) are retried with exponential
// backoff; grant rejections (other 4xx) fail immediately.
type Client struct {
	conf       *oauth2.Config
	creds      *clientcredentials.Config
	httpClient *http.Client
	maxTries   uint
}

// Compile-time check to ensure Client implements Source
var _ Source = (*Client)(nil)

// NewClient creates a Client for the given token endpoint.
func NewClient(tokenURL, clientID, clientSecret string, scopes []string, opts ...ClientOption) *Client {
	cfg := &clientConfig{
		baseTransport: http.DefaultTransport,
		timeout:       30 * time.Second,
		maxTries:      3,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Client{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		creds: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       scopes,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: &http.Client{
			Timeout:   cfg.timeout,
			Transport: cfg.baseTransport,
		},
		maxTries: cfg.maxTries,
	}
}

// ClientCredentials performs the shared client-credentials grant.
func (c *Client) ClientCredentials(ctx context.Context) (*Grant, error) {
	tok, err := c.exchange(ctx, func(octx context.Context) (*oauth2.Token, error) {
		return c.creds.Token(octx)
	})
	if err != nil {
		return nil, &Error{Op: "client_credentials", Err: err}
	}
	return grantFromToken(tok), nil
}

// Refresh performs a refresh-token grant for one user.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, &Error{Op: "refresh", Err: errors.New("missing refresh token")}
	}

	tok, err := c.exchange(ctx, func(octx context.Context) (*oauth2.Token, error) {
		return c.conf.TokenSource(octx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	})
	if err != nil {
		return nil, &Error{Op: "refresh", Err: err}
	}

	g := grantFromToken(tok)
	// oauth2 echoes the old refresh token when the endpoint did not rotate
	// it; report only actual rotations.
	if g.RefreshToken == refreshToken {
		g.RefreshToken = ""
	}
	return g, nil
}

// exchange runs one grant operation with bounded retry.
func (c *Client) exchange(ctx context.Context, op func(context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	// oauth2 picks up the HTTP client from the context.
	octx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	return backoff.Retry(ctx, func() (*oauth2.Token, error) {
		tok, err := op(octx)
		if err != nil {
			return nil, classify(err)
		}
		return tok, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.maxTries),
	)
}

// classify marks grant rejections as permanent so backoff stops retrying
// them. Network errors, 5xx, and throttling remain retryable.
func classify(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		code := retrieveErr.Response.StatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests && code != http.StatusRequestTimeout {
			return backoff.Permanent(err)
		}
	}
	return err
}

func grantFromToken(tok *oauth2.Token) *Grant {
	g := &Grant{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		ExpiresIn:    time.Until(tok.Expiry),
		RefreshToken: tok.RefreshToken,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		g.Scope = scope
	}
	return g
}
