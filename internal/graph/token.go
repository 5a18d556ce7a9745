package graph

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTokenSkew is how long before expiry a cached token stops being reused.
	DefaultTokenSkew = 5 * time.Minute
	graphScope       = "https://graph.microsoft.com/.default"
	fallbackLifetime = time.Hour
	refreshTimeout   = 30 * time.Second
)

// TokenFetcher performs one token acquisition.
type TokenFetcher interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// CredentialsConfig identifies the app registration.
type CredentialsConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

type credentialsFetcher struct {
	cfg        *clientcredentials.Config
	httpClient *http.Client
}

// NewClientCredentials returns a fetcher performing the client-credentials exchange over httpClient.
func NewClientCredentials(cfg CredentialsConfig, httpClient *http.Client) TokenFetcher {
	return &credentialsFetcher{
		cfg: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

func (f *credentialsFetcher) Token(ctx context.Context) (*oauth2.Token, error) {
	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}
	return f.cfg.Token(ctx)
}

// TokenStatus describes the cached token without exposing it.
type TokenStatus struct {
	Available bool
	ExpiresAt time.Time
	ExpiresIn time.Duration
}

// TokenCache reuses a bearer token until it is within skew of expiry.
type TokenCache struct {
	fetcher TokenFetcher
	skew    time.Duration
	now     func() time.Time
	group   singleflight.Group

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewTokenCache wraps fetcher with caching.
func NewTokenCache(fetcher TokenFetcher, skew time.Duration) *TokenCache {
	if skew <= 0 {
		skew = DefaultTokenSkew
	}
	return &TokenCache{fetcher: fetcher, skew: skew, now: time.Now}
}

// Token returns the cached token or acquires a new one.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, expiresAt := c.token, c.expiresAt
	c.mu.RUnlock()

	if token != "" && c.now().Before(expiresAt.Add(-c.skew)) {
		return token, nil
	}
	return c.Refresh(ctx)
}

// Refresh acquires a new token regardless of the cache. Concurrent callers share one
// exchange, which outlives any single caller's cancellation and is bounded by refreshTimeout.
func (c *TokenCache) Refresh(ctx context.Context) (string, error) {
	ch := c.group.DoChan("token", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		tok, err := c.fetcher.Token(fetchCtx)
		if err != nil {
			return "", &AuthError{Err: err}
		}
		expiresAt := tok.Expiry
		if expiresAt.IsZero() {
			expiresAt = c.now().Add(fallbackLifetime)
		}

		c.mu.Lock()
		c.token = tok.AccessToken
		c.expiresAt = expiresAt
		c.mu.Unlock()
		return tok.AccessToken, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Status reports whether a token is cached and when it expires.
func (c *TokenCache) Status() TokenStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return TokenStatus{}
	}
	return TokenStatus{Available: true, ExpiresAt: c.expiresAt, ExpiresIn: c.expiresAt.Sub(c.now())}
}

// NeedsWarmup reports whether no token is cached or it expires within the skew.
func (c *TokenCache) NeedsWarmup() bool {
	status := c.Status()
	return !status.Available || status.ExpiresIn < c.skew
}
