package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the Graph v1.0 endpoint.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	maxResponseBody = 4 << 20
)

// RetryPolicy bounds CreateSubscriptionWithRetry.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Options tunes the client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Retry   RetryPolicy
	// Handshakes records request ids of timed-out validations when set.
	Handshakes *HandshakeTracker
}

// Client talks to Microsoft Graph over one pooled connection handle.
type Client struct {
	baseURL    string
	http       *http.Client
	tokens     *TokenCache
	timeout    time.Duration
	retry      RetryPolicy
	handshakes *HandshakeTracker
	logger     *zap.Logger
	now        func() time.Time
}

// NewHTTPClient builds the shared pooled client for outbound calls.
func NewHTTPClient(timeout time.Duration, maxConns int) *http.Client {
	if maxConns <= 0 {
		maxConns = 10
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          maxConns * 2,
		MaxIdleConnsPerHost:   maxConns,
		MaxConnsPerHost:       maxConns,
		IdleConnTimeout:       300 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

// NewClient constructs a Graph client.
func NewClient(httpClient *http.Client, tokens *TokenCache, opts Options, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(opts.Timeout, 10)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 5
	}
	if opts.Retry.InitialDelay <= 0 {
		opts.Retry.InitialDelay = time.Second
	}
	if opts.Retry.MaxDelay <= 0 {
		opts.Retry.MaxDelay = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		http:       httpClient,
		tokens:     tokens,
		timeout:    opts.Timeout,
		retry:      opts.Retry,
		handshakes: opts.Handshakes,
		logger:     logger.Named("graph"),
		now:        time.Now,
	}
}

// GetToken returns a bearer token, acquiring one if the cache is stale.
func (c *Client) GetToken(ctx context.Context) (string, error) {
	return c.tokens.Token(ctx)
}

// RefreshToken forces a new token acquisition.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	return c.tokens.Refresh(ctx)
}

// TokenStatus reports the cached token state.
func (c *Client) TokenStatus() TokenStatus {
	return c.tokens.Status()
}

// EnsureWarmToken acquires a token when none is cached or it is about to expire.
func (c *Client) EnsureWarmToken(ctx context.Context) error {
	if !c.tokens.NeedsWarmup() {
		return nil
	}
	_, err := c.tokens.Refresh(ctx)
	return err
}

// do is the single authenticated request primitive. path may be absolute (nextLink).
func (c *Client) do(ctx context.Context, method, path, rawQuery string, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode graph request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read graph response: %w", err)
	}

	c.logger.Debug("graph request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", c.now().Sub(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp, data, method, path)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}
