package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.notion.com/v1"
	DefaultVersion = "2022-06-28"

	maxResponseBody = 4 << 20
)

// Options configures the ticket store client.
type Options struct {
	BaseURL       string
	Token         string
	DatabaseID    string
	Version       string
	Timeout       time.Duration
	DefaultStatus string
	Source        string
}

// Client creates and queries tickets in a Notion database.
type Client struct {
	baseURL       string
	token         string
	databaseID    string
	version       string
	timeout       time.Duration
	defaultStatus string
	source        string
	http          *http.Client
	people        *peopleDirectory
	logger        *zap.Logger
	now           func() time.Time
}

// APIError is a non-2xx Notion response.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	Path      string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("notion %s: %d %s", e.Path, e.Status, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// NewClient constructs a Notion client over a pooled http client.
func NewClient(httpClient *http.Client, opts Options, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Version == "" {
		opts.Version = DefaultVersion
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.DefaultStatus == "" {
		opts.DefaultStatus = "New"
	}
	if opts.Source == "" {
		opts.Source = "Teams"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		token:         opts.Token,
		databaseID:    opts.DatabaseID,
		version:       opts.Version,
		timeout:       opts.Timeout,
		defaultStatus: opts.DefaultStatus,
		source:        opts.Source,
		http:          httpClient,
		logger:        logger.Named("notion"),
		now:           time.Now,
	}
	c.people = newPeopleDirectory(c, peopleCacheTTL)
	return c
}

// Me checks the integration token.
func (c *Client) Me(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "users/me", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode notion request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return fmt.Errorf("build notion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notion %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read notion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp, data, path)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode notion response: %w", err)
	}
	return nil
}

func parseAPIError(resp *http.Response, body []byte, path string) *APIError {
	apiErr := &APIError{
		Status:    resp.StatusCode,
		Code:      "unknown",
		Message:   strings.TrimSpace(string(body)),
		RequestID: resp.Header.Get("x-request-id"),
		Path:      path,
	}
	var env struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Code != "" {
		apiErr.Code = env.Code
		apiErr.Message = env.Message
		if env.RequestID != "" {
			apiErr.RequestID = env.RequestID
		}
	}
	return apiErr
}
