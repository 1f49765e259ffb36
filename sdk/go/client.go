package envlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrTokenMismatch matches APIErrors caused by a stale concurrency token.
	// Re-fetch the environment for a fresh token before retrying.
	ErrTokenMismatch = errors.New("concurrency token mismatch")
	// ErrNotFound matches 404 APIErrors.
	ErrNotFound = errors.New("not found")
)

// Client is a minimal environments API client.
type Client struct {
	baseURL    string
	basePath   string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithBasePath overrides the API prefix (default /v1).
func WithBasePath(p string) Option {
	return func(c *Client) {
		c.basePath = "/" + strings.Trim(p, "/")
	}
}

// New creates a client with sane defaults.
func New(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		trimmed = "http://localhost:8153"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		basePath:   "/v1",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("api error: status=%d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match ErrTokenMismatch and ErrNotFound.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrTokenMismatch:
		return e.StatusCode == http.StatusPreconditionFailed
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// Retryable reports whether the request may succeed after re-fetching.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusPreconditionFailed
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: string(body)}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		e.Code = env.Error.Code
		e.Message = env.Error.Message
		if e.Message == "" {
			e.Message = env.Message
		}
	}
	return e
}

// Environments fetches the merged environments.
func (c *Client) Environments(ctx context.Context) (EnvironmentsResponse, error) {
	var resp EnvironmentsResponse
	_, err := c.do(ctx, http.MethodGet, "admin/environments", nil, nil, &resp)
	return resp, err
}

// Environment fetches one environment and its concurrency token.
func (c *Client) Environment(ctx context.Context, name string) (Environment, string, error) {
	var resp Environment
	h, err := c.do(ctx, http.MethodGet, environmentPath(name), nil, nil, &resp)
	if err != nil {
		return Environment{}, "", err
	}
	return resp, h.Get("ETag"), nil
}

// CreateEnvironment creates an environment from its name and variables.
func (c *Client) CreateEnvironment(ctx context.Context, req CreateEnvironmentRequest) (Environment, string, error) {
	var resp Environment
	h, err := c.do(ctx, http.MethodPost, "admin/environments", nil, req, &resp)
	if err != nil {
		return Environment{}, "", err
	}
	return resp, h.Get("ETag"), nil
}

// PatchEnvironment applies a delta. token is the value returned by the last
// fetch of this environment.
func (c *Client) PatchEnvironment(ctx context.Context, name, token string, req PatchEnvironmentRequest) (Environment, string, error) {
	var resp Environment
	headers := map[string]string{}
	if token != "" {
		headers["If-Match"] = token
	}
	h, err := c.do(ctx, http.MethodPatch, environmentPath(name), headers, req, &resp)
	if err != nil {
		return Environment{}, "", err
	}
	return resp, h.Get("ETag"), nil
}

// DeleteEnvironment deletes an environment.
func (c *Client) DeleteEnvironment(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodDelete, environmentPath(name), nil, nil, nil)
	return err
}

// Events returns the most recent change log entries.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "admin/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	_, err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	return resp.Items, err
}

func environmentPath(name string) string {
	return "admin/environments/" + url.PathEscape(name)
}

func (c *Client) do(ctx context.Context, method, endpoint string, headers map[string]string, body any, out any) (http.Header, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	target := c.baseURL + c.basePath + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return resp.Header, newAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.Header, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header, nil
}
