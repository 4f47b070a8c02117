package clients

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

// StatusError is returned when the backend answers with a non-2xx status.
// The raw body is retained so callers can extract a backend-provided message.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status code: %d, response: %s", e.StatusCode, string(e.Body))
}

type BaseClient struct {
	baseURL string
	client  *http.Client

	mu      sync.RWMutex
	headers map[string]string
}

// NewBaseClient builds a client with a cookie jar so the backend session
// cookie rides along on every request.
func NewBaseClient(baseURL string) *BaseClient {
	jar, _ := cookiejar.New(nil)
	return &BaseClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
		headers: make(map[string]string),
	}
}

// SetHeader sets a default header carried on every request. Safe to call
// concurrently with in-flight requests; per-request headers belong in
// MakeRequestWithHeaders instead.
func (c *BaseClient) SetHeader(key, value string) {
	c.mu.Lock()
	c.headers[key] = value
	c.mu.Unlock()
}

func (c *BaseClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *BaseClient) MakeRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	return c.MakeRequestWithHeaders(ctx, method, endpoint, body, nil)
}

// MakeRequestWithHeaders sends a request carrying extra headers on top of the
// client defaults. The extras apply to this request only, so callers can vary
// per-request credentials without mutating shared client state.
func (c *BaseClient) MakeRequestWithHeaders(ctx context.Context, method, endpoint string, body io.Reader, extra map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.mu.RLock()
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	c.mu.RUnlock()
	for key, value := range extra {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: responseBody}
	}

	return responseBody, nil
}

func (c *BaseClient) Get(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, "GET", endpoint, nil)
}

func (c *BaseClient) Post(ctx context.Context, endpoint string, body io.Reader) ([]byte, error) {
	return c.MakeRequest(ctx, "POST", endpoint, body)
}

func (c *BaseClient) PostWithHeaders(ctx context.Context, endpoint string, body io.Reader, headers map[string]string) ([]byte, error) {
	return c.MakeRequestWithHeaders(ctx, "POST", endpoint, body, headers)
}

func (c *BaseClient) Put(ctx context.Context, endpoint string, body io.Reader) ([]byte, error) {
	return c.MakeRequest(ctx, "PUT", endpoint, body)
}

func (c *BaseClient) Delete(ctx context.Context, endpoint string) ([]byte, error) {
	return c.MakeRequest(ctx, "DELETE", endpoint, nil)
}
