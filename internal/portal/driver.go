package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// DriverClient talks to the browser-automation sidecar that operates the
// portal UI. It implements Session. A mutex serializes all calls: the
// sidecar holds one live portal session whose query-builder state a
// concurrent second query would corrupt.
type DriverClient struct {
	baseURL   string
	hc        *http.Client
	limiter   *rate.Limiter
	mu        sync.Mutex
	sessionID string
	creds     Credentials
}

// DriverOption configures the DriverClient.
type DriverOption func(*DriverClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) DriverOption {
	return func(c *DriverClient) { c.hc = hc }
}

// WithRateLimit throttles sidecar calls to rps requests per second.
func WithRateLimit(rps float64) DriverOption {
	return func(c *DriverClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// NewDriverClient creates a Session backed by the automation sidecar at
// baseURL, authenticating lazily with creds on first use.
func NewDriverClient(baseURL string, creds Credentials, opts ...DriverOption) *DriverClient {
	c := &DriverClient{
		baseURL: baseURL,
		creds:   creds,
		hc:      &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is returned when the sidecar responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portal driver: status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus implements resilience.StatusError.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

type probeResponse struct {
	Count int `json:"count"`
}

// ProbeCount runs a count-only probe through the sidecar.
func (c *DriverClient) ProbeCount(ctx context.Context, q Query) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sid, err := c.ensureSession(ctx)
	if err != nil {
		return 0, err
	}

	var resp probeResponse
	if err := c.post(ctx, fmt.Sprintf("/v1/sessions/%s/probe", sid), q, &resp); err != nil {
		return 0, eris.Wrap(err, "portal: probe count")
	}
	return resp.Count, nil
}

// Execute runs the query and returns its extract.
func (c *DriverClient) Execute(ctx context.Context, q Query) (*Extract, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sid, err := c.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	var resp Extract
	if err := c.post(ctx, fmt.Sprintf("/v1/sessions/%s/execute", sid), q, &resp); err != nil {
		return nil, eris.Wrap(err, "portal: execute query")
	}
	return &resp, nil
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

// ensureSession authenticates if no session is active. Callers hold c.mu.
func (c *DriverClient) ensureSession(ctx context.Context) (string, error) {
	if c.sessionID != "" {
		return c.sessionID, nil
	}

	var resp sessionResponse
	if err := c.post(ctx, "/v1/sessions", c.creds, &resp); err != nil {
		return "", eris.Wrapf(err, "portal: authenticate account %s", c.creds.Account)
	}
	c.sessionID = resp.SessionID
	return c.sessionID, nil
}

func (c *DriverClient) post(ctx context.Context, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "portal: rate limit")
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "portal: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "portal: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return eris.Wrap(err, "portal: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// An expired portal session forces re-authentication on next call.
		if resp.StatusCode == http.StatusUnauthorized {
			c.sessionID = ""
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return eris.Wrap(err, "portal: decode response")
		}
	}
	return nil
}
