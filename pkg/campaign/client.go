// Package campaign wraps the campaign platform's import API. The platform
// is workspace-scoped: a workspace switch is asynchronous on the remote end
// and needs a settling delay before later calls are guaranteed to land in
// the new context, so all operations on one client are serialized.
package campaign

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

// Client defines the campaign platform operations used by the pipeline.
type Client interface {
	// SwitchWorkspace activates a workspace and waits out the platform's
	// settling window. Switching to the already-active workspace is a no-op.
	SwitchWorkspace(ctx context.Context, workspaceID string) error
	// ImportList uploads contacts under a named import list. The platform
	// deduplicates imports by list name, so retries are safe.
	ImportList(ctx context.Context, req ImportRequest) (*ImportResponse, error)
}

// Contact is one row of an import list.
type Contact struct {
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
	Email     string  `json:"email"`
	State     string  `json:"state,omitempty"`
	ZIP       string  `json:"zip,omitempty"`
	HomeValue float64 `json:"home_value,omitempty"`
	HighValue bool    `json:"high_value,omitempty"`
}

// ImportRequest is the body for POST /imports.
type ImportRequest struct {
	ListName string    `json:"list_name"`
	Contacts []Contact `json:"contacts"`
}

// ImportResponse is the response from POST /imports.
type ImportResponse struct {
	Success       bool   `json:"success"`
	ListID        string `json:"list_id"`
	ImportedCount int    `json:"imported_count"`
}

type switchRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

// APIError is returned when the platform responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("campaign: HTTP %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus implements the transient-error probe used by retry helpers.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

// WithRateLimit overrides the default request rate.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithSettleDelay overrides the post-switch settling window.
func WithSettleDelay(d time.Duration) Option {
	return func(c *httpClient) { c.settle = d }
}

// httpClient implements Client. The mutex serializes every call; workspace
// state lives on the remote platform, and a concurrent second operation
// would race the active-context switch.
type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	settle  time.Duration

	mu     sync.Mutex
	active string
}

// NewClient creates a campaign platform client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Minute},
		limiter: rate.NewLimiter(2, 1),
		settle:  20 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) SwitchWorkspace(ctx context.Context, workspaceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == workspaceID {
		return nil
	}

	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, "/v1/workspaces/switch", switchRequest{WorkspaceID: workspaceID}, &resp); err != nil {
		return eris.Wrapf(err, "campaign: switch workspace %s", workspaceID)
	}

	// The switch is asynchronous remotely. Without this wait, the next call
	// can land in the previous workspace.
	select {
	case <-time.After(c.settle):
	case <-ctx.Done():
		// Context state is now unknown; force a re-switch next time.
		c.active = ""
		return eris.Wrap(ctx.Err(), "campaign: settle wait")
	}

	c.active = workspaceID
	return nil
}

func (c *httpClient) ImportList(ctx context.Context, req ImportRequest) (*ImportResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var resp ImportResponse
	if err := c.post(ctx, "/v1/imports", req, &resp); err != nil {
		return nil, eris.Wrapf(err, "campaign: import list %s", req.ListName)
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "rate limit")
		}
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
