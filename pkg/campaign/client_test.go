package campaign

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwitchWorkspaceMemoizesActiveWorkspace(t *testing.T) {
	var switches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/workspaces/switch", r.URL.Path)
		switches.Add(1)
		json.NewEncoder(w).Encode(map[string]bool{"success": true}) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", WithSettleDelay(0), WithRateLimit(0))
	ctx := context.Background()

	require.NoError(t, c.SwitchWorkspace(ctx, "ws-acme"))
	require.NoError(t, c.SwitchWorkspace(ctx, "ws-acme"))
	assert.Equal(t, int64(1), switches.Load(), "repeat switch to the active workspace is a no-op")

	require.NoError(t, c.SwitchWorkspace(ctx, "ws-lonestar"))
	assert.Equal(t, int64(2), switches.Load())
}

func TestSwitchWorkspaceCancelledSettleForcesReswitch(t *testing.T) {
	var switches atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switches.Add(1)
		json.NewEncoder(w).Encode(map[string]bool{"success": true}) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", WithSettleDelay(5*time.Second), WithRateLimit(0))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.SwitchWorkspace(ctx, "ws-acme")
	require.Error(t, err, "settle wait aborted by the context")

	// The workspace state is unknown after the abort, so the same target must
	// go through the switch call again.
	c2, ok := c.(*httpClient)
	require.True(t, ok)
	c2.settle = 0
	require.NoError(t, c.SwitchWorkspace(context.Background(), "ws-acme"))
	assert.Equal(t, int64(2), switches.Load())
}

func TestImportListSendsAuthAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/imports", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ImportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "listpull-acme-2026-08-w1", req.ListName)
		require.Len(t, req.Contacts, 1)
		assert.Equal(t, "dana@example.com", req.Contacts[0].Email)

		json.NewEncoder(w).Encode(ImportResponse{ //nolint:errcheck
			Success:       true,
			ListID:        "list-123",
			ImportedCount: 1,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", WithSettleDelay(0), WithRateLimit(0))
	resp, err := c.ImportList(context.Background(), ImportRequest{
		ListName: "listpull-acme-2026-08-w1",
		Contacts: []Contact{{FirstName: "Dana", LastName: "Whitfield", Email: "dana@example.com"}},
	})

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "list-123", resp.ListID)
	assert.Equal(t, 1, resp.ImportedCount)
}

func TestImportListSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "import quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", WithSettleDelay(0), WithRateLimit(0))
	_, err := c.ImportList(context.Background(), ImportRequest{ListName: "listpull-acme-2026-08-w1"})

	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatus())
	assert.Contains(t, apiErr.Body, "quota")
}
