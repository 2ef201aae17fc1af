package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listpull-cli/internal/model"
)

func testBatch() *model.WeeklyBatch {
	return &model.WeeklyBatch{
		ID:             "b-1",
		Tenant:         "acme",
		Month:          "2026-08",
		Week:           2,
		ContactCount:   240,
		HighValueCount: 12,
		ScheduledFor:   time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		Status:         model.BatchPending,
	}
}

func TestWebhookBatchPendingPayload(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).BatchPending(context.Background(), testBatch())
	require.NoError(t, err)

	assert.Equal(t, "batch_pending", got.Kind)
	assert.Equal(t, "b-1", got.BatchID)
	assert.Equal(t, "listpull-acme-2026-08-w2", got.ListName)
	assert.Equal(t, 240, got.ContactCount)
	assert.Equal(t, "2026-08-10", got.ScheduledFor)
	assert.Contains(t, got.Text, "awaiting approval")
	assert.Contains(t, got.Text, "approve-batch b-1")
}

func TestWebhookBatchResolvedCarriesOutcome(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).BatchResolved(context.Background(), testBatch(), "approved and delivered")
	require.NoError(t, err)

	assert.Equal(t, "batch_resolved", got.Kind)
	assert.Contains(t, got.Text, "approved and delivered")
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "channel gone", http.StatusGone)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL).BatchPending(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "410")
}
