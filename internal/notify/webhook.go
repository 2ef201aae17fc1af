// Package notify implements the reviewer notification channel: a webhook
// for approval requests and outcomes, plus an optional Notion mirror of
// batch status.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/model"
)

// Message is the structured payload posted to the reviewer webhook.
type Message struct {
	Kind           string    `json:"kind"` // "batch_pending" or "batch_resolved"
	BatchID        string    `json:"batch_id"`
	Tenant         string    `json:"tenant"`
	Month          string    `json:"month"`
	Week           int       `json:"week"`
	ListName       string    `json:"list_name"`
	ContactCount   int       `json:"contact_count"`
	HighValueCount int       `json:"high_value_count"`
	ScheduledFor   string    `json:"scheduled_for"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// PendingText renders the human-readable approval request.
func PendingText(b *model.WeeklyBatch) string {
	return fmt.Sprintf(
		"%s awaiting approval: %d contacts (%d high-value) for %s, week %d, scheduled %s. Reply: approve-batch %s",
		b.ListName(), b.ContactCount, b.HighValueCount, b.Tenant, b.Week,
		b.ScheduledFor.Format("2006-01-02"), b.ID,
	)
}

// Webhook posts batch notifications to a reviewer channel webhook.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// BatchPending announces a batch awaiting approval.
func (w *Webhook) BatchPending(ctx context.Context, b *model.WeeklyBatch) error {
	return w.post(ctx, message("batch_pending", b, PendingText(b)))
}

// BatchResolved reports an approval outcome back to the channel.
func (w *Webhook) BatchResolved(ctx context.Context, b *model.WeeklyBatch, outcome string) error {
	return w.post(ctx, message("batch_resolved", b, fmt.Sprintf("%s: %s", b.ListName(), outcome)))
}

func message(kind string, b *model.WeeklyBatch, text string) Message {
	return Message{
		Kind:           kind,
		BatchID:        b.ID,
		Tenant:         b.Tenant,
		Month:          string(b.Month),
		Week:           b.Week,
		ListName:       b.ListName(),
		ContactCount:   b.ContactCount,
		HighValueCount: b.HighValueCount,
		ScheduledFor:   b.ScheduledFor.Format("2006-01-02"),
		Text:           text,
		Timestamp:      time.Now().UTC(),
	}
}

func (w *Webhook) post(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "notify: marshal message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}

	zap.L().Info("notification sent",
		zap.String("kind", msg.Kind),
		zap.String("batch_id", msg.BatchID),
	)
	return nil
}
