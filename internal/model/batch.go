package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// BatchStatus is the lifecycle state of a weekly batch:
//
//	pending → notified → approved → delivered
//	                     approved → delivery_failed (re-triggerable)
//
// delivered is terminal; it rejects further approval and delivery attempts.
type BatchStatus string

const (
	BatchPending        BatchStatus = "pending"
	BatchNotified       BatchStatus = "notified"
	BatchApproved       BatchStatus = "approved"
	BatchDelivered      BatchStatus = "delivered"
	BatchDeliveryFailed BatchStatus = "delivery_failed"
)

// ParseBatchStatus converts a string into a BatchStatus.
func ParseBatchStatus(s string) (BatchStatus, error) {
	switch BatchStatus(s) {
	case BatchPending, BatchNotified, BatchApproved, BatchDelivered, BatchDeliveryFailed:
		return BatchStatus(s), nil
	default:
		return "", eris.Errorf("unknown batch status: %q", s)
	}
}

// CanApprove reports whether an approve command is a valid transition.
func (s BatchStatus) CanApprove() bool {
	return s == BatchPending || s == BatchNotified
}

// CanDeliver reports whether a delivery attempt is a valid transition.
func (s BatchStatus) CanDeliver() bool {
	return s == BatchApproved || s == BatchDeliveryFailed
}

// Terminal reports whether the batch accepts no further transitions.
func (s BatchStatus) Terminal() bool { return s == BatchDelivered }

// WeeklyBatch is a scheduled, approvable, deliverable unit of classified
// contacts for one tenant and one week. Retained indefinitely for audit.
type WeeklyBatch struct {
	ID     string `json:"id"`
	Tenant string `json:"tenant"`
	Month  Month  `json:"month"`
	Week   int    `json:"week"`

	ScheduledFor   time.Time `json:"scheduled_for"`
	ContactCount   int       `json:"contact_count"`
	HighValueCount int       `json:"high_value_count"`

	Status     BatchStatus `json:"status"`
	NotifiedAt *time.Time  `json:"notified_at,omitempty"`
	ApprovedBy string      `json:"approved_by,omitempty"`
	ApprovedAt *time.Time  `json:"approved_at,omitempty"`

	DeliveredCount int    `json:"delivered_count,omitempty"`
	DeliveryError  string `json:"delivery_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ListName is the named import list the batch is delivered under on the
// campaign platform. The platform treats imports as idempotent per name,
// which is what makes re-triggered deliveries safe.
func (b *WeeklyBatch) ListName() string {
	return fmt.Sprintf("listpull-%s-%s-w%d", b.Tenant, b.Month, b.Week)
}

// AuditEntry is one append-only record of a state transition: who did what,
// when, to which entity, and how it came out. The audit log is the source
// of truth when counts are disputed.
type AuditEntry struct {
	ID       int64     `json:"id"`
	Tenant   string    `json:"tenant"`
	Entity   string    `json:"entity"`    // e.g. "batch", "manifest"
	EntityID string    `json:"entity_id"` // batch id or tenant/month key
	Action   string    `json:"action"`    // e.g. "approve", "deliver", "record_pull"
	Actor    string    `json:"actor"`
	Outcome  string    `json:"outcome"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}
