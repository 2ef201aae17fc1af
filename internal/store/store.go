// Package store persists the geo-unit manifest, classified contacts, weekly
// batches, and the append-only audit log.
package store

import (
	"context"

	"github.com/sells-group/listpull-cli/internal/model"
)

// PullReport is the outcome of a RecordPull call. Units outside the
// assignment are surfaced in Unknown rather than silently ignored, and
// AlreadyPulled flags a likely duplicate upload.
type PullReport struct {
	Applied       []string `json:"applied"`
	AlreadyPulled []string `json:"already_pulled"`
	Unknown       []string `json:"unknown"`
	Requested     int      `json:"requested"`
}

// MatchRatio is the fraction of requested units found in the assignment.
// A low ratio usually means a wrong-batch upload.
func (r *PullReport) MatchRatio() float64 {
	if r.Requested == 0 {
		return 0
	}
	return float64(len(r.Applied)+len(r.AlreadyPulled)) / float64(r.Requested)
}

// BatchFilter specifies criteria for listing weekly batches.
type BatchFilter struct {
	Tenant string            `json:"tenant,omitempty"`
	Month  model.Month       `json:"month,omitempty"`
	Status model.BatchStatus `json:"status,omitempty"`
	Limit  int               `json:"limit,omitempty"`
}

// Store defines the persistence interface for the acquisition pipeline.
type Store interface {
	// Geo-unit manifest. AssignUnits is an idempotent full replace for the
	// tenant/month; RecordPull conditionally sets pulled_at and yield
	// (compare-and-set, so concurrent uploads for different batches of one
	// tenant/month are safe without a global lock).
	AssignUnits(ctx context.Context, tenant string, month model.Month, units []model.GeoUnit) error
	Assignment(ctx context.Context, tenant string, month model.Month) ([]model.GeoUnit, error)
	RecordPull(ctx context.Context, tenant string, month model.Month, yieldByUnit map[string]int) (*PullReport, error)
	UnpulledUnits(ctx context.Context, tenant string, month model.Month) ([]model.GeoUnit, error)

	// Classified contacts.
	UpsertContacts(ctx context.Context, contacts []model.ClassifiedContact) (int64, error)
	ContactsForDelivery(ctx context.Context, destTenant string, month model.Month) ([]model.ClassifiedContact, error)
	ContactsForBatch(ctx context.Context, batchID string) ([]model.ClassifiedContact, error)
	AssignContactsToBatch(ctx context.Context, batchID string, contactIDs []string) error

	// Weekly batches.
	CreateBatches(ctx context.Context, batches []model.WeeklyBatch) error
	GetBatch(ctx context.Context, id string) (*model.WeeklyBatch, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]model.WeeklyBatch, error)
	// MarkNotified flips pending → notified; returns false if the batch
	// already left pending. Batches past approval must never regress to
	// notified, or a second approval could win the claim again.
	MarkNotified(ctx context.Context, id string) (bool, error)
	// ClaimApproval atomically transitions pending|notified → approved.
	// Returns (batch, true) when this call won the transition, and
	// (current batch, false) when the batch was already handled.
	ClaimApproval(ctx context.Context, id, approver string) (*model.WeeklyBatch, bool, error)
	SetDeliveryResult(ctx context.Context, id string, status model.BatchStatus, deliveredCount int, deliveryErr string) error

	// Audit log (append-only).
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
	AuditTrail(ctx context.Context, entity, entityID string) ([]model.AuditEntry, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}
