package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/model"
	"github.com/sells-group/listpull-cli/internal/store"
)

// Deliverer uploads an approved batch to the campaign platform and returns
// the number of contacts uploaded. It must be safe to call more than once
// for the same batch; the platform's named-list import semantics make the
// second call a no-op on the receiving side.
type Deliverer interface {
	Deliver(ctx context.Context, b *model.WeeklyBatch) (int, error)
}

// Notifier is the reviewer channel.
type Notifier interface {
	// BatchPending announces a batch awaiting approval.
	BatchPending(ctx context.Context, b *model.WeeklyBatch) error
	// BatchResolved reports the outcome of an approval.
	BatchResolved(ctx context.Context, b *model.WeeklyBatch, outcome string) error
}

// Approval outcomes, verbatim in channel responses.
const (
	OutcomeDelivered      = "approved and delivered"
	OutcomeDeliveryFailed = "approved, delivery failed"
	OutcomeAlreadyHandled = "already handled"
	OutcomeNotFound       = "batch not found"
)

// ApprovalResult is the gate's answer to one approve command.
type ApprovalResult struct {
	Outcome        string             `json:"outcome"`
	Batch          *model.WeeklyBatch `json:"batch,omitempty"`
	DeliveredCount int                `json:"delivered_count,omitempty"`
	DeliveryError  string             `json:"delivery_error,omitempty"`
}

// Response renders the channel reply for the approver.
func (r *ApprovalResult) Response() string {
	switch r.Outcome {
	case OutcomeDelivered:
		return fmt.Sprintf("%s: %s (%d contacts)", OutcomeDelivered, r.Batch.ListName(), r.DeliveredCount)
	case OutcomeDeliveryFailed:
		return fmt.Sprintf("%s: %s", OutcomeDeliveryFailed, r.DeliveryError)
	case OutcomeAlreadyHandled:
		return fmt.Sprintf("%s (status %s)", OutcomeAlreadyHandled, r.Batch.Status)
	default:
		return r.Outcome
	}
}

// Gate owns the notify → approve → deliver lifecycle of a weekly batch.
// Approval is a compare-and-set in the store, so duplicate or racing approve
// commands observe the already-transitioned state and short-circuit instead
// of re-running delivery.
type Gate struct {
	store     store.Store
	notifier  Notifier
	deliverer Deliverer
}

func NewGate(st store.Store, n Notifier, d Deliverer) *Gate {
	return &Gate{store: st, notifier: n, deliverer: d}
}

// Notify sends the reviewer summary for a pending batch exactly once. Any
// batch that has left pending is a no-op: re-announcing an approved or
// delivered batch would both mislead the reviewer and, if the status were
// rewound, reopen the approval transition.
func (g *Gate) Notify(ctx context.Context, batchID string) (bool, error) {
	b, err := g.store.GetBatch(ctx, batchID)
	if err != nil {
		return false, eris.Wrap(err, "gate: get batch")
	}
	if b == nil {
		return false, eris.Errorf("gate: batch %s not found", batchID)
	}
	if b.Status != model.BatchPending {
		zap.L().Info("notify skipped, batch already past pending",
			zap.String("batch_id", batchID),
			zap.String("status", string(b.Status)),
		)
		return false, nil
	}

	if err := g.notifier.BatchPending(ctx, b); err != nil {
		return false, eris.Wrapf(err, "gate: notify batch %s", batchID)
	}

	sent, err := g.store.MarkNotified(ctx, batchID)
	if err != nil {
		return false, eris.Wrap(err, "gate: mark notified")
	}
	if err := g.audit(ctx, b, "notify", "reviewer", "sent"); err != nil {
		return false, err
	}
	return sent, nil
}

// Approve handles an `approve-batch` command. Exactly one caller wins the
// pending|notified → approved transition and triggers delivery synchronously;
// everyone else gets "already handled". Delivery failure leaves the batch in
// delivery_failed for an explicit re-trigger, never an automatic retry.
func (g *Gate) Approve(ctx context.Context, batchID, approver string) (*ApprovalResult, error) {
	b, claimed, err := g.store.ClaimApproval(ctx, batchID, approver)
	if err != nil {
		return nil, eris.Wrapf(err, "gate: claim approval of %s", batchID)
	}
	if b == nil {
		return &ApprovalResult{Outcome: OutcomeNotFound}, nil
	}
	if !claimed {
		zap.L().Info("duplicate approval ignored",
			zap.String("batch_id", batchID),
			zap.String("approver", approver),
			zap.String("status", string(b.Status)),
		)
		return &ApprovalResult{Outcome: OutcomeAlreadyHandled, Batch: b}, nil
	}

	if err := g.audit(ctx, b, "approve", approver, "approved"); err != nil {
		return nil, err
	}
	zap.L().Info("batch approved",
		zap.String("batch_id", batchID),
		zap.String("approver", approver),
	)

	return g.deliver(ctx, b, approver)
}

// Redeliver re-triggers delivery for a batch stuck in delivery_failed (or
// approved but never delivered). It refuses anything already delivered.
func (g *Gate) Redeliver(ctx context.Context, batchID, actor string) (*ApprovalResult, error) {
	b, err := g.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, eris.Wrap(err, "gate: get batch")
	}
	if b == nil {
		return &ApprovalResult{Outcome: OutcomeNotFound}, nil
	}
	if !b.Status.CanDeliver() {
		return &ApprovalResult{Outcome: OutcomeAlreadyHandled, Batch: b}, nil
	}
	return g.deliver(ctx, b, actor)
}

func (g *Gate) deliver(ctx context.Context, b *model.WeeklyBatch, actor string) (*ApprovalResult, error) {
	count, err := g.deliverer.Deliver(ctx, b)
	if err != nil {
		reason := err.Error()
		if serr := g.store.SetDeliveryResult(ctx, b.ID, model.BatchDeliveryFailed, 0, reason); serr != nil {
			return nil, eris.Wrap(serr, "gate: record delivery failure")
		}
		if aerr := g.audit(ctx, b, "deliver", actor, "failed: "+reason); aerr != nil {
			return nil, aerr
		}
		zap.L().Error("batch delivery failed",
			zap.String("batch_id", b.ID),
			zap.String("tenant", b.Tenant),
			zap.Error(err),
		)
		res := &ApprovalResult{Outcome: OutcomeDeliveryFailed, Batch: b, DeliveryError: reason}
		g.resolve(ctx, b, res)
		return res, nil
	}

	if serr := g.store.SetDeliveryResult(ctx, b.ID, model.BatchDelivered, count, ""); serr != nil {
		return nil, eris.Wrap(serr, "gate: record delivery")
	}
	if aerr := g.audit(ctx, b, "deliver", actor, fmt.Sprintf("delivered %d contacts", count)); aerr != nil {
		return nil, aerr
	}
	zap.L().Info("batch delivered",
		zap.String("batch_id", b.ID),
		zap.String("tenant", b.Tenant),
		zap.Int("contacts", count),
	)

	res := &ApprovalResult{Outcome: OutcomeDelivered, Batch: b, DeliveredCount: count}
	g.resolve(ctx, b, res)
	return res, nil
}

// resolve pushes the outcome back to the reviewer channel. Best effort; the
// delivery result is already durable.
func (g *Gate) resolve(ctx context.Context, b *model.WeeklyBatch, res *ApprovalResult) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.BatchResolved(ctx, b, res.Response()); err != nil {
		zap.L().Warn("resolution notice failed",
			zap.String("batch_id", b.ID), zap.Error(err))
	}
}

func (g *Gate) audit(ctx context.Context, b *model.WeeklyBatch, action, actor, outcome string) error {
	err := g.store.AppendAudit(ctx, model.AuditEntry{
		Tenant:   b.Tenant,
		Entity:   "batch",
		EntityID: b.ID,
		Action:   action,
		Actor:    actor,
		Outcome:  outcome,
		At:       time.Now().UTC(),
	})
	return eris.Wrapf(err, "gate: audit %s of %s", action, b.ID)
}
