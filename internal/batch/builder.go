// Package batch groups classified contacts into weekly delivery batches and
// gates their delivery behind reviewer approval.
package batch

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/model"
	"github.com/sells-group/listpull-cli/internal/store"
)

// Builder splits a destination tenant's month of contacts into weekly
// cohorts, one batch per (tenant, week).
type Builder struct {
	store  store.Store
	weeks  int
	anchor time.Weekday
}

// NewBuilder wires a builder with the configured cadence. anchorWeekday is a
// weekday name ("Monday"); weeks is the number of cohorts per month.
func NewBuilder(st store.Store, weeks int, anchorWeekday string) (*Builder, error) {
	if weeks < 1 {
		return nil, eris.Errorf("batch: weeks per month must be >= 1, got %d", weeks)
	}
	anchor, err := parseWeekday(anchorWeekday)
	if err != nil {
		return nil, err
	}
	return &Builder{store: st, weeks: weeks, anchor: anchor}, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, nil
		}
	}
	return 0, eris.Errorf("batch: unknown anchor weekday %q", name)
}

// BuildMonth groups the destination tenant's not-yet-batched contacts for a
// month into weekly batches. Contacts already in a batch stay where they
// are, so rebuilding after a partial run only picks up the newcomers.
// Contacts are never mutated once grouped.
func (b *Builder) BuildMonth(ctx context.Context, destTenant string, month model.Month) ([]model.WeeklyBatch, error) {
	contacts, err := b.store.ContactsForDelivery(ctx, destTenant, month)
	if err != nil {
		return nil, eris.Wrap(err, "batch: load contacts")
	}

	var unbatched []model.ClassifiedContact
	for _, c := range contacts {
		if c.WeeklyBatchID == "" {
			unbatched = append(unbatched, c)
		}
	}
	if len(unbatched) == 0 {
		zap.L().Info("no unbatched contacts",
			zap.String("tenant", destTenant), zap.String("month", string(month)))
		return nil, nil
	}

	now := time.Now().UTC()
	cohorts := splitCohorts(unbatched, b.weeks)

	var batches []model.WeeklyBatch
	assignments := make(map[string][]string)
	for week, cohort := range cohorts {
		if len(cohort) == 0 {
			continue
		}

		wb := model.WeeklyBatch{
			ID:           uuid.NewString(),
			Tenant:       destTenant,
			Month:        month,
			Week:         week + 1,
			ScheduledFor: b.scheduleFor(month, week+1),
			ContactCount: len(cohort),
			Status:       model.BatchPending,
			CreatedAt:    now,
		}
		ids := make([]string, len(cohort))
		for i, c := range cohort {
			ids[i] = c.ID
			if c.HighValue {
				wb.HighValueCount++
			}
		}
		batches = append(batches, wb)
		assignments[wb.ID] = ids
	}

	if err := b.store.CreateBatches(ctx, batches); err != nil {
		return nil, eris.Wrap(err, "batch: create batches")
	}
	for _, wb := range batches {
		if err := b.store.AssignContactsToBatch(ctx, wb.ID, assignments[wb.ID]); err != nil {
			return nil, eris.Wrapf(err, "batch: assign contacts to %s", wb.ID)
		}
		if err := b.store.AppendAudit(ctx, model.AuditEntry{
			Tenant:   destTenant,
			Entity:   "batch",
			EntityID: wb.ID,
			Action:   "build",
			Actor:    "pipeline",
			Outcome:  "created",
			Detail:   wb.ListName(),
			At:       now,
		}); err != nil {
			return nil, eris.Wrap(err, "batch: append audit")
		}

		zap.L().Info("weekly batch created",
			zap.String("batch_id", wb.ID),
			zap.String("tenant", destTenant),
			zap.Int("week", wb.Week),
			zap.Int("contacts", wb.ContactCount),
			zap.Int("high_value", wb.HighValueCount),
			zap.Time("scheduled_for", wb.ScheduledFor),
		)
	}

	return batches, nil
}

// splitCohorts partitions contacts into up to n contiguous cohorts of
// near-equal size, earlier weeks absorbing the remainder.
func splitCohorts(contacts []model.ClassifiedContact, n int) [][]model.ClassifiedContact {
	if n > len(contacts) {
		n = len(contacts)
	}
	cohorts := make([][]model.ClassifiedContact, n)
	per, rem := len(contacts)/n, len(contacts)%n
	offset := 0
	for i := range cohorts {
		size := per
		if i < rem {
			size++
		}
		cohorts[i] = contacts[offset : offset+size]
		offset += size
	}
	return cohorts
}

// scheduleFor is the week's delivery date: the first anchor weekday on or
// after the month start, plus whole weeks.
func (b *Builder) scheduleFor(month model.Month, week int) time.Time {
	start := month.Start()
	offset := (int(b.anchor) - int(start.Weekday()) + 7) % 7
	return start.AddDate(0, 0, offset+(week-1)*7)
}
