package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listpull-cli/internal/model"
	"github.com/sells-group/listpull-cli/internal/store"
)

// memStore is an in-memory store.Store for gate and builder tests. It
// mirrors the real stores' compare-and-set semantics, which is what the
// idempotency tests exercise.
type memStore struct {
	mu       sync.Mutex
	units    map[string]*model.GeoUnit
	contacts map[string]*model.ClassifiedContact
	batches  map[string]*model.WeeklyBatch
	audit    []model.AuditEntry
}

func newMemStore() *memStore {
	return &memStore{
		units:    make(map[string]*model.GeoUnit),
		contacts: make(map[string]*model.ClassifiedContact),
		batches:  make(map[string]*model.WeeklyBatch),
	}
}

var _ store.Store = (*memStore)(nil)

func unitKey(tenant string, month model.Month, code string) string {
	return tenant + "/" + string(month) + "/" + code
}

func (s *memStore) AssignUnits(_ context.Context, tenant string, month model.Month, units []model.GeoUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.units {
		if len(k) > len(tenant)+len(month)+2 && k[:len(tenant)+len(month)+2] == tenant+"/"+string(month)+"/" {
			delete(s.units, k)
		}
	}
	for _, u := range units {
		cp := u
		s.units[unitKey(tenant, month, u.UnitCode)] = &cp
	}
	return nil
}

func (s *memStore) Assignment(_ context.Context, tenant string, month model.Month) ([]model.GeoUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.GeoUnit
	for _, u := range s.units {
		if u.Tenant == tenant && u.Month == month {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitCode < out[j].UnitCode })
	return out, nil
}

func (s *memStore) RecordPull(_ context.Context, tenant string, month model.Month, yieldByUnit map[string]int) (*store.PullReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report := &store.PullReport{Requested: len(yieldByUnit)}
	now := time.Now().UTC()
	for code, yield := range yieldByUnit {
		u, ok := s.units[unitKey(tenant, month, code)]
		switch {
		case !ok:
			report.Unknown = append(report.Unknown, code)
		case u.PulledAt != nil:
			report.AlreadyPulled = append(report.AlreadyPulled, code)
		default:
			u.PulledAt = &now
			u.Yield = yield
			report.Applied = append(report.Applied, code)
		}
	}
	return report, nil
}

func (s *memStore) UnpulledUnits(ctx context.Context, tenant string, month model.Month) ([]model.GeoUnit, error) {
	all, _ := s.Assignment(ctx, tenant, month)
	var out []model.GeoUnit
	for _, u := range all {
		if !u.Pulled() {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *memStore) UpsertContacts(_ context.Context, contacts []model.ClassifiedContact) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range contacts {
		cp := c
		s.contacts[c.ID] = &cp
	}
	return int64(len(contacts)), nil
}

func (s *memStore) ContactsForDelivery(_ context.Context, destTenant string, month model.Month) ([]model.ClassifiedContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ClassifiedContact
	for _, c := range s.contacts {
		if c.DestinationTenant == destTenant && c.Month == month && c.Eligible {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ContactsForBatch(_ context.Context, batchID string) ([]model.ClassifiedContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ClassifiedContact
	for _, c := range s.contacts {
		if c.WeeklyBatchID == batchID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) AssignContactsToBatch(_ context.Context, batchID string, contactIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range contactIDs {
		if c, ok := s.contacts[id]; ok {
			c.WeeklyBatchID = batchID
		}
	}
	return nil
}

func (s *memStore) CreateBatches(_ context.Context, batches []model.WeeklyBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range batches {
		cp := b
		s.batches[b.ID] = &cp
	}
	return nil
}

func (s *memStore) GetBatch(_ context.Context, id string) (*model.WeeklyBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) ListBatches(_ context.Context, filter store.BatchFilter) ([]model.WeeklyBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.WeeklyBatch
	for _, b := range s.batches {
		if filter.Tenant != "" && b.Tenant != filter.Tenant {
			continue
		}
		if filter.Month != "" && b.Month != filter.Month {
			continue
		}
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Week < out[j].Week })
	return out, nil
}

func (s *memStore) MarkNotified(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return false, eris.Errorf("batch %s not found", id)
	}
	if b.NotifiedAt != nil || b.Status != model.BatchPending {
		return false, nil
	}
	now := time.Now().UTC()
	b.NotifiedAt = &now
	b.Status = model.BatchNotified
	return true, nil
}

func (s *memStore) ClaimApproval(_ context.Context, id, approver string) (*model.WeeklyBatch, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, false, nil
	}
	if !b.Status.CanApprove() {
		cp := *b
		return &cp, false, nil
	}
	now := time.Now().UTC()
	b.Status = model.BatchApproved
	b.ApprovedBy = approver
	b.ApprovedAt = &now
	cp := *b
	return &cp, true, nil
}

func (s *memStore) SetDeliveryResult(_ context.Context, id string, status model.BatchStatus, deliveredCount int, deliveryErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return eris.Errorf("batch %s not found", id)
	}
	b.Status = status
	b.DeliveredCount = deliveredCount
	b.DeliveryError = deliveryErr
	return nil
}

func (s *memStore) AppendAudit(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.audit) + 1)
	s.audit = append(s.audit, entry)
	return nil
}

func (s *memStore) AuditTrail(_ context.Context, entity, entityID string) ([]model.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range s.audit {
		if e.Entity == entity && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }
