package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listpull-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testUnits(codes ...string) []model.GeoUnit {
	units := make([]model.GeoUnit, len(codes))
	for i, code := range codes {
		units[i] = model.GeoUnit{UnitCode: code, Region: "OK", BatchNumber: 1}
	}
	return units
}

// --- Geo-unit assignment ---

func TestSQLite_AssignUnits_ReplacesAssignment(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AssignUnits(ctx, "acme", "2026-08", testUnits("73101", "73102")))
	require.NoError(t, st.AssignUnits(ctx, "acme", "2026-08", testUnits("73103")))

	units, err := st.Assignment(ctx, "acme", "2026-08")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "73103", units[0].UnitCode)
	assert.Equal(t, model.Month("2026-08"), units[0].Month)
}

func TestSQLite_AssignUnits_MonthsIsolated(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AssignUnits(ctx, "acme", "2026-08", testUnits("73101")))
	require.NoError(t, st.AssignUnits(ctx, "acme", "2026-09", testUnits("73102")))

	aug, err := st.Assignment(ctx, "acme", "2026-08")
	require.NoError(t, err)
	assert.Len(t, aug, 1)
	assert.Equal(t, "73101", aug[0].UnitCode)
}

func TestSQLite_RecordPull_ThreeWayOutcome(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AssignUnits(ctx, "acme", "2026-08", testUnits("73101", "73102")))

	first, err := st.RecordPull(ctx, "acme", "2026-08", map[string]int{"73101": 12})
	require.NoError(t, err)
	assert.Equal(t, []string{"73101"}, first.Applied)

	// Second upload touching the pulled unit plus an unknown one.
	second, err := st.RecordPull(ctx, "acme", "2026-08", map[string]int{
		"73101": 5, "73102": 8, "99999": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"73102"}, second.Applied)
	assert.Equal(t, []string{"73101"}, second.AlreadyPulled)
	assert.Equal(t, []string{"99999"}, second.Unknown)

	// The first pull's yield survives the duplicate attempt.
	units, err := st.Assignment(ctx, "acme", "2026-08")
	require.NoError(t, err)
	assert.Equal(t, 12, units[0].Yield)
	assert.NotNil(t, units[0].PulledAt)
}

func TestSQLite_UnpulledUnits(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.AssignUnits(ctx, "acme", "2026-08", testUnits("73101", "73102", "73103")))
	_, err := st.RecordPull(ctx, "acme", "2026-08", map[string]int{"73102": 4})
	require.NoError(t, err)

	unpulled, err := st.UnpulledUnits(ctx, "acme", "2026-08")
	require.NoError(t, err)
	require.Len(t, unpulled, 2)
	assert.Equal(t, "73101", unpulled[0].UnitCode)
	assert.Equal(t, "73103", unpulled[1].UnitCode)
}

// --- Classified contacts ---

func testContact(id, email string) model.ClassifiedContact {
	return model.ClassifiedContact{
		ID:                id,
		DestinationTenant: "acme",
		Eligible:          true,
		HomeValue:         450000,
		RawContact: model.RawContact{
			SourceTenant: "acme",
			Month:        "2026-08",
			FirstName:    "Dana",
			LastName:     "Whitfield",
			Email:        email,
			PropertyZIP:  "73101",
		},
	}
}

func TestSQLite_UpsertContacts_ReclassifyReplacesVerdict(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := testContact("c-1", "dana@example.com")
	_, err := st.UpsertContacts(ctx, []model.ClassifiedContact{c})
	require.NoError(t, err)

	// Same business key, new verdict: the row is updated, not duplicated.
	c.ID = "c-2"
	c.HighValue = true
	_, err = st.UpsertContacts(ctx, []model.ClassifiedContact{c})
	require.NoError(t, err)

	contacts, err := st.ContactsForDelivery(ctx, "acme", "2026-08")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.True(t, contacts[0].HighValue)
}

func TestSQLite_AssignContactsToBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertContacts(ctx, []model.ClassifiedContact{
		testContact("c-1", "dana@example.com"),
		testContact("c-2", "marcus@example.com"),
	})
	require.NoError(t, err)

	require.NoError(t, st.AssignContactsToBatch(ctx, "b-1", []string{"c-1"}))

	grouped, err := st.ContactsForBatch(ctx, "b-1")
	require.NoError(t, err)
	require.Len(t, grouped, 1)
	assert.Equal(t, "c-1", grouped[0].ID)
}

// --- Weekly batches ---

func seedSQLiteBatch(t *testing.T, st *SQLiteStore, id string) {
	t.Helper()
	require.NoError(t, st.CreateBatches(context.Background(), []model.WeeklyBatch{{
		ID:           id,
		Tenant:       "acme",
		Month:        "2026-08",
		Week:         1,
		ScheduledFor: time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC),
		ContactCount: 240,
		Status:       model.BatchPending,
		CreatedAt:    time.Now().UTC(),
	}}))
}

func TestSQLite_CreateBatches_IdempotentPerWeek(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedSQLiteBatch(t, st, "b-1")
	// A rebuild generates a fresh id for the same (tenant, month, week); the
	// existing row wins.
	require.NoError(t, st.CreateBatches(ctx, []model.WeeklyBatch{{
		ID: "b-other", Tenant: "acme", Month: "2026-08", Week: 1,
		ScheduledFor: time.Now().UTC(), Status: model.BatchPending, CreatedAt: time.Now().UTC(),
	}}))

	batches, err := st.ListBatches(ctx, BatchFilter{Tenant: "acme", Month: "2026-08"})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "b-1", batches[0].ID)
}

func TestSQLite_GetBatch_UnknownIsNil(t *testing.T) {
	st := newTestSQLiteStore(t)

	b, err := st.GetBatch(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestSQLite_MarkNotified_FlipsOnce(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSQLiteBatch(t, st, "b-1")

	sent, err := st.MarkNotified(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = st.MarkNotified(ctx, "b-1")
	require.NoError(t, err)
	assert.False(t, sent)

	b, err := st.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchNotified, b.Status)
	assert.NotNil(t, b.NotifiedAt)
}

func TestSQLite_MarkNotified_RefusesHandledBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSQLiteBatch(t, st, "b-1")

	// Approved straight from pending, then delivered, without a notify.
	_, claimed, err := st.ClaimApproval(ctx, "b-1", "reviewer")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, st.SetDeliveryResult(ctx, "b-1", model.BatchDelivered, 240, ""))

	// A late notify must not rewind the delivered batch to notified,
	// which would make it claimable a second time.
	sent, err := st.MarkNotified(ctx, "b-1")
	require.NoError(t, err)
	assert.False(t, sent)

	b, err := st.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchDelivered, b.Status)

	_, claimed, err = st.ClaimApproval(ctx, "b-1", "second-reviewer")
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestSQLite_ClaimApproval_SingleWinner(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSQLiteBatch(t, st, "b-1")

	b, claimed, err := st.ClaimApproval(ctx, "b-1", "first")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, model.BatchApproved, b.Status)
	assert.Equal(t, "first", b.ApprovedBy)

	// The losing duplicate sees the winner's state.
	b, claimed, err = st.ClaimApproval(ctx, "b-1", "second")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "first", b.ApprovedBy)
}

func TestSQLite_ClaimApproval_UnknownBatch(t *testing.T) {
	st := newTestSQLiteStore(t)

	b, claimed, err := st.ClaimApproval(context.Background(), "missing", "reviewer")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Nil(t, b)
}

func TestSQLite_SetDeliveryResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedSQLiteBatch(t, st, "b-1")

	require.NoError(t, st.SetDeliveryResult(ctx, "b-1", model.BatchDeliveryFailed, 0, "workspace unavailable"))

	b, err := st.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchDeliveryFailed, b.Status)
	assert.Equal(t, "workspace unavailable", b.DeliveryError)

	require.NoError(t, st.SetDeliveryResult(ctx, "b-1", model.BatchDelivered, 240, ""))

	b, err = st.GetBatch(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, model.BatchDelivered, b.Status)
	assert.Equal(t, 240, b.DeliveredCount)
}

func TestSQLite_ListBatches_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateBatches(ctx, []model.WeeklyBatch{
		{ID: "b-1", Tenant: "acme", Month: "2026-08", Week: 1, ScheduledFor: time.Now().UTC(), Status: model.BatchPending, CreatedAt: time.Now().UTC()},
		{ID: "b-2", Tenant: "acme", Month: "2026-08", Week: 2, ScheduledFor: time.Now().UTC(), Status: model.BatchDelivered, CreatedAt: time.Now().UTC()},
		{ID: "b-3", Tenant: "lonestar", Month: "2026-08", Week: 1, ScheduledFor: time.Now().UTC(), Status: model.BatchPending, CreatedAt: time.Now().UTC()},
	}))

	pending, err := st.ListBatches(ctx, BatchFilter{Tenant: "acme", Status: model.BatchPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b-1", pending[0].ID)

	all, err := st.ListBatches(ctx, BatchFilter{Month: "2026-08"})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// --- Audit log ---

func TestSQLite_AuditTrail_OrderedAppendOnly(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, action := range []string{"notify", "approve", "deliver"} {
		require.NoError(t, st.AppendAudit(ctx, model.AuditEntry{
			Tenant: "acme", Entity: "batch", EntityID: "b-1",
			Action: action, Actor: "reviewer", Outcome: "ok",
		}))
	}
	require.NoError(t, st.AppendAudit(ctx, model.AuditEntry{
		Entity: "batch", EntityID: "b-2", Action: "notify", Outcome: "ok",
	}))

	trail, err := st.AuditTrail(ctx, "batch", "b-1")
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, "notify", trail[0].Action)
	assert.Equal(t, "deliver", trail[2].Action)
	assert.False(t, trail[0].At.IsZero())
}
