package batch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listpull-cli/internal/model"
)

func seedContacts(t *testing.T, st *memStore, n, highValue int) {
	t.Helper()
	contacts := make([]model.ClassifiedContact, n)
	for i := range contacts {
		contacts[i] = model.ClassifiedContact{
			ID:                fmt.Sprintf("c-%03d", i),
			Eligible:          true,
			HighValue:         i < highValue,
			DestinationTenant: "acme",
			RawContact:        model.RawContact{SourceTenant: "acme", Month: "2026-08"},
		}
	}
	_, err := st.UpsertContacts(context.Background(), contacts)
	require.NoError(t, err)
}

func TestBuildMonthSplitsIntoWeeklyCohorts(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	seedContacts(t, st, 103, 9)

	builder, err := NewBuilder(st, 4, "Monday")
	require.NoError(t, err)

	batches, err := builder.BuildMonth(ctx, "acme", "2026-08")
	require.NoError(t, err)
	require.Len(t, batches, 4)

	var total, highValue int
	for i, b := range batches {
		assert.Equal(t, i+1, b.Week)
		assert.Equal(t, model.BatchPending, b.Status)
		total += b.ContactCount
		highValue += b.HighValueCount

		// Batch counts must agree with the contacts actually grouped.
		grouped, err := st.ContactsForBatch(ctx, b.ID)
		require.NoError(t, err)
		assert.Len(t, grouped, b.ContactCount)
	}
	assert.Equal(t, 103, total)
	assert.Equal(t, 9, highValue)

	// 103 across 4 weeks: early weeks absorb the remainder.
	assert.Equal(t, 26, batches[0].ContactCount)
	assert.Equal(t, 25, batches[3].ContactCount)
}

func TestBuildMonthScheduleAnchorsWeekday(t *testing.T) {
	st := newMemStore()
	seedContacts(t, st, 8, 0)

	builder, err := NewBuilder(st, 4, "Monday")
	require.NoError(t, err)

	// August 2026 starts on a Saturday; the first Monday is the 3rd.
	batches, err := builder.BuildMonth(context.Background(), "acme", "2026-08")
	require.NoError(t, err)
	require.Len(t, batches, 4)

	for i, b := range batches {
		assert.Equal(t, time.Monday, b.ScheduledFor.Weekday())
		assert.Equal(t, 3+7*i, b.ScheduledFor.Day())
	}
}

func TestBuildMonthSkipsAlreadyBatchedContacts(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	seedContacts(t, st, 40, 0)

	builder, err := NewBuilder(st, 4, "Monday")
	require.NoError(t, err)

	first, err := builder.BuildMonth(ctx, "acme", "2026-08")
	require.NoError(t, err)
	require.Len(t, first, 4)

	// A rebuild with nothing new produces nothing.
	second, err := builder.BuildMonth(ctx, "acme", "2026-08")
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestBuildMonthFewerContactsThanWeeks(t *testing.T) {
	st := newMemStore()
	seedContacts(t, st, 2, 0)

	builder, err := NewBuilder(st, 4, "Monday")
	require.NoError(t, err)

	batches, err := builder.BuildMonth(context.Background(), "acme", "2026-08")
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}

func TestNewBuilderRejectsBadConfig(t *testing.T) {
	_, err := NewBuilder(newMemStore(), 0, "Monday")
	assert.Error(t, err)

	_, err = NewBuilder(newMemStore(), 4, "Someday")
	assert.Error(t, err)
}
