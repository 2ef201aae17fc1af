package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectColumnsByFragment(t *testing.T) {
	m, err := DetectColumns([]string{
		"Owner First Name", "Owner Last Name", "Site Zip Code", "Mail Zip",
		"Sale Price", "AVM Estimate", "Email Address", "Owner Occupancy Flag",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, m.Unit)
	assert.Equal(t, 3, m.MailingZIP)
	assert.Equal(t, 0, m.FirstName)
	assert.Equal(t, 1, m.LastName)
	assert.Equal(t, 4, m.PurchaseAmount)
	assert.Equal(t, 5, m.EstimatedValue)
	assert.Equal(t, 6, m.Email)
	assert.Equal(t, 7, m.Household)
	assert.Equal(t, -1, m.PropertyState, "absent columns stay unmapped")
}

func TestDetectColumnsBareZIPFallback(t *testing.T) {
	m, err := DetectColumns([]string{"First Name", "Zip", "Email"})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Unit)
}

func TestDetectColumnsNoUnitColumn(t *testing.T) {
	_, err := DetectColumns([]string{"First Name", "Last Name", "Email"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoUnitColumn)
}

func TestDetectColumnsDoesNotDoubleClaim(t *testing.T) {
	// The mailing ZIP must not swallow the only property ZIP column.
	m, err := DetectColumns([]string{"Mailing Zip", "Property Zip"})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Unit)
	assert.Equal(t, 0, m.MailingZIP)
}

func TestContactNormalizesUnit(t *testing.T) {
	m, err := DetectColumns([]string{"First Name", "Property Zip", "Email"})
	require.NoError(t, err)

	tests := []struct {
		raw  string
		want string
	}{
		{"73101-4321", "73101"},
		{"501", "00501"},
		{" 73101 ", "73101"},
	}
	for _, tt := range tests {
		row := []string{"Dana", tt.raw, "dana@example.com"}
		assert.Equal(t, tt.want, m.UnitOf(row), tt.raw)
		assert.Equal(t, tt.want, m.Contact(row).PropertyZIP, tt.raw)
	}
}

func TestContactToleratesShortRows(t *testing.T) {
	m, err := DetectColumns([]string{"First Name", "Property Zip", "Email"})
	require.NoError(t, err)

	c := m.Contact([]string{"Dana"})
	assert.Equal(t, "Dana", c.FirstName)
	assert.Empty(t, c.Email)
	assert.Empty(t, m.UnitOf([]string{"Dana"}))
}
