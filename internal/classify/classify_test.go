package classify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listpull-cli/internal/model"
)

var testTenants = model.NewTenantRegistry(
	model.Tenant{
		Slug:                  "acme",
		Region:                "OK",
		RegionOverrideEnabled: true,
		OverrideRegion:        "TX",
		OverrideTenant:        "lonestar",
	},
	model.Tenant{Slug: "lonestar", Region: "TX"},
	model.Tenant{Slug: "plain", Region: "CA"},
)

func rawContact(overrides func(*model.RawContact)) model.RawContact {
	c := model.RawContact{
		FirstName:          "Dana",
		LastName:           "Whitfield",
		PropertyState:      "OK",
		PropertyZIP:        "73101",
		EstimatedValue:     "450000",
		Email:              "dana@example.com",
		HouseholdIndicator: "single",
		SourceTenant:       "acme",
		Month:              "2026-08",
	}
	if overrides != nil {
		overrides(&c)
	}
	return c
}

func TestEligibility(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.RawContact)
		reason string
	}{
		{"eligible", nil, ""},
		{"missing email", func(c *model.RawContact) { c.Email = "" }, model.FilterMissingEmail},
		{"malformed email", func(c *model.RawContact) { c.Email = "not-an-email" }, model.FilterMissingEmail},
		{"missing household", func(c *model.RawContact) { c.HouseholdIndicator = "" }, model.FilterMissingHousehold},
		{"multiple owners", func(c *model.RawContact) { c.HouseholdIndicator = "Multiple Owners" }, model.FilterMultiplePersons},
		{"married couple", func(c *model.RawContact) { c.HouseholdIndicator = "married couple" }, model.FilterMultiplePersons},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.reason, Eligibility(rawContact(tt.mutate)))
		})
	}
}

func TestHomeValueTakesMaxOfCandidates(t *testing.T) {
	c := rawContact(func(c *model.RawContact) {
		c.PurchaseAmount = "$712,500"
		c.EstimatedValue = "950000.00"
		c.AssessedValue = "688200"
	})
	assert.Equal(t, 950000.0, HomeValue(c))
}

func TestHomeValueMalformedParsesAsZero(t *testing.T) {
	c := rawContact(func(c *model.RawContact) {
		c.PurchaseAmount = "N/A"
		c.EstimatedValue = "call for price"
		c.AssessedValue = ""
	})
	assert.Equal(t, 0.0, HomeValue(c))
}

func TestRouteRegionOverride(t *testing.T) {
	acme, _ := testTenants.Get("acme")

	// High-value TX record from a tenant with TX override → override tenant.
	assert.Equal(t, "lonestar", Route(acme, "TX", true))
	// Same region, below threshold → stays home.
	assert.Equal(t, "acme", Route(acme, "TX", false))
	// High value outside the override region → stays home.
	assert.Equal(t, "acme", Route(acme, "OK", true))

	// Tenant without overrides keeps everything.
	plain, _ := testTenants.Get("plain")
	assert.Equal(t, "plain", Route(plain, "TX", true))
}

func TestClassifyHighValueOverrideScenario(t *testing.T) {
	// A 950k TX record from acme (override region TX) must land on the
	// override tenant with the value tier set.
	c := rawContact(func(c *model.RawContact) {
		c.PropertyState = "TX"
		c.EstimatedValue = "950000"
	})

	res, err := New(testTenants, 750000).Classify(context.Background(), []model.RawContact{c})

	require.NoError(t, err)
	require.Len(t, res.ByDestination["lonestar"], 1)
	got := res.ByDestination["lonestar"][0]
	assert.True(t, got.HighValue)
	assert.True(t, got.Eligible)
	assert.Equal(t, 1, res.Rerouted)
}

func TestClassifyMissingEmailExcludedEverywhere(t *testing.T) {
	c := rawContact(func(c *model.RawContact) { c.Email = "" })

	res, err := New(testTenants, 750000).Classify(context.Background(), []model.RawContact{c})

	require.NoError(t, err)
	assert.Empty(t, res.ByDestination)
	require.Len(t, res.Excluded, 1)
	assert.Equal(t, model.FilterMissingEmail, res.Excluded[0].FilterReason)
	assert.False(t, res.Excluded[0].Eligible)
	assert.Empty(t, res.Excluded[0].DestinationTenant)
}

func TestClassifyDeterministicDestination(t *testing.T) {
	contacts := []model.RawContact{
		rawContact(func(c *model.RawContact) { c.PropertyState = "TX"; c.EstimatedValue = "900000" }),
		rawContact(func(c *model.RawContact) { c.PropertyState = "TX"; c.EstimatedValue = "900000" }),
	}

	cl := New(testTenants, 750000)
	first, err := cl.Classify(context.Background(), contacts)
	require.NoError(t, err)
	second, err := cl.Classify(context.Background(), contacts)
	require.NoError(t, err)

	assert.Len(t, first.ByDestination["lonestar"], 2)
	assert.Len(t, second.ByDestination["lonestar"], 2)
}

func TestClassifyUnknownTenantFails(t *testing.T) {
	c := rawContact(func(c *model.RawContact) { c.SourceTenant = "ghost" })

	_, err := New(testTenants, 750000).Classify(context.Background(), []model.RawContact{c})

	require.Error(t, err)
}

func TestRegionFallsBackToMailingState(t *testing.T) {
	c := rawContact(func(c *model.RawContact) {
		c.PropertyState = ""
		c.MailingState = "TX"
	})
	assert.Equal(t, "TX", c.Region())
}
