// Package classify applies eligibility and value-tier rules to consolidated
// contacts and routes each eligible contact to its destination tenant.
package classify

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/model"
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// multiplePersonFragments mark household-composition values that denote more
// than one person. Matching is by fragment; portal wording varies.
var multiplePersonFragments = []string{"multiple", "joint", "couple", "married", "& "}

// Eligibility decides whether a contact can be routed at all. Returns the
// filter reason for ineligible contacts, empty string otherwise.
func Eligibility(c model.RawContact) string {
	indicator := strings.ToLower(strings.TrimSpace(c.HouseholdIndicator))
	if indicator == "" {
		return model.FilterMissingHousehold
	}
	for _, frag := range multiplePersonFragments {
		if strings.Contains(indicator, frag) {
			return model.FilterMultiplePersons
		}
	}
	if !emailPattern.MatchString(strings.TrimSpace(c.Email)) {
		return model.FilterMissingEmail
	}
	return ""
}

// HomeValue is the max of the contact's candidate value columns. Malformed
// values parse as zero rather than failing the record.
func HomeValue(c model.RawContact) float64 {
	var max float64
	for _, raw := range []string{c.PurchaseAmount, c.EstimatedValue, c.AssessedValue} {
		if v := parseMoney(raw); v > max {
			max = v
		}
	}
	return max
}

var moneyCleaner = strings.NewReplacer("$", "", ",", "", " ", "")

// parseMoney reads a currency-ish string ("$1,234,500", "985000.00"). Any
// value it cannot make sense of is 0.
func parseMoney(s string) float64 {
	s = moneyCleaner.Replace(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// Route picks the destination tenant for an eligible contact. It is a total
// function of the source tenant's override config, the contact's region, and
// the value-tier verdict: same inputs, same destination, always.
func Route(source model.Tenant, region string, highValue bool) string {
	if source.RegionOverrideEnabled && highValue && strings.EqualFold(region, source.OverrideRegion) {
		return source.OverrideTenant
	}
	return source.Slug
}

// Result is the outcome of classifying one tenant/month's contacts.
type Result struct {
	// ByDestination groups eligible contacts by their destination tenant.
	ByDestination map[string][]model.ClassifiedContact `json:"by_destination"`
	// Excluded holds ineligible contacts with their filter reasons.
	Excluded []model.ClassifiedContact `json:"excluded"`

	Total     int `json:"total"`
	Eligible  int `json:"eligible"`
	HighValue int `json:"high_value"`
	Rerouted  int `json:"rerouted"`
}

// Classifier runs the eligibility, value-tier, and routing rules.
type Classifier struct {
	tenants   *model.TenantRegistry
	threshold float64
}

func New(tenants *model.TenantRegistry, threshold float64) *Classifier {
	return &Classifier{tenants: tenants, threshold: threshold}
}

// Classify annotates every contact and routes the eligible ones. Ineligible
// contacts are excluded with a filter reason and routed nowhere.
func (c *Classifier) Classify(ctx context.Context, contacts []model.RawContact) (*Result, error) {
	res := &Result{
		ByDestination: make(map[string][]model.ClassifiedContact),
		Total:         len(contacts),
	}

	for _, raw := range contacts {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "classify: canceled")
		}

		source, ok := c.tenants.Get(raw.SourceTenant)
		if !ok {
			return nil, eris.Errorf("classify: unknown source tenant %q", raw.SourceTenant)
		}

		cc := model.ClassifiedContact{
			RawContact: raw,
			ID:         uuid.NewString(),
			HomeValue:  HomeValue(raw),
		}
		cc.HighValue = cc.HomeValue >= c.threshold

		if reason := Eligibility(raw); reason != "" {
			cc.FilterReason = reason
			res.Excluded = append(res.Excluded, cc)
			continue
		}

		cc.Eligible = true
		cc.DestinationTenant = Route(source, raw.Region(), cc.HighValue)
		res.ByDestination[cc.DestinationTenant] = append(res.ByDestination[cc.DestinationTenant], cc)

		res.Eligible++
		if cc.HighValue {
			res.HighValue++
		}
		if cc.DestinationTenant != raw.SourceTenant {
			res.Rerouted++
		}
	}

	zap.L().Info("classification complete",
		zap.Int("total", res.Total),
		zap.Int("eligible", res.Eligible),
		zap.Int("excluded", len(res.Excluded)),
		zap.Int("high_value", res.HighValue),
		zap.Int("rerouted", res.Rerouted),
	)

	return res, nil
}

// All flattens the result back into one slice for persistence, excluded
// contacts included so filter reasons are queryable later.
func (r *Result) All() []model.ClassifiedContact {
	out := make([]model.ClassifiedContact, 0, r.Total)
	for _, group := range r.ByDestination {
		out = append(out, group...)
	}
	out = append(out, r.Excluded...)
	return out
}
