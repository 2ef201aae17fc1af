package extract

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listpull-cli/internal/model"
)

// ErrNoUnitColumn is returned when an extract has no recognizable ZIP/unit
// column. Nothing downstream can be trusted without one.
var ErrNoUnitColumn = eris.New("extract: no unit/ZIP column found")

// ColumnMap is the typed column-index mapping detected once per extract.
// An index of -1 means the column is absent.
type ColumnMap struct {
	Unit int // property ZIP; the geo-unit key. Always >= 0.

	FirstName int
	LastName  int

	MailingStreet int
	MailingCity   int
	MailingState  int
	MailingZIP    int

	PropertyStreet int
	PropertyCity   int
	PropertyState  int

	PurchaseAmount int
	EstimatedValue int
	AssessedValue  int

	PurchaseDate int
	Email        int
	Household    int
}

// headerMatchers maps ColumnMap fields to header substrings, matched
// case-insensitively. Portal exports rename columns between releases, so
// matching is by fragment rather than exact name.
var headerMatchers = []struct {
	assign func(*ColumnMap, int)
	any    []string
}{
	{func(m *ColumnMap, i int) { m.Unit = i }, []string{"property zip", "site zip", "prop zip"}},
	{func(m *ColumnMap, i int) { m.MailingZIP = i }, []string{"mail zip", "mailing zip", "owner zip"}},
	{func(m *ColumnMap, i int) { m.FirstName = i }, []string{"first name"}},
	{func(m *ColumnMap, i int) { m.LastName = i }, []string{"last name", "surname"}},
	{func(m *ColumnMap, i int) { m.MailingStreet = i }, []string{"mail address", "mailing address", "owner address"}},
	{func(m *ColumnMap, i int) { m.MailingCity = i }, []string{"mail city", "mailing city", "owner city"}},
	{func(m *ColumnMap, i int) { m.MailingState = i }, []string{"mail state", "mailing state", "owner state"}},
	{func(m *ColumnMap, i int) { m.PropertyStreet = i }, []string{"property address", "site address"}},
	{func(m *ColumnMap, i int) { m.PropertyCity = i }, []string{"property city", "site city"}},
	{func(m *ColumnMap, i int) { m.PropertyState = i }, []string{"property state", "site state"}},
	{func(m *ColumnMap, i int) { m.PurchaseAmount = i }, []string{"purchase amount", "sale amount", "sale price"}},
	{func(m *ColumnMap, i int) { m.EstimatedValue = i }, []string{"estimated value", "est value", "avm"}},
	{func(m *ColumnMap, i int) { m.AssessedValue = i }, []string{"assessed value", "assessment"}},
	{func(m *ColumnMap, i int) { m.PurchaseDate = i }, []string{"purchase date", "sale date", "recording date"}},
	{func(m *ColumnMap, i int) { m.Email = i }, []string{"email"}},
	{func(m *ColumnMap, i int) { m.Household = i }, []string{"household", "owner occupancy", "occupancy"}},
}

// DetectColumns builds a ColumnMap from an extract header. It fails fast
// with ErrNoUnitColumn when the unit column cannot be located; a bare "zip"
// header is accepted as a last resort.
func DetectColumns(columns []string) (*ColumnMap, error) {
	m := &ColumnMap{
		Unit: -1, FirstName: -1, LastName: -1,
		MailingStreet: -1, MailingCity: -1, MailingState: -1, MailingZIP: -1,
		PropertyStreet: -1, PropertyCity: -1, PropertyState: -1,
		PurchaseAmount: -1, EstimatedValue: -1, AssessedValue: -1,
		PurchaseDate: -1, Email: -1, Household: -1,
	}

	lower := make([]string, len(columns))
	for i, c := range columns {
		lower[i] = strings.ToLower(c)
	}

	claimed := make(map[int]bool)
	for _, matcher := range headerMatchers {
		for i, col := range lower {
			if claimed[i] || !matchesAny(col, matcher.any) {
				continue
			}
			matcher.assign(m, i)
			claimed[i] = true
			break
		}
	}

	if m.Unit < 0 {
		// Fall back to any unclaimed "zip" column.
		for i, col := range lower {
			if !claimed[i] && strings.Contains(col, "zip") {
				m.Unit = i
				break
			}
		}
	}
	if m.Unit < 0 {
		return nil, eris.Wrapf(ErrNoUnitColumn, "header: %s", strings.Join(columns, ", "))
	}

	return m, nil
}

func matchesAny(col string, fragments []string) bool {
	for _, f := range fragments {
		if strings.Contains(col, f) {
			return true
		}
	}
	return false
}

// Contact converts one extract row into a RawContact using the detected
// column layout.
func (m *ColumnMap) Contact(row []string) model.RawContact {
	get := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	return model.RawContact{
		FirstName:          get(m.FirstName),
		LastName:           get(m.LastName),
		MailingStreet:      get(m.MailingStreet),
		MailingCity:        get(m.MailingCity),
		MailingState:       get(m.MailingState),
		MailingZIP:         get(m.MailingZIP),
		PropertyStreet:     get(m.PropertyStreet),
		PropertyCity:       get(m.PropertyCity),
		PropertyState:      get(m.PropertyState),
		PropertyZIP:        normalizeZIP(get(m.Unit)),
		PurchaseAmount:     get(m.PurchaseAmount),
		EstimatedValue:     get(m.EstimatedValue),
		AssessedValue:      get(m.AssessedValue),
		PurchaseDate:       get(m.PurchaseDate),
		Email:              get(m.Email),
		HouseholdIndicator: get(m.Household),
	}
}

// UnitOf returns the normalized geo-unit code for one row.
func (m *ColumnMap) UnitOf(row []string) string {
	if m.Unit < 0 || m.Unit >= len(row) {
		return ""
	}
	return normalizeZIP(strings.TrimSpace(row[m.Unit]))
}

// normalizeZIP trims ZIP+4 suffixes and restores leading zeros lost to
// spreadsheet round-trips.
func normalizeZIP(zip string) string {
	if i := strings.IndexByte(zip, '-'); i >= 0 {
		zip = zip[:i]
	}
	for len(zip) > 0 && len(zip) < 5 {
		zip = "0" + zip
	}
	return zip
}
