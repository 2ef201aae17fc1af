package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Month identifies a delivery month in "YYYY-MM" form. Geo-unit assignments,
// consolidated files, and weekly batches are all keyed by (tenant, month).
type Month string

// ParseMonth validates a "YYYY-MM" string and returns it as a Month.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return "", eris.Wrapf(err, "model: invalid month %q (want YYYY-MM)", s)
	}
	return Month(t.Format("2006-01")), nil
}

// Start returns midnight UTC on the first day of the month.
func (m Month) Start() time.Time {
	t, _ := time.Parse("2006-01", string(m))
	return t
}

// Days returns the number of days in the month.
func (m Month) Days() int {
	start := m.Start()
	return start.AddDate(0, 1, -1).Day()
}

func (m Month) String() string { return string(m) }
