package model

import "time"

// GeoUnit is one ZIP-equivalent unit assigned to a tenant for a month.
// A unit is immutable once created for a (tenant, month) pair except for
// PulledAt and Yield, which are set exactly once when a matching extract
// is consolidated.
type GeoUnit struct {
	Tenant      string     `json:"tenant"`
	Month       Month      `json:"month"`
	UnitCode    string     `json:"unit_code"`
	Region      string     `json:"region"`
	BatchNumber int        `json:"batch_number"`
	PulledAt    *time.Time `json:"pulled_at,omitempty"`
	Yield       int        `json:"yield"`
}

// Pulled reports whether the unit has been fulfilled by a consolidation.
func (u GeoUnit) Pulled() bool { return u.PulledAt != nil }
