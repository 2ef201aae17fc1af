// Package portal drives the county records portal through a
// browser-automation sidecar and chunks oversized queries so the portal's
// result cap never silently truncates an extract.
package portal

import "context"

// Query describes one geographic query against the portal's list builder.
type Query struct {
	State   string            `json:"state"`
	Units   []string          `json:"units"`
	Fields  []string          `json:"fields,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
}

// WithUnits returns a copy of the query restricted to the given units.
func (q Query) WithUnits(units []string) Query {
	out := q
	out.Units = units
	return out
}

// Extract is the tabular result of one executed query.
type Extract struct {
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
	Truncated bool       `json:"truncated"`
}

// Credentials authenticate one portal account. Accounts are tenant/region
// scoped and rotate independently.
type Credentials struct {
	Account  string `json:"account"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session executes queries against an authenticated portal session. The
// portal's query builder holds server-side state (selected fields, filters),
// so implementations must allow only one call in flight at a time.
type Session interface {
	// ProbeCount runs a count-only probe of the query.
	ProbeCount(ctx context.Context, q Query) (int, error)

	// Execute runs the query and returns its tabular extract.
	Execute(ctx context.Context, q Query) (*Extract, error)
}
