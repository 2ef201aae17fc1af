package model

// Filter reasons attached to contacts excluded by the classifier. These are
// operator-facing strings and appear verbatim in reports.
const (
	FilterMissingEmail     = "missing or invalid email"
	FilterMultiplePersons  = "household indicates multiple persons"
	FilterMissingHousehold = "missing household indicator"
)

// RawContact is one row from a portal extract, plus provenance.
type RawContact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`

	MailingStreet string `json:"mailing_street"`
	MailingCity   string `json:"mailing_city"`
	MailingState  string `json:"mailing_state"`
	MailingZIP    string `json:"mailing_zip"`

	PropertyStreet string `json:"property_street"`
	PropertyCity   string `json:"property_city"`
	PropertyState  string `json:"property_state"`
	PropertyZIP    string `json:"property_zip"`

	// Candidate home-value columns as they appeared in the extract. The
	// classifier takes the max of whichever parse as money.
	PurchaseAmount string `json:"purchase_amount"`
	EstimatedValue string `json:"estimated_value"`
	AssessedValue  string `json:"assessed_value"`

	PurchaseDate string `json:"purchase_date"`
	Email        string `json:"email"`

	// HouseholdIndicator is the portal's household-composition column
	// ("single", "married couple", "multiple owners", ...).
	HouseholdIndicator string `json:"household_indicator"`

	// Provenance.
	UploadBatchID string `json:"upload_batch_id"`
	SourceTenant  string `json:"source_tenant"`
	Month         Month  `json:"month"`
}

// Region returns the record's region for routing purposes: the property
// state, falling back to the mailing state.
func (c RawContact) Region() string {
	if c.PropertyState != "" {
		return c.PropertyState
	}
	return c.MailingState
}

// ClassifiedContact is a raw contact annotated with the classifier's
// verdicts and its destination tenant.
type ClassifiedContact struct {
	RawContact

	ID string `json:"id"`

	Eligible     bool    `json:"eligible"`
	FilterReason string  `json:"filter_reason,omitempty"`
	HomeValue    float64 `json:"home_value"`
	HighValue    bool    `json:"high_value"`

	// DestinationTenant is set only for eligible contacts, and is a pure
	// function of the source tenant's override config, the record's
	// region, and the value-tier verdict.
	DestinationTenant string `json:"destination_tenant,omitempty"`

	// WeeklyBatchID is set when the contact is grouped into a batch.
	WeeklyBatchID string `json:"weekly_batch_id,omitempty"`
}
