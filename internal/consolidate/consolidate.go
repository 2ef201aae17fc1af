// Package consolidate merges raw portal extracts into one running CSV per
// tenant/month and records fulfillment against the geo-unit manifest.
package consolidate

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/extract"
	"github.com/sells-group/listpull-cli/internal/model"
	"github.com/sells-group/listpull-cli/internal/store"
)

// consolidatedHeader is the canonical column order of a consolidated file.
// Every upload is rewritten into this layout regardless of how the portal
// named its columns, so appends from different extracts stay aligned.
var consolidatedHeader = []string{
	"first_name", "last_name",
	"mailing_street", "mailing_city", "mailing_state", "mailing_zip",
	"property_street", "property_city", "property_state", "property_zip",
	"purchase_amount", "estimated_value", "assessed_value",
	"purchase_date", "email", "household_indicator",
	"upload_batch_id",
}

// Result summarizes one consolidation upload.
type Result struct {
	UploadID     string            `json:"upload_id"`
	TotalRows    int               `json:"total_rows"`
	MatchedRows  int               `json:"matched_rows"`
	MatchedUnits int               `json:"matched_units"`
	SkippedUnits []string          `json:"skipped_units,omitempty"`
	Report       *store.PullReport `json:"report,omitempty"`
	// Duplicate is set when every matched unit was already pulled, i.e.
	// the upload looks like a retry of a previous one. Nothing is appended.
	Duplicate  bool   `json:"duplicate"`
	OutputPath string `json:"output_path,omitempty"`
}

// Consolidator appends extracts to per-tenant/month consolidated files and
// keeps the manifest in step.
type Consolidator struct {
	store store.Store
	dir   string
}

func New(st store.Store, dir string) *Consolidator {
	return &Consolidator{store: st, dir: dir}
}

// Path returns the consolidated file location for a tenant/month.
func (c *Consolidator) Path(tenant string, month model.Month) string {
	return filepath.Join(c.dir, fmt.Sprintf("consolidated-%s-%s.csv", tenant, month))
}

// Ingest merges one raw extract into the tenant/month consolidated file.
// Rows whose unit is outside the batch's assignment are excluded and
// reported, never fatal. batchNumber 0 means the whole month's assignment.
//
// The consolidated file is append-only. When every matched unit has already
// been pulled the upload is treated as a duplicate: a warning result comes
// back and the file is left untouched.
func (c *Consolidator) Ingest(ctx context.Context, tbl *extract.Table, tenant string, month model.Month, batchNumber int) (*Result, error) {
	cm, err := extract.DetectColumns(tbl.Columns)
	if err != nil {
		return nil, eris.Wrap(err, "consolidate: detect columns")
	}

	assignment, err := c.store.Assignment(ctx, tenant, month)
	if err != nil {
		return nil, eris.Wrap(err, "consolidate: load assignment")
	}
	if len(assignment) == 0 {
		return nil, eris.Errorf("consolidate: no assignment for %s %s", tenant, month)
	}

	assigned := make(map[string]model.GeoUnit, len(assignment))
	for _, u := range assignment {
		if batchNumber > 0 && u.BatchNumber != batchNumber {
			continue
		}
		assigned[u.UnitCode] = u
	}

	res := &Result{
		UploadID:  uuid.NewString(),
		TotalRows: len(tbl.Rows),
	}

	var (
		matched     []model.RawContact
		rowsPerUnit = make(map[string]int)
		skipped     = make(map[string]bool)
	)
	for _, row := range tbl.Rows {
		unit := cm.UnitOf(row)
		if _, ok := assigned[unit]; !ok {
			if unit != "" {
				skipped[unit] = true
			}
			continue
		}
		contact := cm.Contact(row)
		contact.UploadBatchID = res.UploadID
		contact.SourceTenant = tenant
		contact.Month = month
		matched = append(matched, contact)
		rowsPerUnit[unit]++
	}
	res.MatchedRows = len(matched)
	res.MatchedUnits = len(rowsPerUnit)
	res.SkippedUnits = sortedKeys(skipped)

	if len(skipped) > 0 {
		zap.L().Warn("extract contains units outside the assignment",
			zap.String("tenant", tenant),
			zap.String("month", string(month)),
			zap.Int("skipped_units", len(skipped)),
		)
	}
	if len(matched) == 0 {
		return res, eris.Errorf("consolidate: no rows in extract match the %s %s assignment", tenant, month)
	}

	// Duplicate-upload guard: if every matched unit is already pulled, this
	// is almost certainly a re-upload of the same extract. Warn instead of
	// silently doubling the consolidated file.
	if allPulled(assigned, rowsPerUnit) {
		res.Duplicate = true
		zap.L().Warn("all matched units already pulled, skipping append",
			zap.String("tenant", tenant),
			zap.String("month", string(month)),
			zap.Int("units", len(rowsPerUnit)),
		)
		return res, nil
	}

	path := c.Path(tenant, month)
	if err := c.appendRows(path, matched); err != nil {
		return nil, err
	}
	res.OutputPath = path

	// Per-unit counts are not trusted from a merged extract, so yield is the
	// matched-row count spread evenly across the matched units.
	report, err := c.store.RecordPull(ctx, tenant, month, distributeYield(rowsPerUnit, len(matched)))
	if err != nil {
		return nil, eris.Wrap(err, "consolidate: record pull")
	}
	res.Report = report

	if ratio := report.MatchRatio(); ratio < 0.5 {
		zap.L().Warn("low manifest match ratio, possible wrong-batch upload",
			zap.String("tenant", tenant),
			zap.String("month", string(month)),
			zap.Float64("ratio", ratio),
		)
	}

	if err := c.store.AppendAudit(ctx, model.AuditEntry{
		Tenant:   tenant,
		Entity:   "upload",
		EntityID: res.UploadID,
		Action:   "consolidate",
		Actor:    "pipeline",
		Outcome: fmt.Sprintf("%d/%d rows matched, %d units pulled",
			res.MatchedRows, res.TotalRows, len(report.Applied)),
		At: time.Now().UTC(),
	}); err != nil {
		return nil, eris.Wrap(err, "consolidate: append audit")
	}

	return res, nil
}

// appendRows writes contacts to the consolidated file, creating it with a
// header when absent. Existing content is never truncated.
func (c *Consolidator) appendRows(path string, contacts []model.RawContact) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "consolidate: create output dir")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "consolidate: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return eris.Wrapf(err, "consolidate: stat %s", path)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(consolidatedHeader); err != nil {
			return eris.Wrap(err, "consolidate: write header")
		}
	}
	for _, contact := range contacts {
		if err := w.Write(contactRow(contact)); err != nil {
			return eris.Wrap(err, "consolidate: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrapf(err, "consolidate: flush %s", path)
	}
	return nil
}

// Load reads a tenant/month consolidated file back into raw contacts for
// classification.
func (c *Consolidator) Load(tenant string, month model.Month) ([]model.RawContact, error) {
	path := c.Path(tenant, month)
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "consolidate: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	tbl, err := extract.ReadCSV(f, extract.Options{})
	if err != nil {
		return nil, eris.Wrapf(err, "consolidate: read %s", path)
	}

	contacts := make([]model.RawContact, 0, len(tbl.Rows))
	for _, row := range tbl.Rows {
		contact := rowContact(row)
		contact.SourceTenant = tenant
		contact.Month = month
		contacts = append(contacts, contact)
	}
	return contacts, nil
}

func contactRow(c model.RawContact) []string {
	return []string{
		c.FirstName, c.LastName,
		c.MailingStreet, c.MailingCity, c.MailingState, c.MailingZIP,
		c.PropertyStreet, c.PropertyCity, c.PropertyState, c.PropertyZIP,
		c.PurchaseAmount, c.EstimatedValue, c.AssessedValue,
		c.PurchaseDate, c.Email, c.HouseholdIndicator,
		c.UploadBatchID,
	}
}

func rowContact(row []string) model.RawContact {
	get := func(i int) string {
		if i >= len(row) {
			return ""
		}
		return row[i]
	}
	return model.RawContact{
		FirstName:          get(0),
		LastName:           get(1),
		MailingStreet:      get(2),
		MailingCity:        get(3),
		MailingState:       get(4),
		MailingZIP:         get(5),
		PropertyStreet:     get(6),
		PropertyCity:       get(7),
		PropertyState:      get(8),
		PropertyZIP:        get(9),
		PurchaseAmount:     get(10),
		EstimatedValue:     get(11),
		AssessedValue:      get(12),
		PurchaseDate:       get(13),
		Email:              get(14),
		HouseholdIndicator: get(15),
		UploadBatchID:      get(16),
	}
}

func allPulled(assigned map[string]model.GeoUnit, matched map[string]int) bool {
	for unit := range matched {
		if !assigned[unit].Pulled() {
			return false
		}
	}
	return len(matched) > 0
}

// distributeYield spreads total rows evenly across matched units, earlier
// units (by code) absorbing the remainder.
func distributeYield(rowsPerUnit map[string]int, total int) map[string]int {
	units := make([]string, 0, len(rowsPerUnit))
	for u := range rowsPerUnit {
		units = append(units, u)
	}
	sort.Strings(units)

	out := make(map[string]int, len(units))
	per, rem := total/len(units), total%len(units)
	for i, u := range units {
		y := per
		if i < rem {
			y++
		}
		out[u] = y
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
