package main

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/extract"
	"github.com/sells-group/listpull-cli/internal/geo"
	"github.com/sells-group/listpull-cli/internal/model"
)

var assignBatchSize int

var assignCmd = &cobra.Command{
	Use:   "assign <tenant> <month> <sheet>",
	Short: "Commit a tenant's geo-unit assignment for a month",
	Long:  "Reads a unit assignment sheet (CSV or XLSX, local path or URL), validates unit codes against the ZCTA catalog, groups units into numbered batches, and replaces the tenant/month manifest.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tenantSlug, sheet := args[0], args[2]

		month, err := model.ParseMonth(args[1])
		if err != nil {
			return err
		}

		tenants, err := initTenants()
		if err != nil {
			return err
		}
		tenant, ok := tenants.Get(tenantSlug)
		if !ok {
			return eris.Errorf("unknown tenant %q", tenantSlug)
		}

		tbl, err := extract.Open(ctx, sheet, extract.Options{})
		if err != nil {
			return err
		}

		unitIdx, regionIdx := assignmentColumns(tbl.Columns)
		if unitIdx < 0 {
			return eris.Errorf("assignment sheet %s has no unit/zip column", sheet)
		}

		var catalog *geo.Catalog
		if cfg.Catalog.ShapefilePath != "" {
			catalog, err = geo.LoadCatalog(cfg.Catalog.ShapefilePath)
			if err != nil {
				return err
			}
		}

		units, err := buildAssignment(tbl, unitIdx, regionIdx, tenant, month, catalog, assignBatchSize)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.AssignUnits(ctx, tenantSlug, month, units); err != nil {
			return err
		}
		if err := st.AppendAudit(ctx, model.AuditEntry{
			Tenant:   tenantSlug,
			Entity:   "manifest",
			EntityID: tenantSlug + "/" + string(month),
			Action:   "assign",
			Actor:    "operator",
			Outcome:  "committed",
			At:       time.Now().UTC(),
		}); err != nil {
			return err
		}

		zap.L().Info("assignment committed",
			zap.String("tenant", tenantSlug),
			zap.String("month", string(month)),
			zap.Int("units", len(units)),
			zap.Int("batches", units[len(units)-1].BatchNumber),
		)
		return nil
	},
}

// assignmentColumns locates the unit and region columns by header fragment.
func assignmentColumns(columns []string) (unitIdx, regionIdx int) {
	unitIdx, regionIdx = -1, -1
	for i, c := range columns {
		lc := strings.ToLower(c)
		switch {
		case unitIdx < 0 && (strings.Contains(lc, "zip") || strings.Contains(lc, "unit")):
			unitIdx = i
		case regionIdx < 0 && (strings.Contains(lc, "region") || strings.Contains(lc, "state")):
			regionIdx = i
		}
	}
	return unitIdx, regionIdx
}

// buildAssignment converts sheet rows into manifest entries. Unknown unit
// codes fail the commit when a catalog is loaded; regions missing from the
// sheet are backfilled from the catalog, then from the tenant's home region.
func buildAssignment(tbl *extract.Table, unitIdx, regionIdx int, tenant model.Tenant, month model.Month, catalog *geo.Catalog, batchSize int) ([]model.GeoUnit, error) {
	if batchSize < 1 {
		return nil, eris.Errorf("batch size must be at least 1, got %d", batchSize)
	}

	var units []model.GeoUnit
	seen := make(map[string]bool)

	for _, row := range tbl.Rows {
		if unitIdx >= len(row) {
			continue
		}
		code := strings.TrimSpace(row[unitIdx])
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true

		region := ""
		if regionIdx >= 0 && regionIdx < len(row) {
			region = strings.ToUpper(strings.TrimSpace(row[regionIdx]))
		}

		if catalog != nil {
			entry, ok := catalog.Lookup(code)
			if !ok {
				return nil, eris.Errorf("unit %s is not in the ZCTA catalog", code)
			}
			if region == "" {
				region = entry.Region
			}
		}
		if region == "" {
			region = tenant.Region
		}

		units = append(units, model.GeoUnit{
			Tenant:      tenant.Slug,
			Month:       month,
			UnitCode:    code,
			Region:      region,
			BatchNumber: len(units)/batchSize + 1,
		})
	}

	if len(units) == 0 {
		return nil, eris.New("assignment sheet contains no units")
	}
	return units, nil
}

func init() {
	assignCmd.Flags().IntVar(&assignBatchSize, "batch-size", 25, "units per pull batch")
	rootCmd.AddCommand(assignCmd)
}
