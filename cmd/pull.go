package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/model"
	"github.com/sells-group/listpull-cli/internal/portal"
)

var (
	pullBatch  int
	pullOut    string
	pullState  string
	pullFields []string
)

var pullCmd = &cobra.Command{
	Use:   "pull <tenant> <month>",
	Short: "Pull unpulled units from the records portal",
	Long:  "Probes the portal for the tenant's unpulled units, splits the query to respect the portal's result cap, executes the chunks sequentially, and writes the merged extract to a CSV for consolidation.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tenantSlug := args[0]

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

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pending, err := st.UnpulledUnits(ctx, tenantSlug, month)
		if err != nil {
			return err
		}
		if pullBatch > 0 {
			var filtered []model.GeoUnit
			for _, u := range pending {
				if u.BatchNumber == pullBatch {
					filtered = append(filtered, u)
				}
			}
			pending = filtered
		}
		if len(pending) == 0 {
			zap.L().Info("nothing to pull",
				zap.String("tenant", tenantSlug), zap.String("month", string(month)))
			return nil
		}

		state := pullState
		if state == "" {
			state = pending[0].Region
		}
		codes := make([]string, len(pending))
		for i, u := range pending {
			codes[i] = u.UnitCode
		}

		session := portal.NewDriverClient(cfg.Portal.DriverURL, portal.Credentials{
			Account:  tenant.PortalAccount,
			Username: cfg.Portal.Username,
			Password: cfg.Portal.Password,
		})
		chunker := portal.NewChunker(session, cfg.Portal.ResultCap,
			portal.WithMaxRetries(cfg.Portal.MaxRetries))

		query := portal.Query{State: state, Units: codes, Fields: pullFields}

		runCtx, cancel := pullContext(ctx)
		defer cancel()

		ext, err := chunker.Run(runCtx, query)
		if err != nil {
			// A partial result is still worth keeping; the manifest's
			// unpulled state drives the re-run.
			var partial *portal.PartialError
			if eris.As(err, &partial) && len(partial.Merged.Rows) > 0 {
				if werr := writeExtract(outPath(tenantSlug, month), partial.Merged); werr != nil {
					return werr
				}
				zap.L().Warn("partial extract written",
					zap.Int("rows", len(partial.Merged.Rows)),
					zap.Int("failed_units", len(partial.FailedUnits)),
				)
			}
			return err
		}

		path := outPath(tenantSlug, month)
		if err := writeExtract(path, ext); err != nil {
			return err
		}

		zap.L().Info("extract written",
			zap.String("path", path),
			zap.Int("rows", len(ext.Rows)),
			zap.Int("units", len(codes)),
		)
		return nil
	},
}

func pullContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if cfg.Portal.TimeoutSecs <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(cfg.Portal.TimeoutSecs)*time.Second)
}

func outPath(tenant string, month model.Month) string {
	if pullOut != "" {
		return pullOut
	}
	name := fmt.Sprintf("extract-%s-%s", tenant, month)
	if pullBatch > 0 {
		name += fmt.Sprintf("-b%d", pullBatch)
	}
	return name + ".csv"
}

func writeExtract(path string, ext *portal.Extract) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(ext.Columns); err != nil {
		return eris.Wrap(err, "write extract header")
	}
	for _, row := range ext.Rows {
		if err := w.Write(row); err != nil {
			return eris.Wrap(err, "write extract row")
		}
	}
	w.Flush()
	return eris.Wrapf(w.Error(), "flush %s", path)
}

func init() {
	pullCmd.Flags().IntVar(&pullBatch, "batch", 0, "restrict to one batch number (0 = all unpulled)")
	pullCmd.Flags().StringVar(&pullOut, "out", "", "output CSV path")
	pullCmd.Flags().StringVar(&pullState, "state", "", "portal state override (default: region of first unit)")
	pullCmd.Flags().StringSliceVar(&pullFields, "fields", nil, "portal fields to request")
	rootCmd.AddCommand(pullCmd)
}
