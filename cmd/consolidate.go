package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/extract"
	"github.com/sells-group/listpull-cli/internal/model"
)

var (
	consolidateBatch    int
	consolidateEncoding string
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate <tenant> <month> <extract>",
	Short: "Merge a raw extract into the tenant/month consolidated file",
	Long:  "Filters extract rows to the tenant's assignment, appends them to the running consolidated CSV, and marks the matched units pulled in the manifest.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tenantSlug, src := args[0], args[2]

		month, err := model.ParseMonth(args[1])
		if err != nil {
			return err
		}

		tbl, err := extract.Open(ctx, src, extract.Options{Encoding: consolidateEncoding})
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := initConsolidator(st).Ingest(ctx, tbl, tenantSlug, month, consolidateBatch)
		if err != nil {
			return err
		}

		if res.Duplicate {
			zap.L().Warn("duplicate upload detected, nothing appended",
				zap.String("upload_id", res.UploadID),
				zap.Int("matched_units", res.MatchedUnits),
			)
			return nil
		}

		fields := []zap.Field{
			zap.String("upload_id", res.UploadID),
			zap.Int("total_rows", res.TotalRows),
			zap.Int("matched_rows", res.MatchedRows),
			zap.Int("matched_units", res.MatchedUnits),
			zap.String("output", res.OutputPath),
		}
		if res.Report != nil {
			fields = append(fields,
				zap.Float64("match_ratio", res.Report.MatchRatio()),
				zap.Int("already_pulled", len(res.Report.AlreadyPulled)),
				zap.Int("unknown_units", len(res.Report.Unknown)),
			)
		}
		zap.L().Info("extract consolidated", fields...)
		return nil
	},
}

func init() {
	consolidateCmd.Flags().IntVar(&consolidateBatch, "batch", 0, "restrict matching to one batch number (0 = whole month)")
	consolidateCmd.Flags().StringVar(&consolidateEncoding, "encoding", "", "extract encoding (e.g. windows-1252)")
	rootCmd.AddCommand(consolidateCmd)
}
