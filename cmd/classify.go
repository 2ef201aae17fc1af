package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/classify"
	"github.com/sells-group/listpull-cli/internal/model"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <tenant> <month>",
	Short: "Classify and route the tenant/month consolidated contacts",
	Long:  "Applies the eligibility and value-tier rules to the consolidated file, routes each eligible contact to its destination tenant, and persists the results.",
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

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		contacts, err := initConsolidator(st).Load(tenantSlug, month)
		if err != nil {
			return err
		}

		res, err := classify.New(tenants, cfg.Classify.ValueThreshold).Classify(ctx, contacts)
		if err != nil {
			return err
		}

		stored, err := st.UpsertContacts(ctx, res.All())
		if err != nil {
			return err
		}

		zap.L().Info("contacts classified",
			zap.String("tenant", tenantSlug),
			zap.String("month", string(month)),
			zap.Int("total", res.Total),
			zap.Int("eligible", res.Eligible),
			zap.Int("excluded", len(res.Excluded)),
			zap.Int("high_value", res.HighValue),
			zap.Int("rerouted", res.Rerouted),
			zap.Int64("stored", stored),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
