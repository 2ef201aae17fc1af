package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/listpull-cli/internal/batch"
	"github.com/sells-group/listpull-cli/internal/model"
	"github.com/sells-group/listpull-cli/internal/store"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Build, notify, approve, and list weekly batches",
}

var batchBuildCmd = &cobra.Command{
	Use:   "build <tenant> <month>",
	Short: "Group a destination tenant's contacts into weekly batches",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tenantSlug := args[0]

		month, err := model.ParseMonth(args[1])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		builder, err := batch.NewBuilder(st, cfg.Batch.WeeksPerMonth, cfg.Batch.AnchorWeekday)
		if err != nil {
			return err
		}

		batches, err := builder.BuildMonth(ctx, tenantSlug, month)
		if err != nil {
			return err
		}

		for _, b := range batches {
			fmt.Printf("%s\tweek %d\t%d contacts (%d high-value)\tscheduled %s\t%s\n",
				b.ListName(), b.Week, b.ContactCount, b.HighValueCount,
				b.ScheduledFor.Format("2006-01-02"), b.ID)
		}
		return nil
	},
}

var batchNotifyCmd = &cobra.Command{
	Use:   "notify <batch-id>",
	Short: "Send the reviewer approval request for a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		gate, err := initGate(st)
		if err != nil {
			return err
		}

		sent, err := gate.Notify(ctx, args[0])
		if err != nil {
			return err
		}
		if !sent {
			fmt.Println("already notified")
			return nil
		}
		fmt.Println("notification sent")
		return nil
	},
}

var batchApprover string

var batchApproveCmd = &cobra.Command{
	Use:   "approve <batch-id>",
	Short: "Approve a batch and trigger its delivery",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if batchApprover == "" {
			return eris.New("--approver is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		gate, err := initGate(st)
		if err != nil {
			return err
		}

		res, err := gate.Approve(ctx, args[0], batchApprover)
		if err != nil {
			return err
		}

		fmt.Println(res.Response())
		if res.Outcome == batch.OutcomeDeliveryFailed {
			zap.L().Warn("delivery failed; re-trigger with `listpull-cli deliver`",
				zap.String("batch_id", args[0]))
		}
		return nil
	},
}

var (
	listTenant string
	listMonth  string
	listStatus string
	listLimit  int
)

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List weekly batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		filter := store.BatchFilter{Tenant: listTenant, Limit: listLimit}
		if listMonth != "" {
			month, err := model.ParseMonth(listMonth)
			if err != nil {
				return err
			}
			filter.Month = month
		}
		if listStatus != "" {
			status, err := model.ParseBatchStatus(listStatus)
			if err != nil {
				return err
			}
			filter.Status = status
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		batches, err := st.ListBatches(ctx, filter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTENANT\tMONTH\tWEEK\tCONTACTS\tHIGH-VALUE\tSTATUS\tSCHEDULED")
		for _, b := range batches {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				b.ID, b.Tenant, b.Month, b.Week, b.ContactCount, b.HighValueCount,
				b.Status, b.ScheduledFor.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

func init() {
	batchApproveCmd.Flags().StringVar(&batchApprover, "approver", "", "approver identity (required)")
	batchListCmd.Flags().StringVar(&listTenant, "tenant", "", "filter by tenant")
	batchListCmd.Flags().StringVar(&listMonth, "month", "", "filter by month (YYYY-MM)")
	batchListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	batchListCmd.Flags().IntVar(&listLimit, "limit", 0, "max rows (0 = all)")

	batchCmd.AddCommand(batchBuildCmd, batchNotifyCmd, batchApproveCmd, batchListCmd)
	rootCmd.AddCommand(batchCmd)
}
