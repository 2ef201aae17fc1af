package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/listpull-cli/internal/model"
	"github.com/sells-group/listpull-cli/internal/store"
)

var statusAuditBatch string

var statusCmd = &cobra.Command{
	Use:   "status <tenant> <month>",
	Short: "Show acquisition progress for a tenant/month",
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

		units, err := st.Assignment(ctx, tenantSlug, month)
		if err != nil {
			return err
		}

		var pulled, yield int
		for _, u := range units {
			if u.Pulled() {
				pulled++
				yield += u.Yield
			}
		}
		fmt.Printf("assignment: %d units, %d pulled, %d unpulled, %d contacts yielded\n",
			len(units), pulled, len(units)-pulled, yield)

		batches, err := st.ListBatches(ctx, store.BatchFilter{Tenant: tenantSlug, Month: month})
		if err != nil {
			return err
		}
		if len(batches) > 0 {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WEEK\tCONTACTS\tHIGH-VALUE\tSTATUS\tSCHEDULED\tID")
			for _, b := range batches {
				fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n",
					b.Week, b.ContactCount, b.HighValueCount, b.Status,
					b.ScheduledFor.Format("2006-01-02"), b.ID)
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}

		if statusAuditBatch != "" {
			trail, err := st.AuditTrail(ctx, "batch", statusAuditBatch)
			if err != nil {
				return err
			}
			fmt.Printf("\naudit trail for batch %s:\n", statusAuditBatch)
			for _, e := range trail {
				fmt.Printf("  %s  %-10s %-12s %s\n",
					e.At.Format("2006-01-02 15:04:05"), e.Action, e.Actor, e.Outcome)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAuditBatch, "audit", "", "print the audit trail for a batch id")
	rootCmd.AddCommand(statusCmd)
}
