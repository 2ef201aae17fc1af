package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deliverActor string

var deliverCmd = &cobra.Command{
	Use:   "deliver <batch-id>",
	Short: "Re-trigger delivery for an approved or delivery-failed batch",
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

		res, err := gate.Redeliver(ctx, args[0], deliverActor)
		if err != nil {
			return err
		}

		fmt.Println(res.Response())
		return nil
	},
}

func init() {
	deliverCmd.Flags().StringVar(&deliverActor, "actor", "operator", "identity recorded in the audit log")
	rootCmd.AddCommand(deliverCmd)
}
