package main

import (
	"fmt"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/reconcile"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Settle stale pending payments from the provider's status",
		Long: `Settle payments left pending longer than PENDING_PAYMENT_TTL by asking
the provider for their status, and queue fulfillment for paid payments
whose job never reached the queue.

Examples:
  eventreg sweep --once
  eventreg sweep`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.close()

			s := reconcile.NewSweeper(a.ledger, a.newReconciler(a.jobQueue()), a.cfg.Sweep, a.log, a.metrics)
			if !once {
				return ignoreCanceled(s.Run(cmd.Context()))
			}

			report, err := s.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d, paid %d, failed %d, skipped %d, requeued %d\n",
				report.Checked, report.Paid, report.Failed, report.Skipped, report.Requeued)
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}
