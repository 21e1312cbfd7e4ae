package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func workerCmd() *cobra.Command {
	var recoverJobs bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume the fulfillment queue",
		Long: `Consume the fulfillment queue: render the invoice and ticket of each
paid payment and email them.

With --recover, jobs left in flight by a crashed worker are moved back to
the ready list before consuming starts. Recovery also takes the in-flight
jobs of any live worker, so pass it only to a single worker process and
run serve with --worker=false alongside it. serve never recovers.

Examples:
  eventreg worker --recover
  eventreg worker`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.close()

			if recoverJobs {
				n, err := a.jobQueue().Recover(cmd.Context())
				if err != nil {
					return fmt.Errorf("recover fulfillment jobs: %w", err)
				}
				a.log.Info("recovered in-flight jobs", zap.Int("count", n))
			}

			a.log.Info("fulfillment worker started", zap.String("queue", fulfillmentQueue))
			err = ignoreCanceled(a.newWorker().Run(cmd.Context()))
			a.log.Info("fulfillment worker stopped")
			return err
		},
	}

	cmd.Flags().BoolVar(&recoverJobs, "recover", false, "requeue jobs left in processing before consuming (single worker only)")
	return cmd
}
