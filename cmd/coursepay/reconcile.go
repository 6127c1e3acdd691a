package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"coursepay/internal/worker"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func reconcileCmd(opts *rootOptions) *cobra.Command {
	var (
		olderThan time.Duration
		every     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Settle stale PENDING orders against the gateway",
		Long: `Settle PENDING orders whose payment callback never arrived.

Orders with a captured or authorized payment at the gateway become SUCCESS and
the course is granted. Orders whose every payment attempt failed become FAILED
with "Payment not completed". Orders with no attempt yet stay PENDING.

Examples:
  coursepay reconcile
  coursepay reconcile --older-than 1h
  coursepay reconcile --every 5m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := bootstrap(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if !cmd.Flags().Changed("older-than") {
				olderThan = a.cfg.ReconcileAfter
			}

			gw := a.gateway()
			svc, orderRepo, _ := a.orderService(gw)
			rw := worker.NewReconciliationWorker(orderRepo, gw, svc, olderThan,
				a.logger.With(zap.String("component", "Reconciliation")))

			if every > 0 {
				rw.Run(ctx, every)
				return nil
			}

			report, err := rw.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d paid=%d failed=%d skipped=%d\n",
				report.Scanned, report.Paid, report.Failed, report.Skipped)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*time.Minute, "minimum age of a PENDING order (defaults to RECONCILE_AFTER)")
	cmd.Flags().DurationVar(&every, "every", 0, "keep running, one pass per interval")
	return cmd
}
