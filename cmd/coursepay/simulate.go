package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"coursepay/internal/database"
	"coursepay/internal/domain"
	"coursepay/internal/infrastructure/payment"
	"coursepay/internal/repo"
	"coursepay/internal/service"
	"coursepay/internal/worker"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var simCourse = domain.Course{ID: "sim-course-0001", Title: "Simulated Course", Price: decimal.NewFromInt(4999)}

func simulateCmd(opts *rootOptions) *cobra.Command {
	var checkouts int

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run checkouts end to end against the in-process mock gateway",
		Long: `Drive checkouts through the real service and database with the mock gateway.

Every 3rd checkout is double submitted, every 4th callback carries a tampered
signature and every 5th callback is lost. A reconcile pass runs at the end so
lost callbacks with a captured payment still complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := bootstrap(ctx, opts)
			if err != nil {
				return err
			}
			defer a.close()

			if err := database.Migrate(ctx, a.db.DB(), a.logger.With(zap.String("component", "Migrations"))); err != nil {
				return err
			}

			gw := payment.NewMockGateway(a.cfg.Gateway.KeySecret)
			svc, orderRepo, courseRepo := a.orderService(gw)
			if err := courseRepo.SaveCourse(ctx, simCourse); err != nil {
				return err
			}

			sim := &simulation{out: cmd.OutOrStdout(), svc: svc, orderRepo: orderRepo, gw: gw}
			fmt.Fprintf(sim.out, "--- STARTING SIMULATION (%d CHECKOUTS) ---\n", checkouts)
			for i := 1; i <= checkouts; i++ {
				sim.checkout(ctx, i)
			}

			rw := worker.NewReconciliationWorker(orderRepo, gw, svc, 0, a.logger.With(zap.String("component", "Reconciliation")))
			report, err := rw.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(sim.out, "--- RECONCILE: scanned=%d paid=%d failed=%d skipped=%d ---\n",
				report.Scanned, report.Paid, report.Failed, report.Skipped)
			return nil
		},
	}

	cmd.Flags().IntVarP(&checkouts, "checkouts", "n", 20, "number of checkouts to simulate")
	return cmd
}

type simulation struct {
	out       io.Writer
	svc       service.OrderService
	orderRepo repo.OrderRepo
	gw        *payment.MockGateway
}

func (s *simulation) checkout(ctx context.Context, i int) {
	in := service.CreateOrderInput{
		UserID:         fmt.Sprintf("sim-user-%d", i%3),
		CourseID:       simCourse.ID,
		AmountMinor:    domain.AmountToMinor(simCourse.Price),
		IdempotencyKey: uuid.NewString(),
	}

	created, err := s.svc.CreateOrder(ctx, in)
	if err != nil {
		fmt.Fprintf(s.out, "[%d] create failed: %v\n", i, err)
		return
	}
	fmt.Fprintf(s.out, "[%d] order %s remote %s\n", i, created.Order.ID, created.Order.RemoteOrderID)

	if i%3 == 0 {
		again, err := s.svc.CreateOrder(ctx, in)
		if err != nil {
			fmt.Fprintf(s.out, "    double submit failed: %v\n", err)
		} else {
			fmt.Fprintf(s.out, "    double submit replayed=%t same=%t\n", again.Replayed, again.Order.ID == created.Order.ID)
		}
	}

	cb, err := s.gw.Pay(created.Order.RemoteOrderID)
	if err != nil {
		fmt.Fprintf(s.out, "    pay failed: %v\n", err)
		return
	}

	switch {
	case i%5 == 0:
		fmt.Fprintf(s.out, "    callback lost\n")
	default:
		if i%4 == 0 {
			cb.Signature = "tampered"
		}
		res, err := s.svc.VerifyPayment(ctx, in.UserID, cb)
		switch {
		case err == nil:
			fmt.Fprintf(s.out, "    verify: SUCCESS\n")
		case errors.Is(err, domain.ErrSignatureMismatch) && res != nil:
			fmt.Fprintf(s.out, "    verify: %s\n", *res.Order.Error)
		default:
			fmt.Fprintf(s.out, "    verify failed: %v\n", err)
		}
	}

	fresh, err := s.orderRepo.FindById(ctx, created.Order.ID)
	if err != nil || fresh == nil {
		fmt.Fprintf(s.out, "    -> DB status unavailable: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "    -> DB Status: %s\n", fresh.Status)
	time.Sleep(50 * time.Millisecond)
}
