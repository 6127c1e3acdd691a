package worker

import (
	"context"
	"time"

	"coursepay/internal/domain"
	"coursepay/internal/infrastructure/payment"
	"coursepay/internal/repo"
	"coursepay/internal/service"

	"go.uber.org/zap"
)

const defaultBatchSize = 100

// Report summarises one reconciliation pass.
type Report struct {
	Scanned int
	Paid    int
	Failed  int
	Skipped int
}

// ReconciliationWorker settles PENDING orders whose callback never arrived by
// asking the gateway what actually happened to the remote order.
type ReconciliationWorker struct {
	orderRepo repo.OrderRepo
	gateway   payment.PaymentGateway
	orders    service.OrderService
	olderThan time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewReconciliationWorker(
	orderRepo repo.OrderRepo,
	gateway payment.PaymentGateway,
	orders service.OrderService,
	olderThan time.Duration,
	logger *zap.Logger,
) *ReconciliationWorker {
	return &ReconciliationWorker{
		orderRepo: orderRepo,
		gateway:   gateway,
		orders:    orders,
		olderThan: olderThan,
		batchSize: defaultBatchSize,
		logger:    logger,
	}
}

// Run repeats RunOnce every interval until ctx is cancelled. The first pass
// starts immediately.
func (rw *ReconciliationWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rw.logger.Info("reconciliation worker started", zap.Duration("interval", interval))

	for {
		if _, err := rw.RunOnce(ctx); err != nil {
			rw.logger.Error("reconciliation failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			rw.logger.Info("reconciliation worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce pages through every stale PENDING order once. Per-order gateway
// errors are logged and the order is left for the next pass.
func (rw *ReconciliationWorker) RunOnce(ctx context.Context) (Report, error) {
	var (
		report Report
		cursor repo.StuckCursor
	)

	for {
		page, err := rw.orderRepo.FindStuckOrders(ctx, rw.olderThan, cursor, rw.batchSize)
		if err != nil {
			return report, err
		}
		if len(page) == 0 {
			break
		}

		rw.logger.Info("found stale pending orders", zap.Int("count", len(page)))

		for i := range page {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Scanned++

			switch rw.settle(ctx, &page[i]) {
			case domain.OrderSuccess:
				report.Paid++
			case domain.OrderFailed:
				report.Failed++
			default:
				report.Skipped++
			}
		}

		if len(page) < rw.batchSize {
			break
		}
		cursor = repo.CursorAfter(page[len(page)-1])
	}

	if report.Scanned > 0 {
		rw.logger.Info("reconciliation pass finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("paid", report.Paid),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped))
	}
	return report, nil
}

// settle returns the order's status after the pass, PENDING when it was left
// for a later run. An order is only failed once the gateway shows attempts and
// all of them failed; with no attempt the buyer may still pay, so it waits.
func (rw *ReconciliationWorker) settle(ctx context.Context, order *domain.Order) domain.OrderStatus {
	log := rw.logger.With(
		zap.String("order_id", order.ID.String()),
		zap.String("remote_order_id", order.RemoteOrderID))

	payments, err := rw.gateway.OrderPayments(ctx, order.RemoteOrderID)
	if err != nil {
		log.Warn("failed to fetch remote payments", zap.Error(err))
		return domain.OrderPending
	}

	var result *domain.Order
	if paid, ok := paidPayment(payments); ok {
		log.Info("callback missed but payment went through, completing order",
			zap.String("payment_id", paid.ID),
			zap.String("payment_status", string(paid.Status)))
		result, err = rw.orders.MarkPaid(ctx, order, paid.ID)
	} else if allFailed(payments) {
		result, err = rw.orders.MarkFailed(ctx, order, domain.ReasonPaymentNotCompleted)
	} else {
		log.Info("no completed payment attempt yet, leaving order pending", zap.Int("attempts", len(payments)))
		return domain.OrderPending
	}
	if err != nil {
		log.Error("failed to settle order", zap.Error(err))
		return domain.OrderPending
	}

	return result.Status
}

// paidPayment prefers a captured payment over an authorized one. Both count
// as paid, the same as an accepted callback.
func paidPayment(payments []domain.RemotePayment) (domain.RemotePayment, bool) {
	var (
		authorized domain.RemotePayment
		found      bool
	)
	for _, p := range payments {
		switch p.Status {
		case domain.RemotePaymentCaptured:
			return p, true
		case domain.RemotePaymentAuthorized:
			if !found {
				authorized, found = p, true
			}
		}
	}
	return authorized, found
}

func allFailed(payments []domain.RemotePayment) bool {
	if len(payments) == 0 {
		return false
	}
	for _, p := range payments {
		if p.Status != domain.RemotePaymentFailed {
			return false
		}
	}
	return true
}
