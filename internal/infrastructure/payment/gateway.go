package payment

import (
	"context"

	"coursepay/internal/domain"
)

// PaymentGateway is the remote payment provider. Calls are not idempotent on
// the provider side, so callers must not retry CreateOrder blindly.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*domain.RemoteOrder, error)
	OrderPayments(ctx context.Context, remoteOrderID string) ([]domain.RemotePayment, error)
}
