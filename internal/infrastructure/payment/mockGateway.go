package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"coursepay/internal/domain"

	"github.com/google/uuid"
)

var ErrUnknownRemoteOrder = errors.New("unknown remote order")

type mockOrder struct {
	order    domain.RemoteOrder
	payments []domain.RemotePayment
}

// MockGateway is an in-process gateway for local runs and tests. It signs
// payments with the same secret the service verifies against.
type MockGateway struct {
	mu     sync.RWMutex
	secret string
	orders map[string]*mockOrder

	// FailCreate, when set, is returned by the next CreateOrder calls.
	FailCreate error
}

func NewMockGateway(secret string) *MockGateway {
	return &MockGateway{secret: secret, orders: make(map[string]*mockOrder)}
}

func (pg *MockGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (*domain.RemoteOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.FailCreate != nil {
		return nil, pg.FailCreate
	}

	order := domain.RemoteOrder{
		ID:       "order_" + shortID(),
		Entity:   "order",
		Amount:   amountMinor,
		Currency: currency,
		Receipt:  receipt,
		Status:   "created",
		Notes:    notes,
	}
	pg.orders[order.ID] = &mockOrder{order: order}

	out := order
	return &out, nil
}

func (pg *MockGateway) OrderPayments(ctx context.Context, remoteOrderID string) ([]domain.RemotePayment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pg.mu.RLock()
	defer pg.mu.RUnlock()

	o, ok := pg.orders[remoteOrderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRemoteOrder, remoteOrderID)
	}
	return append([]domain.RemotePayment(nil), o.payments...), nil
}

// Pay captures a payment against remoteOrderID and returns the signed
// callback the checkout page would post back.
func (pg *MockGateway) Pay(remoteOrderID string) (domain.PaymentCallback, error) {
	return pg.attempt(remoteOrderID, domain.RemotePaymentCaptured)
}

// Authorize records a payment the bank approved but that was not captured yet.
func (pg *MockGateway) Authorize(remoteOrderID string) (domain.PaymentCallback, error) {
	return pg.attempt(remoteOrderID, domain.RemotePaymentAuthorized)
}

// Decline records a failed payment attempt. The callback is still signed, as
// the gateway would sign it, but the order stays unpaid.
func (pg *MockGateway) Decline(remoteOrderID string) (domain.PaymentCallback, error) {
	return pg.attempt(remoteOrderID, domain.RemotePaymentFailed)
}

func (pg *MockGateway) attempt(remoteOrderID string, status domain.RemotePaymentStatus) (domain.PaymentCallback, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	o, ok := pg.orders[remoteOrderID]
	if !ok {
		return domain.PaymentCallback{}, fmt.Errorf("%w: %s", ErrUnknownRemoteOrder, remoteOrderID)
	}

	paymentID := "pay_" + shortID()
	o.payments = append(o.payments, domain.RemotePayment{
		ID:      paymentID,
		OrderID: remoteOrderID,
		Status:  status,
	})
	switch status {
	case domain.RemotePaymentCaptured, domain.RemotePaymentAuthorized:
		o.order.Status = "paid"
	default:
		o.order.Status = "attempted"
	}

	return domain.PaymentCallback{
		RemoteOrderID:  remoteOrderID,
		PaymentID:      paymentID,
		Signature:      Sign(pg.secret, remoteOrderID, paymentID),
		CourseID:       o.order.Notes["courseId"],
		IdempotencyKey: o.order.Notes["idempotencyKey"],
	}, nil
}

// Orders returns the number of remote orders minted so far.
func (pg *MockGateway) Orders() int {
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	return len(pg.orders)
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
}
