package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending OrderStatus = "PENDING"
	OrderSuccess OrderStatus = "SUCCESS"
	OrderFailed  OrderStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == OrderSuccess || s == OrderFailed
}

// Failure reasons stored in Order.Error.
const (
	ReasonInvalidSignature    = "Invalid payment signature"
	ReasonPaymentNotCompleted = "Payment not completed"
)

// Order is one purchase attempt. Amount is in the major currency unit.
type Order struct {
	ID             uuid.UUID       `json:"id"`
	UserID         string          `json:"userId"`
	CourseID       string          `json:"courseId"`
	RemoteOrderID  string          `json:"remoteOrderId"`
	PaymentID      *string         `json:"paymentId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Receipt        string          `json:"receipt"`
	Status         OrderStatus     `json:"status"`
	Error          *string         `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	CompletedAt    *time.Time      `json:"completedAt"`
}

// Succeed moves a pending order to SUCCESS. It returns false if the order is
// already terminal and leaves it untouched.
func (o *Order) Succeed(paymentID string, at time.Time) bool {
	if o.Status.Terminal() {
		return false
	}
	o.Status = OrderSuccess
	o.PaymentID = &paymentID
	o.Error = nil
	o.CompletedAt = &at
	return true
}

// Fail moves a pending order to FAILED with the given reason.
func (o *Order) Fail(reason string, at time.Time) bool {
	if o.Status.Terminal() {
		return false
	}
	o.Status = OrderFailed
	o.PaymentID = nil
	o.Error = &reason
	o.CompletedAt = &at
	return true
}

// MaxAmountMinor is the largest amount, in minor units, that fits the
// NUMERIC(12,2) amount column.
const MaxAmountMinor int64 = 999_999_999_999

// AmountFromMinor converts an amount in the smallest currency unit (paise,
// cents) into the major unit stored on the order. Only currencies with two
// minor digits are supported, see config.Validate.
func AmountFromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// AmountToMinor is the inverse of AmountFromMinor.
func AmountToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).IntPart()
}
