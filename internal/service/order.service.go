package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/domain"
	"coursepay/internal/infrastructure/payment"
	"coursepay/internal/repo"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CreateOrderInput struct {
	UserID         string
	CourseID       string
	AmountMinor    int64
	IdempotencyKey string
}

func (in CreateOrderInput) validate() error {
	switch {
	case in.UserID == "":
		return fmt.Errorf("%w: user is required", domain.ErrInvalidRequest)
	case in.CourseID == "":
		return fmt.Errorf("%w: courseId is required", domain.ErrInvalidRequest)
	case in.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotencyKey is required", domain.ErrInvalidRequest)
	case in.AmountMinor <= 0:
		return fmt.Errorf("%w: amount must be a positive integer in the smallest currency unit", domain.ErrInvalidRequest)
	case in.AmountMinor > domain.MaxAmountMinor:
		return fmt.Errorf("%w: amount must not exceed %d", domain.ErrInvalidRequest, domain.MaxAmountMinor)
	}
	return nil
}

type CreateOrderResult struct {
	Order *domain.Order
	// RemoteOrder is nil when Replayed is true.
	RemoteOrder *domain.RemoteOrder
	Replayed    bool
}

type VerifyPaymentResult struct {
	Order *domain.Order
}

type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error)
	VerifyPayment(ctx context.Context, userID string, cb domain.PaymentCallback) (*VerifyPaymentResult, error)
	// MarkPaid and MarkFailed perform the terminal transition of a pending
	// order. On an already terminal order they return the stored state.
	MarkPaid(ctx context.Context, order *domain.Order, paymentID string) (*domain.Order, error)
	MarkFailed(ctx context.Context, order *domain.Order, reason string) (*domain.Order, error)
}

type orderService struct {
	db         *sql.DB
	orderRepo  repo.OrderRepo
	courseRepo repo.CourseRepo
	paymentGtw payment.PaymentGateway
	gateway    config.GatewayConfig
	logger     *zap.Logger
	now        func() time.Time
}

func NewOrderService(
	db *sql.DB,
	orderRepo repo.OrderRepo,
	courseRepo repo.CourseRepo,
	paymentGtw payment.PaymentGateway,
	gateway config.GatewayConfig,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		db:         db,
		orderRepo:  orderRepo,
		courseRepo: courseRepo,
		paymentGtw: paymentGtw,
		gateway:    gateway,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	existing, err := s.orderRepo.FindByIdempotencyKey(ctx, in.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	if existing != nil {
		return s.replay(existing, in)
	}

	course, err := s.courseRepo.FindById(ctx, in.CourseID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	if course == nil {
		return nil, fmt.Errorf("%w: course %s", domain.ErrNotFound, in.CourseID)
	}

	now := s.now()
	receipt := buildReceipt(course.ID, now)
	notes := map[string]string{
		"courseId":       course.ID,
		"userId":         in.UserID,
		"idempotencyKey": in.IdempotencyKey,
	}

	remote, err := s.paymentGtw.CreateOrder(ctx, in.AmountMinor, s.gateway.Currency, receipt, notes)
	if err != nil {
		s.logger.Error("gateway order creation failed",
			zap.String("course_id", course.ID),
			zap.String("idempotency_key", in.IdempotencyKey),
			zap.Error(err))
		return nil, fmt.Errorf("%w: create remote order: %w", domain.ErrUpstream, err)
	}

	order := &domain.Order{
		ID:             uuid.New(),
		UserID:         in.UserID,
		CourseID:       course.ID,
		RemoteOrderID:  remote.ID,
		Amount:         domain.AmountFromMinor(in.AmountMinor),
		Currency:       s.gateway.Currency,
		IdempotencyKey: in.IdempotencyKey,
		Receipt:        receipt,
		Status:         domain.OrderPending,
		CreatedAt:      now,
	}

	if err := s.orderRepo.CreateOrder(ctx, nil, order); err != nil {
		if errors.Is(err, repo.ErrDuplicateOrder) {
			// a concurrent request with the same key won the insert
			winner, findErr := s.orderRepo.FindByIdempotencyKey(ctx, in.IdempotencyKey)
			if findErr == nil && winner != nil {
				s.logger.Warn("duplicate create lost the insert race, remote order left unused",
					zap.String("order_id", winner.ID.String()),
					zap.String("unused_remote_order_id", remote.ID))
				return s.replay(winner, in)
			}
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("remote_order_id", order.RemoteOrderID),
		zap.String("course_id", order.CourseID),
		zap.String("status", string(order.Status)))

	return &CreateOrderResult{Order: order, RemoteOrder: remote}, nil
}

func (s *orderService) replay(order *domain.Order, in CreateOrderInput) (*CreateOrderResult, error) {
	if order.UserID != in.UserID {
		return nil, fmt.Errorf("%w: idempotencyKey already used", domain.ErrInvalidRequest)
	}
	s.logger.Info("order already exists for idempotency key",
		zap.String("order_id", order.ID.String()),
		zap.String("status", string(order.Status)))
	return &CreateOrderResult{Order: order, Replayed: true}, nil
}

func (s *orderService) VerifyPayment(ctx context.Context, userID string, cb domain.PaymentCallback) (*VerifyPaymentResult, error) {
	if cb.RemoteOrderID == "" || cb.PaymentID == "" || cb.Signature == "" || cb.CourseID == "" || cb.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: missing payment verification fields", domain.ErrInvalidRequest)
	}

	validSignature := payment.VerifySignature(s.gateway.KeySecret, cb.RemoteOrderID, cb.PaymentID, cb.Signature)

	order, err := s.orderRepo.FindByRemoteOrderIDAndKey(ctx, cb.RemoteOrderID, cb.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	if order == nil || order.UserID != userID {
		return nil, fmt.Errorf("%w: order %s", domain.ErrNotFound, cb.RemoteOrderID)
	}
	if order.CourseID != cb.CourseID {
		return nil, fmt.Errorf("%w: course does not match order", domain.ErrInvalidRequest)
	}

	if order.Status.Terminal() {
		s.logger.Info("verification replayed on terminal order",
			zap.String("order_id", order.ID.String()),
			zap.String("status", string(order.Status)))
		s.auditTerminal(ctx, order, cb.PaymentID, validSignature)
		return terminalResult(order)
	}

	if !validSignature {
		failed, err := s.MarkFailed(ctx, order, domain.ReasonInvalidSignature)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
		}
		if failed.Status == domain.OrderFailed && failed.Error != nil && *failed.Error == domain.ReasonInvalidSignature {
			return &VerifyPaymentResult{Order: failed}, domain.ErrSignatureMismatch
		}
		return terminalResult(failed)
	}

	paid, err := s.MarkPaid(ctx, order, cb.PaymentID)
	if err != nil {
		if _, failErr := s.MarkFailed(ctx, order, err.Error()); failErr != nil {
			s.logger.Error("could not record verification failure",
				zap.String("order_id", order.ID.String()),
				zap.Error(failErr))
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	return terminalResult(paid)
}

func (s *orderService) MarkPaid(ctx context.Context, order *domain.Order, paymentID string) (*domain.Order, error) {
	updated := *order
	if !updated.Succeed(paymentID, s.now()) {
		return order, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// set semantics: a second grant for the same pair is a no-op
	if err := s.courseRepo.GrantCourse(ctx, tx, order.UserID, order.CourseID); err != nil {
		return nil, err
	}

	changed, err := s.orderRepo.UpdateOrderStatus(ctx, tx, &updated)
	if err != nil {
		return nil, err
	}
	if !changed {
		if err := tx.Rollback(); err != nil {
			return nil, fmt.Errorf("rollback transaction: %w", err)
		}
		return s.reload(ctx, order)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("payment verified, course granted",
		zap.String("order_id", updated.ID.String()),
		zap.String("remote_order_id", updated.RemoteOrderID),
		zap.String("payment_id", paymentID),
		zap.String("user_id", updated.UserID),
		zap.String("course_id", updated.CourseID),
		zap.String("status", string(updated.Status)))
	return &updated, nil
}

func (s *orderService) MarkFailed(ctx context.Context, order *domain.Order, reason string) (*domain.Order, error) {
	updated := *order
	if !updated.Fail(reason, s.now()) {
		return order, nil
	}

	changed, err := s.orderRepo.UpdateOrderStatus(ctx, nil, &updated)
	if err != nil {
		return nil, err
	}
	if !changed {
		return s.reload(ctx, order)
	}

	s.logger.Warn("order failed",
		zap.String("order_id", updated.ID.String()),
		zap.String("remote_order_id", updated.RemoteOrderID),
		zap.String("reason", reason),
		zap.String("status", string(updated.Status)))
	return &updated, nil
}

// auditTerminal flags terminal orders whose stored state disagrees with what
// the gateway or the grant table says. It never changes the order.
func (s *orderService) auditTerminal(ctx context.Context, order *domain.Order, paymentID string, validSignature bool) {
	switch order.Status {
	case domain.OrderFailed:
		if !validSignature {
			return
		}
		reason := ""
		if order.Error != nil {
			reason = *order.Error
		}
		s.logger.Error("signed payment arrived for a failed order, refund required",
			zap.String("order_id", order.ID.String()),
			zap.String("remote_order_id", order.RemoteOrderID),
			zap.String("payment_id", paymentID),
			zap.String("user_id", order.UserID),
			zap.String("failure_reason", reason))
	case domain.OrderSuccess:
		owned, err := s.courseRepo.HasCourse(ctx, order.UserID, order.CourseID)
		if err != nil {
			s.logger.Warn("could not check course grant",
				zap.String("order_id", order.ID.String()),
				zap.Error(err))
			return
		}
		if !owned {
			s.logger.Error("successful order has no course grant",
				zap.String("order_id", order.ID.String()),
				zap.String("user_id", order.UserID),
				zap.String("course_id", order.CourseID))
		}
	}
}

// reload fetches the stored state after another caller finished the order first.
func (s *orderService) reload(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	current, err := s.orderRepo.FindById(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("order %s disappeared", order.ID)
	}
	s.logger.Info("order already completed by a concurrent request",
		zap.String("order_id", current.ID.String()),
		zap.String("status", string(current.Status)))
	return current, nil
}

func terminalResult(order *domain.Order) (*VerifyPaymentResult, error) {
	if order.Status == domain.OrderSuccess {
		return &VerifyPaymentResult{Order: order}, nil
	}
	reason := "payment was not completed"
	if order.Error != nil {
		reason = *order.Error
	}
	return &VerifyPaymentResult{Order: order}, fmt.Errorf("%w: %s", domain.ErrPaymentFailed, reason)
}

// buildReceipt derives a human readable receipt from the tail of the course
// id and the creation time. It is not unique on its own.
func buildReceipt(courseID string, at time.Time) string {
	tail := courseID
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	return "rcpt_" + tail + "_" + strconv.FormatInt(at.UnixMilli(), 10)
}
