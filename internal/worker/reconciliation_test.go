package worker

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/domain"
	"coursepay/internal/infrastructure/payment"
	"coursepay/internal/repo"
	"coursepay/internal/service"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubOrderRepo serves stale orders in (created_at, id) order and applies
// conditional status updates, like the orders table.
type stubOrderRepo struct {
	repo.OrderRepo

	mu        sync.Mutex
	stuck     []domain.Order
	err       error
	olderThan time.Duration
	limit     int
	pages     int
}

func (r *stubOrderRepo) FindStuckOrders(_ context.Context, olderThan time.Duration, after repo.StuckCursor, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.olderThan, r.limit = olderThan, limit
	r.pages++
	if r.err != nil {
		return nil, r.err
	}

	sort.Slice(r.stuck, func(i, j int) bool { return less(r.stuck[i], repo.CursorAfter(r.stuck[j])) })

	var page []domain.Order
	for _, o := range r.stuck {
		if o.Status != domain.OrderPending || !less(domain.Order{CreatedAt: after.CreatedAt, ID: after.ID}, repo.CursorAfter(o)) {
			continue
		}
		page = append(page, o)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (r *stubOrderRepo) FindById(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.find(func(o domain.Order) bool { return o.ID == id })
}

func (r *stubOrderRepo) FindByRemoteOrderIDAndKey(_ context.Context, remoteOrderID, key string) (*domain.Order, error) {
	return r.find(func(o domain.Order) bool { return o.RemoteOrderID == remoteOrderID && o.IdempotencyKey == key })
}

func (r *stubOrderRepo) UpdateOrderStatus(_ context.Context, _ *sql.Tx, order *domain.Order) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.stuck {
		if r.stuck[i].ID == order.ID && r.stuck[i].Status == domain.OrderPending {
			r.stuck[i] = *order
			return true, nil
		}
	}
	return false, nil
}

func (r *stubOrderRepo) find(match func(domain.Order) bool) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.stuck {
		if match(o) {
			out := o
			return &out, nil
		}
	}
	return nil, nil
}

func less(o domain.Order, c repo.StuckCursor) bool {
	if !o.CreatedAt.Equal(c.CreatedAt) {
		return o.CreatedAt.Before(c.CreatedAt)
	}
	return bytes.Compare(o.ID[:], c.ID[:]) < 0
}

type memCourses struct {
	repo.CourseRepo

	mu    sync.Mutex
	owned map[string]bool
}

func (r *memCourses) GrantCourse(_ context.Context, _ *sql.Tx, userID, courseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owned[userID+"/"+courseID] = true
	return nil
}

func (r *memCourses) HasCourse(_ context.Context, userID, courseID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owned[userID+"/"+courseID], nil
}

// recordingService settles orders in memory and records each call.
type recordingService struct {
	service.OrderService

	mu      sync.Mutex
	paid    map[string]string
	failed  map[string]string
	failErr error
}

func newRecordingService() *recordingService {
	return &recordingService{paid: make(map[string]string), failed: make(map[string]string)}
}

func (s *recordingService) MarkPaid(_ context.Context, order *domain.Order, paymentID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paid[order.RemoteOrderID] = paymentID
	out := *order
	out.Succeed(paymentID, time.Now())
	return &out, nil
}

func (s *recordingService) MarkFailed(_ context.Context, order *domain.Order, reason string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	s.failed[order.RemoteOrderID] = reason
	out := *order
	out.Fail(reason, time.Now())
	return &out, nil
}

func stale(remoteOrderID string) domain.Order {
	return domain.Order{
		ID:            uuid.New(),
		UserID:        "user1",
		CourseID:      "course-x",
		RemoteOrderID: remoteOrderID,
		Status:        domain.OrderPending,
		CreatedAt:     time.Now().Add(-2 * time.Hour),
	}
}

func remoteOrder(t *testing.T, gw *payment.MockGateway) string {
	t.Helper()
	remote, err := gw.CreateOrder(context.Background(), 1000, "INR", "rcpt", map[string]string{
		"courseId":       "course-x",
		"idempotencyKey": "key-" + uuid.NewString(),
	})
	require.NoError(t, err)
	return remote.ID
}

func TestRunOnceSettlesStaleOrders(t *testing.T) {
	ctx := context.Background()
	gw := payment.NewMockGateway("secret")

	captured := remoteOrder(t, gw)
	capturedCb, err := gw.Pay(captured)
	require.NoError(t, err)

	authorized := remoteOrder(t, gw)
	authorizedCb, err := gw.Authorize(authorized)
	require.NoError(t, err)

	declined := remoteOrder(t, gw)
	_, err = gw.Decline(declined)
	require.NoError(t, err)
	_, err = gw.Decline(declined)
	require.NoError(t, err)

	retried := remoteOrder(t, gw)
	_, err = gw.Decline(retried)
	require.NoError(t, err)
	retriedCb, err := gw.Pay(retried)
	require.NoError(t, err)

	abandoned := remoteOrder(t, gw)

	orders := &stubOrderRepo{stuck: []domain.Order{
		stale(captured),
		stale(authorized),
		stale(declined),
		stale(retried),
		stale(abandoned),
		stale("order_gateway_lost_it"),
	}}
	svc := newRecordingService()

	rw := NewReconciliationWorker(orders, gw, svc, 30*time.Minute, zap.NewNop())
	report, err := rw.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, Report{Scanned: 6, Paid: 3, Failed: 1, Skipped: 2}, report)
	assert.Equal(t, 30*time.Minute, orders.olderThan)
	assert.Equal(t, defaultBatchSize, orders.limit)

	assert.Equal(t, map[string]string{
		captured:   capturedCb.PaymentID,
		authorized: authorizedCb.PaymentID,
		retried:    retriedCb.PaymentID,
	}, svc.paid)
	assert.Equal(t, map[string]string{declined: "Payment not completed"}, svc.failed)
}

func TestRunOnceLeavesUnattemptedOrdersPending(t *testing.T) {
	gw := payment.NewMockGateway("secret")
	abandoned := remoteOrder(t, gw)
	svc := newRecordingService()

	rw := NewReconciliationWorker(&stubOrderRepo{stuck: []domain.Order{stale(abandoned)}}, gw, svc, 0, zap.NewNop())
	report, err := rw.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Report{Scanned: 1, Skipped: 1}, report)
	assert.Empty(t, svc.paid)
	assert.Empty(t, svc.failed)
}

func TestRunOncePagesPastWaitingOrders(t *testing.T) {
	ctx := context.Background()
	gw := payment.NewMockGateway("secret")

	var stuck []domain.Order
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		o := stale(remoteOrder(t, gw))
		o.CreatedAt = base.Add(time.Duration(i) * time.Second)
		stuck = append(stuck, o)
	}
	newest := stale(remoteOrder(t, gw))
	newest.CreatedAt = base.Add(time.Minute)
	cb, err := gw.Pay(newest.RemoteOrderID)
	require.NoError(t, err)
	stuck = append(stuck, newest)

	orders := &stubOrderRepo{stuck: stuck}
	svc := newRecordingService()
	rw := NewReconciliationWorker(orders, gw, svc, time.Minute, zap.NewNop())
	rw.batchSize = 2

	report, err := rw.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, Report{Scanned: 6, Paid: 1, Skipped: 5}, report)
	assert.Equal(t, map[string]string{newest.RemoteOrderID: cb.PaymentID}, svc.paid)
	assert.Equal(t, 4, orders.pages)
}

func TestLateCallbackAfterSweepGrantsCourse(t *testing.T) {
	ctx := context.Background()
	gw := payment.NewMockGateway("secret")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	remote, err := gw.CreateOrder(ctx, 1000, "INR", "rcpt", map[string]string{
		"courseId":       "course-x",
		"idempotencyKey": "key-1",
	})
	require.NoError(t, err)
	order := stale(remote.ID)
	order.IdempotencyKey = "key-1"

	orders := &stubOrderRepo{stuck: []domain.Order{order}}
	courses := &memCourses{owned: make(map[string]bool)}
	svc := service.NewOrderService(db, orders, courses, gw,
		config.GatewayConfig{KeyID: "rzp_test_key", KeySecret: "secret", Currency: "INR"}, zap.NewNop())

	rw := NewReconciliationWorker(orders, gw, svc, 0, zap.NewNop())
	report, err := rw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Skipped: 1}, report)

	// the buyer finishes checkout after the sweep
	cb, err := gw.Pay(remote.ID)
	require.NoError(t, err)
	res, err := svc.VerifyPayment(ctx, "user1", cb)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSuccess, res.Order.Status)

	owned, err := courses.HasCourse(ctx, "user1", "course-x")
	require.NoError(t, err)
	assert.True(t, owned)

	report, err = rw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaidPayment(t *testing.T) {
	tests := []struct {
		name     string
		payments []domain.RemotePayment
		wantID   string
		paid     bool
		failed   bool
	}{
		{"no attempts", nil, "", false, false},
		{"captured wins over authorized", []domain.RemotePayment{
			{ID: "pay_a", Status: domain.RemotePaymentAuthorized},
			{ID: "pay_c", Status: domain.RemotePaymentCaptured},
		}, "pay_c", true, false},
		{"first authorized", []domain.RemotePayment{
			{ID: "pay_f", Status: domain.RemotePaymentFailed},
			{ID: "pay_a1", Status: domain.RemotePaymentAuthorized},
			{ID: "pay_a2", Status: domain.RemotePaymentAuthorized},
		}, "pay_a1", true, false},
		{"attempt in progress", []domain.RemotePayment{
			{ID: "pay_f", Status: domain.RemotePaymentFailed},
			{ID: "pay_n", Status: domain.RemotePaymentCreated},
		}, "", false, false},
		{"every attempt failed", []domain.RemotePayment{
			{ID: "pay_f1", Status: domain.RemotePaymentFailed},
			{ID: "pay_f2", Status: domain.RemotePaymentFailed},
		}, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := paidPayment(tt.payments)
			assert.Equal(t, tt.paid, ok)
			assert.Equal(t, tt.wantID, p.ID)
			assert.Equal(t, tt.failed, allFailed(tt.payments))
		})
	}
}

func TestRunOnceNothingToDo(t *testing.T) {
	rw := NewReconciliationWorker(&stubOrderRepo{}, payment.NewMockGateway("secret"), newRecordingService(), time.Minute, zap.NewNop())

	report, err := rw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)
}

func TestRunOnceStoreError(t *testing.T) {
	orders := &stubOrderRepo{err: errors.New("connection refused")}
	rw := NewReconciliationWorker(orders, payment.NewMockGateway("secret"), newRecordingService(), time.Minute, zap.NewNop())

	_, err := rw.RunOnce(context.Background())
	assert.EqualError(t, err, "connection refused")
}

func TestRunOnceSettleErrorLeavesOrderPending(t *testing.T) {
	ctx := context.Background()
	gw := payment.NewMockGateway("secret")
	declined := remoteOrder(t, gw)
	_, err := gw.Decline(declined)
	require.NoError(t, err)

	svc := newRecordingService()
	svc.failErr = errors.New("deadlock detected")

	rw := NewReconciliationWorker(&stubOrderRepo{stuck: []domain.Order{stale(declined)}}, gw, svc, time.Minute, zap.NewNop())
	report, err := rw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Scanned: 1, Skipped: 1}, report)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := payment.NewMockGateway("secret")
	declined := remoteOrder(t, gw)
	_, err := gw.Decline(declined)
	require.NoError(t, err)

	svc := newRecordingService()
	rw := NewReconciliationWorker(&stubOrderRepo{stuck: []domain.Order{stale(declined)}}, gw, svc, time.Minute, zap.NewNop())

	done := make(chan struct{})
	go func() {
		rw.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.failed) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
