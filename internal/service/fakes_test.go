package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"coursepay/internal/domain"
	"coursepay/internal/repo"

	"github.com/google/uuid"
)

// memOrderRepo enforces the same uniqueness and conditional-update rules as
// the orders table.
type memOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]domain.Order

	// beforeInsert runs ahead of the uniqueness check.
	beforeInsert func()
	updateErr    error
	findErr      error
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[uuid.UUID]domain.Order)}
}

func (r *memOrderRepo) find(match func(domain.Order) bool) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, o := range r.orders {
		if match(o) {
			out := o
			return &out, nil
		}
	}
	return nil, nil
}

func (r *memOrderRepo) FindById(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.find(func(o domain.Order) bool { return o.ID == id })
}

func (r *memOrderRepo) FindByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	return r.find(func(o domain.Order) bool { return o.IdempotencyKey == key })
}

func (r *memOrderRepo) FindByRemoteOrderIDAndKey(_ context.Context, remoteOrderID, key string) (*domain.Order, error) {
	return r.find(func(o domain.Order) bool {
		return o.RemoteOrderID == remoteOrderID && o.IdempotencyKey == key
	})
}

func (r *memOrderRepo) CreateOrder(_ context.Context, _ *sql.Tx, order *domain.Order) error {
	if r.beforeInsert != nil {
		r.beforeInsert()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.IdempotencyKey == order.IdempotencyKey || o.RemoteOrderID == order.RemoteOrderID {
			return repo.ErrDuplicateOrder
		}
	}
	r.orders[order.ID] = *order
	return nil
}

func (r *memOrderRepo) UpdateOrderStatus(_ context.Context, _ *sql.Tx, order *domain.Order) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return false, r.updateErr
	}
	current, ok := r.orders[order.ID]
	if !ok || current.Status != domain.OrderPending {
		return false, nil
	}
	current.Status = order.Status
	current.PaymentID = order.PaymentID
	current.Error = order.Error
	current.CompletedAt = order.CompletedAt
	r.orders[order.ID] = current
	return true, nil
}

// FindStuckOrders ignores the cursor; the service never pages.
func (r *memOrderRepo) FindStuckOrders(_ context.Context, olderThan time.Duration, _ repo.StuckCursor, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []domain.Order
	for _, o := range r.orders {
		if o.Status == domain.OrderPending && o.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memOrderRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type grant struct{ userID, courseID string }

type memCourseRepo struct {
	mu      sync.Mutex
	courses map[string]domain.Course
	owned   map[grant]bool
	calls   int

	grantErr error
}

func newMemCourseRepo(courses ...domain.Course) *memCourseRepo {
	r := &memCourseRepo{courses: make(map[string]domain.Course), owned: make(map[grant]bool)}
	for _, c := range courses {
		r.courses[c.ID] = c
	}
	return r
}

func (r *memCourseRepo) FindById(_ context.Context, id string) (*domain.Course, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.courses[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memCourseRepo) GrantCourse(_ context.Context, _ *sql.Tx, userID, courseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.grantErr != nil {
		return r.grantErr
	}
	r.owned[grant{userID, courseID}] = true
	return nil
}

func (r *memCourseRepo) HasCourse(_ context.Context, userID, courseID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owned[grant{userID, courseID}], nil
}

func (r *memCourseRepo) SaveCourse(_ context.Context, course domain.Course) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses[course.ID] = course
	return nil
}

func (r *memCourseRepo) ownedCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for g := range r.owned {
		if g.userID == userID {
			n++
		}
	}
	return n
}
