package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coursepay/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateOrder is returned by CreateOrder when the idempotency key or the
// remote order id is already taken.
var ErrDuplicateOrder = errors.New("order already exists")

const uniqueViolation = "23505"

type OrderRepo interface {
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	FindByRemoteOrderIDAndKey(ctx context.Context, remoteOrderID, key string) (*domain.Order, error)
	CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error
	// UpdateOrderStatus writes a terminal transition. It only touches rows
	// that are still PENDING and reports whether this call made the change.
	UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *domain.Order) (bool, error)
	// FindStuckOrders pages through PENDING orders older than olderThan in
	// (created_at, id) order, starting after the given cursor.
	FindStuckOrders(ctx context.Context, olderThan time.Duration, after StuckCursor, limit int) ([]domain.Order, error)
}

// StuckCursor marks the last order of a FindStuckOrders page. The zero value
// starts from the beginning.
type StuckCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorAfter returns the cursor that continues after order.
func CursorAfter(order domain.Order) StuckCursor {
	return StuckCursor{CreatedAt: order.CreatedAt, ID: order.ID}
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, user_id, course_id, remote_order_id, payment_id, amount, currency,
	idempotency_key, receipt, status, error, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order       domain.Order
		paymentID   sql.NullString
		failure     sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.CourseID,
		&order.RemoteOrderID,
		&paymentID,
		&order.Amount,
		&order.Currency,
		&order.IdempotencyKey,
		&order.Receipt,
		&order.Status,
		&failure,
		&order.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	if paymentID.Valid {
		order.PaymentID = &paymentID.String
	}
	if failure.Valid {
		order.Error = &failure.String
	}
	if completedAt.Valid {
		order.CompletedAt = &completedAt.Time
	}
	return &order, nil
}

func (r *orderRepo) findOne(ctx context.Context, query string, args ...any) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return order, nil
}

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
}

func (r *orderRepo) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return r.findOne(ctx, "SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
}

func (r *orderRepo) FindByRemoteOrderIDAndKey(ctx context.Context, remoteOrderID, key string) (*domain.Order, error) {
	return r.findOne(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE remote_order_id = $1 AND idempotency_key = $2",
		remoteOrderID, key,
	)
}

func (r *orderRepo) CreateOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := execer(r.db, tx).ExecContext(ctx,
		`INSERT INTO orders (id, user_id, course_id, remote_order_id, amount, currency,
			idempotency_key, receipt, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		order.ID, order.UserID, order.CourseID, order.RemoteOrderID, order.Amount, order.Currency,
		order.IdempotencyKey, order.Receipt, order.Status, order.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateOrder, pgErr.ConstraintName)
		}
		return fmt.Errorf("failed to insert order %s: %w", order.ID, err)
	}
	return nil
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *domain.Order) (bool, error) {
	res, err := execer(r.db, tx).ExecContext(ctx,
		`UPDATE orders
		SET status = $1, payment_id = $2, error = $3, completed_at = $4
		WHERE id = $5 AND status = 'PENDING'`,
		order.Status, order.PaymentID, order.Error, order.CompletedAt, order.ID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update order %s status: %w", order.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for order %s: %w", order.ID, err)
	}
	return n == 1, nil
}

func (r *orderRepo) FindStuckOrders(ctx context.Context, olderThan time.Duration, after StuckCursor, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+orderColumns+` FROM orders
		WHERE status = 'PENDING' AND created_at < $1
			AND (created_at, id) > ($2, $3)
		ORDER BY created_at, id
		LIMIT $4`,
		time.Now().Add(-olderThan), after.CreatedAt, after.ID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stuck order: %w", err)
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stuck orders: %w", err)
	}
	return orders, nil
}

type execContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer picks the transaction when there is one.
func execer(db *sql.DB, tx *sql.Tx) execContext {
	if tx != nil {
		return tx
	}
	return db
}
