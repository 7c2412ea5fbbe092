package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/go-storefront/internal/model"
)

type OrderRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Order, error)
	ListByUserID(ctx context.Context, userID int64) ([]model.Order, error)
	List(ctx context.Context, filter model.OrderFilter) ([]model.Order, error)
	Recent(ctx context.Context, limit int) ([]model.Order, error)
	CountByStatus(ctx context.Context, status model.OrderStatus) (int, error)
	UpdatePaymentStatus(ctx context.Context, id int64, status model.PaymentStatus) error
}

type pgOrderRepo struct{ pool *pgxpool.Pool }

func NewOrderRepository(pool *pgxpool.Pool) OrderRepository {
	return &pgOrderRepo{pool: pool}
}

const orderColumns = `o.id, o.user_id, o.order_number, o.status, o.total_amount, o.shipping_address,
	o.billing_address, o.payment_method, o.payment_status, o.notes, o.created_at, o.updated_at`

func scanOrder(row pgx.Row, extra ...any) (*model.Order, error) {
	o := &model.Order{}
	dest := []any{
		&o.ID, &o.UserID, &o.OrderNumber, &o.Status, &o.TotalAmount, &o.ShippingAddress,
		&o.BillingAddress, &o.PaymentMethod, &o.PaymentStatus, &o.Notes, &o.CreatedAt, &o.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return o, nil
}

// getOrder loads an order with its items. lock appends FOR UPDATE so the
// row stays locked until the surrounding transaction ends.
func getOrder(ctx context.Context, db DBTX, id int64, lock bool) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o WHERE o.id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := db.Query(ctx,
		`SELECT id, order_id, product_id, product_name, product_price, quantity
		 FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.ProductPrice, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	return order, rows.Err()
}

func (r *pgOrderRepo) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	return getOrder(ctx, r.pool, id, false)
}

func (r *pgOrderRepo) ListByUserID(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.user_id = $1 ORDER BY o.created_at DESC, o.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (r *pgOrderRepo) List(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + `, u.username, u.email
		FROM orders o JOIN users u ON u.id = o.user_id
		WHERE ($1 = '' OR o.status = $1)
		  AND ($2 = '' OR o.order_number ILIKE $3 OR o.shipping_address ILIKE $3
		       OR u.username ILIKE $3 OR u.email ILIKE $3)
		ORDER BY o.created_at DESC, o.id DESC`
	pattern := "%" + escapeLike(filter.Search) + "%"
	return r.listWithUser(ctx, query, string(filter.Status), filter.Search, pattern)
}

func (r *pgOrderRepo) Recent(ctx context.Context, limit int) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + `, u.username, u.email
		FROM orders o JOIN users u ON u.id = o.user_id
		ORDER BY o.created_at DESC, o.id DESC LIMIT $1`
	return r.listWithUser(ctx, query, limit)
}

func (r *pgOrderRepo) listWithUser(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var username, email string
		o, err := scanOrder(rows, &username, &email)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Username, o.Email = username, email
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (r *pgOrderRepo) CountByStatus(ctx context.Context, status model.OrderStatus) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE ($1 = '' OR status = $1)`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

func (r *pgOrderRepo) UpdatePaymentStatus(ctx context.Context, id int64, status model.PaymentStatus) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET payment_status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
