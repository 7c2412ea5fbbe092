package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/flicky/go-storefront/internal/model"
)

// Tx exposes the writes that must happen atomically for checkout and order
// reversal.
type Tx interface {
	// LockCartLines returns the user's cart lines with their products locked
	// FOR UPDATE, ordered by product id.
	LockCartLines(ctx context.Context, userID int64) ([]model.CartLine, error)
	CreateOrder(ctx context.Context, order *model.Order) error
	CreateOrderItems(ctx context.Context, orderID int64, items []model.OrderItem) error
	DecrementStock(ctx context.Context, productID int64, quantity int) error
	// RestoreStock adds quantity back and reports whether the product still
	// exists.
	RestoreStock(ctx context.Context, productID int64, quantity int) (bool, error)
	ClearCart(ctx context.Context, userID int64) error
	LockOrder(ctx context.Context, orderID int64) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus) error
	DeleteOrder(ctx context.Context, orderID int64) error
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockCartLines(ctx context.Context, userID int64) ([]model.CartLine, error) {
	lines, err := queryCartLines(ctx, t.tx, cartLinesQuery+` ORDER BY p.id FOR UPDATE OF p, ci`, userID)
	if err != nil {
		return nil, fmt.Errorf("lock cart lines: %w", err)
	}
	return lines, nil
}

func (t *pgTx) CreateOrder(ctx context.Context, order *model.Order) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, order_number, status, total_amount, shipping_address, billing_address,
		                     payment_method, payment_status, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		order.UserID, order.OrderNumber, string(order.Status), order.TotalAmount, order.ShippingAddress,
		order.BillingAddress, order.PaymentMethod, string(order.PaymentStatus), order.Notes,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if _, constraint := pgErrorCode(err); isUniqueViolation(err) && constraint == "orders_order_number_key" {
			return ErrDuplicateOrderNumber
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *pgTx) CreateOrderItems(ctx context.Context, orderID int64, items []model.OrderItem) error {
	for i := range items {
		items[i].OrderID = orderID
		err := t.tx.QueryRow(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, product_price, quantity)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			orderID, items[i].ProductID, items[i].ProductName, items[i].ProductPrice, items[i].Quantity,
		).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`,
		productID, quantity,
	)
	if err != nil {
		if isCheckViolation(err) {
			return ErrStockConflict
		}
		return fmt.Errorf("decrement stock: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStockConflict
	}
	return nil
}

func (t *pgTx) RestoreStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET stock = stock + $2 WHERE id = $1`, productID, quantity)
	if err != nil {
		return false, fmt.Errorf("restore stock: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (t *pgTx) ClearCart(ctx context.Context, userID int64) error {
	if err := clearCart(ctx, t.tx, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID int64) (*model.Order, error) {
	return getOrder(ctx, t.tx, orderID, true)
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	ct, err := t.tx.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, orderID, string(status))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteOrder(ctx context.Context, orderID int64) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
