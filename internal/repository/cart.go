package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/go-storefront/internal/model"
)

type CartRepository interface {
	GetItem(ctx context.Context, itemID int64) (*model.CartItem, error)
	FindItem(ctx context.Context, userID, productID int64) (*model.CartItem, error)
	AddItem(ctx context.Context, item *model.CartItem) error
	UpdateQuantity(ctx context.Context, itemID int64, quantity int) error
	DeleteItem(ctx context.Context, itemID int64) error
	ClearCart(ctx context.Context, userID int64) error
	Lines(ctx context.Context, userID int64) ([]model.CartLine, error)
	CountItems(ctx context.Context, userID int64) (int, error)
}

type pgCartRepo struct{ pool *pgxpool.Pool }

func NewCartRepository(pool *pgxpool.Pool) CartRepository {
	return &pgCartRepo{pool: pool}
}

func scanCartItem(row pgx.Row) (*model.CartItem, error) {
	item := &model.CartItem{}
	if err := row.Scan(&item.ID, &item.UserID, &item.ProductID, &item.Quantity, &item.AddedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

func (r *pgCartRepo) GetItem(ctx context.Context, itemID int64) (*model.CartItem, error) {
	item, err := scanCartItem(r.pool.QueryRow(ctx,
		`SELECT id, user_id, product_id, quantity, added_at FROM cart_items WHERE id = $1`, itemID))
	if err != nil {
		return nil, fmt.Errorf("get cart item: %w", err)
	}
	return item, nil
}

func (r *pgCartRepo) FindItem(ctx context.Context, userID, productID int64) (*model.CartItem, error) {
	item, err := scanCartItem(r.pool.QueryRow(ctx,
		`SELECT id, user_id, product_id, quantity, added_at FROM cart_items WHERE user_id = $1 AND product_id = $2`,
		userID, productID))
	if err != nil {
		return nil, fmt.Errorf("find cart item: %w", err)
	}
	return item, nil
}

func (r *pgCartRepo) AddItem(ctx context.Context, item *model.CartItem) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO cart_items (user_id, product_id, quantity, added_at)
		 VALUES ($1, $2, $3, NOW()) RETURNING id, added_at`,
		item.UserID, item.ProductID, item.Quantity,
	).Scan(&item.ID, &item.AddedAt)
	if err != nil {
		return fmt.Errorf("add cart item: %w", err)
	}
	return nil
}

func (r *pgCartRepo) UpdateQuantity(ctx context.Context, itemID int64, quantity int) error {
	ct, err := r.pool.Exec(ctx, `UPDATE cart_items SET quantity = $2 WHERE id = $1`, itemID, quantity)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgCartRepo) DeleteItem(ctx context.Context, itemID int64) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgCartRepo) ClearCart(ctx context.Context, userID int64) error {
	if err := clearCart(ctx, r.pool, userID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func clearCart(ctx context.Context, db DBTX, userID int64) error {
	_, err := db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	return err
}

const cartLinesQuery = `SELECT ci.id, ci.user_id, ci.product_id, ci.quantity, ci.added_at,
		p.id, p.name, p.description, p.price, p.category, p.stock, p.image_filename, p.created_at
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id
	WHERE ci.user_id = $1`

func (r *pgCartRepo) Lines(ctx context.Context, userID int64) ([]model.CartLine, error) {
	lines, err := queryCartLines(ctx, r.pool, cartLinesQuery+` ORDER BY ci.added_at, ci.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("cart lines: %w", err)
	}
	return lines, nil
}

func queryCartLines(ctx context.Context, db DBTX, query string, userID int64) ([]model.CartLine, error) {
	rows, err := db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []model.CartLine
	for rows.Next() {
		var l model.CartLine
		if err := rows.Scan(
			&l.Item.ID, &l.Item.UserID, &l.Item.ProductID, &l.Item.Quantity, &l.Item.AddedAt,
			&l.Product.ID, &l.Product.Name, &l.Product.Description, &l.Product.Price,
			&l.Product.Category, &l.Product.Stock, &l.Product.ImageFilename, &l.Product.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *pgCartRepo) CountItems(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM cart_items WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count cart items: %w", err)
	}
	return n, nil
}
