package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Address      string
	IsAdmin      bool
	CreatedAt    time.Time
}

type Product struct {
	ID            int64
	Name          string
	Description   string
	Price         decimal.Decimal
	Category      string
	Stock         int
	ImageFilename string
	CreatedAt     time.Time
}

func (p Product) InStock() bool { return p.Stock > 0 }

type CartItem struct {
	ID        int64
	UserID    int64
	ProductID int64
	Quantity  int
	AddedAt   time.Time
}

// CartLine is a cart item joined with the current state of its product.
type CartLine struct {
	Item    CartItem
	Product Product
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.Product.Price.Mul(decimal.NewFromInt(int64(l.Item.Quantity)))
}

type Order struct {
	ID              int64
	UserID          int64
	OrderNumber     string
	Status          OrderStatus
	TotalAmount     decimal.Decimal
	ShippingAddress string
	BillingAddress  string
	PaymentMethod   string
	PaymentStatus   PaymentStatus
	Notes           string
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Filled by admin listings only.
	Username string
	Email    string
}

// OrderItem freezes the product name and price at order time.
type OrderItem struct {
	ID           int64
	OrderID      int64
	ProductID    int64
	ProductName  string
	ProductPrice decimal.Decimal
	Quantity     int
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.ProductPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderEvent is published after an order transaction commits.
type OrderEvent struct {
	ID          uuid.UUID      `json:"id"`
	Type        OrderEventType `json:"type"`
	OrderID     int64          `json:"order_id"`
	OrderNumber string         `json:"order_number"`
	UserID      int64          `json:"user_id"`
	ProductIDs  []int64        `json:"product_ids"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

type OrderEventType string

const (
	OrderEventPlaced    OrderEventType = "order.placed"
	OrderEventCancelled OrderEventType = "order.cancelled"
	OrderEventDeleted   OrderEventType = "order.deleted"

	// Emitted when an admin moves a cancelled order back to an active status
	// and its items are taken out of stock again.
	OrderEventReactivated OrderEventType = "order.reactivated"
)

func NewOrderEvent(typ OrderEventType, order *Order) OrderEvent {
	ids := make([]int64, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.ProductID)
	}
	return OrderEvent{
		ID:          uuid.New(),
		Type:        typ,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		ProductIDs:  ids,
		OccurredAt:  time.Now().UTC(),
	}
}
