package dto

import (
	"github.com/shopspring/decimal"
)

// APIDateFormat renders timestamps as DD.MM.YYYY HH:MM.
const APIDateFormat = "02.01.2006 15:04"

// --- Auth ---

type RegisterRequest struct {
	Username string `form:"username" binding:"required,min=3,max=80"`
	Email    string `form:"email" binding:"required,email,max=120"`
	Password string `form:"password" binding:"required,min=6"`
	Address  string `form:"address"`
}

type LoginRequest struct {
	Username string `form:"username" binding:"required"`
	Password string `form:"password" binding:"required"`
}

// --- Catalog ---

// CatalogQuery keeps prices as raw strings: malformed values are ignored
// rather than rejected.
type CatalogQuery struct {
	Category string `form:"category"`
	Search   string `form:"search"`
	Sort     string `form:"sort"`
	MinPrice string `form:"min_price"`
	MaxPrice string `form:"max_price"`
}

// ProductForm is the admin create/edit form. The image arrives as a
// separate multipart file.
type ProductForm struct {
	Name        string `form:"name" binding:"required,max=200"`
	Description string `form:"description"`
	Price       string `form:"price" binding:"required"`
	Category    string `form:"category" binding:"max=100"`
	Stock       int    `form:"stock" binding:"min=0"`
}

// --- Cart ---

type UpdateCartRequest struct {
	Action string `form:"action" binding:"required,oneof=increment decrement remove"`
}

type AddToCartResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	CartCount   int    `json:"cart_count"`
	ProductName string `json:"product_name,omitempty"`
}

// --- Order ---

type CheckoutRequest struct {
	ShippingAddress string `form:"shipping_address"`
	BillingAddress  string `form:"billing_address"`
	PaymentMethod   string `form:"payment_method"`
	Notes           string `form:"notes"`
}

type UpdateOrderStatusRequest struct {
	Status string `form:"status" binding:"required"`
}

type UpdatePaymentStatusRequest struct {
	PaymentStatus string `form:"payment_status" binding:"required"`
}

type AdminOrderQuery struct {
	Status string `form:"status"`
	Search string `form:"search"`
}

// --- JSON API ---

type ProductResponse struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"image_url,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

type OrderResponse struct {
	ID            int64           `json:"id"`
	OrderNumber   string          `json:"order_number"`
	Status        string          `json:"status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentStatus string          `json:"payment_status"`
	CreatedAt     string          `json:"created_at"`
}
