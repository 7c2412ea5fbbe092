package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/flicky/go-storefront/internal/dto"
	"github.com/flicky/go-storefront/internal/middleware"
	"github.com/flicky/go-storefront/internal/model"
	"github.com/flicky/go-storefront/internal/service"
)

type Orders interface {
	PlaceOrder(ctx context.Context, user *model.User, req dto.CheckoutRequest) (*model.Order, error)
	GetForUser(ctx context.Context, actor *model.User, orderID int64) (*model.Order, error)
	ListByUserID(ctx context.Context, userID int64) ([]model.Order, error)
	Cancel(ctx context.Context, actor *model.User, orderID int64) (*model.Order, error)
	UpdateStatus(ctx context.Context, actor *model.User, orderID int64, status string) (*model.Order, error)
	Delete(ctx context.Context, actor *model.User, orderID int64) error
	UpdatePaymentStatus(ctx context.Context, orderID int64, status string) error
}

type OrderHandler struct {
	orders Orders
	carts  Carts
	render *Renderer
}

func NewOrderHandler(orders Orders, carts Carts, render *Renderer) *OrderHandler {
	return &OrderHandler{orders: orders, carts: carts, render: render}
}

// CheckoutPage shows the order form. Carts that cannot be ordered as they
// stand are sent back to the cart page.
func (h *OrderHandler) CheckoutPage(c *gin.Context) {
	user := middleware.CurrentUser(c)
	cart, ok := h.orderableCart(c, user)
	if !ok {
		return
	}
	h.render.Page(c, http.StatusOK, "checkout.html", "Checkout", gin.H{
		"Cart": cart,
		"Form": dto.CheckoutRequest{ShippingAddress: user.Address, PaymentMethod: "card"},
	})
}

func (h *OrderHandler) orderableCart(c *gin.Context, user *model.User) (*service.CartView, bool) {
	cart, err := h.carts.View(c.Request.Context(), user.ID)
	if err != nil {
		h.render.ServerError(c, "view cart", err)
		return nil, false
	}
	if cart.Empty() {
		middleware.SetFlash(c, middleware.FlashWarning, "Your cart is empty.")
		redirect(c, "/cart")
		return nil, false
	}
	if short := cart.Unavailable(); len(short) > 0 {
		middleware.SetFlash(c, middleware.FlashDanger, stockMessage(short))
		redirect(c, "/cart")
		return nil, false
	}
	return cart, true
}

func (h *OrderHandler) Checkout(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var req dto.CheckoutRequest
	_ = c.ShouldBind(&req)

	order, err := h.orders.PlaceOrder(c.Request.Context(), user, req)
	if err != nil {
		var stockErr *service.InsufficientStockError
		switch {
		case errors.Is(err, service.ErrMissingAddress):
			middleware.SetFlash(c, middleware.FlashDanger, "Please provide a shipping address.")
			redirect(c, "/checkout")
		case errors.Is(err, service.ErrEmptyCart):
			middleware.SetFlash(c, middleware.FlashWarning, "Your cart is empty.")
			redirect(c, "/cart")
		case errors.As(err, &stockErr):
			middleware.SetFlash(c, middleware.FlashDanger, stockMessage(stockErr.Products))
			redirect(c, "/cart")
		default:
			// Cause already logged by the order service.
			_ = c.Error(err)
			middleware.SetFlash(c, middleware.FlashDanger, "Something went wrong while placing your order. Please try again.")
			redirect(c, "/checkout")
		}
		return
	}

	middleware.SetFlash(c, middleware.FlashSuccess, "Order #"+order.OrderNumber+" has been placed!")
	redirect(c, "/order/confirmation/"+strconv.FormatInt(order.ID, 10))
}

func stockMessage(products []string) string {
	return "The following products are not available in the requested quantity: " + strings.Join(products, ", ")
}

func (h *OrderHandler) Confirmation(c *gin.Context) {
	order, ok := h.loadOrder(c)
	if !ok {
		return
	}
	h.render.Page(c, http.StatusOK, "order_confirmation.html", "Order confirmed", gin.H{"Order": order})
}

func (h *OrderHandler) List(c *gin.Context) {
	user := middleware.CurrentUser(c)
	orders, err := h.orders.ListByUserID(c.Request.Context(), user.ID)
	if err != nil {
		h.render.ServerError(c, "list orders", err)
		return
	}
	h.render.Page(c, http.StatusOK, "orders.html", "My orders", gin.H{"Orders": orders})
}

func (h *OrderHandler) Detail(c *gin.Context) {
	order, ok := h.loadOrder(c)
	if !ok {
		return
	}
	h.render.Page(c, http.StatusOK, "order_detail.html", "Order #"+order.OrderNumber, gin.H{
		"Order":       order,
		"Cancellable": order.Status.CustomerCancellable(),
	})
}

// loadOrder fetches the :id order for the current user, answering with
// 404 or an access-denied redirect when it cannot.
func (h *OrderHandler) loadOrder(c *gin.Context) (*model.Order, bool) {
	id, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return nil, false
	}
	order, err := h.orders.GetForUser(c.Request.Context(), middleware.CurrentUser(c), id)
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		h.render.NotFound(c)
		return nil, false
	case errors.Is(err, service.ErrForbidden):
		middleware.SetFlash(c, middleware.FlashDanger, "Access denied.")
		redirect(c, "/")
		return nil, false
	case err != nil:
		h.render.ServerError(c, "get order", err)
		return nil, false
	}
	return order, true
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return
	}
	order, err := h.orders.Cancel(c.Request.Context(), middleware.CurrentUser(c), id)
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		h.render.NotFound(c)
		return
	case errors.Is(err, service.ErrForbidden):
		middleware.SetFlash(c, middleware.FlashDanger, "Access denied.")
		redirect(c, "/")
		return
	case errors.Is(err, service.ErrOrderNotCancellable):
		middleware.SetFlash(c, middleware.FlashWarning, "This order can no longer be cancelled.")
	case err != nil:
		_ = c.Error(err)
		middleware.SetFlash(c, middleware.FlashDanger, "Could not cancel the order. Please try again.")
	default:
		middleware.SetFlash(c, middleware.FlashSuccess, "Order #"+order.OrderNumber+" has been cancelled.")
	}
	redirect(c, "/order/"+strconv.FormatInt(id, 10))
}

// APIList returns the current user's orders.
func (h *OrderHandler) APIList(c *gin.Context) {
	user := middleware.CurrentUser(c)
	orders, err := h.orders.ListByUserID(c.Request.Context(), user.ID)
	if err != nil {
		h.render.ServerError(c, "api list orders", err)
		return
	}
	resp := make([]dto.OrderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func toOrderResponse(o *model.Order) dto.OrderResponse {
	return dto.OrderResponse{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        string(o.Status),
		TotalAmount:   o.TotalAmount,
		PaymentStatus: string(o.PaymentStatus),
		CreatedAt:     formatDate(o.CreatedAt),
	}
}
