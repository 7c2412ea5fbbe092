package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/go-storefront/internal/dto"
	"github.com/flicky/go-storefront/internal/middleware"
	"github.com/flicky/go-storefront/internal/service"
)

type Carts interface {
	AddOrIncrement(ctx context.Context, userID, productID int64) (*service.AddResult, error)
	UpdateQuantity(ctx context.Context, userID, itemID int64, action string) error
	Clear(ctx context.Context, userID int64) error
	View(ctx context.Context, userID int64) (*service.CartView, error)
	Count(ctx context.Context, userID int64) (int, error)
}

type CartHandler struct {
	carts  Carts
	render *Renderer
}

func NewCartHandler(carts Carts, render *Renderer) *CartHandler {
	return &CartHandler{carts: carts, render: render}
}

func (h *CartHandler) View(c *gin.Context) {
	user := middleware.CurrentUser(c)
	cart, err := h.carts.View(c.Request.Context(), user.ID)
	if err != nil {
		h.render.ServerError(c, "view cart", err)
		return
	}
	h.render.Page(c, http.StatusOK, "cart.html", "Cart", gin.H{"Cart": cart})
}

// Add puts one unit in the cart. AJAX callers get the outcome as JSON;
// everybody else is sent back with a flash message.
func (h *CartHandler) Add(c *gin.Context) {
	ajax := middleware.WantsJSON(c)
	productID, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return
	}

	user := middleware.CurrentUser(c)
	res, err := h.carts.AddOrIncrement(c.Request.Context(), user.ID, productID)
	switch {
	case errors.Is(err, service.ErrProductNotFound):
		if ajax {
			c.JSON(http.StatusNotFound, dto.AddToCartResponse{Message: "Product not found"})
			return
		}
		h.render.NotFound(c)
		return
	case errors.Is(err, service.ErrOutOfStock), errors.Is(err, service.ErrStockLimitReached):
		// res describes the refusal.
	case err != nil:
		h.render.log.Error("add to cart", "user_id", user.ID, "product_id", productID, "error", err)
		const message = "Could not add the product to the cart"
		if ajax {
			c.JSON(http.StatusOK, dto.AddToCartResponse{Message: message})
			return
		}
		middleware.SetFlash(c, middleware.FlashDanger, message)
		back(c, "/catalog")
		return
	}

	if ajax {
		c.JSON(http.StatusOK, dto.AddToCartResponse{
			Success:     res.Added,
			Message:     res.Message,
			CartCount:   res.CartCount,
			ProductName: res.ProductName,
		})
		return
	}
	category := middleware.FlashSuccess
	if !res.Added {
		category = middleware.FlashWarning
	}
	middleware.SetFlash(c, category, res.Message)
	back(c, "/catalog")
}

func (h *CartHandler) Update(c *gin.Context) {
	itemID, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return
	}
	var req dto.UpdateCartRequest
	if err := c.ShouldBind(&req); err != nil {
		middleware.SetFlash(c, middleware.FlashDanger, "Unknown cart action.")
		redirect(c, "/cart")
		return
	}

	user := middleware.CurrentUser(c)
	err := h.carts.UpdateQuantity(c.Request.Context(), user.ID, itemID, req.Action)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrForbidden):
		middleware.SetFlash(c, middleware.FlashDanger, "Access denied.")
	case errors.Is(err, service.ErrCartItemNotFound):
		middleware.SetFlash(c, middleware.FlashWarning, "This item is no longer in your cart.")
	case errors.Is(err, service.ErrStockLimitReached):
		middleware.SetFlash(c, middleware.FlashWarning, "No more units of this product are in stock.")
	case errors.Is(err, service.ErrInvalidCartAction):
		middleware.SetFlash(c, middleware.FlashDanger, "Unknown cart action.")
	default:
		h.render.log.Error("update cart", "user_id", user.ID, "item_id", itemID, "error", err)
		middleware.SetFlash(c, middleware.FlashDanger, "Could not update the cart.")
	}
	redirect(c, "/cart")
}

func (h *CartHandler) Clear(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if err := h.carts.Clear(c.Request.Context(), user.ID); err != nil {
		h.render.ServerError(c, "clear cart", err)
		return
	}
	middleware.SetFlash(c, middleware.FlashInfo, "Your cart has been cleared.")
	redirect(c, "/cart")
}
