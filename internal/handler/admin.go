package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flicky/go-storefront/internal/dto"
	"github.com/flicky/go-storefront/internal/middleware"
	"github.com/flicky/go-storefront/internal/model"
	"github.com/flicky/go-storefront/internal/service"
	"github.com/flicky/go-storefront/internal/storage"
)

type BackOffice interface {
	Dashboard(ctx context.Context) (*service.DashboardStats, error)
	Users(ctx context.Context) ([]model.User, error)
	ToggleAdmin(ctx context.Context, actor *model.User, userID int64) (*model.User, error)
	DeleteUser(ctx context.Context, actor *model.User, userID int64) error
	Orders(ctx context.Context, status, search string) ([]model.Order, error)
	OrderStats(ctx context.Context) (*service.OrderStats, error)
	Order(ctx context.Context, orderID int64) (*model.Order, error)
}

// ProductEditor is the write side of the product service.
type ProductEditor interface {
	List(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	Load(ctx context.Context, id int64) (*model.Product, error)
	Create(ctx context.Context, form dto.ProductForm, image *multipart.FileHeader) (*model.Product, error)
	Update(ctx context.Context, id int64, form dto.ProductForm, image *multipart.FileHeader) (*model.Product, error)
	Delete(ctx context.Context, id int64) error
	ExportProducts(ctx context.Context, w io.Writer) error
}

// AdminHandler serves the back office. Every route sits behind
// middleware.RequireAdmin.
type AdminHandler struct {
	office   BackOffice
	products ProductEditor
	orders   Orders
	render   *Renderer
}

func NewAdminHandler(office BackOffice, products ProductEditor, orders Orders, render *Renderer) *AdminHandler {
	return &AdminHandler{office: office, products: products, orders: orders, render: render}
}

func (h *AdminHandler) Dashboard(c *gin.Context) {
	stats, err := h.office.Dashboard(c.Request.Context())
	if err != nil {
		h.render.ServerError(c, "admin dashboard", err)
		return
	}
	h.render.Page(c, http.StatusOK, "admin_dashboard.html", "Dashboard", gin.H{"Stats": stats})
}

// --- Users ---

func (h *AdminHandler) Users(c *gin.Context) {
	users, err := h.office.Users(c.Request.Context())
	if err != nil {
		h.render.ServerError(c, "admin users", err)
		return
	}
	h.render.Page(c, http.StatusOK, "admin_users.html", "Users", gin.H{"Users": users})
}

func (h *AdminHandler) ToggleAdmin(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return
	}
	user, err := h.office.ToggleAdmin(c.Request.Context(), middleware.CurrentUser(c), id)
	switch {
	case errors.Is(err, service.ErrSelfModification):
		middleware.SetFlash(c, middleware.FlashDanger, "You cannot change your own administrator status.")
	case errors.Is(err, service.ErrUserNotFound):
		middleware.SetFlash(c, middleware.FlashWarning, "User not found.")
	case err != nil:
		h.render.ServerError(c, "toggle admin", err)
		return
	case user.IsAdmin:
		middleware.SetFlash(c, middleware.FlashSuccess, user.Username+" is now an administrator.")
	default:
		middleware.SetFlash(c, middleware.FlashSuccess, user.Username+" is now a regular user.")
	}
	redirect(c, "/admin/users")
}

func (h *AdminHandler) DeleteUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return
	}
	err := h.office.DeleteUser(c.Request.Context(), middleware.CurrentUser(c), id)
	switch {
	case errors.Is(err, service.ErrSelfModification):
		middleware.SetFlash(c, middleware.FlashDanger, "You cannot delete your own account.")
	case errors.Is(err, service.ErrUserNotFound):
		middleware.SetFlash(c, middleware.FlashWarning, "User not found.")
	case errors.Is(err, service.ErrUserHasOrders):
		middleware.SetFlash(c, middleware.FlashWarning, "This user has orders and cannot be deleted.")
	case err != nil:
		h.render.ServerError(c, "delete user", err)
		return
	default:
		middleware.SetFlash(c, middleware.FlashSuccess, "User deleted.")
	}
	redirect(c, "/admin/users")
}

// --- Products ---

func (h *AdminHandler) Products(c *gin.Context) {
	products, err := h.products.List(c.Request.Context(), model.ProductFilter{Sort: model.SortNewest})
	if err != nil {
		h.render.ServerError(c, "admin products", err)
		return
	}
	h.render.Page(c, http.StatusOK, "admin_products.html", "Products", gin.H{"Products": products})
}

func (h *AdminHandler) NewProduct(c *gin.Context) {
	h.render.Page(c, http.StatusOK, "admin_product_form.html", "Add product", gin.H{"Form": dto.ProductForm{}})
}

func (h *AdminHandler) CreateProduct(c *gin.Context) {
	var form dto.ProductForm
	if err := c.ShouldBind(&form); err != nil {
		h.productFormError(c, nil, form, "Name and price are required and stock cannot be negative.")
		return
	}
	image, ok := h.uploadedImage(c, nil, form)
	if !ok {
		return
	}

	product, err := h.products.Create(c.Request.Context(), form, image)
	if err != nil {
		h.productSaveError(c, nil, form, err)
		return
	}
	middleware.SetFlash(c, middleware.FlashSuccess, "Product \""+product.Name+"\" has been added.")
	redirect(c, "/admin/products")
}

func (h *AdminHandler) EditProduct(c *gin.Context) {
	product, ok := h.loadProduct(c)
	if !ok {
		return
	}
	h.render.Page(c, http.StatusOK, "admin_product_form.html", "Edit product", gin.H{
		"Product": product,
		"Form": dto.ProductForm{
			Name:        product.Name,
			Description: product.Description,
			Price:       product.Price.StringFixed(2),
			Category:    product.Category,
			Stock:       product.Stock,
		},
	})
}

func (h *AdminHandler) UpdateProduct(c *gin.Context) {
	product, ok := h.loadProduct(c)
	if !ok {
		return
	}
	var form dto.ProductForm
	if err := c.ShouldBind(&form); err != nil {
		h.productFormError(c, product, form, "Name and price are required and stock cannot be negative.")
		return
	}
	image, ok := h.uploadedImage(c, product, form)
	if !ok {
		return
	}

	updated, err := h.products.Update(c.Request.Context(), product.ID, form, image)
	if err != nil {
		h.productSaveError(c, product, form, err)
		return
	}
	middleware.SetFlash(c, middleware.FlashSuccess, "Product \""+updated.Name+"\" has been updated.")
	redirect(c, "/admin/products")
}

func (h *AdminHandler) DeleteProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return
	}
	err := h.products.Delete(c.Request.Context(), id)
	switch {
	case errors.Is(err, service.ErrProductNotFound):
		middleware.SetFlash(c, middleware.FlashWarning, "Product not found.")
	case err != nil:
		h.render.ServerError(c, "delete product", err)
		return
	default:
		middleware.SetFlash(c, middleware.FlashSuccess, "Product deleted.")
	}
	redirect(c, "/admin/products")
}

func (h *AdminHandler) ExportProducts(c *gin.Context) {
	name := fmt.Sprintf("products_%s.xlsx", time.Now().Format("20060102_150405"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := h.products.ExportProducts(c.Request.Context(), c.Writer); err != nil {
		// Headers may be out already; all that is left is to log.
		h.render.log.Error("export products", "error", err)
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
	}
}

func (h *AdminHandler) loadProduct(c *gin.Context) (*model.Product, bool) {
	id, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return nil, false
	}
	product, err := h.products.Load(c.Request.Context(), id)
	if errors.Is(err, service.ErrProductNotFound) {
		h.render.NotFound(c)
		return nil, false
	}
	if err != nil {
		h.render.ServerError(c, "load product", err)
		return nil, false
	}
	return product, true
}

// uploadedImage returns the optional "image" file. A malformed upload
// re-renders the form.
func (h *AdminHandler) uploadedImage(c *gin.Context, product *model.Product, form dto.ProductForm) (*multipart.FileHeader, bool) {
	file, err := c.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return nil, true
	case err != nil:
		h.productFormError(c, product, form, "The image could not be uploaded.")
		return nil, false
	case file.Filename == "":
		return nil, true
	}
	return file, true
}

func (h *AdminHandler) productSaveError(c *gin.Context, product *model.Product, form dto.ProductForm, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidPrice):
		h.productFormError(c, product, form, "Price must be a non-negative number.")
	case errors.Is(err, storage.ErrInvalidImageType):
		h.productFormError(c, product, form, "Only png, jpg, jpeg and gif images are allowed.")
	case errors.Is(err, storage.ErrImageTooLarge):
		h.productFormError(c, product, form, "The image is too large.")
	case errors.Is(err, service.ErrProductNotFound):
		h.render.NotFound(c)
	default:
		h.render.ServerError(c, "save product", err)
	}
}

func (h *AdminHandler) productFormError(c *gin.Context, product *model.Product, form dto.ProductForm, message string) {
	data := gin.H{
		"Form":    form,
		"Flashes": inline(middleware.FlashDanger, message),
	}
	title := "Add product"
	if product != nil {
		data["Product"] = product
		title = "Edit product"
	}
	h.render.Page(c, http.StatusBadRequest, "admin_product_form.html", title, data)
}

// --- Orders ---

func (h *AdminHandler) Orders(c *gin.Context) {
	var q dto.AdminOrderQuery
	_ = c.ShouldBindQuery(&q)
	if q.Status == "" {
		q.Status = "all"
	}

	ctx := c.Request.Context()
	orders, err := h.office.Orders(ctx, q.Status, q.Search)
	if errors.Is(err, service.ErrInvalidStatus) {
		middleware.SetFlash(c, middleware.FlashDanger, "Unknown order status.")
		redirect(c, "/admin/orders")
		return
	}
	if err != nil {
		h.render.ServerError(c, "admin orders", err)
		return
	}
	stats, err := h.office.OrderStats(ctx)
	if err != nil {
		h.render.ServerError(c, "admin order stats", err)
		return
	}
	h.render.Page(c, http.StatusOK, "admin_orders.html", "Orders", gin.H{
		"Orders":   orders,
		"Stats":    stats,
		"Query":    q,
		"Statuses": model.OrderStatuses,
	})
}

func (h *AdminHandler) OrderDetail(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return
	}
	order, err := h.office.Order(c.Request.Context(), id)
	if errors.Is(err, service.ErrOrderNotFound) {
		h.render.NotFound(c)
		return
	}
	if err != nil {
		h.render.ServerError(c, "admin order", err)
		return
	}
	h.render.Page(c, http.StatusOK, "admin_order_detail.html", "Order #"+order.OrderNumber, gin.H{
		"Order":           order,
		"Statuses":        model.OrderStatuses,
		"PaymentStatuses": model.PaymentStatuses,
	})
}

func (h *AdminHandler) UpdateOrderStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return
	}
	var req dto.UpdateOrderStatusRequest
	_ = c.ShouldBind(&req)

	order, err := h.orders.UpdateStatus(c.Request.Context(), middleware.CurrentUser(c), id, req.Status)
	var stockErr *service.InsufficientStockError
	switch {
	case errors.Is(err, service.ErrInvalidStatus):
		middleware.SetFlash(c, middleware.FlashDanger, "Invalid order status.")
	case errors.Is(err, service.ErrOrderNotFound):
		h.render.NotFound(c)
		return
	case errors.As(err, &stockErr):
		middleware.SetFlash(c, middleware.FlashDanger, stockMessage(stockErr.Products))
	case err != nil:
		_ = c.Error(err)
		middleware.SetFlash(c, middleware.FlashDanger, "Could not update the order status.")
	default:
		middleware.SetFlash(c, middleware.FlashSuccess,
			fmt.Sprintf("Order #%s status updated to %q.", order.OrderNumber, statusLabel(order.Status)))
	}
	redirect(c, "/admin/order/"+strconv.FormatInt(id, 10))
}

func (h *AdminHandler) UpdatePaymentStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return
	}
	var req dto.UpdatePaymentStatusRequest
	_ = c.ShouldBind(&req)

	err := h.orders.UpdatePaymentStatus(c.Request.Context(), id, req.PaymentStatus)
	switch {
	case errors.Is(err, service.ErrInvalidPaymentStatus):
		middleware.SetFlash(c, middleware.FlashDanger, "Invalid payment status.")
	case errors.Is(err, service.ErrOrderNotFound):
		h.render.NotFound(c)
		return
	case err != nil:
		h.render.ServerError(c, "update payment status", err)
		return
	default:
		middleware.SetFlash(c, middleware.FlashSuccess, "Payment status updated.")
	}
	redirect(c, "/admin/order/"+strconv.FormatInt(id, 10))
}

func (h *AdminHandler) DeleteOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return
	}
	err := h.orders.Delete(c.Request.Context(), middleware.CurrentUser(c), id)
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		middleware.SetFlash(c, middleware.FlashWarning, "Order not found.")
	case err != nil:
		_ = c.Error(err)
		middleware.SetFlash(c, middleware.FlashDanger, "Could not delete the order.")
	default:
		middleware.SetFlash(c, middleware.FlashSuccess, "Order deleted.")
	}
	redirect(c, "/admin/orders")
}
