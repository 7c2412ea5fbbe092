package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/go-storefront/internal/dto"
	"github.com/flicky/go-storefront/internal/logger"
	"github.com/flicky/go-storefront/internal/middleware"
	"github.com/flicky/go-storefront/internal/model"
	"github.com/flicky/go-storefront/internal/service"
	"github.com/flicky/go-storefront/web"
)

func init() { gin.SetMode(gin.TestMode) }

var (
	alice = &model.User{ID: 1, Username: "alice", Address: "1 Main St"}
	admin = &model.User{ID: 2, Username: "root", IsAdmin: true}
)

type tokens map[string]*model.User

func (t tokens) Identify(_ context.Context, token string) (*model.User, error) {
	if u, ok := t[token]; ok {
		return u, nil
	}
	return nil, service.ErrInvalidToken
}

// Stubs embed the interface they stand in for; calling a method a test
// did not provide panics.
type stubCarts struct {
	Carts
	add    func(userID, productID int64) (*service.AddResult, error)
	update func(userID, itemID int64, action string) error
	view   *service.CartView
	count  int
}

func (s *stubCarts) AddOrIncrement(_ context.Context, userID, productID int64) (*service.AddResult, error) {
	return s.add(userID, productID)
}

func (s *stubCarts) UpdateQuantity(_ context.Context, userID, itemID int64, action string) error {
	return s.update(userID, itemID, action)
}

func (s *stubCarts) View(context.Context, int64) (*service.CartView, error) {
	if s.view == nil {
		return &service.CartView{Total: decimal.Zero}, nil
	}
	return s.view, nil
}

func (s *stubCarts) Count(context.Context, int64) (int, error) { return s.count, nil }

type stubOrders struct {
	Orders
	place        func(user *model.User, req dto.CheckoutRequest) (*model.Order, error)
	updateStatus func(orderID int64, status string) (*model.Order, error)
}

func (s *stubOrders) PlaceOrder(_ context.Context, user *model.User, req dto.CheckoutRequest) (*model.Order, error) {
	return s.place(user, req)
}

func (s *stubOrders) UpdateStatus(_ context.Context, _ *model.User, orderID int64, status string) (*model.Order, error) {
	return s.updateStatus(orderID, status)
}

type stubCatalog struct {
	Catalog
	products []model.Product
	filter   model.ProductFilter
}

func (s *stubCatalog) List(_ context.Context, f model.ProductFilter) ([]model.Product, error) {
	s.filter = f
	return s.products, nil
}

func (s *stubCatalog) Get(_ context.Context, id int64) (*model.Product, error) {
	for i := range s.products {
		if s.products[i].ID == id {
			return &s.products[i], nil
		}
	}
	return nil, service.ErrProductNotFound
}

func (s *stubCatalog) Categories(context.Context) ([]model.CategoryCount, error) {
	return []model.CategoryCount{{Name: "Audio", Count: len(s.products)}}, nil
}

type testApp struct {
	router  *gin.Engine
	carts   *stubCarts
	orders  *stubOrders
	catalog *stubCatalog
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	tmpl, err := LoadTemplates(web.FS, "templates/*.html")
	require.NoError(t, err)

	app := &testApp{
		router:  gin.New(),
		carts:   &stubCarts{},
		orders:  &stubOrders{},
		catalog: &stubCatalog{},
	}
	log := logger.Discard()
	render := NewRenderer(app.carts, log)

	r := app.router
	r.SetHTMLTemplate(tmpl)
	r.Use(middleware.Authenticate(tokens{"alice": alice, "admin": admin}, "session", log))

	products := NewProductHandler(app.catalog, render)
	cart := NewCartHandler(app.carts, render)
	orders := NewOrderHandler(app.orders, app.carts, render)
	adminH := NewAdminHandler(nil, nil, app.orders, render)

	r.GET("/catalog", products.Catalog)
	r.GET("/api/products", products.APIList)
	r.GET("/api/products/:id", products.APIGet)

	authed := r.Group("", middleware.RequireLogin())
	authed.GET("/cart", cart.View)
	authed.POST("/cart/add/:id", cart.Add)
	authed.POST("/cart/update/:id", cart.Update)
	authed.GET("/checkout", orders.CheckoutPage)
	authed.POST("/checkout", orders.Checkout)

	adminGroup := r.Group("/admin", middleware.RequireAdmin())
	adminGroup.POST("/order/:id/status", adminH.UpdateOrderStatus)

	r.NoRoute(render.NotFound)
	return app
}

func (a *testApp) do(method, target, token string, form url.Values, headers map[string]string) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "session", Value: token})
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func flashes(t *testing.T, w *httptest.ResponseRecorder) []middleware.Flash {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name != "flash" || c.Value == "" {
			continue
		}
		data, err := base64.RawURLEncoding.DecodeString(c.Value)
		require.NoError(t, err)
		var out []middleware.Flash
		require.NoError(t, json.Unmarshal(data, &out))
		return out
	}
	return nil
}

var ajax = map[string]string{"X-Requested-With": "XMLHttpRequest"}

func TestFormatPrice(t *testing.T) {
	tests := map[string]string{
		"0":          "0,00",
		"5.5":        "5,50",
		"999.99":     "999,99",
		"1000":       "1 000,00",
		"1234.56":    "1 234,56",
		"1234567.8":  "1 234 567,80",
		"-12345.678": "-12 345,68",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatPrice(decimal.RequireFromString(in)), in)
	}
}

func TestCartAdd_AJAX(t *testing.T) {
	app := newTestApp(t)
	app.carts.add = func(userID, productID int64) (*service.AddResult, error) {
		assert.Equal(t, alice.ID, userID)
		assert.Equal(t, int64(7), productID)
		return &service.AddResult{Added: true, Message: "Speaker added to cart", CartCount: 3, ProductName: "Speaker"}, nil
	}

	w := app.do(http.MethodPost, "/cart/add/7", "alice", nil, ajax)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"Speaker added to cart","cart_count":3,"product_name":"Speaker"}`, w.Body.String())
}

func TestCartAdd_AJAXStockLimit(t *testing.T) {
	app := newTestApp(t)
	app.carts.add = func(int64, int64) (*service.AddResult, error) {
		return &service.AddResult{Message: "Only 2 of Speaker available", CartCount: 2, ProductName: "Speaker"},
			service.ErrStockLimitReached
	}

	w := app.do(http.MethodPost, "/cart/add/7", "alice", nil, ajax)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":false,"message":"Only 2 of Speaker available","cart_count":2,"product_name":"Speaker"}`, w.Body.String())
}

func TestCartAdd_AnonymousAJAXGets401(t *testing.T) {
	app := newTestApp(t)
	w := app.do(http.MethodPost, "/cart/add/7", "", nil, ajax)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCartAdd_FormRedirectsBack(t *testing.T) {
	app := newTestApp(t)
	app.carts.add = func(int64, int64) (*service.AddResult, error) {
		return &service.AddResult{Message: "Speaker is out of stock", ProductName: "Speaker"}, service.ErrOutOfStock
	}

	w := app.do(http.MethodPost, "/cart/add/7", "alice", nil, map[string]string{
		"Referer": "http://example.com/catalog?category=Audio",
	})

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/catalog?category=Audio", w.Header().Get("Location"))
	assert.Equal(t, []middleware.Flash{{Category: middleware.FlashWarning, Message: "Speaker is out of stock"}}, flashes(t, w))
}

func TestCartAdd_ForeignRefererFallsBack(t *testing.T) {
	app := newTestApp(t)
	app.carts.add = func(int64, int64) (*service.AddResult, error) {
		return &service.AddResult{Added: true, Message: "ok"}, nil
	}

	w := app.do(http.MethodPost, "/cart/add/7", "alice", nil, map[string]string{"Referer": "http://evil.test/phish"})

	assert.Equal(t, "/catalog", w.Header().Get("Location"))
}

func TestCartUpdate_Forbidden(t *testing.T) {
	app := newTestApp(t)
	app.carts.update = func(int64, int64, string) error { return service.ErrForbidden }

	w := app.do(http.MethodPost, "/cart/update/9", "alice", url.Values{"action": {"remove"}}, nil)

	assert.Equal(t, "/cart", w.Header().Get("Location"))
	assert.Equal(t, middleware.FlashDanger, flashes(t, w)[0].Category)
}

func TestCartPage_Renders(t *testing.T) {
	app := newTestApp(t)
	line := model.CartLine{
		Item:    model.CartItem{ID: 5, Quantity: 2},
		Product: model.Product{ID: 7, Name: "Speaker", Price: decimal.RequireFromString("1500"), Stock: 10},
	}
	app.carts.view = &service.CartView{Lines: []model.CartLine{line}, Total: line.Subtotal()}
	app.carts.count = 2

	w := app.do(http.MethodGet, "/cart", "alice", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Speaker")
	assert.Contains(t, w.Body.String(), "3 000,00")
	assert.Contains(t, w.Body.String(), `id="cart-count" class="badge">2<`)
}

func TestCheckoutPage_EmptyCartRedirects(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/checkout", "alice", nil, nil)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/cart", w.Header().Get("Location"))
}

func TestCheckoutPage_ShortStockRedirects(t *testing.T) {
	app := newTestApp(t)
	app.carts.view = &service.CartView{Lines: []model.CartLine{{
		Item:    model.CartItem{ID: 5, Quantity: 5},
		Product: model.Product{ID: 7, Name: "Speaker", Price: decimal.NewFromInt(100), Stock: 3},
	}}}

	w := app.do(http.MethodGet, "/checkout", "alice", nil, nil)

	assert.Equal(t, "/cart", w.Header().Get("Location"))
	assert.Contains(t, flashes(t, w)[0].Message, "Speaker")
}

func TestCheckoutPage_PrefillsAddress(t *testing.T) {
	app := newTestApp(t)
	app.carts.view = &service.CartView{Lines: []model.CartLine{{
		Item:    model.CartItem{ID: 5, Quantity: 1},
		Product: model.Product{ID: 7, Name: "Speaker", Price: decimal.NewFromInt(100), Stock: 3},
	}}, Total: decimal.NewFromInt(100)}

	w := app.do(http.MethodGet, "/checkout", "alice", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "1 Main St")
}

func TestCheckout_Success(t *testing.T) {
	app := newTestApp(t)
	app.orders.place = func(user *model.User, req dto.CheckoutRequest) (*model.Order, error) {
		assert.Equal(t, alice.ID, user.ID)
		assert.Equal(t, "2 Side St", req.ShippingAddress)
		assert.Equal(t, "cash", req.PaymentMethod)
		return &model.Order{ID: 42, OrderNumber: "ORD-20260101-0001-0001-ABCDEF"}, nil
	}

	w := app.do(http.MethodPost, "/checkout", "alice", url.Values{
		"shipping_address": {"2 Side St"},
		"payment_method":   {"cash"},
	}, nil)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/order/confirmation/42", w.Header().Get("Location"))
	assert.Contains(t, flashes(t, w)[0].Message, "ORD-20260101-0001-0001-ABCDEF")
}

func TestCheckout_Failures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		location string
		message  string
	}{
		{"missing address", service.ErrMissingAddress, "/checkout", "shipping address"},
		{"empty cart", service.ErrEmptyCart, "/cart", "empty"},
		{"short stock", &service.InsufficientStockError{Products: []string{"Chair", "Desk"}}, "/cart", "Chair, Desk"},
		{"internal", fmtErr(), "/checkout", "Please try again"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(t)
			app.orders.place = func(*model.User, dto.CheckoutRequest) (*model.Order, error) { return nil, tt.err }

			w := app.do(http.MethodPost, "/checkout", "alice", url.Values{"shipping_address": {"x"}}, nil)

			assert.Equal(t, tt.location, w.Header().Get("Location"))
			got := flashes(t, w)
			require.Len(t, got, 1)
			assert.Contains(t, got[0].Message, tt.message)
			assert.NotContains(t, got[0].Message, "connection reset")
		})
	}
}

func fmtErr() error {
	return errors.Join(service.ErrCheckoutFailed, errors.New("connection reset"))
}

func TestCatalogPage_FiltersAndRenders(t *testing.T) {
	app := newTestApp(t)
	app.catalog.products = []model.Product{
		{ID: 1, Name: "Speaker", Category: "Audio", Price: decimal.RequireFromString("100"), Stock: 4},
		{ID: 2, Name: "Headphones", Category: "Audio", Price: decimal.RequireFromString("59.90")},
	}

	w := app.do(http.MethodGet, "/catalog?search=spe&min_price=abc&max_price=200&sort=price_desc", "", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Speaker")
	assert.Contains(t, body, "Out of stock")
	assert.Equal(t, "spe", app.catalog.filter.Search)
	assert.Nil(t, app.catalog.filter.MinPrice)
	require.NotNil(t, app.catalog.filter.MaxPrice)
	assert.Equal(t, model.SortPriceDesc, app.catalog.filter.Sort)
}

func TestAPIProducts(t *testing.T) {
	app := newTestApp(t)
	app.catalog.products = []model.Product{{
		ID:            1,
		Name:          "Speaker",
		Price:         decimal.RequireFromString("100.5"),
		Stock:         4,
		ImageFilename: "20260101_120000_speaker.png",
		CreatedAt:     time.Date(2026, 3, 7, 9, 5, 0, 0, time.UTC),
	}}

	w := app.do(http.MethodGet, "/api/products/1", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "07.03.2026 09:05", got["created_at"])
	assert.Equal(t, "/uploads/20260101_120000_speaker.png", got["image_url"])
	assert.Equal(t, "Speaker", got["name"])

	w = app.do(http.MethodGet, "/api/products", "", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []dto.ProductResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = app.do(http.MethodGet, "/api/products/99", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"product not found"}`, w.Body.String())
}

func TestAdminUpdateStatus(t *testing.T) {
	app := newTestApp(t)
	app.orders.updateStatus = func(orderID int64, status string) (*model.Order, error) {
		if status != "cancelled" {
			return nil, service.ErrInvalidStatus
		}
		return &model.Order{ID: orderID, OrderNumber: "ORD-1", Status: model.OrderStatusCancelled}, nil
	}

	w := app.do(http.MethodPost, "/admin/order/3/status", "admin", url.Values{"status": {"lost"}}, nil)
	assert.Equal(t, "/admin/order/3", w.Header().Get("Location"))
	assert.Equal(t, "Invalid order status.", flashes(t, w)[0].Message)

	w = app.do(http.MethodPost, "/admin/order/3/status", "admin", url.Values{"status": {"cancelled"}}, nil)
	assert.Equal(t, `Order #ORD-1 status updated to "Cancelled".`, flashes(t, w)[0].Message)
}

func TestAdminRoutes_RejectCustomers(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodPost, "/admin/order/3/status", "alice", url.Values{"status": {"cancelled"}}, nil)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
	assert.Equal(t, middleware.FlashDanger, flashes(t, w)[0].Category)
}

func TestNoRoute_Renders404(t *testing.T) {
	app := newTestApp(t)

	w := app.do(http.MethodGet, "/nowhere", "", nil, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Page not found")
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestReadyz(t *testing.T) {
	r := gin.New()
	r.GET("/ok", NewHealthHandler(pinger{}, nil, nil).Readyz)
	r.GET("/down", NewHealthHandler(pinger{err: errors.New("refused")}, nil, nil).Readyz)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","postgres":"connected"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/down", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
