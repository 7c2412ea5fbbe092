package handler

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/flicky/go-storefront/internal/dto"
	"github.com/flicky/go-storefront/internal/middleware"
	"github.com/flicky/go-storefront/internal/model"
)

const uploadsPrefix = "/uploads/"

var statusLabels = map[model.OrderStatus]string{
	model.OrderStatusPending:    "Pending",
	model.OrderStatusProcessing: "Processing",
	model.OrderStatusShipped:    "Shipped",
	model.OrderStatusDelivered:  "Delivered",
	model.OrderStatusCancelled:  "Cancelled",
}

var paymentLabels = map[model.PaymentStatus]string{
	model.PaymentStatusPending: "Awaiting payment",
	model.PaymentStatusPaid:    "Paid",
	model.PaymentStatusFailed:  "Failed",
}

// LoadTemplates parses every page matching pattern together with the
// storefront template functions.
func LoadTemplates(fsys fs.FS, pattern string) (*template.Template, error) {
	tmpl, err := template.New("").Funcs(TemplateFuncs()).ParseFS(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return tmpl, nil
}

func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"price":        FormatPrice,
		"date":         formatDate,
		"imageURL":     imageURL,
		"statusLabel":  statusLabel,
		"paymentLabel": paymentLabel,
	}
}

// FormatPrice renders an amount as "1 234,56".
func FormatPrice(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "," + frac
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dto.APIDateFormat)
}

func imageURL(name string) string {
	if name == "" {
		return ""
	}
	return uploadsPrefix + url.PathEscape(name)
}

func statusLabel(s model.OrderStatus) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func paymentLabel(s model.PaymentStatus) string {
	if l, ok := paymentLabels[s]; ok {
		return l
	}
	return string(s)
}

// CartCounter supplies the cart badge shown in the page header.
type CartCounter interface {
	Count(ctx context.Context, userID int64) (int, error)
}

// Renderer draws HTML pages with the data every layout needs: the current
// user, their cart size and pending flash messages.
type Renderer struct {
	cart CartCounter
	log  *slog.Logger
}

func NewRenderer(cart CartCounter, log *slog.Logger) *Renderer {
	return &Renderer{cart: cart, log: log}
}

// Page renders name. Messages passed under "Flashes" are shown after the
// ones queued by the previous request.
func (r *Renderer) Page(c *gin.Context, status int, name, title string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	flashes := middleware.PopFlashes(c)
	if inline, ok := data["Flashes"].([]middleware.Flash); ok {
		flashes = append(flashes, inline...)
	}
	data["Flashes"] = flashes
	data["Title"] = title

	if user := middleware.CurrentUser(c); user != nil {
		data["User"] = user
		count, err := r.cart.Count(c.Request.Context(), user.ID)
		if err != nil {
			r.log.Warn("count cart items", "user_id", user.ID, "error", err)
		}
		data["CartCount"] = count
	}
	c.HTML(status, name, data)
}

func (r *Renderer) NotFound(c *gin.Context) {
	if middleware.WantsJSON(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	r.Page(c, http.StatusNotFound, "404.html", "Page not found", nil)
}

// ServerError logs the cause and shows the generic error page. Internals
// never reach the client.
func (r *Renderer) ServerError(c *gin.Context, op string, err error) {
	r.log.Error(op, "method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
	_ = c.Error(err)
	if middleware.WantsJSON(c) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	r.Page(c, http.StatusInternalServerError, "500.html", "Error", nil)
}

// Panic is the page drawn by the recovery middleware.
func (r *Renderer) Panic(c *gin.Context) {
	r.Page(c, http.StatusInternalServerError, "500.html", "Error", nil)
}

func inline(category, message string) []middleware.Flash {
	return []middleware.Flash{{Category: category, Message: message}}
}

func redirect(c *gin.Context, location string) {
	c.Redirect(http.StatusFound, location)
}

// back redirects to the referring page when it belongs to this site.
func back(c *gin.Context, fallback string) {
	target := fallback
	if ref, err := url.Parse(c.Request.Referer()); err == nil && ref.Host == c.Request.Host && ref.Path != "" {
		target = middleware.SafeNext(ref.RequestURI(), fallback)
	}
	redirect(c, target)
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
