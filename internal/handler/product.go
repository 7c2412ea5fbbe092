package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/go-storefront/internal/dto"
	"github.com/flicky/go-storefront/internal/model"
	"github.com/flicky/go-storefront/internal/service"
)

// Catalog is the read side of the product service.
type Catalog interface {
	List(ctx context.Context, filter model.ProductFilter) ([]model.Product, error)
	Get(ctx context.Context, id int64) (*model.Product, error)
	Related(ctx context.Context, product *model.Product) ([]model.Product, error)
	Categories(ctx context.Context) ([]model.CategoryCount, error)
	Home(ctx context.Context) (*service.HomePage, error)
}

type ProductHandler struct {
	catalog Catalog
	render  *Renderer
}

func NewProductHandler(catalog Catalog, render *Renderer) *ProductHandler {
	return &ProductHandler{catalog: catalog, render: render}
}

func (h *ProductHandler) Home(c *gin.Context) {
	home, err := h.catalog.Home(c.Request.Context())
	if err != nil {
		h.render.ServerError(c, "home page", err)
		return
	}
	h.render.Page(c, http.StatusOK, "index.html", "", gin.H{"Home": home})
}

func (h *ProductHandler) Catalog(c *gin.Context) {
	var q dto.CatalogQuery
	_ = c.ShouldBindQuery(&q)

	ctx := c.Request.Context()
	products, err := h.catalog.List(ctx, service.ParseProductFilter(q))
	if err != nil {
		h.render.ServerError(c, "list products", err)
		return
	}
	categories, err := h.catalog.Categories(ctx)
	if err != nil {
		h.render.ServerError(c, "list categories", err)
		return
	}
	h.render.Page(c, http.StatusOK, "catalog.html", "Catalog", gin.H{
		"Products":   products,
		"Categories": categories,
		"Query":      q,
	})
}

func (h *ProductHandler) Detail(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		h.render.NotFound(c)
		return
	}
	product, err := h.catalog.Get(c.Request.Context(), id)
	if errors.Is(err, service.ErrProductNotFound) {
		h.render.NotFound(c)
		return
	}
	if err != nil {
		h.render.ServerError(c, "get product", err)
		return
	}
	related, err := h.catalog.Related(c.Request.Context(), product)
	if err != nil {
		h.render.ServerError(c, "related products", err)
		return
	}
	h.render.Page(c, http.StatusOK, "product_detail.html", product.Name, gin.H{
		"Product": product,
		"Related": related,
	})
}

func (h *ProductHandler) About(c *gin.Context) {
	h.render.Page(c, http.StatusOK, "about.html", "About us", nil)
}

// --- JSON API ---

func (h *ProductHandler) APIList(c *gin.Context) {
	var q dto.CatalogQuery
	_ = c.ShouldBindQuery(&q)

	products, err := h.catalog.List(c.Request.Context(), service.ParseProductFilter(q))
	if err != nil {
		h.render.ServerError(c, "api list products", err)
		return
	}
	resp := make([]dto.ProductResponse, 0, len(products))
	for i := range products {
		resp = append(resp, toProductResponse(&products[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ProductHandler) APIGet(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product ID"})
		return
	}
	product, err := h.catalog.Get(c.Request.Context(), id)
	if errors.Is(err, service.ErrProductNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
		return
	}
	if err != nil {
		h.render.ServerError(c, "api get product", err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func toProductResponse(p *model.Product) dto.ProductResponse {
	return dto.ProductResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Category:    p.Category,
		Stock:       p.Stock,
		ImageURL:    imageURL(p.ImageFilename),
		CreatedAt:   formatDate(p.CreatedAt),
	}
}
