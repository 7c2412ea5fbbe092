package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/flicky/go-storefront/internal/dto"
	"github.com/flicky/go-storefront/internal/model"
	"github.com/flicky/go-storefront/internal/repository"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidPrice    = errors.New("price must be a non-negative number")
)

const (
	productCacheTTL  = 60 * time.Second
	homeSectionSize  = 8
	categoryPreview  = 4
	relatedProducts  = 4
	productKeyPrefix = "product:"
)

// ImageStorage persists uploaded product images and returns the stored
// file name.
type ImageStorage interface {
	Save(file *multipart.FileHeader) (string, error)
	Remove(name string) error
}

type CategorySection struct {
	Name     string
	Products []model.Product
}

type HomePage struct {
	Newest     []model.Product
	Featured   []model.Product
	Categories []CategorySection
}

type ProductService struct {
	productRepo repository.ProductRepository
	redisClient *redis.Client
	images      ImageStorage
	log         *slog.Logger
}

func NewProductService(productRepo repository.ProductRepository, redisClient *redis.Client, images ImageStorage, log *slog.Logger) *ProductService {
	return &ProductService{productRepo: productRepo, redisClient: redisClient, images: images, log: log}
}

// ParseProductFilter converts raw query parameters to a filter. Prices that
// do not parse are dropped.
func ParseProductFilter(q dto.CatalogQuery) model.ProductFilter {
	f := model.ProductFilter{
		Category: strings.TrimSpace(q.Category),
		Search:   strings.TrimSpace(q.Search),
		Sort:     model.ProductSort(q.Sort),
	}
	if v, err := decimal.NewFromString(strings.TrimSpace(q.MinPrice)); err == nil {
		f.MinPrice = &v
	}
	if v, err := decimal.NewFromString(strings.TrimSpace(q.MaxPrice)); err == nil {
		f.MaxPrice = &v
	}
	return f
}

func (s *ProductService) List(ctx context.Context, filter model.ProductFilter) ([]model.Product, error) {
	products, err := s.productRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// Get reads through the Redis cache when one is configured.
func (s *ProductService) Get(ctx context.Context, id int64) (*model.Product, error) {
	key := productCacheKey(id)

	if s.redisClient != nil {
		if cached, err := s.redisClient.Get(ctx, key).Bytes(); err == nil {
			var p model.Product
			if json.Unmarshal(cached, &p) == nil {
				return &p, nil
			}
		}
	}

	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	if s.redisClient != nil {
		if data, err := json.Marshal(product); err == nil {
			s.redisClient.Set(ctx, key, data, productCacheTTL)
		}
	}
	return product, nil
}

// Load reads the product from the database, bypassing the cache. Admin
// edit forms use it so they never start from a stale stock figure.
func (s *ProductService) Load(ctx context.Context, id int64) (*model.Product, error) {
	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}
	return product, nil
}

func (s *ProductService) Related(ctx context.Context, product *model.Product) ([]model.Product, error) {
	if product.Category == "" {
		return nil, nil
	}
	return s.productRepo.ByCategory(ctx, product.Category, product.ID, relatedProducts)
}

func (s *ProductService) Categories(ctx context.Context) ([]model.CategoryCount, error) {
	return s.productRepo.Categories(ctx)
}

func (s *ProductService) Home(ctx context.Context) (*HomePage, error) {
	newest, err := s.productRepo.Newest(ctx, homeSectionSize)
	if err != nil {
		return nil, fmt.Errorf("newest products: %w", err)
	}
	featured, err := s.productRepo.Random(ctx, homeSectionSize)
	if err != nil {
		return nil, fmt.Errorf("featured products: %w", err)
	}
	categories, err := s.productRepo.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}

	page := &HomePage{Newest: newest, Featured: featured}
	for _, c := range categories {
		products, err := s.productRepo.ByCategory(ctx, c.Name, 0, categoryPreview)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", c.Name, err)
		}
		page.Categories = append(page.Categories, CategorySection{Name: c.Name, Products: products})
	}
	return page, nil
}

// Create stores a new product. image may be nil.
func (s *ProductService) Create(ctx context.Context, form dto.ProductForm, image *multipart.FileHeader) (*model.Product, error) {
	price, err := parsePrice(form.Price)
	if err != nil {
		return nil, err
	}
	product := &model.Product{
		Name:        strings.TrimSpace(form.Name),
		Description: strings.TrimSpace(form.Description),
		Price:       price,
		Category:    strings.TrimSpace(form.Category),
		Stock:       form.Stock,
	}
	if image != nil {
		name, err := s.images.Save(image)
		if err != nil {
			return nil, err
		}
		product.ImageFilename = name
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		s.removeImage(product.ImageFilename)
		return nil, fmt.Errorf("create product: %w", err)
	}
	s.log.Info("product created", "product_id", product.ID, "name", product.Name)
	return product, nil
}

// Update replaces the editable fields. A new image replaces and removes the
// previous file.
func (s *ProductService) Update(ctx context.Context, id int64, form dto.ProductForm, image *multipart.FileHeader) (*model.Product, error) {
	price, err := parsePrice(form.Price)
	if err != nil {
		return nil, err
	}
	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	product.Name = strings.TrimSpace(form.Name)
	product.Description = strings.TrimSpace(form.Description)
	product.Price = price
	product.Category = strings.TrimSpace(form.Category)
	product.Stock = form.Stock

	oldImage := product.ImageFilename
	if image != nil {
		name, err := s.images.Save(image)
		if err != nil {
			return nil, err
		}
		product.ImageFilename = name
	}

	if err := s.productRepo.Update(ctx, product); err != nil {
		if image != nil {
			s.removeImage(product.ImageFilename)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}
	if image != nil {
		s.removeImage(oldImage)
	}

	s.InvalidateCache(ctx, id)
	s.log.Info("product updated", "product_id", id)
	return product, nil
}

// Delete removes the product, the cart lines holding it and its image.
// Order items keep their frozen copy.
func (s *ProductService) Delete(ctx context.Context, id int64) error {
	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return ErrProductNotFound
	}
	if err := s.productRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrProductNotFound
		}
		return fmt.Errorf("delete product: %w", err)
	}
	s.removeImage(product.ImageFilename)
	s.InvalidateCache(ctx, id)
	s.log.Info("product deleted", "product_id", id)
	return nil
}

// InvalidateCache drops cached copies of the given products.
func (s *ProductService) InvalidateCache(ctx context.Context, ids ...int64) {
	if s.redisClient == nil || len(ids) == 0 {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productCacheKey(id))
	}
	if err := s.redisClient.Del(ctx, keys...).Err(); err != nil {
		s.log.Warn("invalidate product cache", "ids", ids, "error", err)
	}
}

func (s *ProductService) Count(ctx context.Context) (int, error) {
	return s.productRepo.Count(ctx)
}

func (s *ProductService) removeImage(name string) {
	if name == "" || s.images == nil {
		return
	}
	if err := s.images.Remove(name); err != nil {
		s.log.Warn("remove product image", "file", name, "error", err)
	}
}

func parsePrice(raw string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(strings.ReplaceAll(raw, ",", ".")))
	if err != nil || price.IsNegative() {
		return decimal.Zero, ErrInvalidPrice
	}
	return price.Round(2), nil
}

func productCacheKey(id int64) string {
	return productKeyPrefix + strconv.FormatInt(id, 10)
}
