package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/flicky/go-storefront/internal/model"
	"github.com/flicky/go-storefront/internal/repository"
)

var (
	ErrOutOfStock        = errors.New("product is out of stock")
	ErrStockLimitReached = errors.New("not enough stock for another unit")
	ErrCartItemNotFound  = errors.New("cart item not found")
	ErrInvalidCartAction = errors.New("invalid cart action")
)

const (
	CartIncrement = "increment"
	CartDecrement = "decrement"
	CartRemove    = "remove"
)

// AddResult describes an add-to-cart attempt, successful or not.
type AddResult struct {
	Added       bool
	Message     string
	CartCount   int
	ProductName string
}

// CartView is the cart joined with current product data.
type CartView struct {
	Lines []model.CartLine
	Total decimal.Decimal
}

func (v CartView) Empty() bool { return len(v.Lines) == 0 }

// Unavailable names the products whose stock no longer covers the quantity
// in the cart.
func (v CartView) Unavailable() []string {
	var names []string
	for _, l := range v.Lines {
		if l.Item.Quantity > l.Product.Stock {
			names = append(names, l.Product.Name)
		}
	}
	return names
}

type CartService struct {
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
}

func NewCartService(cartRepo repository.CartRepository, productRepo repository.ProductRepository) *CartService {
	return &CartService{cartRepo: cartRepo, productRepo: productRepo}
}

// AddOrIncrement puts one unit of the product in the user's cart. Stock
// refusals come back as ErrOutOfStock or ErrStockLimitReached together with
// a populated result.
func (s *CartService) AddOrIncrement(ctx context.Context, userID, productID int64) (*AddResult, error) {
	product, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	item, err := s.cartRepo.FindItem(ctx, userID, productID)
	if err != nil {
		return nil, fmt.Errorf("find cart item: %w", err)
	}

	var refusal error
	switch {
	case item == nil && !product.InStock():
		refusal = ErrOutOfStock
	case item == nil:
		err = s.cartRepo.AddItem(ctx, &model.CartItem{UserID: userID, ProductID: productID, Quantity: 1})
	case item.Quantity+1 > product.Stock:
		refusal = ErrStockLimitReached
	default:
		err = s.cartRepo.UpdateQuantity(ctx, item.ID, item.Quantity+1)
	}
	if err != nil {
		return nil, fmt.Errorf("add to cart: %w", err)
	}

	count, err := s.cartRepo.CountItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count cart: %w", err)
	}

	res := &AddResult{Added: refusal == nil, CartCount: count, ProductName: product.Name}
	switch refusal {
	case ErrOutOfStock:
		res.Message = product.Name + " is out of stock"
	case ErrStockLimitReached:
		res.Message = fmt.Sprintf("Only %d of %s available", product.Stock, product.Name)
	default:
		res.Message = product.Name + " added to cart"
	}
	return res, refusal
}

// UpdateQuantity applies a cart edit action to one of the user's lines.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, itemID int64, action string) error {
	item, err := s.cartRepo.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("get cart item: %w", err)
	}
	if item == nil {
		return ErrCartItemNotFound
	}
	if item.UserID != userID {
		return ErrForbidden
	}

	switch action {
	case CartIncrement:
		product, err := s.productRepo.GetByID(ctx, item.ProductID)
		if err != nil {
			return fmt.Errorf("get product: %w", err)
		}
		if product == nil || item.Quantity+1 > product.Stock {
			return ErrStockLimitReached
		}
		err = s.cartRepo.UpdateQuantity(ctx, item.ID, item.Quantity+1)
		return s.cartError(err)
	case CartDecrement:
		if item.Quantity <= 1 {
			return s.cartError(s.cartRepo.DeleteItem(ctx, item.ID))
		}
		return s.cartError(s.cartRepo.UpdateQuantity(ctx, item.ID, item.Quantity-1))
	case CartRemove:
		return s.cartError(s.cartRepo.DeleteItem(ctx, item.ID))
	default:
		return ErrInvalidCartAction
	}
}

func (s *CartService) cartError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrCartItemNotFound
	}
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}
	return nil
}

func (s *CartService) Clear(ctx context.Context, userID int64) error {
	return s.cartRepo.ClearCart(ctx, userID)
}

func (s *CartService) View(ctx context.Context, userID int64) (*CartView, error) {
	lines, err := s.cartRepo.Lines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart lines: %w", err)
	}
	view := &CartView{Lines: lines, Total: decimal.Zero}
	for _, l := range lines {
		view.Total = view.Total.Add(l.Subtotal())
	}
	return view, nil
}

func (s *CartService) Count(ctx context.Context, userID int64) (int, error) {
	return s.cartRepo.CountItems(ctx, userID)
}
