package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/flicky/go-storefront/internal/dto"
	"github.com/flicky/go-storefront/internal/model"
	"github.com/flicky/go-storefront/internal/repository"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrMissingAddress       = errors.New("shipping address is required")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrCheckoutFailed       = errors.New("checkout failed")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrInvalidPaymentStatus = errors.New("invalid payment status")
	ErrOrderNotCancellable  = errors.New("order can no longer be cancelled")
)

const (
	maxOrderNumberAttempts = 3
	defaultPaymentMethod   = "card"
)

// InsufficientStockError names every product whose stock cannot cover the
// requested quantity.
type InsufficientStockError struct {
	Products []string
}

func (e *InsufficientStockError) Error() string {
	return "insufficient stock: " + strings.Join(e.Products, ", ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type OrderService struct {
	transactor repository.Transactor
	orderRepo  repository.OrderRepository
	numbers    *OrderNumberGenerator
	events     EventPublisher
	log        *slog.Logger
}

func NewOrderService(
	transactor repository.Transactor,
	orderRepo repository.OrderRepository,
	events EventPublisher,
	log *slog.Logger,
) *OrderService {
	if events == nil {
		events = nopPublisher{}
	}
	return &OrderService{
		transactor: transactor,
		orderRepo:  orderRepo,
		numbers:    NewOrderNumberGenerator(),
		events:     events,
		log:        log,
	}
}

// PlaceOrder turns the user's cart into an order. Stock validation, order
// and item inserts, stock decrements and cart removal share one transaction.
func (s *OrderService) PlaceOrder(ctx context.Context, user *model.User, req dto.CheckoutRequest) (*model.Order, error) {
	shipping := strings.TrimSpace(req.ShippingAddress)
	if shipping == "" {
		return nil, ErrMissingAddress
	}
	billing := strings.TrimSpace(req.BillingAddress)
	if billing == "" {
		billing = shipping
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = defaultPaymentMethod
	}

	var (
		order *model.Order
		err   error
	)
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		order = &model.Order{
			UserID:          user.ID,
			OrderNumber:     s.numbers.Next(user.ID),
			Status:          model.OrderStatusPending,
			PaymentStatus:   model.PaymentStatusPending,
			ShippingAddress: shipping,
			BillingAddress:  billing,
			PaymentMethod:   method,
			Notes:           strings.TrimSpace(req.Notes),
		}
		err = s.transactor.WithinTx(ctx, func(tx repository.Tx) error {
			return placeOrder(ctx, tx, order)
		})
		if !errors.Is(err, repository.ErrDuplicateOrderNumber) {
			break
		}
		s.log.Warn("order number collision, retrying", "order_number", order.OrderNumber, "attempt", attempt)
	}

	if err != nil {
		if errors.Is(err, ErrEmptyCart) || errors.Is(err, ErrInsufficientStock) {
			return nil, err
		}
		s.log.Error("place order", "user_id", user.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
	}

	s.log.Info("order placed", "order_id", order.ID, "order_number", order.OrderNumber,
		"user_id", user.ID, "total", order.TotalAmount.StringFixed(2))
	s.publish(ctx, model.OrderEventPlaced, order)
	return order, nil
}

func placeOrder(ctx context.Context, tx repository.Tx, order *model.Order) error {
	lines, err := tx.LockCartLines(ctx, order.UserID)
	if err != nil {
		return err
	}
	if len(lines) == 0 {
		return ErrEmptyCart
	}
	if err := checkStock(lines); err != nil {
		return err
	}

	items := make([]model.OrderItem, 0, len(lines))
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
		items = append(items, model.OrderItem{
			ProductID:    l.Product.ID,
			ProductName:  l.Product.Name,
			ProductPrice: l.Product.Price,
			Quantity:     l.Item.Quantity,
		})
	}
	order.TotalAmount = total

	if err := tx.CreateOrder(ctx, order); err != nil {
		return err
	}
	if err := tx.CreateOrderItems(ctx, order.ID, items); err != nil {
		return err
	}
	for _, item := range items {
		if err := tx.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			if errors.Is(err, repository.ErrStockConflict) {
				return &InsufficientStockError{Products: []string{item.ProductName}}
			}
			return err
		}
	}
	order.Items = items
	return tx.ClearCart(ctx, order.UserID)
}

func checkStock(lines []model.CartLine) error {
	var short []string
	for _, l := range lines {
		if l.Item.Quantity > l.Product.Stock {
			short = append(short, l.Product.Name)
		}
	}
	if len(short) > 0 {
		return &InsufficientStockError{Products: short}
	}
	return nil
}

func (s *OrderService) GetForUser(ctx context.Context, actor *model.User, orderID int64) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if err := authorizeOrder(actor, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderService) ListByUserID(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.orderRepo.ListByUserID(ctx, userID)
}

// Cancel moves the order to cancelled on behalf of its owner or an admin.
// Owners may only cancel orders that have not shipped yet.
func (s *OrderService) Cancel(ctx context.Context, actor *model.User, orderID int64) (*model.Order, error) {
	return s.changeStatus(ctx, actor, orderID, model.OrderStatusCancelled)
}

// UpdateStatus is the admin status transition. Any valid status may follow
// any other; stock follows whether the order holds its items.
func (s *OrderService) UpdateStatus(ctx context.Context, actor *model.User, orderID int64, status string) (*model.Order, error) {
	next := model.OrderStatus(status)
	if !next.Valid() {
		return nil, ErrInvalidStatus
	}
	if !actor.IsAdmin {
		return nil, ErrForbidden
	}
	return s.changeStatus(ctx, actor, orderID, next)
}

func (s *OrderService) changeStatus(ctx context.Context, actor *model.User, orderID int64, next model.OrderStatus) (*model.Order, error) {
	var (
		order    *model.Order
		previous model.OrderStatus
	)
	err := s.transactor.WithinTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return ErrOrderNotFound
		}
		if err := authorizeOrder(actor, o); err != nil {
			return err
		}
		if !actor.IsAdmin && !o.Status.CustomerCancellable() {
			return ErrOrderNotCancellable
		}

		// The effect on stock depends on the status before this change.
		previous = o.Status
		switch {
		case previous.Holds() && !next.Holds():
			if err := s.restoreStock(ctx, tx, o); err != nil {
				return err
			}
		case !previous.Holds() && next.Holds():
			if err := reserveStock(ctx, tx, o); err != nil {
				return err
			}
		}

		if err := tx.UpdateOrderStatus(ctx, o.ID, next); err != nil {
			return err
		}
		o.Status = next
		order = o
		return nil
	})
	if err != nil {
		return nil, s.orderError("change order status", orderID, err)
	}

	s.log.Info("order status changed", "order_id", order.ID, "from", previous, "to", next, "actor_id", actor.ID)
	switch {
	case previous.Holds() && !next.Holds():
		s.publish(ctx, model.OrderEventCancelled, order)
	case !previous.Holds() && next.Holds():
		s.publish(ctx, model.OrderEventReactivated, order)
	}
	return order, nil
}

// Delete removes the order permanently, first returning its items to stock
// unless it was already cancelled.
func (s *OrderService) Delete(ctx context.Context, actor *model.User, orderID int64) error {
	var order *model.Order
	err := s.transactor.WithinTx(ctx, func(tx repository.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o == nil {
			return ErrOrderNotFound
		}
		if err := authorizeOrder(actor, o); err != nil {
			return err
		}
		if o.Status.Holds() {
			if err := s.restoreStock(ctx, tx, o); err != nil {
				return err
			}
		}
		order = o
		return tx.DeleteOrder(ctx, o.ID)
	})
	if err != nil {
		return s.orderError("delete order", orderID, err)
	}

	s.log.Info("order deleted", "order_id", order.ID, "order_number", order.OrderNumber, "actor_id", actor.ID)
	s.publish(ctx, model.OrderEventDeleted, order)
	return nil
}

func (s *OrderService) UpdatePaymentStatus(ctx context.Context, orderID int64, status string) error {
	next := model.PaymentStatus(status)
	if !next.Valid() {
		return ErrInvalidPaymentStatus
	}
	if err := s.orderRepo.UpdatePaymentStatus(ctx, orderID, next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

// restoreStock returns every item to stock. Products deleted since the order
// was placed are skipped.
func (s *OrderService) restoreStock(ctx context.Context, tx repository.Tx, order *model.Order) error {
	for _, item := range order.Items {
		ok, err := tx.RestoreStock(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Warn("skip stock restore for missing product", "order_id", order.ID, "product_id", item.ProductID)
		}
	}
	return nil
}

func reserveStock(ctx context.Context, tx repository.Tx, order *model.Order) error {
	var short []string
	for _, item := range order.Items {
		err := tx.DecrementStock(ctx, item.ProductID, item.Quantity)
		if errors.Is(err, repository.ErrStockConflict) {
			short = append(short, item.ProductName)
			continue
		}
		if err != nil {
			return err
		}
	}
	if len(short) > 0 {
		return &InsufficientStockError{Products: short}
	}
	return nil
}

func (s *OrderService) orderError(op string, orderID int64, err error) error {
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrOrderNotCancellable), errors.Is(err, ErrInsufficientStock):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return ErrOrderNotFound
	}
	s.log.Error(op, "order_id", orderID, "error", err)
	return fmt.Errorf("%s: %w", op, err)
}

func (s *OrderService) publish(ctx context.Context, typ model.OrderEventType, order *model.Order) {
	event := model.NewOrderEvent(typ, order)
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Error("publish order event", "type", typ, "order_id", order.ID, "error", err)
	}
}

func authorizeOrder(actor *model.User, order *model.Order) error {
	if actor == nil || (!actor.IsAdmin && actor.ID != order.UserID) {
		return ErrForbidden
	}
	return nil
}
