package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flicky/go-storefront/internal/model"
	"github.com/flicky/go-storefront/internal/repository"
)

var (
	ErrSelfModification = errors.New("you cannot change your own account here")
	ErrUserNotFound     = errors.New("user not found")
	ErrUserHasOrders    = errors.New("user still has orders")
)

const recentOrdersLimit = 5

type DashboardStats struct {
	Users         int
	Products      int
	Orders        int
	PendingOrders int
	RecentOrders  []model.Order
}

type OrderStats struct {
	Total      int
	Pending    int
	Processing int
	Delivered  int
}

// AdminService backs the back-office pages that are not order transitions.
type AdminService struct {
	userRepo    repository.UserRepository
	productRepo repository.ProductRepository
	orderRepo   repository.OrderRepository
	log         *slog.Logger
}

func NewAdminService(
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
	orderRepo repository.OrderRepository,
	log *slog.Logger,
) *AdminService {
	return &AdminService{userRepo: userRepo, productRepo: productRepo, orderRepo: orderRepo, log: log}
}

func (s *AdminService) Dashboard(ctx context.Context) (*DashboardStats, error) {
	var (
		stats DashboardStats
		err   error
	)
	if stats.Users, err = s.userRepo.Count(ctx); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if stats.Products, err = s.productRepo.Count(ctx); err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}
	if stats.Orders, err = s.orderRepo.CountByStatus(ctx, ""); err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	if stats.PendingOrders, err = s.orderRepo.CountByStatus(ctx, model.OrderStatusPending); err != nil {
		return nil, fmt.Errorf("count pending orders: %w", err)
	}
	if stats.RecentOrders, err = s.orderRepo.Recent(ctx, recentOrdersLimit); err != nil {
		return nil, fmt.Errorf("recent orders: %w", err)
	}
	return &stats, nil
}

func (s *AdminService) Users(ctx context.Context) ([]model.User, error) {
	return s.userRepo.List(ctx)
}

// ToggleAdmin flips the admin flag of another user and returns the new state.
func (s *AdminService) ToggleAdmin(ctx context.Context, actor *model.User, userID int64) (*model.User, error) {
	if actor.ID == userID {
		return nil, ErrSelfModification
	}
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if err := s.userRepo.SetAdmin(ctx, userID, !user.IsAdmin); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("set admin: %w", err)
	}
	user.IsAdmin = !user.IsAdmin
	s.log.Info("admin flag changed", "user_id", userID, "is_admin", user.IsAdmin, "actor_id", actor.ID)
	return user, nil
}

// DeleteUser removes another user together with their cart.
func (s *AdminService) DeleteUser(ctx context.Context, actor *model.User, userID int64) error {
	if actor.ID == userID {
		return ErrSelfModification
	}
	err := s.userRepo.Delete(ctx, userID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, repository.ErrUserHasOrders):
		return ErrUserHasOrders
	case err != nil:
		return fmt.Errorf("delete user: %w", err)
	}
	s.log.Info("user deleted", "user_id", userID, "actor_id", actor.ID)
	return nil
}

// Orders lists orders for the admin table. status "all" or "" means any.
func (s *AdminService) Orders(ctx context.Context, status, search string) ([]model.Order, error) {
	filter := model.OrderFilter{Search: strings.TrimSpace(search)}
	if status != "" && status != "all" {
		filter.Status = model.OrderStatus(status)
		if !filter.Status.Valid() {
			return nil, ErrInvalidStatus
		}
	}
	orders, err := s.orderRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (s *AdminService) OrderStats(ctx context.Context) (*OrderStats, error) {
	var (
		stats OrderStats
		err   error
	)
	counts := []struct {
		dst    *int
		status model.OrderStatus
	}{
		{&stats.Total, ""},
		{&stats.Pending, model.OrderStatusPending},
		{&stats.Processing, model.OrderStatusProcessing},
		{&stats.Delivered, model.OrderStatusDelivered},
	}
	for _, c := range counts {
		if *c.dst, err = s.orderRepo.CountByStatus(ctx, c.status); err != nil {
			return nil, fmt.Errorf("count orders %q: %w", c.status, err)
		}
	}
	return &stats, nil
}

// Order loads any order for the admin detail page.
func (s *AdminService) Order(ctx context.Context, orderID int64) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}
