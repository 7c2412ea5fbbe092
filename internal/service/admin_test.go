package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/go-storefront/internal/model"
)

func TestAdminService_Dashboard(t *testing.T) {
	env := newTestEnv(t)
	_, _, order := placeSpeakerOrder(t, env)
	env.adminUser(t)

	stats, err := env.admin.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 1, stats.Products)
	assert.Equal(t, 1, stats.Orders)
	assert.Equal(t, 1, stats.PendingOrders)
	require.Len(t, stats.RecentOrders, 1)
	assert.Equal(t, order.ID, stats.RecentOrders[0].ID)
}

func TestAdminService_ToggleAdmin(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminUser(t)
	bob := env.user(t, "bob")
	ctx := context.Background()

	_, err := env.admin.ToggleAdmin(ctx, admin, admin.ID)
	assert.ErrorIs(t, err, ErrSelfModification)

	u, err := env.admin.ToggleAdmin(ctx, admin, bob.ID)
	require.NoError(t, err)
	assert.True(t, u.IsAdmin)

	u, err = env.admin.ToggleAdmin(ctx, admin, bob.ID)
	require.NoError(t, err)
	assert.False(t, u.IsAdmin)

	_, err = env.admin.ToggleAdmin(ctx, admin, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAdminService_DeleteUser(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminUser(t)
	bob := env.user(t, "bob")
	p := env.product(t, "Mug", "5.00", 3)
	env.putInCart(t, bob.ID, p.ID, 1)
	ctx := context.Background()

	assert.ErrorIs(t, env.admin.DeleteUser(ctx, admin, admin.ID), ErrSelfModification)
	require.NoError(t, env.admin.DeleteUser(ctx, admin, bob.ID))
	assert.Zero(t, env.store.cartSize(bob.ID))
	assert.ErrorIs(t, env.admin.DeleteUser(ctx, admin, bob.ID), ErrUserNotFound)

	alice, _, _ := placeSpeakerOrder(t, env)
	assert.ErrorIs(t, env.admin.DeleteUser(ctx, admin, alice.ID), ErrUserHasOrders)
}

func TestAdminService_OrdersAndStats(t *testing.T) {
	env := newTestEnv(t)
	_, _, order := placeSpeakerOrder(t, env)
	admin := env.adminUser(t)
	ctx := context.Background()

	bob := env.user(t, "bob")
	cable := env.product(t, "Cable", "3.00", 5)
	env.putInCart(t, bob.ID, cable.ID, 1)
	second, err := env.orders.PlaceOrder(ctx, bob, checkout("Harbour Road 9"))
	require.NoError(t, err)
	_, err = env.orders.UpdateStatus(ctx, admin, second.ID, "delivered")
	require.NoError(t, err)

	all, err := env.admin.Orders(ctx, "all", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := env.admin.Orders(ctx, "pending", "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, order.ID, pending[0].ID)

	byAddress, err := env.admin.Orders(ctx, "", "harbour")
	require.NoError(t, err)
	require.Len(t, byAddress, 1)
	assert.Equal(t, second.ID, byAddress[0].ID)

	byEmail, err := env.admin.Orders(ctx, "", "ALICE@")
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, order.ID, byEmail[0].ID)

	_, err = env.admin.Orders(ctx, "lost", "")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	stats, err := env.admin.OrderStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, OrderStats{Total: 2, Pending: 1, Processing: 0, Delivered: 1}, *stats)

	detail, err := env.admin.Order(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusDelivered, detail.Status)
	_, err = env.admin.Order(ctx, 999)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
