package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/flicky/go-storefront/internal/dto"
	"github.com/flicky/go-storefront/internal/logger"
	"github.com/flicky/go-storefront/internal/model"
	"github.com/flicky/go-storefront/internal/repository"
)

// memStore is an in-memory database shared by the fake repositories below.
// Transactions are serialised and roll back by restoring a snapshot.
type memStore struct {
	mu   sync.Mutex
	txMu sync.Mutex

	nextID   int64
	users    map[int64]model.User
	products map[int64]model.Product
	cart     map[int64]model.CartItem
	orders   map[int64]model.Order

	// fail makes the named operation return the error once.
	fail map[string]error
	// dupOrderNumbers makes that many CreateOrder calls hit the unique
	// constraint on order_number.
	dupOrderNumbers int
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[int64]model.User),
		products: make(map[int64]model.Product),
		cart:     make(map[int64]model.CartItem),
		orders:   make(map[int64]model.Order),
		fail:     make(map[string]error),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) failure(op string) error {
	err := s.fail[op]
	delete(s.fail, op)
	return err
}

func (s *memStore) failNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

type memSnapshot struct {
	nextID   int64
	users    map[int64]model.User
	products map[int64]model.Product
	cart     map[int64]model.CartItem
	orders   map[int64]model.Order
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		nextID:   s.nextID,
		users:    make(map[int64]model.User, len(s.users)),
		products: make(map[int64]model.Product, len(s.products)),
		cart:     make(map[int64]model.CartItem, len(s.cart)),
		orders:   make(map[int64]model.Order, len(s.orders)),
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.products {
		snap.products[k] = v
	}
	for k, v := range s.cart {
		snap.cart[k] = v
	}
	for k, v := range s.orders {
		v.Items = append([]model.OrderItem(nil), v.Items...)
		snap.orders[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.users = snap.users
	s.products = snap.products
	s.cart = snap.cart
	s.orders = snap.orders
}

func (s *memStore) stock(t *testing.T, productID int64) int {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	require.True(t, ok, "product %d missing", productID)
	return p.Stock
}

func (s *memStore) cartSize(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.cart {
		if item.UserID == userID {
			n++
		}
	}
	return n
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memStore) cartLines(userID int64) []model.CartLine {
	var lines []model.CartLine
	for _, item := range s.cart {
		if item.UserID != userID {
			continue
		}
		lines = append(lines, model.CartLine{Item: item, Product: s.products[item.ProductID]})
	}
	return lines
}

func (s *memStore) orderCopy(id int64) *model.Order {
	o, ok := s.orders[id]
	if !ok {
		return nil
	}
	o.Items = append([]model.OrderItem(nil), o.Items...)
	if u, ok := s.users[o.UserID]; ok {
		o.Username, o.Email = u.Username, u.Email
	}
	return &o
}

// --- users ---

type memUsers struct{ *memStore }

func (m memUsers) Create(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username || u.Email == user.Email {
			return repository.ErrDuplicateUser
		}
	}
	user.ID = m.id()
	user.CreatedAt = time.Now()
	m.users[user.ID] = *user
	return nil
}

func (m memUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m memUsers) find(match func(model.User) bool) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			return &u
		}
	}
	return nil
}

func (m memUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return m.find(func(u model.User) bool { return u.Username == username }), nil
}

func (m memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return m.find(func(u model.User) bool { return u.Email == email }), nil
}

func (m memUsers) List(_ context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (m memUsers) SetAdmin(_ context.Context, id int64, isAdmin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsAdmin = isAdmin
	m.users[id] = u
	return nil
}

func (m memUsers) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.UserID == id {
			return repository.ErrUserHasOrders
		}
	}
	if _, ok := m.users[id]; !ok {
		return repository.ErrNotFound
	}
	for itemID, item := range m.cart {
		if item.UserID == id {
			delete(m.cart, itemID)
		}
	}
	delete(m.users, id)
	return nil
}

func (m memUsers) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

// --- products ---

type memProducts struct{ *memStore }

func (m memProducts) Create(_ context.Context, p *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().Add(time.Duration(p.ID) * time.Millisecond)
	}
	m.products[p.ID] = *p
	return nil
}

func (m memProducts) GetByID(_ context.Context, id int64) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("GetProduct"); err != nil {
		return nil, err
	}
	if p, ok := m.products[id]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m memProducts) all(match func(model.Product) bool) []model.Product {
	var out []model.Product
	for _, p := range m.products {
		if match(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m memProducts) List(_ context.Context, f model.ProductFilter) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(f.Search)
	out := m.all(func(p model.Product) bool {
		if f.Category != "" && p.Category != f.Category {
			return false
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name+"\x00"+p.Description+"\x00"+p.Category), search) {
			return false
		}
		if f.MinPrice != nil && p.Price.LessThan(*f.MinPrice) {
			return false
		}
		if f.MaxPrice != nil && p.Price.GreaterThan(*f.MaxPrice) {
			return false
		}
		return true
	})
	switch f.Sort {
	case model.SortPriceAsc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	case model.SortPriceDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	case model.SortName:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	default:
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	}
	return out, nil
}

func (m memProducts) Newest(ctx context.Context, limit int) ([]model.Product, error) {
	out, _ := m.List(ctx, model.ProductFilter{})
	return head(out, limit), nil
}

func (m memProducts) Random(_ context.Context, limit int) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return head(m.all(func(model.Product) bool { return true }), limit), nil
}

func (m memProducts) ByCategory(_ context.Context, category string, excludeID int64, limit int) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return head(m.all(func(p model.Product) bool {
		return p.Category == category && p.ID != excludeID
	}), limit), nil
}

func (m memProducts) Categories(_ context.Context) ([]model.CategoryCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, p := range m.products {
		if p.Category != "" {
			counts[p.Category]++
		}
	}
	out := make([]model.CategoryCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, model.CategoryCount{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m memProducts) Update(_ context.Context, p *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[p.ID]; !ok {
		return repository.ErrNotFound
	}
	m.products[p.ID] = *p
	return nil
}

func (m memProducts) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return repository.ErrNotFound
	}
	for itemID, item := range m.cart {
		if item.ProductID == id {
			delete(m.cart, itemID)
		}
	}
	delete(m.products, id)
	return nil
}

func (m memProducts) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.products), nil
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// --- cart ---

type memCarts struct{ *memStore }

func (m memCarts) GetItem(_ context.Context, id int64) (*model.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.cart[id]; ok {
		return &item, nil
	}
	return nil, nil
}

func (m memCarts) FindItem(_ context.Context, userID, productID int64) (*model.CartItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.cart {
		if item.UserID == userID && item.ProductID == productID {
			return &item, nil
		}
	}
	return nil, nil
}

func (m memCarts) AddItem(_ context.Context, item *model.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.cart {
		if existing.UserID == item.UserID && existing.ProductID == item.ProductID {
			return errors.New("duplicate cart line")
		}
	}
	item.ID = m.id()
	item.AddedAt = time.Now()
	m.cart[item.ID] = *item
	return nil
}

func (m memCarts) UpdateQuantity(_ context.Context, id int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.cart[id]
	if !ok {
		return repository.ErrNotFound
	}
	item.Quantity = quantity
	m.cart[id] = item
	return nil
}

func (m memCarts) DeleteItem(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cart[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.cart, id)
	return nil
}

func (m memCarts) ClearCart(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range m.cart {
		if item.UserID == userID {
			delete(m.cart, id)
		}
	}
	return nil
}

func (m memCarts) Lines(_ context.Context, userID int64) ([]model.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.cartLines(userID)
	sort.Slice(lines, func(i, j int) bool { return lines[i].Item.ID < lines[j].Item.ID })
	return lines, nil
}

func (m memCarts) CountItems(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, item := range m.cart {
		if item.UserID == userID {
			n += item.Quantity
		}
	}
	return n, nil
}

// --- orders ---

type memOrders struct{ *memStore }

func (m memOrders) GetByID(_ context.Context, id int64) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderCopy(id), nil
}

func (m memOrders) collect(match func(model.Order) bool) []model.Order {
	var out []model.Order
	for id, o := range m.orders {
		if match(o) {
			out = append(out, *m.orderCopy(id))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m memOrders) ListByUserID(_ context.Context, userID int64) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collect(func(o model.Order) bool { return o.UserID == userID }), nil
}

func (m memOrders) List(_ context.Context, f model.OrderFilter) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	search := strings.ToLower(f.Search)
	return m.collect(func(o model.Order) bool {
		if f.Status != "" && o.Status != f.Status {
			return false
		}
		if search == "" {
			return true
		}
		u := m.users[o.UserID]
		hay := strings.ToLower(strings.Join([]string{o.OrderNumber, o.ShippingAddress, u.Username, u.Email}, "\x00"))
		return strings.Contains(hay, search)
	}), nil
}

func (m memOrders) Recent(_ context.Context, limit int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return head(m.collect(func(model.Order) bool { return true }), limit), nil
}

func (m memOrders) CountByStatus(_ context.Context, status model.OrderStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			n++
		}
	}
	return n, nil
}

func (m memOrders) UpdatePaymentStatus(_ context.Context, id int64, status model.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.PaymentStatus = status
	o.UpdatedAt = time.Now()
	m.orders[id] = o
	return nil
}

// --- transactions ---

type memTransactor struct{ *memStore }

func (m memTransactor) WithinTx(_ context.Context, fn func(tx repository.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(memTx(m)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memTx struct{ *memStore }

func (t memTx) LockCartLines(_ context.Context, userID int64) ([]model.CartLine, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("LockCartLines"); err != nil {
		return nil, err
	}
	lines := t.cartLines(userID)
	sort.Slice(lines, func(i, j int) bool { return lines[i].Product.ID < lines[j].Product.ID })
	return lines, nil
}

func (t memTx) CreateOrder(_ context.Context, order *model.Order) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("CreateOrder"); err != nil {
		return err
	}
	if t.dupOrderNumbers > 0 {
		t.dupOrderNumbers--
		return repository.ErrDuplicateOrderNumber
	}
	for _, o := range t.orders {
		if o.OrderNumber == order.OrderNumber {
			return repository.ErrDuplicateOrderNumber
		}
	}
	order.ID = t.id()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	stored := *order
	stored.Items = nil
	t.orders[order.ID] = stored
	return nil
}

func (t memTx) CreateOrderItems(_ context.Context, orderID int64, items []model.OrderItem) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("CreateOrderItems"); err != nil {
		return err
	}
	o := t.orders[orderID]
	for i := range items {
		items[i].ID = t.id()
		items[i].OrderID = orderID
		o.Items = append(o.Items, items[i])
	}
	t.orders[orderID] = o
	return nil
}

func (t memTx) DecrementStock(_ context.Context, productID int64, quantity int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.failure("DecrementStock"); err != nil {
		return err
	}
	p, ok := t.products[productID]
	if !ok || p.Stock < quantity {
		return repository.ErrStockConflict
	}
	p.Stock -= quantity
	t.products[productID] = p
	return nil
}

func (t memTx) RestoreStock(_ context.Context, productID int64, quantity int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.products[productID]
	if !ok {
		return false, nil
	}
	p.Stock += quantity
	t.products[productID] = p
	return true, nil
}

func (t memTx) ClearCart(ctx context.Context, userID int64) error {
	t.mu.Lock()
	err := t.failure("ClearCart")
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return memCarts(t).ClearCart(ctx, userID)
}

func (t memTx) LockOrder(_ context.Context, orderID int64) (*model.Order, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.orderCopy(orderID), nil
}

func (t memTx) UpdateOrderStatus(_ context.Context, orderID int64, status model.OrderStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[orderID]
	if !ok {
		return repository.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	t.orders[orderID] = o
	return nil
}

func (t memTx) DeleteOrder(_ context.Context, orderID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.orders[orderID]; !ok {
		return repository.ErrNotFound
	}
	delete(t.orders, orderID)
	return nil
}

// --- events ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e model.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []model.OrderEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.OrderEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// --- fixtures ---

type testEnv struct {
	store    *memStore
	events   *recordingPublisher
	auth     *AuthService
	products *ProductService
	cart     *CartService
	orders   *OrderService
	admin    *AdminService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	events := &recordingPublisher{}
	log := logger.Discard()
	return &testEnv{
		store:    store,
		events:   events,
		auth:     NewAuthService(memUsers{store}, "test-secret", time.Hour),
		products: NewProductService(memProducts{store}, nil, nil, log),
		cart:     NewCartService(memCarts{store}, memProducts{store}),
		orders:   NewOrderService(memTransactor{store}, memOrders{store}, events, log),
		admin:    NewAdminService(memUsers{store}, memProducts{store}, memOrders{store}, log),
	}
}

func (e *testEnv) user(t *testing.T, username string) *model.User {
	t.Helper()
	u := &model.User{Username: username, Email: username + "@example.com", PasswordHash: "x"}
	require.NoError(t, memUsers{e.store}.Create(context.Background(), u))
	return u
}

func (e *testEnv) adminUser(t *testing.T) *model.User {
	t.Helper()
	u := e.user(t, "root")
	u.IsAdmin = true
	require.NoError(t, memUsers{e.store}.SetAdmin(context.Background(), u.ID, true))
	return u
}

func (e *testEnv) product(t *testing.T, name, price string, stock int) *model.Product {
	t.Helper()
	p := &model.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock, Category: "General"}
	require.NoError(t, memProducts{e.store}.Create(context.Background(), p))
	return p
}

// putInCart sets the cart quantity directly, bypassing the add-to-cart
// stock checks so that checkout validation can be exercised.
func (e *testEnv) putInCart(t *testing.T, userID, productID int64, qty int) {
	t.Helper()
	require.NoError(t, memCarts{e.store}.AddItem(context.Background(),
		&model.CartItem{UserID: userID, ProductID: productID, Quantity: qty}))
}

func checkout(address string) dto.CheckoutRequest {
	return dto.CheckoutRequest{ShippingAddress: address}
}
