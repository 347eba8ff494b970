package repository

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"storefront/internal/domain"
)

var errNonPositiveAmount = errors.New("repository: decrement amount must be positive")

// MemoryStore объединённое in-memory хранилище. Карты защищены mu на время
// одного обращения, атомарность операций обеспечивают блокировки строк.
type MemoryStore struct {
	mu   sync.RWMutex
	rows *rowLocks
	now  func() time.Time

	nextItemID  int64
	nextCartID  int64
	nextOrderID int64

	items        map[int64]domain.Item
	carts        map[string]*memoryCart
	orders       map[int64]domain.Order
	orderNumbers map[string]int64
}

type memoryCart struct {
	cart  domain.Cart
	lines map[int64]domain.CartLine
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:         newRowLocks(),
		now:          func() time.Time { return time.Now().UTC() },
		nextItemID:   1,
		nextCartID:   1,
		nextOrderID:  1,
		items:        make(map[int64]domain.Item),
		carts:        make(map[string]*memoryCart),
		orders:       make(map[int64]domain.Order),
		orderNumbers: make(map[string]int64),
	}
}

// transaction state carried in the context
type txKey struct{}

type memoryTx struct {
	held map[string]struct{}
	keys []string
	undo []func()
}

func txFromContext(ctx context.Context) *memoryTx {
	t, _ := ctx.Value(txKey{}).(*memoryTx)
	return t
}

// lockRow берёт блокировку строки. В транзакции она держится до её конца,
// вне транзакции снимается возвращённой функцией.
func (m *MemoryStore) lockRow(ctx context.Context, key string) func() {
	if t := txFromContext(ctx); t != nil {
		if _, ok := t.held[key]; !ok {
			m.rows.Lock(key)
			t.held[key] = struct{}{}
			t.keys = append(t.keys, key)
		}
		return func() {}
	}
	m.rows.Lock(key)
	return func() { m.rows.Unlock(key) }
}

// journal запоминает откат изменения; вне транзакции ничего не делает
func (m *MemoryStore) journal(ctx context.Context, undo func()) {
	if t := txFromContext(ctx); t != nil {
		t.undo = append(t.undo, undo)
	}
}

func itemKey(id int64) string { return "item:" + strconv.FormatInt(id, 10) }
func cartKey(userID string) string { return "cart:" + userID }
func orderKey(id int64) string { return "order:" + strconv.FormatInt(id, 10) }

// Ensure interfaces
var _ ItemRepository = (*MemoryStore)(nil)

// ItemRepository implementation
func (m *MemoryStore) Create(ctx context.Context, it *domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it.ID = m.nextItemID
	m.nextItemID++
	it.CreatedAt = m.now()
	it.UpdatedAt = it.CreatedAt
	m.items[it.ID] = *it
	id := it.ID
	m.journal(ctx, func() {
		m.mu.Lock()
		delete(m.items, id)
		m.mu.Unlock()
	})
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	// return copy
	cp := it
	return &cp, nil
}

func (m *MemoryStore) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]domain.Item, len(ids))
	for _, id := range ids {
		if it, ok := m.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, it *domain.Item) error {
	defer m.lockRow(ctx, itemKey(it.ID))()
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.items[it.ID]
	if !ok {
		return ErrNotFound
	}
	it.CreatedAt = prev.CreatedAt
	it.UpdatedAt = m.now()
	m.items[it.ID] = *it
	m.journal(ctx, func() { m.restoreItem(prev) })
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f ItemFilter) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Item, 0)
	for _, it := range m.items {
		if matchesFilter(it, f) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SetActive(ctx context.Context, id int64, active bool) (*domain.Item, error) {
	defer m.lockRow(ctx, itemKey(id))()
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	it := prev
	if it.Active != active {
		it.Active = active
		it.UpdatedAt = m.now()
		m.items[id] = it
		m.journal(ctx, func() { m.restoreItem(prev) })
	}
	return &it, nil
}

func (m *MemoryStore) DecrementStock(ctx context.Context, id int64, amount int64) (*domain.Item, error) {
	if amount <= 0 {
		return nil, errNonPositiveAmount
	}
	defer m.lockRow(ctx, itemKey(id))()
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !prev.Active {
		return nil, ErrItemUnavailable
	}
	if prev.Stock < amount {
		return nil, ErrInsufficientStock
	}
	it := prev
	it.Stock -= amount
	it.UpdatedAt = m.now()
	m.items[id] = it
	m.journal(ctx, func() { m.restoreItem(prev) })
	return &it, nil
}

func (m *MemoryStore) restoreItem(it domain.Item) {
	m.mu.Lock()
	m.items[it.ID] = it
	m.mu.Unlock()
}

// MemoryCarts CartRepository поверх общего хранилища
type MemoryCarts struct{ store *MemoryStore }

func NewMemoryCarts(store *MemoryStore) *MemoryCarts { return &MemoryCarts{store: store} }

var _ CartRepository = (*MemoryCarts)(nil)

// cartLocked returns the user's cart, creating it if needed. Caller holds mu.
func (mc *MemoryCarts) cartLocked(ctx context.Context, userID string) *memoryCart {
	m := mc.store
	if c, ok := m.carts[userID]; ok {
		return c
	}
	now := m.now()
	c := &memoryCart{
		cart:  domain.Cart{ID: m.nextCartID, UserID: userID, CreatedAt: now, UpdatedAt: now},
		lines: make(map[int64]domain.CartLine),
	}
	m.nextCartID++
	m.carts[userID] = c
	m.journal(ctx, func() {
		m.mu.Lock()
		delete(m.carts, userID)
		m.mu.Unlock()
	})
	return c
}

func (mc *MemoryCarts) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	m := mc.store
	defer m.lockRow(ctx, cartKey(userID))()
	m.mu.Lock()
	defer m.mu.Unlock()
	c := mc.cartLocked(ctx, userID)
	out := c.cart
	out.Lines = make([]domain.CartLine, 0, len(c.lines))
	for _, l := range c.lines {
		out.Lines = append(out.Lines, l)
	}
	domain.SortLines(out.Lines)
	return &out, nil
}

func (mc *MemoryCarts) SetLine(ctx context.Context, userID string, itemID, quantity int64) error {
	if quantity <= 0 {
		return errNonPositiveAmount
	}
	m := mc.store
	defer m.lockRow(ctx, cartKey(userID))()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[itemID]; !ok {
		return ErrNotFound
	}
	c := mc.cartLocked(ctx, userID)
	prev, existed := c.lines[itemID]
	prevUpdated := c.cart.UpdatedAt
	now := m.now()
	line := domain.CartLine{ItemID: itemID, Quantity: quantity, AddedAt: now}
	if existed {
		line.AddedAt = prev.AddedAt
	}
	c.lines[itemID] = line
	c.cart.UpdatedAt = now
	m.journal(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			c.lines[itemID] = prev
		} else {
			delete(c.lines, itemID)
		}
		c.cart.UpdatedAt = prevUpdated
	})
	return nil
}

func (mc *MemoryCarts) DeleteLine(ctx context.Context, userID string, itemID int64) error {
	m := mc.store
	defer m.lockRow(ctx, cartKey(userID))()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil
	}
	prev, ok := c.lines[itemID]
	if !ok {
		return nil
	}
	prevUpdated := c.cart.UpdatedAt
	delete(c.lines, itemID)
	c.cart.UpdatedAt = m.now()
	m.journal(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		c.lines[itemID] = prev
		c.cart.UpdatedAt = prevUpdated
	})
	return nil
}

func (mc *MemoryCarts) Clear(ctx context.Context, userID string) error {
	m := mc.store
	defer m.lockRow(ctx, cartKey(userID))()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok || len(c.lines) == 0 {
		return nil
	}
	prev := c.lines
	prevUpdated := c.cart.UpdatedAt
	c.lines = make(map[int64]domain.CartLine)
	c.cart.UpdatedAt = m.now()
	m.journal(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		c.lines = prev
		c.cart.UpdatedAt = prevUpdated
	})
	return nil
}

// OrderRepository implementation on wrapper type
type MemoryOrders struct{ store *MemoryStore }

func NewMemoryOrders(store *MemoryStore) *MemoryOrders { return &MemoryOrders{store: store} }

var _ OrderRepository = (*MemoryOrders)(nil)

func copyOrder(o domain.Order) domain.Order {
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return o
}

func (mo *MemoryOrders) Create(ctx context.Context, o *domain.Order) error {
	m := mo.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.orderNumbers[o.Number]; taken {
		return ErrDuplicate
	}
	o.ID = m.nextOrderID
	m.nextOrderID++
	o.CreatedAt = m.now()
	o.UpdatedAt = o.CreatedAt
	m.orders[o.ID] = copyOrder(*o)
	m.orderNumbers[o.Number] = o.ID
	id, number := o.ID, o.Number
	m.journal(ctx, func() {
		m.mu.Lock()
		delete(m.orders, id)
		delete(m.orderNumbers, number)
		m.mu.Unlock()
	})
	return nil
}

func (mo *MemoryOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	m := mo.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyOrder(o)
	return &cp, nil
}

func (mo *MemoryOrders) GetForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	defer mo.store.lockRow(ctx, orderKey(id))()
	return mo.GetByID(ctx, id)
}

func (mo *MemoryOrders) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	m := mo.store
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, copyOrder(o))
		}
	}
	// newest first
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateStatus меняет статусы, способ оплаты и время обновления
func (mo *MemoryOrders) UpdateStatus(ctx context.Context, o *domain.Order) error {
	m := mo.store
	defer m.lockRow(ctx, orderKey(o.ID))()
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	next := prev
	next.PaymentStatus = o.PaymentStatus
	next.FulfillmentStatus = o.FulfillmentStatus
	if o.PaymentMethod != "" {
		next.PaymentMethod = o.PaymentMethod
	}
	next.UpdatedAt = m.now()
	m.orders[o.ID] = next
	o.UpdatedAt = next.UpdatedAt
	m.journal(ctx, func() {
		m.mu.Lock()
		m.orders[prev.ID] = prev
		m.mu.Unlock()
	})
	return nil
}

// MemoryTx транзакция поверх блокировок строк: блокировки держатся до конца fn,
// при ошибке или панике изменения откатываются в обратном порядке.
type MemoryTx struct{ store *MemoryStore }

func NewMemoryTx(store *MemoryStore) *MemoryTx { return &MemoryTx{store: store} }

var _ TxManager = (*MemoryTx)(nil)

func (tx *MemoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	t := &memoryTx{held: make(map[string]struct{})}
	committed := false
	defer func() {
		if !committed {
			for i := len(t.undo) - 1; i >= 0; i-- {
				t.undo[i]()
			}
		}
		for i := len(t.keys) - 1; i >= 0; i-- {
			tx.store.rows.Unlock(t.keys[i])
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return err
	}
	committed = true
	return nil
}
