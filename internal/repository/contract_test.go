package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
)

// backend один набор репозиториев поверх одного хранилища
type backend struct {
	items  ItemRepository
	carts  CartRepository
	orders OrderRepository
	tx     TxManager
}

// runContract general behaviour both storage backends must share
func runContract(t *testing.T, b backend) {
	t.Run("ItemCRUD", func(t *testing.T) { testItemCRUD(t, b) })
	t.Run("ItemList", func(t *testing.T) { testItemList(t, b) })
	t.Run("DecrementStock", func(t *testing.T) { testDecrementStock(t, b) })
	t.Run("ConcurrentDecrement", func(t *testing.T) { testConcurrentDecrement(t, b) })
	t.Run("CartLines", func(t *testing.T) { testCartLines(t, b) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, b) })
	t.Run("Orders", func(t *testing.T) { testOrders(t, b) })
}

func newUserID() string { return "user-" + uuid.NewString() }

func newNumber() string { return "ORD-TEST-" + uuid.NewString() }

func seedItem(t *testing.T, b backend, name, price string, stock int64) domain.Item {
	t.Helper()
	it := domain.Item{Name: name, Price: decimal.RequireFromString(price), Stock: stock, Active: true}
	require.NoError(t, b.items.Create(context.Background(), &it))
	require.NotZero(t, it.ID)
	return it
}

func testItemCRUD(t *testing.T, b backend) {
	ctx := context.Background()
	it := seedItem(t, b, "Keyboard", "49.90", 3)

	got, err := b.items.GetByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, "Keyboard", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("49.90")))
	assert.Equal(t, int64(3), got.Stock)

	got.Price = decimal.RequireFromString("45.00")
	got.Active = false
	require.NoError(t, b.items.Update(ctx, got))

	again, err := b.items.GetByID(ctx, it.ID)
	require.NoError(t, err)
	assert.True(t, again.Price.Equal(decimal.RequireFromString("45")))
	assert.False(t, again.Active)

	_, err = b.items.GetByID(ctx, -1)
	assert.ErrorIs(t, err, ErrNotFound)

	missing := domain.Item{ID: -1, Name: "x", Price: decimal.Zero}
	assert.ErrorIs(t, b.items.Update(ctx, &missing), ErrNotFound)

	many, err := b.items.GetMany(ctx, []int64{it.ID, -1})
	require.NoError(t, err)
	assert.Len(t, many, 1)
}

func testItemList(t *testing.T, b backend) {
	ctx := context.Background()
	tag := uuid.NewString()[:8]
	cheap := seedItem(t, b, "Pen "+tag, "1.50", 10)
	mid := seedItem(t, b, "Notebook "+tag, "4.00", 10)
	dear := seedItem(t, b, "Fountain pen "+tag, "80.00", 10)

	hidden := dear
	hidden.Active = false
	require.NoError(t, b.items.Update(ctx, &hidden))

	list, err := b.items.List(ctx, ItemFilter{NameSubstring: "PEN " + tag})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, cheap.ID, list[0].ID)

	list, err = b.items.List(ctx, ItemFilter{NameSubstring: tag, IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, list, 3)

	minP := decimal.RequireFromString("2")
	list, err = b.items.List(ctx, ItemFilter{NameSubstring: tag, MinPrice: &minP, IncludeInactive: true})
	require.NoError(t, err)
	ids := make([]int64, 0, len(list))
	for _, it := range list {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []int64{mid.ID, dear.ID}, ids)

	maxP := decimal.RequireFromString("4")
	list, err = b.items.List(ctx, ItemFilter{NameSubstring: tag, MaxPrice: &maxP})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testDecrementStock(t *testing.T, b backend) {
	ctx := context.Background()
	it := seedItem(t, b, "Mouse", "20.00", 5)

	after, err := b.items.DecrementStock(ctx, it.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), after.Stock)
	assert.True(t, after.Price.Equal(it.Price))

	_, err = b.items.DecrementStock(ctx, it.ID, 3)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	got, err := b.items.GetByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Stock, "failed decrement must leave stock unchanged")

	_, err = b.items.DecrementStock(ctx, it.ID, 0)
	assert.Error(t, err)

	_, err = b.items.DecrementStock(ctx, -1, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	off, err := b.items.SetActive(ctx, it.ID, false)
	require.NoError(t, err)
	assert.False(t, off.Active)
	assert.Equal(t, int64(2), off.Stock, "deactivation keeps stock")
	_, err = b.items.DecrementStock(ctx, it.ID, 1)
	assert.ErrorIs(t, err, ErrItemUnavailable)

	_, err = b.items.SetActive(ctx, -1, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testConcurrentDecrement(t *testing.T, b backend) {
	ctx := context.Background()
	const stock, workers = 10, 25
	it := seedItem(t, b, "Limited edition", "99.00", stock)

	var ok, short atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.items.DecrementStock(ctx, it.ID, 1)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrInsufficientStock):
				short.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(stock), ok.Load())
	assert.Equal(t, int64(workers-stock), short.Load())
	got, err := b.items.GetByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Stock)
}

func testCartLines(t *testing.T, b backend) {
	ctx := context.Background()
	user := newUserID()
	a := seedItem(t, b, "A", "1.00", 5)
	c := seedItem(t, b, "C", "2.00", 5)

	cart, err := b.carts.GetOrCreate(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, user, cart.UserID)
	assert.Empty(t, cart.Lines)

	again, err := b.carts.GetOrCreate(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, again.ID, "one cart per user")

	require.NoError(t, b.carts.SetLine(ctx, user, a.ID, 2))
	require.NoError(t, b.carts.SetLine(ctx, user, c.ID, 1))
	require.NoError(t, b.carts.SetLine(ctx, user, a.ID, 4))

	cart, err = b.carts.GetOrCreate(ctx, user)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 2)
	assert.Equal(t, a.ID, cart.Lines[0].ItemID, "re-setting a line keeps its position")
	assert.Equal(t, int64(4), cart.Lines[0].Quantity)

	assert.ErrorIs(t, b.carts.SetLine(ctx, user, -1, 1), ErrNotFound)

	require.NoError(t, b.carts.DeleteLine(ctx, user, a.ID))
	require.NoError(t, b.carts.DeleteLine(ctx, user, a.ID))
	cart, err = b.carts.GetOrCreate(ctx, user)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, c.ID, cart.Lines[0].ItemID)

	require.NoError(t, b.carts.Clear(ctx, user))
	require.NoError(t, b.carts.Clear(ctx, user))
	cart, err = b.carts.GetOrCreate(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, cart.Lines)

	// other user's cart is untouched
	other := newUserID()
	require.NoError(t, b.carts.SetLine(ctx, other, a.ID, 1))
	require.NoError(t, b.carts.Clear(ctx, user))
	oc, err := b.carts.GetOrCreate(ctx, other)
	require.NoError(t, err)
	assert.Len(t, oc.Lines, 1)
}

func testTxRollback(t *testing.T, b backend) {
	ctx := context.Background()
	user := newUserID()
	it := seedItem(t, b, "Lamp", "15.00", 4)
	require.NoError(t, b.carts.SetLine(ctx, user, it.ID, 2))

	boom := errors.New("boom")
	err := b.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := b.carts.GetOrCreate(ctx, user); err != nil {
			return err
		}
		if _, err := b.items.DecrementStock(ctx, it.ID, 2); err != nil {
			return err
		}
		o := &domain.Order{
			Number: newNumber(), UserID: user, TotalAmount: decimal.RequireFromString("30"),
			PaymentStatus: domain.PaymentPending, FulfillmentStatus: domain.FulfillmentPending,
			ShippingAddress: "Main st 1", PaymentMethod: "card",
			Lines: []domain.OrderLine{{ItemID: it.ID, ItemName: it.Name, Quantity: 2, UnitPrice: it.Price}},
		}
		if err := b.orders.Create(ctx, o); err != nil {
			return err
		}
		if err := b.carts.Clear(ctx, user); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := b.items.GetByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Stock)

	cart, err := b.carts.GetOrCreate(ctx, user)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, int64(2), cart.Lines[0].Quantity)

	orders, err := b.orders.ListByUser(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, orders)

	// nested call joins the outer transaction
	err = b.tx.WithTransaction(ctx, func(ctx context.Context) error {
		return b.tx.WithTransaction(ctx, func(ctx context.Context) error {
			_, err := b.items.DecrementStock(ctx, it.ID, 1)
			if err != nil {
				return err
			}
			return boom
		})
	})
	require.ErrorIs(t, err, boom)
	got, err = b.items.GetByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Stock)
}

func testOrders(t *testing.T, b backend) {
	ctx := context.Background()
	user := newUserID()
	it := seedItem(t, b, "Chair", "120.50", 10)

	var ids []int64
	for i := 0; i < 3; i++ {
		o := &domain.Order{
			Number: newNumber(), UserID: user,
			TotalAmount:   it.Price.Mul(decimal.NewFromInt(int64(i + 1))),
			PaymentStatus: domain.PaymentPending, FulfillmentStatus: domain.FulfillmentPending,
			ShippingAddress: fmt.Sprintf("Street %d", i), PaymentMethod: "card", Notes: "ring twice",
			Lines: []domain.OrderLine{{ItemID: it.ID, ItemName: it.Name, Quantity: int64(i + 1), UnitPrice: it.Price}},
		}
		require.NoError(t, b.orders.Create(ctx, o))
		require.NotZero(t, o.ID)
		require.False(t, o.CreatedAt.IsZero())
		ids = append(ids, o.ID)
	}

	got, err := b.orders.GetByID(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, user, got.UserID)
	assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("241")))
	require.Len(t, got.Lines, 1)
	assert.Equal(t, int64(2), got.Lines[0].Quantity)
	assert.True(t, got.Lines[0].UnitPrice.Equal(it.Price))

	list, err := b.orders.ListByUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID, "newest first")
	assert.Equal(t, ids[0], list[2].ID)
	assert.Len(t, list[0].Lines, 1)

	dup := &domain.Order{
		Number: got.Number, UserID: user, TotalAmount: decimal.Zero,
		PaymentStatus: domain.PaymentPending, FulfillmentStatus: domain.FulfillmentPending,
		ShippingAddress: "x", PaymentMethod: "card",
	}
	assert.ErrorIs(t, b.orders.Create(ctx, dup), ErrDuplicate)

	err = b.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := b.orders.GetForUpdate(ctx, ids[0])
		if err != nil {
			return err
		}
		if _, err := o.ApplyPayment(domain.EventPaymentSucceeded, o.UpdatedAt); err != nil {
			return err
		}
		o.PaymentMethod = "paypal"
		return b.orders.UpdateStatus(ctx, o)
	})
	require.NoError(t, err)

	paid, err := b.orders.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, paid.PaymentStatus)
	assert.Equal(t, domain.FulfillmentProcessing, paid.FulfillmentStatus)
	assert.Equal(t, "Street 0", paid.ShippingAddress)
	assert.Equal(t, "paypal", paid.PaymentMethod)
	assert.False(t, paid.UpdatedAt.Before(paid.CreatedAt))

	_, err = b.orders.GetByID(ctx, -1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, b.orders.UpdateStatus(ctx, &domain.Order{ID: -1}), ErrNotFound)

	empty, err := b.orders.ListByUser(ctx, newUserID())
	require.NoError(t, err)
	assert.Empty(t, empty)
}
