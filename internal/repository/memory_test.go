package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

func newMemoryBackend() (backend, *MemoryStore) {
	store := NewMemoryStore()
	return backend{
		items:  store,
		carts:  NewMemoryCarts(store),
		orders: NewMemoryOrders(store),
		tx:     NewMemoryTx(store),
	}, store
}

func TestMemoryBackend_Contract(t *testing.T) {
	b, store := newMemoryBackend()
	runContract(t, b)
	if n := store.rows.size(); n != 0 {
		t.Fatalf("row locks leaked: %d", n)
	}
}

func TestMemoryTx_TransactionalCheckout(t *testing.T) {
	ctx := context.Background()
	b, store := newMemoryBackend()

	it := domain.Item{Name: "A", Price: decimal.NewFromInt(10), Stock: 5, Active: true}
	if err := store.Create(ctx, &it); err != nil {
		t.Fatal(err)
	}
	if err := b.carts.SetLine(ctx, "u1", it.ID, 3); err != nil {
		t.Fatal(err)
	}

	// emulate atomic checkout: decrement, create order, clear cart
	err := b.tx.WithTransaction(ctx, func(ctx context.Context) error {
		cart, err := b.carts.GetOrCreate(ctx, "u1")
		if err != nil {
			return err
		}
		line := cart.Lines[0]
		after, err := b.items.DecrementStock(ctx, line.ItemID, line.Quantity)
		if err != nil {
			return err
		}
		o := domain.Order{
			Number: "ORD-1", UserID: "u1", TotalAmount: after.Price.Mul(decimal.NewFromInt(line.Quantity)),
			PaymentStatus: domain.PaymentPending, FulfillmentStatus: domain.FulfillmentPending,
			Lines: []domain.OrderLine{{ItemID: it.ID, ItemName: after.Name, Quantity: line.Quantity, UnitPrice: after.Price}},
		}
		if err := b.orders.Create(ctx, &o); err != nil {
			return err
		}
		return b.carts.Clear(ctx, "u1")
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	got, _ := store.GetByID(ctx, it.ID)
	if got.Stock != 2 {
		t.Fatalf("stock expected 2, got %v", got.Stock)
	}
	cart, _ := b.carts.GetOrCreate(ctx, "u1")
	if len(cart.Lines) != 0 {
		t.Fatalf("cart expected empty, got %d lines", len(cart.Lines))
	}
	if n := store.rows.size(); n != 0 {
		t.Fatalf("row locks leaked: %d", n)
	}
}

func TestMemoryTx_RollbackOnPanic(t *testing.T) {
	ctx := context.Background()
	b, store := newMemoryBackend()

	it := domain.Item{Name: "A", Price: decimal.NewFromInt(1), Stock: 2, Active: true}
	if err := store.Create(ctx, &it); err != nil {
		t.Fatal(err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic")
			}
		}()
		_ = b.tx.WithTransaction(ctx, func(ctx context.Context) error {
			if _, err := b.items.DecrementStock(ctx, it.ID, 2); err != nil {
				return err
			}
			panic("boom")
		})
	}()

	got, _ := store.GetByID(ctx, it.ID)
	if got.Stock != 2 {
		t.Fatalf("stock expected 2 after rollback, got %d", got.Stock)
	}
	if n := store.rows.size(); n != 0 {
		t.Fatalf("row locks leaked: %d", n)
	}
}

// A transaction holding the cart row blocks a concurrent writer of the same cart
// until it ends.
func TestMemoryTx_CartRowLockHeldUntilEnd(t *testing.T) {
	ctx := context.Background()
	b, store := newMemoryBackend()

	it := domain.Item{Name: "A", Price: decimal.NewFromInt(1), Stock: 10, Active: true}
	if err := store.Create(ctx, &it); err != nil {
		t.Fatal(err)
	}

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.tx.WithTransaction(ctx, func(ctx context.Context) error {
			if _, err := b.carts.GetOrCreate(ctx, "u1"); err != nil {
				return err
			}
			close(locked)
			<-release
			return b.carts.Clear(ctx, "u1")
		})
	}()
	<-locked

	written := make(chan struct{})
	go func() {
		_ = b.carts.SetLine(ctx, "u1", it.ID, 1)
		close(written)
	}()

	select {
	case <-written:
		t.Fatalf("write went through while cart was locked")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("tx: %v", err)
	}
	<-written

	cart, _ := b.carts.GetOrCreate(ctx, "u1")
	if len(cart.Lines) != 1 {
		t.Fatalf("line added after the transaction must survive, got %d lines", len(cart.Lines))
	}
}

// Opposite cart orders across users must not deadlock: item rows are taken
// by ascending id inside each transaction.
func TestMemoryTx_NoDeadlockOnSortedItemLocks(t *testing.T) {
	ctx := context.Background()
	b, store := newMemoryBackend()

	a := domain.Item{Name: "A", Price: decimal.NewFromInt(1), Stock: 1000, Active: true}
	c := domain.Item{Name: "C", Price: decimal.NewFromInt(1), Stock: 1000, Active: true}
	_ = store.Create(ctx, &a)
	_ = store.Create(ctx, &c)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.tx.WithTransaction(ctx, func(ctx context.Context) error {
				for _, id := range []int64{a.ID, c.ID} {
					if _, err := b.items.DecrementStock(ctx, id, 1); err != nil {
						return err
					}
				}
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("tx: %v", err)
		}
	}
	got, _ := store.GetByID(ctx, a.ID)
	if got.Stock != 900 {
		t.Fatalf("stock expected 900, got %d", got.Stock)
	}
}

func TestMemoryOrders_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	orders := NewMemoryOrders(store)

	o := domain.Order{Number: "N1", UserID: "u", PaymentStatus: domain.PaymentPending,
		Lines: []domain.OrderLine{{ItemID: 1, Quantity: 1}}}
	if err := orders.Create(ctx, &o); err != nil {
		t.Fatal(err)
	}
	o.Lines[0].Quantity = 99

	got, err := orders.GetByID(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Lines[0].Quantity != 1 {
		t.Fatalf("stored order mutated through caller slice")
	}
	got.PaymentStatus = domain.PaymentFailed
	again, _ := orders.GetByID(ctx, o.ID)
	if again.PaymentStatus != domain.PaymentPending {
		t.Fatalf("stored order mutated through returned value")
	}
}

func TestRowLocks_ReleaseEntries(t *testing.T) {
	r := newRowLocks()
	r.Lock("a")
	r.Lock("b")
	if r.size() != 2 {
		t.Fatalf("expected 2 entries, got %d", r.size())
	}
	r.Unlock("a")
	r.Unlock("b")
	if r.size() != 0 {
		t.Fatalf("expected 0 entries, got %d", r.size())
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on unlock of unknown row")
		}
	}()
	r.Unlock("missing")
}

func TestDecrementStock_RejectsNonPositive(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.DecrementStock(context.Background(), 1, -2)
	if !errors.Is(err, errNonPositiveAmount) {
		t.Fatalf("expected errNonPositiveAmount, got %v", err)
	}
}
