package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
	"storefront/internal/idempotency"
	"storefront/internal/logging"
	"storefront/internal/repository"
)

func TestCheckout_Scenario300(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.item(t, "A", "100.00", 10)

	snap, err := f.cart.AddLine(ctx, "u1", a.ID, 3)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !snap.TotalPrice.Equal(dec("300.00")) || snap.TotalItems != 3 {
		t.Fatalf("cart totals: %s / %d", snap.TotalPrice, snap.TotalItems)
	}

	o, err := f.checkout.Checkout(ctx, "u1", CheckoutRequest{ShippingAddress: "X"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !o.TotalAmount.Equal(dec("300.00")) {
		t.Fatalf("order total %s", o.TotalAmount)
	}
	if len(o.Lines) != 1 || o.Lines[0].ItemID != a.ID || o.Lines[0].Quantity != 3 || !o.Lines[0].UnitPrice.Equal(dec("100")) {
		t.Fatalf("order lines: %+v", o.Lines)
	}
	if o.PaymentStatus != domain.PaymentPending || o.FulfillmentStatus != domain.FulfillmentPending {
		t.Fatalf("new order statuses: %s / %s", o.PaymentStatus, o.FulfillmentStatus)
	}
	if o.PaymentMethod != "card" || o.ShippingAddress != "X" {
		t.Fatalf("order details: %+v", o)
	}
	if got := f.stock(t, a.ID); got != 7 {
		t.Fatalf("stock expected 7, got %d", got)
	}
	snap, _ = f.cart.Snapshot(ctx, "u1")
	if len(snap.Lines) != 0 {
		t.Fatalf("cart must be empty after checkout")
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	if _, err := f.checkout.Checkout(ctx, "u1", CheckoutRequest{ShippingAddress: "X"}); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected empty cart, got %v", err)
	}
	list, _ := f.orders.ListOrders(ctx, "u1")
	if len(list) != 0 {
		t.Fatalf("no order expected")
	}
}

func TestCheckout_Validation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.item(t, "A", "1", 1)
	if _, err := f.cart.AddLine(ctx, "u1", a.ID, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.checkout.Checkout(ctx, "u1", CheckoutRequest{ShippingAddress: "   "}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank address, got %v", err)
	}
	if _, err := f.checkout.Checkout(ctx, "", CheckoutRequest{ShippingAddress: "X"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty user, got %v", err)
	}
}

// Stock dropped after the lines were added: nothing may change.
func TestCheckout_AtomicOnInsufficientStock(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.item(t, "A", "10", 5)
	b := f.item(t, "B", "20", 5)
	if _, err := f.cart.AddLine(ctx, "u1", a.ID, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := f.cart.AddLine(ctx, "u1", b.ID, 4); err != nil {
		t.Fatal(err)
	}
	b.Stock = 3
	if _, err := f.catalog.Update(ctx, *b); err != nil {
		t.Fatal(err)
	}

	_, err := f.checkout.Checkout(ctx, "u1", CheckoutRequest{ShippingAddress: "X"})
	var se *StockError
	if !errors.As(err, &se) {
		t.Fatalf("expected stock error, got %v", err)
	}
	if se.ItemID != b.ID || se.ItemName != "B" || se.Requested != 4 || se.Available != 3 {
		t.Fatalf("stock error must name the item: %+v", se)
	}
	if f.stock(t, a.ID) != 5 || f.stock(t, b.ID) != 3 {
		t.Fatalf("stock changed on failed checkout")
	}
	snap, _ := f.cart.Snapshot(ctx, "u1")
	if snap.TotalItems != 6 {
		t.Fatalf("cart changed on failed checkout: %+v", snap)
	}
	if list, _ := f.orders.ListOrders(ctx, "u1"); len(list) != 0 {
		t.Fatalf("order created on failed checkout")
	}
}

func TestCheckout_InactiveItem(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.item(t, "A", "10", 5)
	if _, err := f.cart.AddLine(ctx, "u1", a.ID, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := f.catalog.Deactivate(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.checkout.Checkout(ctx, "u1", CheckoutRequest{ShippingAddress: "X"}); !errors.Is(err, repository.ErrItemUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if f.stock(t, a.ID) != 5 {
		t.Fatalf("stock changed")
	}
}

func TestCheckout_FrozenPrices(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.item(t, "A", "19.99", 5)
	b := f.item(t, "B", "0.01", 5)
	if _, err := f.cart.AddLine(ctx, "u1", a.ID, 2); err != nil {
		t.Fatal(err)
	}
	if _, err := f.cart.AddLine(ctx, "u1", b.ID, 3); err != nil {
		t.Fatal(err)
	}
	o, err := f.checkout.Checkout(ctx, "u1", CheckoutRequest{ShippingAddress: "X", PaymentMethod: "paypal", Notes: " leave at door "})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !o.TotalAmount.Equal(dec("40.01")) || o.TotalItems() != 5 {
		t.Fatalf("total %s items %d", o.TotalAmount, o.TotalItems())
	}
	if o.PaymentMethod != "paypal" || o.Notes != "leave at door" {
		t.Fatalf("order details: %+v", o)
	}

	a.Price = dec("25.00")
	if _, err := f.catalog.Update(ctx, *a); err != nil {
		t.Fatal(err)
	}
	got, err := f.orders.GetOrder(ctx, "u1", o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Lines[0].UnitPrice.Equal(dec("19.99")) || !got.TotalAmount.Equal(dec("40.01")) {
		t.Fatalf("order prices must stay frozen: %+v", got)
	}
	if got.Lines[0].ItemID != a.ID || got.Lines[1].ItemID != b.ID {
		t.Fatalf("order lines keep cart order")
	}
}

func TestCheckout_OrderNumberFormat(t *testing.T) {
	n := newOrderNumber(time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC))
	if !regexp.MustCompile(`^ORD-20250309-[0-9A-F]{16}$`).MatchString(n) {
		t.Fatalf("unexpected order number %q", n)
	}
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		n := newOrderNumber(time.Now())
		if _, dup := seen[n]; dup {
			t.Fatalf("duplicate order number %s", n)
		}
		seen[n] = struct{}{}
	}
}

// stock = 1, two users race for the last unit
func TestCheckout_ConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.item(t, "Last", "5", 1)
	for _, u := range []string{"u1", "u2"} {
		if _, err := f.cart.AddLine(ctx, u, a.ID, 1); err != nil {
			t.Fatalf("add for %s: %v", u, err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, u := range []string{"u1", "u2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.checkout.Checkout(ctx, u, CheckoutRequest{ShippingAddress: "X"})
		}()
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, repository.ErrInsufficientStock):
			short++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || short != 1 {
		t.Fatalf("expected exactly one winner, got ok=%d short=%d", ok, short)
	}
	if f.stock(t, a.ID) != 0 {
		t.Fatalf("final stock must be 0")
	}
}

// double-click: same user, same cart, concurrent checkouts
func TestCheckout_ConcurrentSameCart(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.item(t, "A", "5", 10)
	if _, err := f.cart.AddLine(ctx, "u1", a.ID, 2); err != nil {
		t.Fatal(err)
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.checkout.Checkout(ctx, "u1", CheckoutRequest{ShippingAddress: "X"})
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		if !errors.Is(err, ErrEmptyCart) {
			t.Fatalf("losers must see an empty cart, got %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected one order, got %d", ok)
	}
	if f.stock(t, a.ID) != 8 {
		t.Fatalf("stock decremented more than once: %d", f.stock(t, a.ID))
	}
}

func TestCheckoutOnce_ReplaysSameOrder(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.item(t, "A", "5", 10)
	_, err := f.cart.AddLine(ctx, "u1", a.ID, 1)
	require.NoError(t, err)

	first, replayed, err := f.checkout.CheckoutOnce(ctx, "u1", "key-1", CheckoutRequest{ShippingAddress: "X"})
	require.NoError(t, err)
	assert.False(t, replayed)

	second, replayed, err := f.checkout.CheckoutOnce(ctx, "u1", "key-1", CheckoutRequest{ShippingAddress: "X"})
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(9), f.stock(t, a.ID))

	// same key from another user is a separate request
	_, _, err = f.checkout.CheckoutOnce(ctx, "u2", "key-1", CheckoutRequest{ShippingAddress: "X"})
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckoutOnce_FailureReleasesKey(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	a := f.item(t, "A", "5", 10)

	_, _, err := f.checkout.CheckoutOnce(ctx, "u1", "k", CheckoutRequest{ShippingAddress: "X"})
	require.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.cart.AddLine(ctx, "u1", a.ID, 1)
	require.NoError(t, err)
	o, replayed, err := f.checkout.CheckoutOnce(ctx, "u1", "k", CheckoutRequest{ShippingAddress: "X"})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotZero(t, o.ID)
}

func TestCheckoutOnce_InFlightConflict(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	store := idempotency.NewMemoryStore(time.Hour)
	f.checkout = NewCheckoutService(f.store, repository.NewMemoryCarts(f.store), repository.NewMemoryOrders(f.store),
		repository.NewMemoryTx(f.store), store, logging.Discard(), nil)

	_, _, err := store.Begin(ctx, "u1:k")
	require.NoError(t, err)
	_, _, err = f.checkout.CheckoutOnce(ctx, "u1", "k", CheckoutRequest{ShippingAddress: "X"})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

type brokenStore struct{}

func (brokenStore) Begin(context.Context, string) (int64, bool, error) {
	return 0, false, idempotency.ErrUnavailable
}
func (brokenStore) Complete(context.Context, string, int64) error { return idempotency.ErrUnavailable }
func (brokenStore) Abort(context.Context, string) error           { return idempotency.ErrUnavailable }

func TestCheckoutOnce_StoreUnavailableDegrades(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	carts := repository.NewMemoryCarts(f.store)
	f.checkout = NewCheckoutService(f.store, carts, repository.NewMemoryOrders(f.store),
		repository.NewMemoryTx(f.store), brokenStore{}, logging.Discard(), nil)
	a := f.item(t, "A", "5", 10)
	_, err := f.cart.AddLine(ctx, "u1", a.ID, 1)
	require.NoError(t, err)

	o, replayed, err := f.checkout.CheckoutOnce(ctx, "u1", "k", CheckoutRequest{ShippingAddress: "X"})
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.NotZero(t, o.ID)

	_, _, err = f.checkout.CheckoutOnce(ctx, "u1", "k", CheckoutRequest{ShippingAddress: "X"})
	assert.ErrorIs(t, err, ErrEmptyCart, "the cart lock still prevents a second order")
}
