package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/idempotency"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/repository"
)

type fixture struct {
	store    *repository.MemoryStore
	catalog  *CatalogService
	cart     *CartService
	checkout *CheckoutService
	orders   *OrderService
	gateway  *stubGateway
}

// stubGateway fixed outcome, counts calls
type stubGateway struct {
	succeed bool
	calls   int
}

func (g *stubGateway) Charge(context.Context, ChargeRequest) (bool, error) {
	g.calls++
	return g.succeed, nil
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	carts := repository.NewMemoryCarts(store)
	ordersRepo := repository.NewMemoryOrders(store)
	tx := repository.NewMemoryTx(store)
	log := logging.Discard()
	m := metrics.New()
	gw := &stubGateway{succeed: true}
	return &fixture{
		store:    store,
		catalog:  NewCatalogService(store),
		cart:     NewCartService(store, carts, tx),
		checkout: NewCheckoutService(store, carts, ordersRepo, tx, idempotency.NewMemoryStore(time.Hour), log, m),
		orders:   NewOrderService(ordersRepo, tx, gw, log, m),
		gateway:  gw,
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) item(t *testing.T, name, price string, stock int64) *domain.Item {
	t.Helper()
	it, err := f.catalog.Create(context.Background(), domain.Item{Name: name, Price: dec(price), Stock: stock})
	if err != nil {
		t.Fatalf("create item %s: %v", name, err)
	}
	return it
}

func (f *fixture) stock(t *testing.T, id int64) int64 {
	t.Helper()
	it, err := f.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get item %d: %v", id, err)
	}
	return it.Stock
}
