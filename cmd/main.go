package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"storefront/internal/config"
	"storefront/internal/domain"
	httpapi "storefront/internal/http"
	"storefront/internal/idempotency"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/repository"
	"storefront/internal/service"

	_ "storefront/docs"
)

const serviceName = "storefront"

// backend набор репозиториев выбранного хранилища
type backend struct {
	items  repository.ItemRepository
	carts  repository.CartRepository
	orders repository.OrderRepository
	tx     repository.TxManager
	health func(ctx context.Context) error
	close  func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, serviceName, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	idem, closeIdem := openIdempotency(ctx, cfg, log)
	defer closeIdem()

	m := metrics.New()
	catalog := service.NewCatalogService(b.items)
	if cfg.SeedCatalog && cfg.Storage == config.StorageMemory {
		if err := seedCatalog(ctx, catalog); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		log.Info("catalog seeded")
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Catalog:  catalog,
		Cart:     service.NewCartService(b.items, b.carts, b.tx),
		Checkout: service.NewCheckoutService(b.items, b.carts, b.orders, b.tx, idem, log, m),
		Orders:   service.NewOrderService(b.orders, b.tx, service.NewSimulatedGateway(cfg.PaymentFailureRate, uint64(time.Now().UnixNano())), log, m),
		Log:      log,
		Metrics:  m,
		Health:   b.health,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", "addr", httpServer.Addr, "storage", cfg.Storage)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (backend, error) {
	if cfg.Storage != config.StoragePostgres {
		store := repository.NewMemoryStore()
		return backend{
			items:  store,
			carts:  repository.NewMemoryCarts(store),
			orders: repository.NewMemoryOrders(store),
			tx:     repository.NewMemoryTx(store),
			close:  func() {},
		}, nil
	}

	if cfg.Migrations {
		if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
			return backend{}, err
		}
		log.Info("migrations applied")
	}
	store, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return backend{}, err
	}
	return backend{
		items:  store,
		carts:  repository.NewPostgresCarts(store),
		orders: repository.NewPostgresOrders(store),
		tx:     repository.NewPostgresTx(store),
		health: store.Ping,
		close:  store.Close,
	}, nil
}

// openIdempotency redis при заданном REDIS_ADDR, иначе хранилище в памяти процесса
func openIdempotency(ctx context.Context, cfg config.Config, log *slog.Logger) (idempotency.Store, func()) {
	if cfg.RedisAddr == "" {
		return idempotency.NewMemoryStore(cfg.IdempotencyTTL), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		// the breaker keeps checkout working until redis comes back
		log.Warn("redis is not reachable", "addr", cfg.RedisAddr, "error", err)
	}
	return idempotency.NewRedisStore(client, cfg.IdempotencyTTL), func() { _ = client.Close() }
}

func seedCatalog(ctx context.Context, catalog *service.CatalogService) error {
	seed := []domain.Item{
		{Name: "Mechanical Keyboard", Price: decimal.RequireFromString("89.90"), Stock: 25},
		{Name: "Wireless Mouse", Price: decimal.RequireFromString("24.50"), Stock: 60},
		{Name: "USB-C Hub", Price: decimal.RequireFromString("39.00"), Stock: 40},
		{Name: "27\" Monitor", Price: decimal.RequireFromString("249.99"), Stock: 8},
		{Name: "Laptop Stand", Price: decimal.RequireFromString("32.00"), Stock: 0},
	}
	for _, it := range seed {
		if _, err := catalog.Create(ctx, it); err != nil {
			return err
		}
	}
	return nil
}
