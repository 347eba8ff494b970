package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
	"storefront/internal/idempotency"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/repository"
)

const (
	defaultPaymentMethod = "card"
	maxIdempotencyKeyLen = 255
)

// CheckoutRequest параметры оформления заказа
type CheckoutRequest struct {
	ShippingAddress string
	PaymentMethod   string
	Notes           string
}

// CheckoutService превращает корзину в заказ. Списание остатков, создание заказа
// с позициями и очистка корзины выполняются одной транзакцией.
type CheckoutService struct {
	items   repository.ItemRepository
	carts   repository.CartRepository
	orders  repository.OrderRepository
	tx      repository.TxManager
	ledger  *StockLedger
	idem    idempotency.Store
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewCheckoutService idem может быть nil: тогда ключ идемпотентности игнорируется
func NewCheckoutService(
	items repository.ItemRepository,
	carts repository.CartRepository,
	orders repository.OrderRepository,
	tx repository.TxManager,
	idem idempotency.Store,
	log *slog.Logger,
	m *metrics.Metrics,
) *CheckoutService {
	if log == nil {
		log = slog.Default()
	}
	return &CheckoutService{
		items:   items,
		carts:   carts,
		orders:  orders,
		tx:      tx,
		ledger:  NewStockLedger(items),
		idem:    idem,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// newOrderNumber ORD-YYYYMMDD-XXXXXXXXXXXXXXXX, 64 случайных бита из uuid v4
func newOrderNumber(now time.Time) string {
	id := uuid.New()
	return "ORD-" + now.Format("20060102") + "-" + strings.ToUpper(hex.EncodeToString(id[:8]))
}

// Checkout оформляет заказ из текущей корзины пользователя
func (s *CheckoutService) Checkout(ctx context.Context, userID string, req CheckoutRequest) (*domain.Order, error) {
	start := time.Now()
	o, err := s.checkout(ctx, userID, req)
	s.observe(userID, o, err, time.Since(start))
	return o, err
}

func (s *CheckoutService) checkout(ctx context.Context, userID string, req CheckoutRequest) (*domain.Order, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	req.ShippingAddress = strings.TrimSpace(req.ShippingAddress)
	req.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	if req.ShippingAddress == "" {
		return nil, invalid("shipping address is required")
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = defaultPaymentMethod
	}

	var created *domain.Order
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		// the cart row lock serializes checkouts of the same cart
		cart, err := s.carts.GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		if len(cart.Lines) == 0 {
			return ErrEmptyCart
		}

		current, err := s.items.GetMany(ctx, cart.ItemIDs())
		if err != nil {
			return err
		}
		for _, l := range cart.Lines {
			it, ok := current[l.ItemID]
			if !ok || !it.Active {
				return unavailable(l.ItemID)
			}
			if l.Quantity > it.Stock {
				return &StockError{ItemID: it.ID, ItemName: it.Name, Requested: l.Quantity, Available: it.Stock}
			}
		}

		// item rows are taken in ascending id order
		byID := append([]domain.CartLine(nil), cart.Lines...)
		sort.Slice(byID, func(i, j int) bool { return byID[i].ItemID < byID[j].ItemID })
		decremented := make(map[int64]*domain.Item, len(byID))
		for _, l := range byID {
			it, err := s.ledger.Decrement(ctx, l.ItemID, l.Quantity)
			if err != nil {
				return err
			}
			decremented[l.ItemID] = it
		}

		now := s.now()
		o := &domain.Order{
			Number:            newOrderNumber(now),
			UserID:            userID,
			TotalAmount:       decimal.Zero,
			PaymentStatus:     domain.PaymentPending,
			FulfillmentStatus: domain.FulfillmentPending,
			ShippingAddress:   req.ShippingAddress,
			PaymentMethod:     req.PaymentMethod,
			Notes:             strings.TrimSpace(req.Notes),
			Lines:             make([]domain.OrderLine, 0, len(cart.Lines)),
		}
		for _, l := range cart.Lines {
			it := decremented[l.ItemID]
			line := domain.OrderLine{ItemID: it.ID, ItemName: it.Name, Quantity: l.Quantity, UnitPrice: it.Price}
			o.Lines = append(o.Lines, line)
			o.TotalAmount = o.TotalAmount.Add(line.Subtotal())
		}
		if err := s.orders.Create(ctx, o); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return fmt.Errorf("%w: order number collision", repository.ErrConflict)
			}
			return err
		}
		if err := s.carts.Clear(ctx, userID); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CheckoutOnce Checkout с ключом идемпотентности. Повтор с тем же ключом возвращает
// уже созданный заказ и replayed=true; повтор во время выполнения первого запроса
// получает ErrConflict.
func (s *CheckoutService) CheckoutOnce(ctx context.Context, userID, key string, req CheckoutRequest) (o *domain.Order, replayed bool, err error) {
	key = strings.TrimSpace(key)
	if key == "" || s.idem == nil {
		o, err = s.Checkout(ctx, userID, req)
		return o, false, err
	}
	if err := validateUser(userID); err != nil {
		return nil, false, err
	}
	if len(key) > maxIdempotencyKeyLen {
		return nil, false, invalid("idempotency key is longer than %d bytes", maxIdempotencyKeyLen)
	}
	scoped := userID + ":" + key

	orderID, done, err := s.idem.Begin(ctx, scoped)
	switch {
	case errors.Is(err, idempotency.ErrInFlight):
		return nil, false, fmt.Errorf("%w: %w", repository.ErrConflict, err)
	case err != nil:
		// without the store the cart lock still prevents a double checkout
		s.log.WarnContext(ctx, "idempotency store unavailable, checkout proceeds without it",
			logging.KeyUserID, userID, "error", err)
		o, err = s.Checkout(ctx, userID, req)
		return o, false, err
	case done:
		prev, err := s.orders.GetByID(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		if prev.UserID != userID {
			return nil, false, ErrForbidden
		}
		return prev, true, nil
	}

	o, err = s.Checkout(ctx, userID, req)
	if err != nil {
		if abortErr := s.idem.Abort(ctx, scoped); abortErr != nil {
			s.log.WarnContext(ctx, "release idempotency key", logging.KeyUserID, userID, "error", abortErr)
		}
		return nil, false, err
	}
	if err := s.idem.Complete(ctx, scoped, o.ID); err != nil {
		s.log.WarnContext(ctx, "store idempotency result", logging.KeyUserID, userID,
			logging.KeyOrderID, o.ID, "error", err)
	}
	return o, false, nil
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, repository.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, repository.ErrItemUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, repository.ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

func (s *CheckoutService) observe(userID string, o *domain.Order, err error, elapsed time.Duration) {
	outcome := checkoutOutcome(err)
	s.metrics.ObserveCheckout(outcome)
	attrs := []any{
		logging.KeyStep, "checkout",
		logging.KeyUserID, userID,
		logging.KeyDurationMS, elapsed.Milliseconds(),
		"outcome", outcome,
	}
	switch outcome {
	case "ok":
		attrs = append(attrs, logging.KeyStatus, "ok", logging.KeyOrderID, o.ID,
			"order_number", o.Number, "total_amount", o.TotalAmount.String())
		s.log.Info("order created", attrs...)
	case "error":
		attrs = append(attrs, logging.KeyStatus, "error", "error", err)
		s.log.Error("checkout failed", attrs...)
	default:
		attrs = append(attrs, logging.KeyStatus, "rejected", "reason", err.Error())
		s.log.Info("checkout rejected", attrs...)
	}
}
