package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"storefront/internal/domain"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/repository"
)

// OrderService чтение заказов и машина состояний оплаты
type OrderService struct {
	orders  repository.OrderRepository
	tx      repository.TxManager
	gateway PaymentGateway
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOrderService(orders repository.OrderRepository, tx repository.TxManager, gateway PaymentGateway, log *slog.Logger, m *metrics.Metrics) *OrderService {
	if log == nil {
		log = slog.Default()
	}
	return &OrderService{
		orders:  orders,
		tx:      tx,
		gateway: gateway,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PaymentRequest запрос оплаты. Succeeded == nil: исход решает платёжный шлюз.
type PaymentRequest struct {
	Succeeded     *bool
	PaymentMethod string
	CardLastFour  string
}

func ownedBy(o *domain.Order, userID string) error {
	if o.UserID != userID {
		return ErrForbidden
	}
	return nil
}

// GetOrder возвращает заказ по id; чужой заказ даёт ErrForbidden
func (s *OrderService) GetOrder(ctx context.Context, userID string, id int64) (*domain.Order, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, invalid("order id must be positive")
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := ownedBy(o, userID); err != nil {
		return nil, err
	}
	return o, nil
}

// ListOrders заказы пользователя, новые первыми
func (s *OrderService) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	return s.orders.ListByUser(ctx, userID)
}

// MarkPaymentOutcome фиксирует исход оплаты. Повторный вызов по уже оплаченному
// или отклонённому заказу возвращает текущее состояние без изменений.
func (s *OrderService) MarkPaymentOutcome(ctx context.Context, userID string, id int64, succeeded bool) (*domain.Order, error) {
	return s.apply(ctx, userID, id, fixedEvent(domain.OutcomeEvent(succeeded), ""))
}

// RetryPayment возвращает отклонённую оплату в pending. Из pending ничего не меняет,
// для оплаченного заказа ErrInvalidTransition.
func (s *OrderService) RetryPayment(ctx context.Context, userID string, id int64) (*domain.Order, error) {
	return s.apply(ctx, userID, id, fixedEvent(domain.EventPaymentRetried, ""))
}

// ProcessPayment проводит оплату: явный исход из запроса или решение шлюза.
// Шлюз вызывается под блокировкой строки заказа и только для неоплаченного заказа,
// поэтому параллельные запросы не списывают деньги дважды.
func (s *OrderService) ProcessPayment(ctx context.Context, userID string, id int64, req PaymentRequest) (*domain.Order, error) {
	if req.CardLastFour != "" && !isCardSuffix(req.CardLastFour) {
		return nil, invalid("card_last_four must be exactly four digits")
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if req.Succeeded != nil {
		return s.apply(ctx, userID, id, fixedEvent(domain.OutcomeEvent(*req.Succeeded), method))
	}
	return s.apply(ctx, userID, id, func(ctx context.Context, o *domain.Order) (domain.PaymentEvent, bool, error) {
		if o.PaymentStatus.IsSettled() {
			return "", false, nil
		}
		if method != "" {
			o.PaymentMethod = method
		}
		ok, err := s.gateway.Charge(ctx, ChargeRequest{
			OrderNumber:  o.Number,
			Amount:       o.TotalAmount,
			Method:       o.PaymentMethod,
			CardLastFour: req.CardLastFour,
		})
		if err != nil {
			return "", false, err
		}
		return domain.OutcomeEvent(ok), true, nil
	})
}

// decideFunc выбирает событие для заблокированного заказа; false означает
// оставить заказ как есть
type decideFunc func(ctx context.Context, o *domain.Order) (domain.PaymentEvent, bool, error)

func fixedEvent(event domain.PaymentEvent, method string) decideFunc {
	return func(_ context.Context, o *domain.Order) (domain.PaymentEvent, bool, error) {
		if method != "" && !o.PaymentStatus.IsSettled() {
			o.PaymentMethod = method
		}
		return event, true, nil
	}
}

func (s *OrderService) apply(ctx context.Context, userID string, id int64, decide decideFunc) (*domain.Order, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, invalid("order id must be positive")
	}
	var (
		updated *domain.Order
		changed bool
		event   domain.PaymentEvent
		from    domain.PaymentStatus
	)
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.orders.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := ownedBy(o, userID); err != nil {
			return err
		}
		from = o.PaymentStatus
		ev, proceed, err := decide(ctx, o)
		if err != nil {
			return err
		}
		if proceed {
			event = ev
			changed, err = o.ApplyPayment(event, s.now())
			if err != nil {
				return err
			}
		}
		if changed {
			if err := s.orders.UpdateStatus(ctx, o); err != nil {
				return err
			}
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := "noop"
	if changed {
		switch event {
		case domain.EventPaymentSucceeded:
			outcome = "completed"
		case domain.EventPaymentFailed:
			outcome = "failed"
		case domain.EventPaymentRetried:
			outcome = "retried"
		}
	}
	s.metrics.ObservePayment(outcome)
	s.log.Info("payment transition",
		logging.KeyStep, "payment",
		logging.KeyStatus, outcome,
		logging.KeyUserID, userID,
		logging.KeyOrderID, updated.ID,
		"event", string(event),
		"from", from.String(),
		"to", updated.PaymentStatus.String(),
	)
	return updated, nil
}

func isCardSuffix(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
