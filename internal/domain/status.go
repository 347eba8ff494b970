package domain

import (
	"errors"
	"time"
)

// ErrInvalidTransition переход статуса не разрешён таблицей переходов
var ErrInvalidTransition = errors.New("invalid status transition")

// PaymentStatus статус оплаты заказа
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// IsSettled true, если исход оплаты уже известен
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentCompleted || s == PaymentFailed
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed:
		return true
	}
	return false
}

func (s PaymentStatus) String() string { return string(s) }

// FulfillmentStatus статус исполнения заказа. Дальше processing двигает внешняя логистика.
type FulfillmentStatus string

const (
	FulfillmentPending    FulfillmentStatus = "pending"
	FulfillmentProcessing FulfillmentStatus = "processing"
)

func (s FulfillmentStatus) Valid() bool {
	return s == FulfillmentPending || s == FulfillmentProcessing
}

func (s FulfillmentStatus) String() string { return string(s) }

// PaymentEvent событие, двигающее статус оплаты
type PaymentEvent string

const (
	EventPaymentSucceeded PaymentEvent = "succeeded"
	EventPaymentFailed    PaymentEvent = "failed"
	EventPaymentRetried   PaymentEvent = "retried"
)

type paymentTransition struct {
	from  PaymentStatus
	event PaymentEvent
}

type paymentTarget struct {
	payment     PaymentStatus
	fulfillment FulfillmentStatus // пусто: не меняется
	noop        bool
}

// paymentTransitions полная таблица: всё, чего здесь нет, отклоняется
var paymentTransitions = map[paymentTransition]paymentTarget{
	{PaymentPending, EventPaymentSucceeded}: {payment: PaymentCompleted, fulfillment: FulfillmentProcessing},
	{PaymentPending, EventPaymentFailed}:    {payment: PaymentFailed},
	{PaymentFailed, EventPaymentRetried}:    {payment: PaymentPending},

	// duplicate gateway callbacks
	{PaymentCompleted, EventPaymentSucceeded}: {noop: true},
	{PaymentCompleted, EventPaymentFailed}:    {noop: true},
	{PaymentFailed, EventPaymentSucceeded}:    {noop: true},
	{PaymentFailed, EventPaymentFailed}:       {noop: true},
	{PaymentPending, EventPaymentRetried}:     {noop: true},
}

// OutcomeEvent событие по результату оплаты
func OutcomeEvent(succeeded bool) PaymentEvent {
	if succeeded {
		return EventPaymentSucceeded
	}
	return EventPaymentFailed
}

// ApplyPayment применяет событие к заказу. Возвращает false, если состояние не изменилось.
func (o *Order) ApplyPayment(event PaymentEvent, now time.Time) (bool, error) {
	t, ok := paymentTransitions[paymentTransition{from: o.PaymentStatus, event: event}]
	if !ok {
		return false, ErrInvalidTransition
	}
	if t.noop {
		return false, nil
	}
	o.PaymentStatus = t.payment
	if t.fulfillment != "" {
		o.FulfillmentStatus = t.fulfillment
	}
	o.UpdatedAt = now
	return true, nil
}
