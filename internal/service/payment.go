package service

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"
)

// ChargeRequest данные для списания оплаты по заказу
type ChargeRequest struct {
	OrderNumber  string
	Amount       decimal.Decimal
	Method       string
	CardLastFour string
}

// PaymentGateway внешний платёжный шлюз; возвращает исход списания
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (succeeded bool, err error)
}

// SimulatedGateway имитация шлюза: отказ с вероятностью failureRate.
// При failureRate = 0 оплата всегда проходит.
type SimulatedGateway struct {
	failureRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulatedGateway(failureRate float64, seed uint64) *SimulatedGateway {
	return &SimulatedGateway{failureRate: failureRate, rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

var _ PaymentGateway = (*SimulatedGateway)(nil)

func (g *SimulatedGateway) Charge(ctx context.Context, _ ChargeRequest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if g.failureRate <= 0 {
		return true, nil
	}
	if g.failureRate >= 1 {
		return false, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64() >= g.failureRate, nil
}
