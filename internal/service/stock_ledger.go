package service

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// StockLedger единственный источник правды о доступном остатке товара
type StockLedger struct {
	items repository.ItemRepository
}

func NewStockLedger(items repository.ItemRepository) *StockLedger {
	return &StockLedger{items: items}
}

// Available текущий остаток; NotFound, если товара нет или он снят с продажи
func (l *StockLedger) Available(ctx context.Context, itemID int64) (int64, error) {
	it, err := l.items.GetByID(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if !it.Active {
		return 0, fmt.Errorf("%w: item %d is inactive", repository.ErrNotFound, itemID)
	}
	return it.Stock, nil
}

// Decrement атомарно списывает amount единиц. При нехватке остаток не меняется,
// ошибка называет товар.
func (l *StockLedger) Decrement(ctx context.Context, itemID, amount int64) (*domain.Item, error) {
	if amount <= 0 {
		return nil, invalid("amount must be positive, got %d", amount)
	}
	it, err := l.items.DecrementStock(ctx, itemID, amount)
	if errors.Is(err, repository.ErrInsufficientStock) {
		return nil, l.shortfall(ctx, itemID, amount)
	}
	if errors.Is(err, repository.ErrItemUnavailable) {
		return nil, unavailable(itemID)
	}
	return it, err
}

// shortfall builds a StockError from a fresh read of the item
func (l *StockLedger) shortfall(ctx context.Context, itemID, requested int64) error {
	se := &StockError{ItemID: itemID, Requested: requested}
	if it, err := l.items.GetByID(ctx, itemID); err == nil {
		se.ItemName = it.Name
		se.Available = it.Stock
	}
	return se
}
