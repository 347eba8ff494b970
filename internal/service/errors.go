package service

import (
	"errors"
	"fmt"

	"storefront/internal/repository"
)

var (
	// ErrInvalidInput некорректные входные данные (ValidationFailed)
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyCart оформление заказа из пустой корзины
	ErrEmptyCart = errors.New("cart is empty")
	// ErrForbidden действие над чужим заказом
	ErrForbidden = errors.New("forbidden")
)

// StockError нехватка остатка по конкретному товару.
// errors.Is(err, repository.ErrInsufficientStock) для неё истинно.
type StockError struct {
	ItemID    int64
	ItemName  string
	Requested int64
	Available int64
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q (item %d): requested %d, available %d",
		e.ItemName, e.ItemID, e.Requested, e.Available)
}

func (e *StockError) Is(target error) bool { return target == repository.ErrInsufficientStock }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func unavailable(itemID int64) error {
	return fmt.Errorf("%w: item %d", repository.ErrItemUnavailable, itemID)
}
