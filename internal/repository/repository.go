package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

var (
	// ErrNotFound возвращается, когда сущность не найдена
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock остаток меньше запрошенного, запас не изменён
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrItemUnavailable товар снят с продажи
	ErrItemUnavailable = errors.New("item unavailable")
	// ErrConflict конфликт конкурентных транзакций, запрос можно повторить
	ErrConflict = errors.New("concurrent update conflict, retry the request")
	// ErrDuplicate нарушение уникальности
	ErrDuplicate = errors.New("duplicate key")
)

// ItemFilter параметры фильтрации списка товаров
type ItemFilter struct {
	NameSubstring   string
	MinPrice        *decimal.Decimal
	MaxPrice        *decimal.Decimal
	IncludeInactive bool
}

// ItemRepository каталог и складской учёт
type ItemRepository interface {
	Create(ctx context.Context, it *domain.Item) error
	GetByID(ctx context.Context, id int64) (*domain.Item, error)
	GetMany(ctx context.Context, ids []int64) (map[int64]domain.Item, error)
	Update(ctx context.Context, it *domain.Item) error
	List(ctx context.Context, f ItemFilter) ([]domain.Item, error)
	// SetActive меняет только флаг продажи, остаток не трогает
	SetActive(ctx context.Context, id int64, active bool) (*domain.Item, error)
	// DecrementStock уменьшает остаток, только если его хватает. Проверка и списание
	// выполняются одной операцией. Возвращает товар после списания.
	DecrementStock(ctx context.Context, id int64, amount int64) (*domain.Item, error)
}

// CartRepository корзины пользователей. Внутри транзакции GetOrCreate блокирует
// корзину пользователя до конца транзакции.
type CartRepository interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error)
	SetLine(ctx context.Context, userID string, itemID, quantity int64) error
	DeleteLine(ctx context.Context, userID string, itemID int64) error
	Clear(ctx context.Context, userID string) error
}

// OrderRepository интерфейс репозитория заказов
type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	// GetForUpdate внутри транзакции блокирует заказ до её завершения
	GetForUpdate(ctx context.Context, id int64) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, o *domain.Order) error
}

// TxManager абстракция транзакции. Вложенный вызов присоединяется к внешней транзакции.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// helper: case-insensitive contains
func containsIgnoreCase(s, substr string) bool {
	if substr == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func matchesFilter(it domain.Item, f ItemFilter) bool {
	if !f.IncludeInactive && !it.Active {
		return false
	}
	if !containsIgnoreCase(it.Name, f.NameSubstring) {
		return false
	}
	if f.MinPrice != nil && it.Price.LessThan(*f.MinPrice) {
		return false
	}
	if f.MaxPrice != nil && it.Price.GreaterThan(*f.MaxPrice) {
		return false
	}
	return true
}
