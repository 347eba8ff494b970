package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// CartService корзина пользователя. Проверка остатка при правке корзины
// только предварительная, окончательная проверка идёт при оформлении заказа.
type CartService struct {
	items repository.ItemRepository
	carts repository.CartRepository
	tx    repository.TxManager
}

func NewCartService(items repository.ItemRepository, carts repository.CartRepository, tx repository.TxManager) *CartService {
	return &CartService{items: items, carts: carts, tx: tx}
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return invalid("user id is required")
	}
	return nil
}

// AddLine прибавляет quantity к строке товара, создавая её при необходимости
func (s *CartService) AddLine(ctx context.Context, userID string, itemID, quantity int64) (*domain.CartSnapshot, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, invalid("quantity must be a positive integer, got %d", quantity)
	}
	var snap *domain.CartSnapshot
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		cart, err := s.carts.GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		it, err := s.items.GetByID(ctx, itemID)
		if errors.Is(err, repository.ErrNotFound) {
			return unavailable(itemID)
		}
		if err != nil {
			return err
		}
		if !it.Active {
			return unavailable(itemID)
		}
		total := quantity
		if line, ok := cart.Line(itemID); ok {
			total += line.Quantity
		}
		if total > it.Stock {
			return &StockError{ItemID: it.ID, ItemName: it.Name, Requested: total, Available: it.Stock}
		}
		if err := s.carts.SetLine(ctx, userID, itemID, total); err != nil {
			return err
		}
		snap, err = s.snapshot(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// UpdateLine задаёт количество напрямую; quantity <= 0 удаляет строку
func (s *CartService) UpdateLine(ctx context.Context, userID string, itemID, quantity int64) (*domain.CartSnapshot, error) {
	if quantity <= 0 {
		return s.RemoveLine(ctx, userID, itemID)
	}
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	var snap *domain.CartSnapshot
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		cart, err := s.carts.GetOrCreate(ctx, userID)
		if err != nil {
			return err
		}
		it, err := s.items.GetByID(ctx, itemID)
		if err != nil {
			return err
		}
		if _, ok := cart.Line(itemID); !ok {
			return fmt.Errorf("%w: item %d is not in the cart", repository.ErrNotFound, itemID)
		}
		if !it.Active {
			return unavailable(itemID)
		}
		if quantity > it.Stock {
			return &StockError{ItemID: it.ID, ItemName: it.Name, Requested: quantity, Available: it.Stock}
		}
		if err := s.carts.SetLine(ctx, userID, itemID, quantity); err != nil {
			return err
		}
		snap, err = s.snapshot(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// RemoveLine удаляет строку; отсутствие строки не ошибка
func (s *CartService) RemoveLine(ctx context.Context, userID string, itemID int64) (*domain.CartSnapshot, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	var snap *domain.CartSnapshot
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.carts.DeleteLine(ctx, userID, itemID); err != nil {
			return err
		}
		var err error
		snap, err = s.snapshot(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *CartService) Clear(ctx context.Context, userID string) (*domain.CartSnapshot, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	var snap *domain.CartSnapshot
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.carts.Clear(ctx, userID); err != nil {
			return err
		}
		var err error
		snap, err = s.snapshot(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Snapshot корзина с итогами по текущим ценам; создаёт корзину при первом обращении
func (s *CartService) Snapshot(ctx context.Context, userID string) (*domain.CartSnapshot, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	return s.snapshot(ctx, userID)
}

func (s *CartService) snapshot(ctx context.Context, userID string) (*domain.CartSnapshot, error) {
	cart, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	items, err := s.items.GetMany(ctx, cart.ItemIDs())
	if err != nil {
		return nil, err
	}
	snap := domain.NewCartSnapshot(*cart, items)
	return &snap, nil
}
