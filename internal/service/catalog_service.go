package service

import (
	"context"
	"strings"

	"storefront/internal/domain"
	"storefront/internal/repository"
)

// CatalogService администрирование каталога: заведение и правка товаров
type CatalogService struct {
	repo repository.ItemRepository
}

func NewCatalogService(repo repository.ItemRepository) *CatalogService {
	return &CatalogService{repo: repo}
}

func validateItem(it domain.Item) error {
	if strings.TrimSpace(it.Name) == "" {
		return invalid("name is required")
	}
	if it.Price.IsNegative() {
		return invalid("price must not be negative")
	}
	if !it.Price.Equal(it.Price.Round(2)) {
		return invalid("price has more than two decimal places")
	}
	if it.Stock < 0 {
		return invalid("stock must not be negative")
	}
	return nil
}

// Create заводит товар; новый товар сразу в продаже
func (s *CatalogService) Create(ctx context.Context, it domain.Item) (*domain.Item, error) {
	it.Name = strings.TrimSpace(it.Name)
	if err := validateItem(it); err != nil {
		return nil, err
	}
	cp := it
	cp.ID = 0
	cp.Active = true
	if err := s.repo.Create(ctx, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *CatalogService) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	if id <= 0 {
		return nil, invalid("id must be positive")
	}
	return s.repo.GetByID(ctx, id)
}

// Update полная замена полей товара. Уже оформленные заказы хранят свою цену.
func (s *CatalogService) Update(ctx context.Context, it domain.Item) (*domain.Item, error) {
	if it.ID <= 0 {
		return nil, invalid("id must be positive")
	}
	it.Name = strings.TrimSpace(it.Name)
	if err := validateItem(it); err != nil {
		return nil, err
	}
	cp := it
	if err := s.repo.Update(ctx, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Deactivate снимает товар с продажи. Строки заказов ссылаются на товар,
// поэтому он не удаляется.
func (s *CatalogService) Deactivate(ctx context.Context, id int64) (*domain.Item, error) {
	if id <= 0 {
		return nil, invalid("id must be positive")
	}
	return s.repo.SetActive(ctx, id, false)
}

func (s *CatalogService) List(ctx context.Context, f repository.ItemFilter) ([]domain.Item, error) {
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return nil, invalid("min_price is greater than max_price")
	}
	return s.repo.List(ctx, f)
}
