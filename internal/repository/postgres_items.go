package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

var _ ItemRepository = (*PostgresStore)(nil)

const itemColumns = `id, name, price::text, stock, active, created_at, updated_at`

func scanItem(row pgx.Row) (*domain.Item, error) {
	var it domain.Item
	var price string
	if err := row.Scan(&it.ID, &it.Name, &price, &it.Stock, &it.Active, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse item price %q: %w", price, err)
	}
	it.Price = p
	return &it, nil
}

func decimalArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func (s *PostgresStore) Create(ctx context.Context, it *domain.Item) error {
	err := s.q(ctx).QueryRow(ctx,
		`INSERT INTO items (name, price, stock, active) VALUES ($1, $2::text::numeric, $3, $4)
		 RETURNING id, created_at, updated_at`,
		it.Name, it.Price.String(), it.Stock, it.Active,
	).Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return mapPgError(fmt.Errorf("insert item: %w", err))
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*domain.Item, error) {
	it, err := scanItem(s.q(ctx).QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query item by id: %w", err)
	}
	return it, nil
}

func (s *PostgresStore) GetMany(ctx context.Context, ids []int64) (map[int64]domain.Item, error) {
	out := make(map[int64]domain.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.q(ctx).Query(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		out[it.ID] = *it
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, it *domain.Item) error {
	err := s.q(ctx).QueryRow(ctx,
		`UPDATE items SET name = $2, price = $3::text::numeric, stock = $4, active = $5, updated_at = now()
		 WHERE id = $1 RETURNING created_at, updated_at`,
		it.ID, it.Name, it.Price.String(), it.Stock, it.Active,
	).Scan(&it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return mapPgError(fmt.Errorf("update item: %w", err))
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, f ItemFilter) ([]domain.Item, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE ($1 OR active)
		   AND ($2 = '' OR name ILIKE '%' || $2 || '%')
		   AND ($3::text IS NULL OR price >= $3::text::numeric)
		   AND ($4::text IS NULL OR price <= $4::text::numeric)
		 ORDER BY id`,
		f.IncludeInactive, f.NameSubstring, decimalArg(f.MinPrice), decimalArg(f.MaxPrice),
	)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	out := make([]domain.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		out = append(out, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetActive(ctx context.Context, id int64, active bool) (*domain.Item, error) {
	it, err := scanItem(s.q(ctx).QueryRow(ctx,
		`UPDATE items SET active = $2,
			updated_at = CASE WHEN active = $2 THEN updated_at ELSE now() END
		 WHERE id = $1 RETURNING `+itemColumns,
		id, active,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapPgError(fmt.Errorf("set item active: %w", err))
	}
	return it, nil
}

// DecrementStock условная запись: строка меняется, только если остатка хватает.
// Причину отказа уточняет отдельный запрос.
func (s *PostgresStore) DecrementStock(ctx context.Context, id int64, amount int64) (*domain.Item, error) {
	if amount <= 0 {
		return nil, errNonPositiveAmount
	}
	it, err := scanItem(s.q(ctx).QueryRow(ctx,
		`UPDATE items SET stock = stock - $2, updated_at = now()
		 WHERE id = $1 AND active AND stock >= $2
		 RETURNING `+itemColumns,
		id, amount,
	))
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, mapPgError(fmt.Errorf("decrement stock: %w", err))
	}

	var active bool
	err = s.q(ctx).QueryRow(ctx, `SELECT active FROM items WHERE id = $1`, id).Scan(&active)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, mapPgError(fmt.Errorf("query item state: %w", err))
	case !active:
		return nil, ErrItemUnavailable
	default:
		return nil, ErrInsufficientStock
	}
}
