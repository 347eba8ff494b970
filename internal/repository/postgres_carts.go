package repository

import (
	"context"
	"fmt"

	"storefront/internal/domain"
)

// PostgresCarts CartRepository на таблицах carts и cart_lines
type PostgresCarts struct{ store *PostgresStore }

func NewPostgresCarts(store *PostgresStore) *PostgresCarts { return &PostgresCarts{store: store} }

var _ CartRepository = (*PostgresCarts)(nil)

// GetOrCreate: конкурентное первое обращение гасится ON CONFLICT DO NOTHING,
// после чего корзина перечитывается.
func (pc *PostgresCarts) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	q := pc.store.q(ctx)
	if _, err := q.Exec(ctx, `INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, mapPgError(fmt.Errorf("create cart: %w", err))
	}

	query := `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`
	if _, inTx := pgTxFromContext(ctx); inTx {
		query += ` FOR UPDATE`
	}
	var c domain.Cart
	if err := q.QueryRow(ctx, query, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, mapPgError(fmt.Errorf("query cart: %w", err))
	}

	rows, err := q.Query(ctx,
		`SELECT item_id, quantity, added_at FROM cart_lines WHERE cart_id = $1 ORDER BY added_at, item_id`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart lines: %w", err)
	}
	defer rows.Close()
	c.Lines = make([]domain.CartLine, 0)
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.ItemID, &l.Quantity, &l.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		c.Lines = append(c.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return &c, nil
}

func (pc *PostgresCarts) SetLine(ctx context.Context, userID string, itemID, quantity int64) error {
	if quantity <= 0 {
		return errNonPositiveAmount
	}
	_, err := pc.store.q(ctx).Exec(ctx,
		`WITH c AS (
			INSERT INTO carts (user_id) VALUES ($1)
			ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
			RETURNING id
		)
		INSERT INTO cart_lines (cart_id, item_id, quantity)
		SELECT id, $2, $3 FROM c
		ON CONFLICT (cart_id, item_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		userID, itemID, quantity,
	)
	if err != nil {
		return mapPgError(fmt.Errorf("upsert cart line: %w", err))
	}
	return nil
}

func (pc *PostgresCarts) DeleteLine(ctx context.Context, userID string, itemID int64) error {
	return pc.deleteLines(ctx,
		`DELETE FROM cart_lines l USING carts c WHERE l.cart_id = c.id AND c.user_id = $1 AND l.item_id = $2`,
		userID, itemID)
}

func (pc *PostgresCarts) Clear(ctx context.Context, userID string) error {
	return pc.deleteLines(ctx,
		`DELETE FROM cart_lines l USING carts c WHERE l.cart_id = c.id AND c.user_id = $1`,
		userID)
}

func (pc *PostgresCarts) deleteLines(ctx context.Context, query string, args ...any) error {
	q := pc.store.q(ctx)
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return mapPgError(fmt.Errorf("delete cart lines: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	if _, err := q.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE user_id = $1`, args[0]); err != nil {
		return mapPgError(fmt.Errorf("touch cart: %w", err))
	}
	return nil
}
