package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

// PostgresOrders OrderRepository на таблицах orders и order_lines
type PostgresOrders struct{ store *PostgresStore }

func NewPostgresOrders(store *PostgresStore) *PostgresOrders { return &PostgresOrders{store: store} }

var _ OrderRepository = (*PostgresOrders)(nil)

const orderColumns = `id, order_number, user_id, total_amount::text, payment_status, fulfillment_status,
	shipping_address, payment_method, notes, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var total string
	if err := row.Scan(&o.ID, &o.Number, &o.UserID, &total, &o.PaymentStatus, &o.FulfillmentStatus,
		&o.ShippingAddress, &o.PaymentMethod, &o.Notes, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse order total %q: %w", total, err)
	}
	o.TotalAmount = d
	return &o, nil
}

// Create сохраняет заказ и его позиции в одной транзакции
func (po *PostgresOrders) Create(ctx context.Context, o *domain.Order) error {
	return po.store.withTx(ctx, func(ctx context.Context) error {
		q := po.store.q(ctx)
		err := q.QueryRow(ctx,
			`INSERT INTO orders (order_number, user_id, total_amount, payment_status, fulfillment_status,
				shipping_address, payment_method, notes)
			 VALUES ($1, $2, $3::text::numeric, $4, $5, $6, $7, $8)
			 RETURNING id, created_at, updated_at`,
			o.Number, o.UserID, o.TotalAmount.String(), o.PaymentStatus, o.FulfillmentStatus,
			o.ShippingAddress, o.PaymentMethod, o.Notes,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return mapPgError(fmt.Errorf("insert order: %w", err))
		}

		b := &pgx.Batch{}
		for _, l := range o.Lines {
			b.Queue(`INSERT INTO order_lines (order_id, item_id, item_name, quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5::text::numeric)`,
				o.ID, l.ItemID, l.ItemName, l.Quantity, l.UnitPrice.String())
		}
		br := q.SendBatch(ctx, b)
		for range o.Lines {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return mapPgError(fmt.Errorf("insert order line: %w", err))
			}
		}
		if err := br.Close(); err != nil {
			return mapPgError(fmt.Errorf("insert order lines: %w", err))
		}
		return nil
	})
}

func (po *PostgresOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	return po.get(ctx, id, false)
}

func (po *PostgresOrders) GetForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	_, inTx := pgTxFromContext(ctx)
	return po.get(ctx, id, inTx)
}

func (po *PostgresOrders) get(ctx context.Context, id int64, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(po.store.q(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mapPgError(fmt.Errorf("query order by id: %w", err))
	}
	lines, err := po.lines(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Lines = lines[o.ID]
	return o, nil
}

func (po *PostgresOrders) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	rows, err := po.store.q(ctx).Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Order, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		out = append(out, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	rows.Close()

	lines, err := po.lines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (po *PostgresOrders) lines(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderLine, error) {
	out := make(map[int64][]domain.OrderLine, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := po.store.q(ctx).Query(ctx,
		`SELECT order_id, item_id, item_name, quantity, unit_price::text
		 FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, id`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var orderID int64
		var l domain.OrderLine
		var price string
		if err := rows.Scan(&orderID, &l.ItemID, &l.ItemName, &l.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse unit price %q: %w", price, err)
		}
		l.UnitPrice = p
		out[orderID] = append(out[orderID], l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// UpdateStatus меняет статусы, способ оплаты и время обновления
func (po *PostgresOrders) UpdateStatus(ctx context.Context, o *domain.Order) error {
	err := po.store.q(ctx).QueryRow(ctx,
		`UPDATE orders SET payment_status = $2, fulfillment_status = $3,
		        payment_method = COALESCE(NULLIF($4, ''), payment_method), updated_at = clock_timestamp()
		 WHERE id = $1 RETURNING payment_method, updated_at`,
		o.ID, o.PaymentStatus, o.FulfillmentStatus, o.PaymentMethod,
	).Scan(&o.PaymentMethod, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return mapPgError(fmt.Errorf("update order status: %w", err))
	}
	return nil
}
