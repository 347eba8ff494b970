package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Item позиция каталога вместе с её складским остатком
type Item struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Stock     int64           `json:"stock"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// InStock true, если товар активен и есть хотя бы одна единица
func (i Item) InStock() bool {
	return i.Active && i.Stock > 0
}

// CartLine строка корзины: товар и количество
type CartLine struct {
	ItemID   int64     `json:"item_id"`
	Quantity int64     `json:"quantity"`
	AddedAt  time.Time `json:"added_at"`
}

// Cart корзина пользователя. У каждого пользователя ровно одна корзина.
type Cart struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	Lines     []CartLine `json:"lines"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Line возвращает строку корзины по товару
func (c Cart) Line(itemID int64) (CartLine, bool) {
	for _, l := range c.Lines {
		if l.ItemID == itemID {
			return l, true
		}
	}
	return CartLine{}, false
}

// ItemIDs товары корзины в порядке строк
func (c Cart) ItemIDs() []int64 {
	ids := make([]int64, 0, len(c.Lines))
	for _, l := range c.Lines {
		ids = append(ids, l.ItemID)
	}
	return ids
}

// SortLines упорядочивает строки по времени добавления
func SortLines(lines []CartLine) {
	sort.SliceStable(lines, func(i, j int) bool {
		if lines[i].AddedAt.Equal(lines[j].AddedAt) {
			return lines[i].ItemID < lines[j].ItemID
		}
		return lines[i].AddedAt.Before(lines[j].AddedAt)
	})
}

// CartLineView строка корзины с текущей ценой товара
type CartLineView struct {
	ItemID    int64           `json:"item_id"`
	ItemName  string          `json:"item_name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int64           `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Available bool            `json:"available"`
}

// CartSnapshot представление корзины для чтения. Итоги всегда считаются заново.
type CartSnapshot struct {
	UserID     string          `json:"user_id"`
	Lines      []CartLineView  `json:"lines"`
	TotalPrice decimal.Decimal `json:"total_price"`
	TotalItems int64           `json:"total_items"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewCartSnapshot считает итоги корзины по текущим ценам товаров.
// Строки, товар которых отсутствует в items, пропускаются.
func NewCartSnapshot(c Cart, items map[int64]Item) CartSnapshot {
	s := CartSnapshot{
		UserID:     c.UserID,
		Lines:      make([]CartLineView, 0, len(c.Lines)),
		TotalPrice: decimal.Zero,
		UpdatedAt:  c.UpdatedAt,
	}
	for _, l := range c.Lines {
		it, ok := items[l.ItemID]
		if !ok {
			continue
		}
		sub := it.Price.Mul(decimal.NewFromInt(l.Quantity))
		s.Lines = append(s.Lines, CartLineView{
			ItemID:    it.ID,
			ItemName:  it.Name,
			UnitPrice: it.Price,
			Quantity:  l.Quantity,
			Subtotal:  sub,
			Available: it.Active && it.Stock >= l.Quantity,
		})
		s.TotalPrice = s.TotalPrice.Add(sub)
		s.TotalItems += l.Quantity
	}
	return s
}

// OrderLine позиция заказа. Цена копируется в момент оформления и больше не меняется.
type OrderLine struct {
	ItemID    int64           `json:"item_id"`
	ItemName  string          `json:"item_name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal стоимость позиции
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// Order сущность заказа
type Order struct {
	ID                int64             `json:"id"`
	Number            string            `json:"order_number"`
	UserID            string            `json:"user_id"`
	TotalAmount       decimal.Decimal   `json:"total_amount"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	FulfillmentStatus FulfillmentStatus `json:"order_status"`
	ShippingAddress   string            `json:"shipping_address"`
	PaymentMethod     string            `json:"payment_method"`
	Notes             string            `json:"notes,omitempty"`
	Lines             []OrderLine       `json:"lines"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// TotalItems количество единиц в заказе
func (o Order) TotalItems() int64 {
	var n int64
	for _, l := range o.Lines {
		n += l.Quantity
	}
	return n
}
