package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// MoneyPlaces число знаков после запятой у денежных сумм в ответах
const MoneyPlaces = 2

// money отдаёт сумму строкой с фиксированными двумя знаками: "300.00", а не "300"
type money decimal.Decimal

func (m money) MarshalJSON() ([]byte, error) {
	return json.Marshal(decimal.Decimal(m).StringFixed(MoneyPlaces))
}

func (it Item) MarshalJSON() ([]byte, error) {
	type plain Item
	return json.Marshal(struct {
		plain
		Price money `json:"price"`
	}{plain(it), money(it.Price)})
}

func (v CartLineView) MarshalJSON() ([]byte, error) {
	type plain CartLineView
	return json.Marshal(struct {
		plain
		UnitPrice money `json:"unit_price"`
		Subtotal  money `json:"subtotal"`
	}{plain(v), money(v.UnitPrice), money(v.Subtotal)})
}

func (s CartSnapshot) MarshalJSON() ([]byte, error) {
	type plain CartSnapshot
	return json.Marshal(struct {
		plain
		TotalPrice money `json:"total_price"`
	}{plain(s), money(s.TotalPrice)})
}

func (l OrderLine) MarshalJSON() ([]byte, error) {
	type plain OrderLine
	return json.Marshal(struct {
		plain
		UnitPrice money `json:"unit_price"`
		Subtotal  money `json:"subtotal"`
	}{plain(l), money(l.UnitPrice), money(l.Subtotal())})
}

func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		TotalAmount money `json:"total_amount"`
	}{plain(o), money(o.TotalAmount)})
}
