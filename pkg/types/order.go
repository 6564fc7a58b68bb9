package types

import "github.com/shopspring/decimal"

type OrderSide string

const (
	OrderSideBuy  = OrderSide("buy")
	OrderSideSell = OrderSide("sell")
)

type OrderType string

const (
	OrderMarket = OrderType("market")
)

// Order is one price level of a book snapshot.
type Order struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Notional is price x quantity.
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(o.Quantity)
}
