package order

import (
	"smartroute/pkg/types"

	"github.com/shopspring/decimal"
)

// Fill is one execution reported by the exchange for a market order.
type Fill struct {
	TradeId         int64           `json:"tradeId"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"qty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
}

// Result is the outcome of a market order.
type Result struct {
	Id            string          `json:"id"`
	Symbol        string          `json:"symbol"`
	OrderType     types.OrderType `json:"type"`
	OrderSide     types.OrderSide `json:"side"`
	Status        string          `json:"status"`
	OrigQty       decimal.Decimal `json:"origQty"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	QuoteQuantity decimal.Decimal `json:"cummulativeQuoteQty"`
	Fills         []Fill          `json:"fills"`
}

// Summary is the quantity-weighted view of a set of fills.
type Summary struct {
	Price      decimal.Decimal            `json:"price"` // weighted average
	Quantity   decimal.Decimal            `json:"qty"`
	Notional   decimal.Decimal            `json:"notional"`
	Commission map[string]decimal.Decimal `json:"commission"` // per commission asset
	Trades     int                        `json:"trades"`
}

// Aggregate folds fills into a single weighted price and totals.
// An empty or zero-quantity set has a zero price.
func Aggregate(fills []Fill) Summary {
	s := Summary{
		Price:      decimal.Zero,
		Quantity:   decimal.Zero,
		Notional:   decimal.Zero,
		Commission: make(map[string]decimal.Decimal),
	}
	for _, f := range fills {
		s.Quantity = s.Quantity.Add(f.Quantity)
		s.Notional = s.Notional.Add(f.Price.Mul(f.Quantity))
		if f.CommissionAsset != "" {
			s.Commission[f.CommissionAsset] = s.Commission[f.CommissionAsset].Add(f.Commission)
		}
		s.Trades++
	}
	if s.Quantity.IsPositive() {
		s.Price = s.Notional.Div(s.Quantity)
	}
	return s
}

// PaidIn reports whether any commission was charged in asset.
func (s Summary) PaidIn(asset string) bool {
	c, ok := s.Commission[asset]
	return ok && c.IsPositive()
}
