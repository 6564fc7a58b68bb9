// Package fill simulates market orders against a depth-ordered book snapshot.
//
// Both simulators are pure: they never fail on empty books or zero requests, they
// return a degenerate zero result instead. Callers check NoLiquidity before trusting
// an AveragePrice.
package fill

import (
	"smartroute/pkg/types"

	"github.com/shopspring/decimal"
)

// DefaultFeeRate is the taker commission applied to both legs (0.1%).
var DefaultFeeRate = decimal.RequireFromString("0.001")

// FillEpsilon is the residue below which an unfilled remainder counts as zero.
var FillEpsilon = decimal.New(1, -12)

// SellFill is the outcome of selling Requested units into a bid ladder.
type SellFill struct {
	Requested    decimal.Decimal `json:"requested"`
	Quantity     decimal.Decimal `json:"quantity"`     // fillable quantity, never above Requested
	AveragePrice decimal.Decimal `json:"averagePrice"` // best bid when nothing filled
	NetProceeds  decimal.Decimal `json:"netProceeds"`  // quantity x average, less commission
	Levels       int             `json:"levels"`       // book levels touched
	bookEmpty    bool
}

// Partial reports whether the book lacked the depth to fill the full request.
func (f SellFill) Partial() bool {
	return f.Quantity.LessThan(f.Requested)
}

// NoLiquidity reports whether the simulated book had no levels at all.
func (f SellFill) NoLiquidity() bool {
	return f.bookEmpty
}

// BuyFill is the outcome of spending Budget units of the quote asset into an ask ladder.
type BuyFill struct {
	Budget       decimal.Decimal `json:"budget"`
	AmountSpent  decimal.Decimal `json:"amountSpent"`  // gross of commission
	Quantity     decimal.Decimal `json:"quantity"`     // shares bought
	AveragePrice decimal.Decimal `json:"averagePrice"` // best ask when nothing bought
	Leftover     decimal.Decimal `json:"leftover"`     // quote notional lost to lot quantization
	Levels       int             `json:"levels"`
	bookEmpty    bool
}

// Partial reports whether the ask ladder ran out before the budget was spent.
func (f BuyFill) Partial() bool {
	return f.Quantity.IsPositive() && f.AmountSpent.LessThan(f.Budget)
}

func (f BuyFill) NoLiquidity() bool {
	return f.bookEmpty
}

// SimulateSell walks bids best-first and consumes up to requested units.
// netProceeds = filled x avg x (1 - feeRate).
func SimulateSell(requested decimal.Decimal, bids []types.Order, feeRate decimal.Decimal) SellFill {
	requested = clamp(requested)
	res := SellFill{Requested: requested, bookEmpty: len(bids) == 0}

	remaining := requested
	sum := decimal.Zero
	filled := decimal.Zero
	for _, bid := range bids {
		if !remaining.IsPositive() {
			break
		}
		if !bid.Quantity.IsPositive() {
			continue
		}
		take := decimal.Min(remaining, bid.Quantity)
		sum = sum.Add(bid.Price.Mul(take))
		filled = filled.Add(take)
		remaining = remaining.Sub(take)
		res.Levels++
	}

	if remaining.Abs().LessThanOrEqual(FillEpsilon) {
		filled = requested
	}
	res.Quantity = filled

	switch {
	case filled.IsPositive():
		res.AveragePrice = sum.Div(filled)
	case len(bids) > 0:
		res.AveragePrice = bids[0].Price
	default:
		res.AveragePrice = decimal.Zero
	}

	gross := filled.Mul(res.AveragePrice)
	res.NetProceeds = gross.Sub(gross.Mul(clamp(feeRate)))
	return res
}

// SimulateBuy walks asks best-first spending up to budget. The commission is charged
// on top of the spend: AmountSpent = spent x (1 + feeRate).
func SimulateBuy(budget decimal.Decimal, asks []types.Order, feeRate decimal.Decimal) BuyFill {
	budget = clamp(budget)
	res := BuyFill{Budget: budget, Leftover: decimal.Zero, bookEmpty: len(asks) == 0}

	remaining := budget
	spent := decimal.Zero
	shares := decimal.Zero
	for _, ask := range asks {
		if !remaining.IsPositive() {
			break
		}
		if !ask.Price.IsPositive() || !ask.Quantity.IsPositive() {
			continue
		}
		pay := decimal.Min(remaining, ask.Notional())
		spent = spent.Add(pay)
		shares = shares.Add(pay.Div(ask.Price))
		remaining = remaining.Sub(pay)
		res.Levels++
	}
	res.Quantity = shares

	switch {
	case shares.IsPositive():
		res.AveragePrice = spent.Div(shares)
	case len(asks) > 0:
		res.AveragePrice = asks[0].Price
	default:
		res.AveragePrice = decimal.Zero
	}

	res.AmountSpent = spent.Add(spent.Mul(clamp(feeRate)))
	return res
}

func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
