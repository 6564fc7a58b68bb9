package fill

import "github.com/shopspring/decimal"

// Quantize floors the bought quantity to a multiple of minStep. The dropped
// remainder is taken out of AmountSpent at the average price and added to Leftover,
// so Leftover + AmountSpent is unchanged. A non-positive minStep means the market
// has no lot rule and the fill is returned as is.
func Quantize(buy BuyFill, minStep decimal.Decimal) BuyFill {
	if !minStep.IsPositive() || !buy.Quantity.IsPositive() {
		return buy
	}
	unusable := buy.Quantity.Mod(minStep)
	if unusable.IsZero() {
		return buy
	}

	out := buy
	out.Quantity = buy.Quantity.Sub(unusable)
	out.AmountSpent = buy.AmountSpent.Sub(unusable.Mul(buy.AveragePrice))
	out.Leftover = buy.Leftover.Add(buy.AmountSpent.Sub(out.AmountSpent))
	return out
}

// FloorToStep floors qty to a multiple of step; used for order quantities.
func FloorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Sub(qty.Mod(step))
}
