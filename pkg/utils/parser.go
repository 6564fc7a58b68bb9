package utils

import (
	"fmt"

	"github.com/shopspring/decimal"
)

func StrToDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fail to parse decimal '%s': %w", s, err)
	}
	return d, nil
}

// PriceLevelsToDecimal parses exchange [price, qty] string pairs. Entries with fewer
// than two fields are rejected.
func PriceLevelsToDecimal(levels [][]string) ([][2]decimal.Decimal, error) {
	out := make([][2]decimal.Decimal, len(levels))
	for i, level := range levels {
		if len(level) < 2 {
			return nil, fmt.Errorf("bad price level at %d: %v", i, level)
		}
		price, err := StrToDecimal(level[0])
		if err != nil {
			return nil, err
		}
		qty, err := StrToDecimal(level[1])
		if err != nil {
			return nil, err
		}
		out[i] = [2]decimal.Decimal{price, qty}
	}
	return out, nil
}
