package dummy

import (
	"smartroute/pkg/types"
	"smartroute/pkg/utils"

	"github.com/shopspring/decimal"
)

type fixture struct {
	Markets []struct {
		Base     string `json:"base"`
		Quote    string `json:"quote"`
		StepSize string `json:"stepSize"`
	} `json:"markets"`
	Books map[string]struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	} `json:"books"`
	Balances map[string]string `json:"balances"`
}

func (e *DummyExchange) load(fx fixture) error {
	for _, m := range fx.Markets {
		step := decimal.Zero
		if m.StepSize != "" {
			var err error
			if step, err = utils.StrToDecimal(m.StepSize); err != nil {
				return err
			}
		}
		e.AddMarket(m.Base, m.Quote, step)
	}
	for symbol, b := range fx.Books {
		bids, err := toOrders(b.Bids)
		if err != nil {
			return err
		}
		asks, err := toOrders(b.Asks)
		if err != nil {
			return err
		}
		e.SetBook(symbol, bids, asks)
	}
	for asset, amount := range fx.Balances {
		d, err := utils.StrToDecimal(amount)
		if err != nil {
			return err
		}
		e.SetBalance(asset, d)
	}
	return nil
}

func toOrders(levels [][]string) ([]types.Order, error) {
	parsed, err := utils.PriceLevelsToDecimal(levels)
	if err != nil {
		return nil, err
	}
	out := make([]types.Order, len(parsed))
	for i, l := range parsed {
		out[i] = types.Order{Price: l[0], Quantity: l[1]}
	}
	return out, nil
}
