// Package route builds, ranks and finalizes two-leg conversion routes through a
// bridge asset.
package route

import (
	"errors"

	"smartroute/pkg/fill"

	"github.com/shopspring/decimal"
)

var (
	ErrNoRoute      = errors.New("no route available")
	ErrInvalidQuery = errors.New("invalid route query")
)

// SellLeg sells the query asset into the bridge on market SELL+BRIDGE.
type SellLeg struct {
	Market  string          `json:"market"`
	MinStep decimal.Decimal `json:"minStep"`
	Fill    fill.SellFill   `json:"fill"`
}

// BuyLeg spends the sell-leg proceeds on market BUY+BRIDGE.
type BuyLeg struct {
	Market  string          `json:"market"`
	MinStep decimal.Decimal `json:"minStep"`
	Fill    fill.BuyFill    `json:"fill"`
}

// Route is one bridge's simulated outcome. Routes are values; a new book or size
// produces a new Route.
type Route struct {
	Bridge  string          `json:"bridge"`
	SellLeg SellLeg         `json:"sellLeg"`
	BuyLeg  BuyLeg          `json:"buyLeg"`
	Ratio   decimal.Decimal `json:"ratio"` // sell avg / buy avg, zero without buy liquidity
}

// NewRoute chains the two legs and computes the ratio.
func NewRoute(bridge string, sell SellLeg, buy BuyLeg) Route {
	return Route{
		Bridge:  bridge,
		SellLeg: sell,
		BuyLeg:  buy,
		Ratio:   Ratio(sell.Fill.AveragePrice, buy.Fill.AveragePrice),
	}
}

func Ratio(sellAvg, buyAvg decimal.Decimal) decimal.Decimal {
	if !buyAvg.IsPositive() {
		return decimal.Zero
	}
	return sellAvg.Div(buyAvg)
}

// RouteSet holds every route found for one (sell, buy, size) query, in bridge
// input order.
type RouteSet struct {
	SellAsset string          `json:"sellAsset"`
	BuyAsset  string          `json:"buyAsset"`
	Size      decimal.Decimal `json:"size"`
	Routes    []Route         `json:"routes"`
}

func (s RouteSet) Empty() bool {
	return len(s.Routes) == 0
}

type Query struct {
	SellAsset string          `json:"sellAsset"`
	BuyAsset  string          `json:"buyAsset"`
	Bridges   []string        `json:"bridges,omitempty"`
	Size      decimal.Decimal `json:"size"`
}
