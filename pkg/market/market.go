package market

import (
	"errors"

	"smartroute/pkg/types"

	"github.com/shopspring/decimal"
)

type Market struct {
	ExchangeName types.ExchangeName
	Symbol       string // exchange symbol, e.g. ETHBTC
	BaseAsset    string // traded asset, e.g. ETH
	QuoteAsset   string // pricing asset, e.g. BTC
	Trading      bool

	TickSize    decimal.Decimal // min price movement
	MinNotional decimal.Decimal // min order value in quote asset
	LotMinQty   decimal.Decimal // min order quantity
	LotMaxQty   decimal.Decimal // max order quantity
	LotStepSize decimal.Decimal // order quantity granularity (e.g. 0.01 means 25.001 ETH is invalid)

	MakerFeePct decimal.Decimal // e.g. 0.001 means 0.1%
	TakerFeePct decimal.Decimal
}

func New(exchangeName types.ExchangeName, symbol, base, quote string) *Market {
	return &Market{
		ExchangeName: exchangeName,
		Symbol:       symbol,
		BaseAsset:    base,
		QuoteAsset:   quote,
		Trading:      true,
	}
}

// Symbol joins a traded asset and its quote into an exchange symbol.
func Symbol(base, quote string) string {
	return base + quote
}

// MinSteps holds the lot step of a sell-leg and buy-leg market pair.
type MinSteps struct {
	A decimal.Decimal `json:"a"`
	B decimal.Decimal `json:"b"`
}

var ErrUnknownMarket = errors.New("unknown market")
