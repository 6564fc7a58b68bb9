package exchange

import (
	"context"
	"errors"
	"fmt"

	"smartroute/config"
	"smartroute/pkg/exchange/bns"
	"smartroute/pkg/exchange/dummy"
	"smartroute/pkg/market"
	"smartroute/pkg/order"
	"smartroute/pkg/stream"
	"smartroute/pkg/types"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownMarket       = market.ErrUnknownMarket
	ErrUnsupportedExchange = errors.New("unsupported exchange")
)

// ╔═════ Collaborators ═════╗
// Routing code depends on the narrowest of these it needs; Exchange bundles them
// for the registry and the REST layer.
// ╚═════════════════════════╝

type MarketLister interface {
	GetMarket(symbol string) *market.Market
	Markets() []*market.Market
}

// BookFetcher returns a one-shot snapshot, bids descending and asks ascending.
type BookFetcher interface {
	FetchBook(ctx context.Context, symbol string) (types.Book, error)
}

// BookSubscriber streams full-book replacement snapshots. Subscribing the same
// symbol twice opens two independent streams.
type BookSubscriber interface {
	SubscribeBook(ctx context.Context, symbol string, onUpdate func(types.Book)) (stream.Stream, error)
}

type TradeSubscriber interface {
	SubscribeTrades(ctx context.Context, symbol string, onTrade func(types.TradeEvent)) (stream.Stream, error)
}

type RulesFetcher interface {
	FetchMinSteps(ctx context.Context, marketA, marketB string) (market.MinSteps, error)
}

type PriceFetcher interface {
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	FetchPrices(ctx context.Context, symbols ...string) (map[string]decimal.Decimal, error)
}

type OrderExecutor interface {
	MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (order.Result, error)
	MarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (order.Result, error)
}

type BalanceFetcher interface {
	FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

type Exchange interface {
	Name() types.ExchangeName
	MarketLister
	BookFetcher
	BookSubscriber
	TradeSubscriber
	RulesFetcher
	PriceFetcher
	OrderExecutor
	BalanceFetcher
}

// creates a new exchange instance based on the provided name and config
func NewExchange(exchgId string, exchgConfig *config.ExchangeConfig) (Exchange, error) {
	switch exchgConfig.ExchangeName {
	case types.ExchangeBns:
		return bns.New(exchgConfig)
	case types.ExchangeDummy:
		return dummy.New(exchgConfig)
	default:
		return nil, fmt.Errorf("exchange '%s' (%s): %w", exchgId, exchgConfig.ExchangeName, ErrUnsupportedExchange)
	}
}
