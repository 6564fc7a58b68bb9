package core

import (
	"fmt"
	"sort"

	"smartroute/config"
	"smartroute/pkg/exchange"
	"smartroute/pkg/market"
	"smartroute/pkg/route"
	"smartroute/pkg/session"
	"smartroute/pkg/trade"

	"github.com/shopspring/decimal"
)

// Universe holds the registered exchanges and the routing services wired on top
// of the routing exchange.
type Universe struct {
	Exchanges map[string]exchange.Exchange

	routingId string
	routing   config.RoutingConfig
	conns     *market.Connections
	router    *route.Router
	executor  *trade.Executor
}

func NewUniverse(routing config.RoutingConfig) *Universe {
	return &Universe{
		Exchanges: make(map[string]exchange.Exchange),
		routingId: routing.Exchange,
		routing:   routing,
	}
}

func (u *Universe) RegisterExchange(exchgId string, exchgConfig *config.ExchangeConfig) error {
	exch, err := exchange.NewExchange(exchgId, exchgConfig)
	if err != nil {
		return err
	}
	u.AddExchange(exchgId, exch)
	return nil
}

func (u *Universe) AddExchange(exchgId string, exch exchange.Exchange) {
	u.Exchanges[exchgId] = exch
}

func (u *Universe) ExchangeIds() []string {
	ids := make([]string, 0, len(u.Exchanges))
	for id := range u.Exchanges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wire builds connections, router and executor over the routing exchange.
// journal may be nil.
func (u *Universe) Wire(journal trade.Journal) error {
	exch, ok := u.Exchanges[u.routingId]
	if !ok {
		return fmt.Errorf("routing exchange '%s' is not registered", u.routingId)
	}
	u.conns = market.NewConnections(exch.Markets())
	builder := route.NewBuilder(exch, route.Options{
		SellFeeRate:    decimal.NewFromFloat(u.routing.SellFeeRate),
		BuyFeeRate:     decimal.NewFromFloat(u.routing.BuyFeeRate),
		MaxConcurrency: u.routing.MaxConcurrency,
	})
	u.router = route.NewRouter(builder, exch, exch, u.conns, route.RouterConfig{
		Bridges:   u.routing.Bridges,
		FiatAsset: u.routing.FiatAsset,
	})
	u.executor = trade.NewExecutor(exch, u.router, journal, decimal.NewFromFloat(u.routing.BuyFeeRate))
	return nil
}

func (u *Universe) RoutingExchange() exchange.Exchange {
	return u.Exchanges[u.routingId]
}

func (u *Universe) Connections() *market.Connections {
	return u.conns
}

func (u *Universe) Router() *route.Router {
	return u.router
}

func (u *Universe) Executor() *trade.Executor {
	return u.executor
}

// SessionOptions are the defaults of a new live session.
func (u *Universe) SessionOptions() session.Options {
	opts := session.DefaultOptions()
	opts.SellFeeRate = decimal.NewFromFloat(u.routing.SellFeeRate)
	opts.BuyFeeRate = decimal.NewFromFloat(u.routing.BuyFeeRate)
	opts.Debounce = u.routing.Debounce
	opts.SmartRouting = u.routing.SmartRoutingEnabled()
	opts.Bridges = u.routing.Bridges
	opts.FiatAsset = u.routing.FiatAsset
	return opts
}
