package route

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartroute/pkg/fill"
	"smartroute/pkg/market"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type RulesFetcher interface {
	FetchMinSteps(ctx context.Context, marketA, marketB string) (market.MinSteps, error)
}

type PriceFetcher interface {
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// WorstSummary keeps what the savings figure needs from the lowest-ranked route.
type WorstSummary struct {
	Bridge           string          `json:"bridge"`
	SellAveragePrice decimal.Decimal `json:"sellAveragePrice"`
	BuyAveragePrice  decimal.Decimal `json:"buyAveragePrice"`
	BuyQuantity      decimal.Decimal `json:"buyQuantity"`
}

// BestRoute is the final answer for a query: the top route with its buy leg
// quantized to the market lot step.
type BestRoute struct {
	SellAsset string          `json:"sellAsset"`
	BuyAsset  string          `json:"buyAsset"`
	Size      decimal.Decimal `json:"size"`
	Route     Route           `json:"route"`
	Worst     WorstSummary    `json:"worst"`
	Ranked    []Route         `json:"ranked"`
	Time      time.Time       `json:"time"`
}

type Router struct {
	builder   *Builder
	rules     RulesFetcher
	prices    PriceFetcher
	conns     *market.Connections
	bridges   []string
	fiatAsset string
}

type RouterConfig struct {
	Bridges   []string // used when a query names none
	FiatAsset string
}

func NewRouter(builder *Builder, rules RulesFetcher, prices PriceFetcher, conns *market.Connections, cfg RouterConfig) *Router {
	fiat := strings.ToUpper(cfg.FiatAsset)
	if fiat == "" {
		fiat = "USDT"
	}
	return &Router{
		builder:   builder,
		rules:     rules,
		prices:    prices,
		conns:     conns,
		bridges:   cfg.Bridges,
		fiatAsset: fiat,
	}
}

func (r *Router) FiatAsset() string {
	return r.fiatAsset
}

// Resolve fills in the candidate bridges of a query that names none: the shared
// quote assets of both sides, configured bridges first.
func (r *Router) Resolve(q Query) Query {
	if len(q.Bridges) > 0 {
		return q
	}
	if r.conns != nil {
		q.Bridges = r.conns.Bridges(q.SellAsset, q.BuyAsset, r.bridges...)
	} else {
		q.Bridges = append([]string(nil), r.bridges...)
	}
	return q
}

func (r *Router) Build(ctx context.Context, q Query) (RouteSet, error) {
	return r.builder.Build(ctx, r.Resolve(q))
}

// BestRoute builds and ranks the query, then quantizes the winning buy leg.
func (r *Router) BestRoute(ctx context.Context, q Query) (BestRoute, error) {
	set, err := r.Build(ctx, q)
	if err != nil {
		return BestRoute{}, err
	}
	ranking, err := Rank(set)
	if err != nil {
		return BestRoute{}, err
	}

	best := ranking.Best
	steps, err := r.rules.FetchMinSteps(ctx, best.SellLeg.Market, best.BuyLeg.Market)
	if err != nil {
		return BestRoute{}, fmt.Errorf("fail to fetch min steps for %s/%s: %w", best.SellLeg.Market, best.BuyLeg.Market, err)
	}
	best.SellLeg.MinStep = steps.A
	best.BuyLeg.MinStep = steps.B
	best.BuyLeg.Fill = fill.Quantize(best.BuyLeg.Fill, steps.B)

	worst := ranking.Worst
	return BestRoute{
		SellAsset: set.SellAsset,
		BuyAsset:  set.BuyAsset,
		Size:      set.Size,
		Route:     best,
		Worst: WorstSummary{
			Bridge:           worst.Bridge,
			SellAveragePrice: worst.SellLeg.Fill.AveragePrice,
			BuyAveragePrice:  worst.BuyLeg.Fill.AveragePrice,
			BuyQuantity:      worst.BuyLeg.Fill.Quantity,
		},
		Ranked: ranking.Routes,
		Time:   time.Now(),
	}, nil
}

// FiatValue prices one unit of asset in the fiat asset. The fiat itself is worth 1;
// otherwise ASSETFIAT is used, falling back to the inverse of FIATASSET.
func (r *Router) FiatValue(ctx context.Context, asset string) (decimal.Decimal, error) {
	asset = strings.ToUpper(asset)
	if asset == r.fiatAsset {
		return decimal.NewFromInt(1), nil
	}
	price, err := r.prices.FetchPrice(ctx, market.Symbol(asset, r.fiatAsset))
	if err == nil && price.IsPositive() {
		return price, nil
	}
	inverse, invErr := r.prices.FetchPrice(ctx, market.Symbol(r.fiatAsset, asset))
	if invErr == nil && inverse.IsPositive() {
		return decimal.NewFromInt(1).Div(inverse), nil
	}
	if err == nil {
		err = errors.New("zero price")
	}
	return decimal.Zero, fmt.Errorf("fail to price %s in %s: %w", asset, r.fiatAsset, err)
}

// Savings is what the executed route saved over the worst one, in fiat:
// (worst buy avg - best buy avg) x quantity, each average converted from its own
// bridge. Missing prices yield zero rather than an error.
func (r *Router) Savings(ctx context.Context, bestBridge string, bestBuyAvg decimal.Decimal, worst WorstSummary, qty decimal.Decimal) decimal.Decimal {
	if worst.Bridge == "" || !qty.IsPositive() {
		return decimal.Zero
	}
	bestFiat, err := r.FiatValue(ctx, bestBridge)
	if err != nil {
		log.WithField("bridge", bestBridge).Warnf("savings unavailable: %v", err)
		return decimal.Zero
	}
	worstFiat := bestFiat
	if worst.Bridge != bestBridge {
		if worstFiat, err = r.FiatValue(ctx, worst.Bridge); err != nil {
			log.WithField("bridge", worst.Bridge).Warnf("savings unavailable: %v", err)
			return decimal.Zero
		}
	}
	diff := worst.BuyAveragePrice.Mul(worstFiat).Sub(bestBuyAvg.Mul(bestFiat))
	return diff.Mul(qty)
}
