package route

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smartroute/pkg/fill"
	"smartroute/pkg/market"
	"smartroute/pkg/types"
	"smartroute/pkg/utils"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MarketData is what the builder needs from an exchange.
type MarketData interface {
	GetMarket(symbol string) *market.Market
	FetchBook(ctx context.Context, symbol string) (types.Book, error)
}

type Options struct {
	SellFeeRate    decimal.Decimal
	BuyFeeRate     decimal.Decimal
	MaxConcurrency int // 0 means one goroutine per bridge
}

func DefaultOptions() Options {
	return Options{SellFeeRate: fill.DefaultFeeRate, BuyFeeRate: fill.DefaultFeeRate}
}

type Builder struct {
	md   MarketData
	opts Options
}

func NewBuilder(md MarketData, opts Options) *Builder {
	return &Builder{md: md, opts: opts}
}

func (b *Builder) Options() Options {
	return b.opts
}

// Build simulates one route per bridge concurrently. Bridges equal to either asset,
// without both markets, or whose books fail to load are left out; a set with no
// routes is not an error.
func (b *Builder) Build(ctx context.Context, q Query) (RouteSet, error) {
	q, err := normalize(q)
	if err != nil {
		return RouteSet{}, err
	}
	set := RouteSet{SellAsset: q.SellAsset, BuyAsset: q.BuyAsset, Size: q.Size}

	var bridges []string
	for _, bridge := range q.Bridges {
		if bridge == q.SellAsset || bridge == q.BuyAsset {
			continue
		}
		bridges = append(bridges, bridge)
	}
	if len(bridges) == 0 {
		return set, nil
	}

	results := make([]*Route, len(bridges))
	var g errgroup.Group
	limit := len(bridges)
	if b.opts.MaxConcurrency > 0 && b.opts.MaxConcurrency < limit {
		limit = b.opts.MaxConcurrency
	}
	g.SetLimit(limit)
	for i, bridge := range bridges {
		i, bridge := i, bridge
		g.Go(func() error {
			r, err := b.buildOne(ctx, q, bridge)
			if err != nil {
				logger := log.WithFields(log.Fields{"bridge": bridge, "sell": q.SellAsset, "buy": q.BuyAsset})
				if errors.Is(err, market.ErrUnknownMarket) {
					logger.Debugf("bridge skipped: %v", err)
				} else {
					logger.Warnf("bridge excluded: %v", err)
				}
				return nil
			}
			results[i] = &r
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return RouteSet{}, fmt.Errorf("fail to build routes: %w", err)
	}

	for _, r := range results {
		if r != nil {
			set.Routes = append(set.Routes, *r)
		}
	}
	return set, nil
}

func (b *Builder) buildOne(ctx context.Context, q Query, bridge string) (Route, error) {
	sellSymbol := market.Symbol(q.SellAsset, bridge)
	buySymbol := market.Symbol(q.BuyAsset, bridge)
	sellMarket, buyMarket := b.md.GetMarket(sellSymbol), b.md.GetMarket(buySymbol)
	if sellMarket == nil || buyMarket == nil {
		return Route{}, fmt.Errorf("%s or %s: %w", sellSymbol, buySymbol, market.ErrUnknownMarket)
	}

	sellBook, err := b.md.FetchBook(ctx, sellSymbol)
	if err != nil {
		return Route{}, fmt.Errorf("fail to fetch book %s: %w", sellSymbol, err)
	}
	buyBook, err := b.md.FetchBook(ctx, buySymbol)
	if err != nil {
		return Route{}, fmt.Errorf("fail to fetch book %s: %w", buySymbol, err)
	}

	sell := fill.SimulateSell(q.Size, sellBook.Bids, b.opts.SellFeeRate)
	buy := fill.SimulateBuy(sell.NetProceeds, buyBook.Asks, b.opts.BuyFeeRate)
	return NewRoute(bridge,
		SellLeg{Market: sellSymbol, MinStep: sellMarket.LotStepSize, Fill: sell},
		BuyLeg{Market: buySymbol, MinStep: buyMarket.LotStepSize, Fill: buy},
	), nil
}

func normalize(q Query) (Query, error) {
	q.SellAsset = strings.ToUpper(strings.TrimSpace(q.SellAsset))
	q.BuyAsset = strings.ToUpper(strings.TrimSpace(q.BuyAsset))
	if q.SellAsset == "" || q.BuyAsset == "" {
		return q, fmt.Errorf("%w: sell and buy assets are required", ErrInvalidQuery)
	}
	if q.SellAsset == q.BuyAsset {
		return q, fmt.Errorf("%w: sell and buy asset are both %s", ErrInvalidQuery, q.SellAsset)
	}
	if q.Size.IsNegative() {
		return q, fmt.Errorf("%w: negative size %v", ErrInvalidQuery, q.Size)
	}
	q.Bridges = utils.NormalizeAssets(q.Bridges)
	return q, nil
}
