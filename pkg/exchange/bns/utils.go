package bns

import (
	"context"
	"fmt"

	"smartroute/pkg/market"
	"smartroute/pkg/types"
	"smartroute/pkg/utils"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

// ref: https://www.binance.com/en/fee/trading (regular user, no BNB discount)
var spotTakerFee = decimal.RequireFromString("0.001")

func loadMarkets(ctx context.Context, sClient *binance.Client) (map[string]*market.Market, error) {
	marketFilters, err := getMarketFilters(ctx, sClient)
	if err != nil {
		return nil, err
	}
	var markets = make(map[string]*market.Market)
	for _, f := range marketFilters {
		m := market.New(types.ExchangeBns, f.symbol, f.baseAsset, f.quoteAsset)
		m.Trading = f.trading
		m.TickSize = parseFilterValue(f.tickSize)
		m.MinNotional = parseFilterValue(f.minNotional)
		m.LotMinQty = parseFilterValue(f.lotMinQty)
		m.LotMaxQty = parseFilterValue(f.lotMaxQty)
		m.LotStepSize = parseFilterValue(f.lotStepSize)
		m.MakerFeePct = spotTakerFee
		m.TakerFeePct = spotTakerFee
		markets[f.symbol] = m
	}
	return markets, nil
}

func getMarketFilters(ctx context.Context, sClient *binance.Client) (map[string]bnsMarketFilter, error) {
	exchangeInfo, err := sClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail to get exchange info: %w", err)
	}

	marketFilters := make(map[string]bnsMarketFilter)
	for _, symbol := range exchangeInfo.Symbols {
		f := bnsMarketFilter{
			symbol:     symbol.Symbol,
			baseAsset:  symbol.BaseAsset,
			quoteAsset: symbol.QuoteAsset,
			trading:    symbol.Status == "TRADING",
		}
		for _, filter := range symbol.Filters {
			switch filter["filterType"] {
			case "PRICE_FILTER":
				if f.tickSize, err = extractFilter(filter, "tickSize"); err != nil {
					return nil, err
				}
			case "NOTIONAL", "MIN_NOTIONAL":
				if f.minNotional, err = extractFilter(filter, "minNotional"); err != nil {
					return nil, err
				}
			case "LOT_SIZE":
				if f.lotStepSize, err = extractFilter(filter, "stepSize"); err != nil {
					return nil, err
				}
				if f.lotMinQty, err = extractFilter(filter, "minQty"); err != nil {
					return nil, err
				}
				if f.lotMaxQty, err = extractFilter(filter, "maxQty"); err != nil {
					return nil, err
				}
			}
		}
		marketFilters[symbol.Symbol] = f
	}
	return marketFilters, nil
}

func extractFilter(filter map[string]interface{}, key string) (string, error) {
	value, ok := filter[key].(string)
	if !ok {
		return "", fmt.Errorf("bad string assertion: %s", key)
	}
	return value, nil
}

func parseFilterValue(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := utils.StrToDecimal(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
