package bns

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"smartroute/config"
	"smartroute/pkg/market"
	"smartroute/pkg/order"
	"smartroute/pkg/stream"
	"smartroute/pkg/types"
	"smartroute/pkg/utils"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	prodWsUrl    = "wss://stream.binance.com:9443/ws"
	testnetWsUrl = "wss://testnet.binance.vision/ws"
	streamDepth  = 20 // partial book depth stream levels
)

type BnsExchange struct {
	BnsConfig *bnsConfig

	sClient *binance.Client
	limiter *rate.Limiter

	markets      map[string]*market.Market
	SymbolMapU2L map[string]string
	SymbolMapL2U map[string]string
}

func New(exchgConfig *config.ExchangeConfig) (*BnsExchange, error) {
	// (1) environment
	binance.UseTestnet = config.Env.EnvName != types.EnvProd
	wsUrl := testnetWsUrl
	if config.Env.EnvName == types.EnvProd {
		wsUrl = prodWsUrl
	}
	if exchgConfig.WsUrl != "" {
		wsUrl = strings.TrimRight(exchgConfig.WsUrl, "/")
	}

	// (2) validate config
	key := utils.LoadEnvWithDefault(exchgConfig.EnvPrefix+"_API_KEY", "")
	secret := utils.LoadEnvWithDefault(exchgConfig.EnvPrefix+"_API_SECRET", "")
	if key == "" || secret == "" {
		log.Warnf("API key or secret is not set (prefix %v): trading and balances are unavailable", exchgConfig.EnvPrefix)
	}
	sClient := binance.NewClient(key, secret)
	if exchgConfig.ApiUrl != "" {
		sClient.BaseURL = exchgConfig.ApiUrl
	}

	e := &BnsExchange{
		BnsConfig: &bnsConfig{
			ApiUrl:     sClient.BaseURL,
			WsUrl:      wsUrl,
			DepthLimit: exchgConfig.DepthLimit,
		},
		sClient: sClient,
		limiter: rate.NewLimiter(rate.Limit(exchgConfig.RequestsPerSecond), exchgConfig.Burst),
	}

	// (3) load markets
	ctx := context.Background()
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	markets, err := loadMarkets(ctx, sClient)
	if err != nil {
		return nil, err
	}
	e.setMarkets(markets)
	log.Infof("bns: %d markets loaded", len(markets))
	return e, nil
}

// setMarkets installs the market table and the ETH/BTC <-> ETHBTC symbol maps.
func (e *BnsExchange) setMarkets(markets map[string]*market.Market) {
	e.markets = markets
	e.SymbolMapU2L = make(map[string]string, len(markets))
	for symbol, m := range markets {
		e.SymbolMapU2L[m.BaseAsset+"/"+m.QuoteAsset] = symbol
	}
	e.SymbolMapL2U = utils.ReverseStrMap(e.SymbolMapU2L)
}

func (e *BnsExchange) Name() types.ExchangeName {
	return types.ExchangeBns
}

// ╔═════════════╗
//       Info
// ╚═════════════╝

func (e *BnsExchange) GetMarket(symbol string) *market.Market {
	symbol = e.ToLocSymbol(symbol)
	if market, exists := e.markets[symbol]; exists {
		return market
	}
	return nil
}

func (e *BnsExchange) Markets() []*market.Market {
	out := make([]*market.Market, 0, len(e.markets))
	for _, m := range e.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (e *BnsExchange) FetchMinSteps(_ context.Context, marketA, marketB string) (market.MinSteps, error) {
	a, b := e.GetMarket(marketA), e.GetMarket(marketB)
	if a == nil || b == nil {
		return market.MinSteps{}, fmt.Errorf("%s/%s: %w", marketA, marketB, market.ErrUnknownMarket)
	}
	return market.MinSteps{A: a.LotStepSize, B: b.LotStepSize}, nil
}

// ╔═════════════╗
//      Book
// ╚═════════════╝

func (e *BnsExchange) FetchBook(ctx context.Context, symbol string) (types.Book, error) {
	symbol = e.ToLocSymbol(symbol)
	if _, ok := e.markets[symbol]; !ok {
		return types.Book{}, fmt.Errorf("%s: %w", symbol, market.ErrUnknownMarket)
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return types.Book{}, err
	}
	res, err := e.sClient.NewDepthService().
		Symbol(symbol).
		Limit(e.BnsConfig.DepthLimit).
		Do(ctx)
	if err != nil {
		return types.Book{}, fmt.Errorf("fail to get depth of %s: %w", symbol, err)
	}
	return parseDepthResponse(symbol, res)
}

// ╔═════════════╗
//      Price
// ╚═════════════╝

func (e *BnsExchange) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := e.FetchPrices(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[e.ToLocSymbol(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, market.ErrUnknownMarket)
	}
	return price, nil
}

// FetchPrices returns last prices keyed by exchange symbol; unknown symbols are skipped.
func (e *BnsExchange) FetchPrices(ctx context.Context, symbols ...string) (map[string]decimal.Decimal, error) {
	known := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = e.ToLocSymbol(s)
		if _, ok := e.markets[s]; ok {
			known = append(known, s)
		}
	}
	out := make(map[string]decimal.Decimal, len(known))
	if len(known) == 0 {
		return out, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := e.sClient.NewListPricesService().Symbols(known).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail to get prices: %w", err)
	}
	for _, p := range res {
		price, err := utils.StrToDecimal(p.Price)
		if err != nil {
			return nil, err
		}
		out[p.Symbol] = price
	}
	return out, nil
}

// ╔═════════════╗
//     Account
// ╚═════════════╝

func (e *BnsExchange) FetchBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return decimal.Zero, err
	}
	account, err := e.sClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fail to get account: %w", err)
	}
	asset = strings.ToUpper(asset)
	for _, b := range account.Balances {
		if b.Asset == asset {
			return utils.StrToDecimal(b.Free)
		}
	}
	return decimal.Zero, nil
}

// ╔═════════════╗
//      Order
// ╚═════════════╝

func (e *BnsExchange) MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (order.Result, error) {
	return e.openMarketOrder(ctx, symbol, types.OrderSideSell, qty)
}

func (e *BnsExchange) MarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (order.Result, error) {
	return e.openMarketOrder(ctx, symbol, types.OrderSideBuy, qty)
}

func (e *BnsExchange) openMarketOrder(ctx context.Context, symbol string, orderSide types.OrderSide, qty decimal.Decimal) (order.Result, error) {
	symbol = e.ToLocSymbol(symbol)
	m, ok := e.markets[symbol]
	if !ok {
		return order.Result{}, fmt.Errorf("%s: %w", symbol, market.ErrUnknownMarket)
	}
	if m.LotMinQty.IsPositive() && qty.LessThan(m.LotMinQty) {
		return order.Result{}, fmt.Errorf("quantity %v below min %v for %s", qty, m.LotMinQty, symbol)
	}
	side, err := convertOrderSide(orderSide)
	if err != nil {
		return order.Result{}, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return order.Result{}, err
	}
	res, err := e.sClient.NewCreateOrderService().
		Symbol(symbol).
		Type(binance.OrderTypeMarket).
		Side(side).
		Quantity(qty.String()).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return order.Result{}, fmt.Errorf("fail to open market %s on %s: %w", orderSide, symbol, err)
	}
	return parseOrderResponse(res, orderSide)
}

// ╔═══════════════════╗
//    BookDepthStream
// ╚═══════════════════╝

func (e *BnsExchange) SubscribeBook(ctx context.Context, symbol string, onUpdate func(types.Book)) (stream.Stream, error) {
	symbol = e.ToLocSymbol(symbol)
	if _, ok := e.markets[symbol]; !ok {
		return nil, fmt.Errorf("%s: %w", symbol, market.ErrUnknownMarket)
	}
	// @dev: fixed to fastest updates (every 100ms) & largest partial depth (20 levels)
	bnsWsEndpoint := fmt.Sprintf("%s/%s@depth%d@100ms", e.BnsConfig.WsUrl, strings.ToLower(symbol), streamDepth)

	// connect bnsStream
	bnsStream, err := NewStream(ctx, types.StreamBookDepth, e, bnsWsEndpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	doneC, stopC, err := bnsStream.ConnectAndSubscribe(map[string]string{}, func(msg []byte) {
		book, err := parseBookDepthEvent(symbol, msg)
		if err != nil {
			log.Error(err)
			return
		}
		onUpdate(book)
	})
	if err != nil {
		log.Errorf("fail to connect and subscribe: %v", err)
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			close(stopC)
		case <-doneC:
		}
	}()
	return bnsStream, nil
}

// ╔══════════════╗
//    TradeSteam
// ╚══════════════╝

func (e *BnsExchange) SubscribeTrades(ctx context.Context, symbol string, onTrade func(types.TradeEvent)) (stream.Stream, error) {
	symbol = e.ToLocSymbol(symbol)
	bnsWsEndpoint := fmt.Sprintf("%s/%s@trade", e.BnsConfig.WsUrl, strings.ToLower(symbol))

	bnsStream, err := NewStream(ctx, types.StreamTrade, e, bnsWsEndpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	doneC, stopC, err := bnsStream.ConnectAndSubscribe(map[string]string{}, func(msg []byte) {
		evt, err := parseTradeEvent(msg)
		if err != nil {
			log.Error(err)
			return
		}
		if evt.Price.IsZero() {
			return
		}
		onTrade(evt)
	})
	if err != nil {
		log.Errorf("fail to connect and subscribe: %v", err)
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			close(stopC)
		case <-doneC:
		}
	}()
	return bnsStream, nil
}

// ToUniSymbol maps ETHBTC to ETH/BTC; unknown symbols pass through.
func (e *BnsExchange) ToUniSymbol(locSymbol string) string {
	if uniSymbol, ok := e.SymbolMapL2U[locSymbol]; ok {
		return uniSymbol
	}
	return locSymbol
}

// ToLocSymbol maps ETH/BTC (or ethbtc) to ETHBTC.
func (e *BnsExchange) ToLocSymbol(uniSymbol string) string {
	if locSymbol, ok := e.SymbolMapU2L[strings.ToUpper(uniSymbol)]; ok {
		return locSymbol
	}
	return strings.ToUpper(strings.NewReplacer("/", "", "-", "").Replace(uniSymbol))
}
