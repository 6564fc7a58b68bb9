// Package dummy is an in-memory exchange. It backs paper trading from a JSON
// fixture and serves as the collaborator in package tests.
package dummy

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"smartroute/config"
	"smartroute/pkg/market"
	"smartroute/pkg/order"
	"smartroute/pkg/types"
	"smartroute/pkg/utils"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var takerFee = decimal.RequireFromString("0.001")

type DummyExchange struct {
	mu       sync.RWMutex
	markets  map[string]*market.Market
	books    map[string]types.Book
	prices   map[string]decimal.Decimal
	balances map[string]decimal.Decimal

	bookFailures  map[string]error
	orderFailures map[string]error

	bookSubs  map[string][]*DummyStream
	tradeSubs map[string][]*DummyStream

	tradeSeq atomic.Int64
	fetches  atomic.Int64
}

func New(exchgConfig *config.ExchangeConfig) (*DummyExchange, error) {
	e := NewEmpty()
	if exchgConfig == nil || exchgConfig.Fixture == "" {
		return e, nil
	}
	fx, err := utils.LoadJSONFile[fixture](exchgConfig.Fixture)
	if err != nil {
		return nil, err
	}
	if err := e.load(fx); err != nil {
		return nil, fmt.Errorf("fail to load fixture '%s': %w", exchgConfig.Fixture, err)
	}
	log.Infof("dummy exchange loaded %d markets from %s", len(e.markets), exchgConfig.Fixture)
	return e, nil
}

func NewEmpty() *DummyExchange {
	return &DummyExchange{
		markets:       make(map[string]*market.Market),
		books:         make(map[string]types.Book),
		prices:        make(map[string]decimal.Decimal),
		balances:      make(map[string]decimal.Decimal),
		bookFailures:  make(map[string]error),
		orderFailures: make(map[string]error),
		bookSubs:      make(map[string][]*DummyStream),
		tradeSubs:     make(map[string][]*DummyStream),
	}
}

func (e *DummyExchange) Name() types.ExchangeName {
	return types.ExchangeDummy
}

// ╔═════════════╗
//     Seeding
// ╚═════════════╝

// AddMarket registers base/quote with a lot step.
func (e *DummyExchange) AddMarket(base, quote string, stepSize decimal.Decimal) *market.Market {
	m := market.New(types.ExchangeDummy, market.Symbol(base, quote), base, quote)
	m.LotStepSize = stepSize
	m.TakerFeePct = takerFee
	m.MakerFeePct = takerFee
	e.mu.Lock()
	e.markets[m.Symbol] = m
	e.mu.Unlock()
	return m
}

// SetBook replaces the book of symbol and pushes it to every book subscriber.
func (e *DummyExchange) SetBook(symbol string, bids, asks []types.Order) {
	book := types.Book{
		Symbol:       symbol,
		Bids:         sortedBids(bids),
		Asks:         sortedAsks(asks),
		Time:         time.Now(),
		ReceivedTime: time.Now(),
	}
	e.mu.Lock()
	book.UpdateID = e.books[symbol].UpdateID + 1
	e.books[symbol] = book
	subs := append([]*DummyStream(nil), e.bookSubs[symbol]...)
	e.mu.Unlock()

	for _, s := range subs {
		s.emitBook(book)
	}
}

// SetPrice sets the last price of symbol and pushes a trade tick to subscribers.
func (e *DummyExchange) SetPrice(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	e.prices[symbol] = price
	subs := append([]*DummyStream(nil), e.tradeSubs[symbol]...)
	e.mu.Unlock()

	evt := types.TradeEvent{
		Event:        "trade",
		Time:         time.Now(),
		Symbol:       symbol,
		TradeId:      e.tradeSeq.Add(1),
		Price:        price,
		Quantity:     decimal.Zero,
		ReceivedTime: time.Now(),
	}
	for _, s := range subs {
		s.emitTrade(evt)
	}
}

func (e *DummyExchange) SetBalance(asset string, amount decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[asset] = amount
}

// FailBook makes FetchBook(symbol) return err; nil clears it.
func (e *DummyExchange) FailBook(symbol string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.bookFailures, symbol)
		return
	}
	e.bookFailures[symbol] = err
}

// FailOrders makes market orders on symbol return err; nil clears it.
func (e *DummyExchange) FailOrders(symbol string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.orderFailures, symbol)
		return
	}
	e.orderFailures[symbol] = err
}

// BookFetches counts FetchBook calls.
func (e *DummyExchange) BookFetches() int64 {
	return e.fetches.Load()
}

// ActiveStreams counts open book and trade subscriptions.
func (e *DummyExchange) ActiveStreams() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, subs := range e.bookSubs {
		n += len(subs)
	}
	for _, subs := range e.tradeSubs {
		n += len(subs)
	}
	return n
}

// ╔═════════════╗
//       Info
// ╚═════════════╝

func (e *DummyExchange) GetMarket(symbol string) *market.Market {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.markets[symbol]
}

func (e *DummyExchange) Markets() []*market.Market {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*market.Market, 0, len(e.markets))
	for _, m := range e.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (e *DummyExchange) FetchBook(ctx context.Context, symbol string) (types.Book, error) {
	e.fetches.Add(1)
	if err := ctx.Err(); err != nil {
		return types.Book{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err, ok := e.bookFailures[symbol]; ok {
		return types.Book{}, err
	}
	if _, ok := e.markets[symbol]; !ok {
		return types.Book{}, fmt.Errorf("%s: %w", symbol, market.ErrUnknownMarket)
	}
	return e.books[symbol], nil
}

func (e *DummyExchange) FetchMinSteps(_ context.Context, marketA, marketB string) (market.MinSteps, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, okA := e.markets[marketA]
	b, okB := e.markets[marketB]
	if !okA || !okB {
		return market.MinSteps{}, fmt.Errorf("%s/%s: %w", marketA, marketB, market.ErrUnknownMarket)
	}
	return market.MinSteps{A: a.LotStepSize, B: b.LotStepSize}, nil
}

// ╔═════════════╗
//      Price
// ╚═════════════╝

// FetchPrice returns the last set price, else the book mid, else the best bid.
func (e *DummyExchange) FetchPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.priceLocked(symbol)
}

func (e *DummyExchange) FetchPrices(_ context.Context, symbols ...string) (map[string]decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if p, err := e.priceLocked(s); err == nil {
			out[s] = p
		}
	}
	return out, nil
}

func (e *DummyExchange) priceLocked(symbol string) (decimal.Decimal, error) {
	if p, ok := e.prices[symbol]; ok {
		return p, nil
	}
	book, ok := e.books[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, market.ErrUnknownMarket)
	}
	bid, ask := book.BestBid(), book.BestAsk()
	if bid.IsPositive() && ask.IsPositive() {
		return bid.Add(ask).Div(decimal.NewFromInt(2)), nil
	}
	return decimal.Max(bid, ask), nil
}

// ╔═════════════╗
//     Account
// ╚═════════════╝

func (e *DummyExchange) FetchBalance(_ context.Context, asset string) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances[asset], nil
}

// ╔═════════════╗
//      Order
// ╚═════════════╝

// MarketSell fills qty base units against the resting bids, one fill per level.
func (e *DummyExchange) MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (order.Result, error) {
	return e.marketOrder(ctx, symbol, types.OrderSideSell, qty)
}

// MarketBuy fills qty base units against the resting asks, one fill per level.
func (e *DummyExchange) MarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (order.Result, error) {
	return e.marketOrder(ctx, symbol, types.OrderSideBuy, qty)
}

func (e *DummyExchange) marketOrder(ctx context.Context, symbol string, side types.OrderSide, qty decimal.Decimal) (order.Result, error) {
	if err := ctx.Err(); err != nil {
		return order.Result{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err, ok := e.orderFailures[symbol]; ok {
		return order.Result{}, err
	}
	m, ok := e.markets[symbol]
	if !ok {
		return order.Result{}, fmt.Errorf("%s: %w", symbol, market.ErrUnknownMarket)
	}
	if !qty.IsPositive() {
		return order.Result{}, fmt.Errorf("invalid order quantity: %v", qty)
	}
	levels := e.books[symbol].Asks
	if side == types.OrderSideSell {
		levels = e.books[symbol].Bids
	}

	res := order.Result{
		Id:          strconv.FormatInt(e.tradeSeq.Add(1), 10),
		Symbol:      symbol,
		OrderType:   types.OrderMarket,
		OrderSide:   side,
		OrigQty:     qty,
		ExecutedQty: decimal.Zero,
	}
	remaining := qty
	quote := decimal.Zero
	for _, level := range levels {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, level.Quantity)
		notional := take.Mul(level.Price)
		// commission is charged in what the order receives
		fill := order.Fill{
			TradeId:         e.tradeSeq.Add(1),
			Price:           level.Price,
			Quantity:        take,
			Commission:      notional.Mul(takerFee),
			CommissionAsset: m.QuoteAsset,
		}
		if side == types.OrderSideBuy {
			fill.Commission = take.Mul(takerFee)
			fill.CommissionAsset = m.BaseAsset
		}
		res.Fills = append(res.Fills, fill)
		res.ExecutedQty = res.ExecutedQty.Add(take)
		quote = quote.Add(notional)
		remaining = remaining.Sub(take)
	}
	if res.ExecutedQty.IsZero() {
		return order.Result{}, fmt.Errorf("no liquidity for %s %s", side, symbol)
	}
	res.QuoteQuantity = quote
	res.Status = "FILLED"
	if remaining.IsPositive() {
		res.Status = "PARTIALLY_FILLED"
	}

	if side == types.OrderSideSell {
		e.balances[m.BaseAsset] = e.balances[m.BaseAsset].Sub(res.ExecutedQty)
		e.balances[m.QuoteAsset] = e.balances[m.QuoteAsset].Add(quote)
	} else {
		e.balances[m.BaseAsset] = e.balances[m.BaseAsset].Add(res.ExecutedQty)
		e.balances[m.QuoteAsset] = e.balances[m.QuoteAsset].Sub(quote)
	}
	return res, nil
}

func sortedBids(in []types.Order) []types.Order {
	out := append([]types.Order(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.GreaterThan(out[j].Price) })
	return out
}

func sortedAsks(in []types.Order) []types.Order {
	out := append([]types.Order(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out
}
