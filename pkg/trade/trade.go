package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartroute/pkg/fill"
	"smartroute/pkg/market"
	"smartroute/pkg/order"
	"smartroute/pkg/route"
	"smartroute/pkg/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidRequest = errors.New("invalid trade request")
	// ErrPartialExecution means the sale went through but the purchase did not.
	ErrPartialExecution = errors.New("partial execution")
)

var (
	bnbCommissionRate   = decimal.RequireFromString("0.00005")
	otherCommissionRate = decimal.RequireFromString("0.0001")
)

type Venue interface {
	MarketSell(ctx context.Context, symbol string, qty decimal.Decimal) (order.Result, error)
	MarketBuy(ctx context.Context, symbol string, qty decimal.Decimal) (order.Result, error)
	FetchMinSteps(ctx context.Context, marketA, marketB string) (market.MinSteps, error)
	FetchBook(ctx context.Context, symbol string) (types.Book, error)
}

type Router interface {
	BestRoute(ctx context.Context, q route.Query) (route.BestRoute, error)
	Savings(ctx context.Context, bestBridge string, bestBuyAvg decimal.Decimal, worst route.WorstSummary, qty decimal.Decimal) decimal.Decimal
	FiatAsset() string
}

// Journal archives reports; a failing journal never fails the trade.
type Journal interface {
	Record(ctx context.Context, r *Report) error
}

type Request struct {
	SellAsset    string          `json:"sellAsset"`
	BuyAsset     string          `json:"buyAsset"`
	Bridge       string          `json:"bridge,omitempty"`
	Bridges      []string        `json:"bridges,omitempty"`
	Size         decimal.Decimal `json:"size"`
	SmartRouting bool            `json:"smartRouting"`
	// BuyQuantity is the client's simulated purchase. When unset the purchase is
	// simulated against the current book with the actual sale proceeds.
	BuyQuantity decimal.Decimal `json:"buyQuantity,omitempty"`
}

type Leg struct {
	Market          string          `json:"market"`
	OrderId         string          `json:"orderId"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
	Total           decimal.Decimal `json:"total"`
	TradeId         int64           `json:"tradeId"`
}

type Savings struct {
	PerUnit     decimal.Decimal `json:"perUnit"`
	Total       decimal.Decimal `json:"total"`
	FiatAsset   string          `json:"fiatAsset"`
	BestBridge  string          `json:"bestBridge"`
	WorstBridge string          `json:"worstBridge"`
}

type Report struct {
	Id           string    `json:"id"`
	Time         time.Time `json:"time"`
	SellAsset    string    `json:"sellAsset"`
	BuyAsset     string    `json:"buyAsset"`
	Bridge       string    `json:"bridge"`
	SmartRouting bool      `json:"smartRouting"`
	Sale         Leg       `json:"sale"`
	Purchase     *Leg      `json:"purchase,omitempty"`
	Savings      *Savings  `json:"savings,omitempty"`
	Error        string    `json:"error,omitempty"`
}

type Executor struct {
	venue      Venue
	router     Router
	journal    Journal
	buyFeeRate decimal.Decimal
}

// NewExecutor builds an executor; journal may be nil.
func NewExecutor(venue Venue, router Router, journal Journal, buyFeeRate decimal.Decimal) *Executor {
	return &Executor{venue: venue, router: router, journal: journal, buyFeeRate: buyFeeRate}
}

// Execute sells Size of SellAsset into the bridge, then buys BuyAsset with the
// proceeds. With smart routing the bridge is re-ranked first. When the purchase
// fails after the sale, the report of the sale is returned with an error wrapping
// ErrPartialExecution.
func (e *Executor) Execute(ctx context.Context, req Request) (*Report, error) {
	req, err := normalize(req)
	if err != nil {
		return nil, err
	}

	var best *route.BestRoute
	buyQty := req.BuyQuantity
	if req.SmartRouting {
		b, err := e.router.BestRoute(ctx, route.Query{
			SellAsset: req.SellAsset,
			BuyAsset:  req.BuyAsset,
			Bridges:   req.Bridges,
			Size:      req.Size,
		})
		if err != nil {
			return nil, fmt.Errorf("fail to revalidate route: %w", err)
		}
		best = &b
		req.Bridge = b.Route.Bridge
		buyQty = b.Route.BuyLeg.Fill.Quantity
	}
	if req.Bridge == "" {
		return nil, fmt.Errorf("%w: bridge is required without smart routing", ErrInvalidRequest)
	}

	sellMarket := market.Symbol(req.SellAsset, req.Bridge)
	buyMarket := market.Symbol(req.BuyAsset, req.Bridge)
	logger := log.WithFields(log.Fields{"sell": sellMarket, "buy": buyMarket})

	steps, err := e.venue.FetchMinSteps(ctx, sellMarket, buyMarket)
	if err != nil {
		return nil, fmt.Errorf("fail to fetch min steps: %w", err)
	}
	sellQty := fill.FloorToStep(req.Size, steps.A)
	if !sellQty.IsPositive() {
		return nil, fmt.Errorf("%w: size %v below lot step %v", ErrInvalidRequest, req.Size, steps.A)
	}

	sellRes, err := e.venue.MarketSell(ctx, sellMarket, sellQty)
	if err != nil {
		return nil, fmt.Errorf("fail to sell %s: %w", sellMarket, err)
	}
	report := &Report{
		Id:           uuid.NewString(),
		Time:         time.Now(),
		SellAsset:    req.SellAsset,
		BuyAsset:     req.BuyAsset,
		Bridge:       req.Bridge,
		SmartRouting: req.SmartRouting,
		Sale:         toLeg(sellRes, types.OrderSideSell),
	}
	logger.WithField("total", report.Sale.Total).Info("sale executed")

	if !buyQty.IsPositive() {
		book, err := e.venue.FetchBook(ctx, buyMarket)
		if err != nil {
			return e.partial(ctx, report, fmt.Errorf("fail to fetch %s book: %w", buyMarket, err))
		}
		buyQty = fill.SimulateBuy(report.Sale.Total, book.Asks, e.buyFeeRate).Quantity
	}
	buyQty = fill.FloorToStep(buyQty, steps.B)
	if !buyQty.IsPositive() {
		return e.partial(ctx, report, fmt.Errorf("purchase below lot step %v", steps.B))
	}

	buyRes, err := e.venue.MarketBuy(ctx, buyMarket, buyQty)
	if err != nil {
		return e.partial(ctx, report, fmt.Errorf("fail to buy %s: %w", buyMarket, err))
	}
	purchase := toLeg(buyRes, types.OrderSideBuy)
	report.Purchase = &purchase
	logger.WithField("quantity", purchase.Quantity).Info("purchase executed")

	if best != nil {
		total := e.router.Savings(ctx, best.Route.Bridge, best.Route.BuyLeg.Fill.AveragePrice, best.Worst, purchase.Quantity)
		perUnit := decimal.Zero
		if purchase.Quantity.IsPositive() {
			perUnit = total.Div(purchase.Quantity)
		}
		report.Savings = &Savings{
			PerUnit:     perUnit,
			Total:       total.Round(4),
			FiatAsset:   e.router.FiatAsset(),
			BestBridge:  best.Route.Bridge,
			WorstBridge: best.Worst.Bridge,
		}
	}

	e.record(ctx, report)
	return report, nil
}

func (e *Executor) partial(ctx context.Context, report *Report, cause error) (*Report, error) {
	err := fmt.Errorf("%w: %w", ErrPartialExecution, cause)
	report.Error = err.Error()
	log.WithField("report", report.Id).Errorf("trade left half done: %v", cause)
	e.record(ctx, report)
	return report, err
}

func (e *Executor) record(ctx context.Context, report *Report) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(ctx, report); err != nil {
		log.WithField("report", report.Id).Warnf("fail to journal trade: %v", err)
	}
}

// toLeg summarizes an order. The total is net of commission for a sale and gross
// of it for a purchase, at the rate implied by the first fill's commission asset.
func toLeg(res order.Result, side types.OrderSide) Leg {
	summary := order.Aggregate(res.Fills)
	leg := Leg{
		Market:   res.Symbol,
		OrderId:  res.Id,
		Price:    summary.Price,
		Quantity: summary.Quantity,
	}
	if len(res.Fills) > 0 {
		leg.CommissionAsset = res.Fills[0].CommissionAsset
		leg.TradeId = res.Fills[0].TradeId
		leg.Commission = summary.Commission[leg.CommissionAsset]
	}
	fee := summary.Notional.Mul(CommissionRate(leg.CommissionAsset))
	if side == types.OrderSideSell {
		leg.Total = summary.Notional.Sub(fee)
	} else {
		leg.Total = summary.Notional.Add(fee)
	}
	return leg
}

// CommissionRate is the fee applied to report totals: discounted when paid in BNB.
func CommissionRate(asset string) decimal.Decimal {
	if strings.EqualFold(asset, "BNB") {
		return bnbCommissionRate
	}
	return otherCommissionRate
}

func normalize(req Request) (Request, error) {
	req.SellAsset = strings.ToUpper(strings.TrimSpace(req.SellAsset))
	req.BuyAsset = strings.ToUpper(strings.TrimSpace(req.BuyAsset))
	req.Bridge = strings.ToUpper(strings.TrimSpace(req.Bridge))
	if req.SellAsset == "" || req.BuyAsset == "" {
		return req, fmt.Errorf("%w: sell and buy assets are required", ErrInvalidRequest)
	}
	if req.SellAsset == req.BuyAsset {
		return req, fmt.Errorf("%w: cannot trade %s into itself", ErrInvalidRequest, req.SellAsset)
	}
	if !req.Size.IsPositive() {
		return req, fmt.Errorf("%w: size must be positive", ErrInvalidRequest)
	}
	if !req.SmartRouting && (req.Bridge == req.SellAsset || req.Bridge == req.BuyAsset) {
		return req, fmt.Errorf("%w: bridge %s equals a traded asset", ErrInvalidRequest, req.Bridge)
	}
	return req, nil
}
