package bns

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"smartroute/pkg/order"
	"smartroute/pkg/types"
	"smartroute/pkg/utils"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

func parseTradeEvent(e []byte) (types.TradeEvent, error) {
	var evt wsTradeEvent
	err := json.Unmarshal(e, &evt)
	if err != nil {
		return types.TradeEvent{}, err
	}
	price, err := utils.StrToDecimal(evt.Price)
	if err != nil {
		return types.TradeEvent{}, err
	}
	qty, err := utils.StrToDecimal(evt.Quantity)
	if err != nil {
		return types.TradeEvent{}, err
	}
	return types.TradeEvent{
		Event:        evt.Event,
		Time:         time.UnixMilli(evt.TradeTime),
		Symbol:       evt.Symbol,
		TradeId:      evt.TradeID,
		Price:        price,
		Quantity:     qty,
		ReceivedTime: time.Now(),
	}, nil
}

// partial depth payloads carry no symbol; the caller passes the subscribed one
func parseBookDepthEvent(symbol string, e []byte) (types.Book, error) {
	var evt wsPartialDepthEvent
	err := json.Unmarshal(e, &evt)
	if err != nil {
		return types.Book{}, err
	}
	bids, err := parseLevels(evt.Bids)
	if err != nil {
		return types.Book{}, err
	}
	asks, err := parseLevels(evt.Asks)
	if err != nil {
		return types.Book{}, err
	}
	now := time.Now()
	return newBook(symbol, evt.LastUpdateID, bids, asks, now), nil
}

func parseDepthResponse(symbol string, res *binance.DepthResponse) (types.Book, error) {
	rawBids := make([][]string, len(res.Bids))
	for i, b := range res.Bids {
		rawBids[i] = []string{b.Price, b.Quantity}
	}
	rawAsks := make([][]string, len(res.Asks))
	for i, a := range res.Asks {
		rawAsks[i] = []string{a.Price, a.Quantity}
	}
	bids, err := parseLevels(rawBids)
	if err != nil {
		return types.Book{}, err
	}
	asks, err := parseLevels(rawAsks)
	if err != nil {
		return types.Book{}, err
	}
	return newBook(symbol, res.LastUpdateID, bids, asks, time.Now()), nil
}

func parseLevels(raw [][]string) ([]types.Order, error) {
	levels, err := utils.PriceLevelsToDecimal(raw)
	if err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(levels))
	for _, l := range levels {
		if !l[1].IsPositive() {
			continue
		}
		out = append(out, types.Order{Price: l[0], Quantity: l[1]})
	}
	return out, nil
}

// newBook enforces bids descending and asks ascending; Binance already sends them
// that way so the sort is a no-op in practice.
func newBook(symbol string, updateID int64, bids, asks []types.Order, now time.Time) types.Book {
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })
	sort.SliceStable(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })
	return types.Book{
		Symbol:       strings.ToUpper(symbol),
		UpdateID:     updateID,
		Time:         now,
		Bids:         bids,
		Asks:         asks,
		ReceivedTime: now,
	}
}

func parseOrderResponse(res *binance.CreateOrderResponse, side types.OrderSide) (order.Result, error) {
	origQty, err := parseOptional(res.OrigQuantity)
	if err != nil {
		return order.Result{}, err
	}
	executedQty, err := parseOptional(res.ExecutedQuantity)
	if err != nil {
		return order.Result{}, err
	}
	quoteQty, err := parseOptional(res.CummulativeQuoteQuantity)
	if err != nil {
		return order.Result{}, err
	}
	fills := make([]order.Fill, 0, len(res.Fills))
	for _, f := range res.Fills {
		price, err := utils.StrToDecimal(f.Price)
		if err != nil {
			return order.Result{}, err
		}
		qty, err := utils.StrToDecimal(f.Quantity)
		if err != nil {
			return order.Result{}, err
		}
		commission, err := parseOptional(f.Commission)
		if err != nil {
			return order.Result{}, err
		}
		fills = append(fills, order.Fill{
			TradeId:         f.TradeID,
			Price:           price,
			Quantity:        qty,
			Commission:      commission,
			CommissionAsset: f.CommissionAsset,
		})
	}
	return order.Result{
		Id:            strconv.FormatInt(res.OrderID, 10),
		Symbol:        res.Symbol,
		OrderType:     types.OrderMarket,
		OrderSide:     side,
		Status:        string(res.Status),
		OrigQty:       origQty,
		ExecutedQty:   executedQty,
		QuoteQuantity: quoteQty,
		Fills:         fills,
	}, nil
}

func parseOptional(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return utils.StrToDecimal(s)
}
