package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Book is a full order book snapshot. Bids are sorted best (highest) first, asks best
// (lowest) first. A Book is never mutated once published; the next update replaces it.
type Book struct {
	Symbol       string
	UpdateID     int64
	Time         time.Time
	Bids         []Order
	Asks         []Order
	ReceivedTime time.Time
}

// BestBid returns the top bid price, or zero on an empty side.
func (b Book) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk returns the top ask price, or zero on an empty side.
func (b Book) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

type TradeEvent struct {
	Event        string
	Time         time.Time
	Symbol       string
	TradeId      int64
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	ReceivedTime time.Time
}
