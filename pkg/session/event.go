package session

import (
	"time"

	"smartroute/pkg/fill"
	"smartroute/pkg/route"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventSellLeg    = EventType("sellLegUpdate")
	EventBuyLeg     = EventType("buyLegUpdate")
	EventRoute      = EventType("routeUpdate")
	EventRouteError = EventType("routeError")
	EventLastPrice  = EventType("lastPrice")
	EventState      = EventType("stateChange")
	// EventError reports a rejected client request; it carries only Error.
	EventError = EventType("error")
)

// Event is everything a session pushes to its client. Exactly one payload field is
// set, matching Type.
type Event struct {
	Type       EventType        `json:"type" msgpack:"type"`
	SessionId  string           `json:"sessionId" msgpack:"sessionId"`
	Generation uint64           `json:"generation" msgpack:"generation"`
	SellLeg    *SellLegUpdate   `json:"sellLeg,omitempty" msgpack:"sellLeg,omitempty"`
	BuyLeg     *BuyLegUpdate    `json:"buyLeg,omitempty" msgpack:"buyLeg,omitempty"`
	Route      *route.BestRoute `json:"route,omitempty" msgpack:"route,omitempty"`
	Price      *LastPrice       `json:"price,omitempty" msgpack:"price,omitempty"`
	State      State            `json:"state,omitempty" msgpack:"state,omitempty"`
	Error      string           `json:"error,omitempty" msgpack:"error,omitempty"`
}

type SellLegUpdate struct {
	Market   string          `json:"market"`
	UpdateID int64           `json:"updateId"`
	BestBid  decimal.Decimal `json:"bestBid"`
	BestAsk  decimal.Decimal `json:"bestAsk"`
	Fill     fill.SellFill   `json:"fill"`
	Partial  bool            `json:"partial"`
}

type BuyLegUpdate struct {
	Market   string          `json:"market"`
	UpdateID int64           `json:"updateId"`
	BestBid  decimal.Decimal `json:"bestBid"`
	BestAsk  decimal.Decimal `json:"bestAsk"`
	MinStep  decimal.Decimal `json:"minStep"`
	Fill     fill.BuyFill    `json:"fill"` // quantized
}

type LastPrice struct {
	Market string          `json:"market"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}

// Emitter receives session events. Emit is called with the session lock held, so it
// must not block or call back into the session.
type Emitter interface {
	Emit(Event)
}

type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) {
	f(e)
}
