// Package session keeps the route estimate of one client intent fresh while books
// move and the requested size changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"smartroute/pkg/debounce"
	"smartroute/pkg/fill"
	"smartroute/pkg/market"
	"smartroute/pkg/route"
	"smartroute/pkg/stream"
	"smartroute/pkg/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var (
	ErrClosed      = errors.New("session closed")
	ErrInvalidPair = errors.New("invalid pair")
	ErrInvalidSize = errors.New("invalid size")
)

type State string

const (
	StateIdle       = State("idle")
	StateSubscribed = State("subscribed")
)

// Streams is the live market-data side of an exchange.
type Streams interface {
	SubscribeBook(ctx context.Context, symbol string, onUpdate func(types.Book)) (stream.Stream, error)
	SubscribeTrades(ctx context.Context, symbol string, onTrade func(types.TradeEvent)) (stream.Stream, error)
	FetchMinSteps(ctx context.Context, marketA, marketB string) (market.MinSteps, error)
}

type RouteFinder interface {
	BestRoute(ctx context.Context, q route.Query) (route.BestRoute, error)
}

// Pair is a concrete leg pair: sell SellAsset for Bridge, then buy BuyAsset with it.
type Pair struct {
	SellAsset string `json:"sellAsset"`
	BuyAsset  string `json:"buyAsset"`
	Bridge    string `json:"bridge"`
}

func (p Pair) SellMarket() string { return market.Symbol(p.SellAsset, p.Bridge) }
func (p Pair) BuyMarket() string  { return market.Symbol(p.BuyAsset, p.Bridge) }

func (p Pair) normalize() (Pair, error) {
	p.SellAsset = strings.ToUpper(strings.TrimSpace(p.SellAsset))
	p.BuyAsset = strings.ToUpper(strings.TrimSpace(p.BuyAsset))
	p.Bridge = strings.ToUpper(strings.TrimSpace(p.Bridge))
	if p.SellAsset == "" || p.BuyAsset == "" || p.Bridge == "" {
		return p, fmt.Errorf("%w: sell, buy and bridge are required", ErrInvalidPair)
	}
	if p.Bridge == p.SellAsset || p.Bridge == p.BuyAsset {
		return p, fmt.Errorf("%w: bridge %s equals a traded asset", ErrInvalidPair, p.Bridge)
	}
	return p, nil
}

type Options struct {
	SellFeeRate  decimal.Decimal
	BuyFeeRate   decimal.Decimal
	Debounce     time.Duration
	SmartRouting bool     // size and asset changes re-rank all bridges
	FollowBest   bool     // re-pin the leg pair to each new best route
	Bridges      []string // candidate bridges; empty lets the router decide
	FiatAsset    string   // its self-market is never subscribed for prices
}

func DefaultOptions() Options {
	return Options{
		SellFeeRate:  fill.DefaultFeeRate,
		BuyFeeRate:   fill.DefaultFeeRate,
		Debounce:     400 * time.Millisecond,
		SmartRouting: true,
		FiatAsset:    "USDT",
	}
}

// Session owns all mutable state of one client intent. The leg handlers, the
// caller-facing setters and route results all serialize on mu; results and
// updates from an older generation are dropped.
type Session struct {
	Id string

	streams   Streams
	router    RouteFinder
	emitter   Emitter
	opts      Options
	debouncer *debounce.Debouncer
	logger    *log.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	closed           bool
	state            State
	generation       uint64
	pair             Pair
	minSteps         market.MinSteps
	size             decimal.Decimal
	intent           route.Query // assets and bridges for ranking; Size mirrors size
	lastSaleProceeds decimal.Decimal
	genCancel        context.CancelFunc
	bookStreams      []stream.Stream
	routeSeq         uint64 // bumped by every size, intent, ranking request or client pick

	priceGeneration uint64
	priceCancel     context.CancelFunc
	priceStreams    []stream.Stream
}

func New(ctx context.Context, streams Streams, router RouteFinder, emitter Emitter, opts Options) *Session {
	id := uuid.NewString()
	ctx = context.WithValue(ctx, types.SessionIdKey, id)
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		Id:               id,
		streams:          streams,
		router:           router,
		emitter:          emitter,
		opts:             opts,
		debouncer:        debounce.New(opts.Debounce),
		logger:           log.WithField("session", id),
		ctx:              ctx,
		cancel:           cancel,
		state:            StateIdle,
		size:             decimal.Zero,
		lastSaleProceeds: decimal.Zero,
	}
}

// ╔═════════════╗
//     Getters
// ╚═════════════╝

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Session) Pair() Pair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pair
}

func (s *Session) Size() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *Session) LastSaleProceeds() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSaleProceeds
}

// ╔═════════════╗
//    Lifecycle
// ╚═════════════╝

// Select pins the session to pair. Every stream of the previous pair is closed
// before the new legs are subscribed.
func (s *Session) Select(ctx context.Context, pair Pair) error {
	return s.selectPair(ctx, pair, nil)
}

// selectPair only proceeds while the generation still equals expect, when given.
func (s *Session) selectPair(ctx context.Context, pair Pair, expect *uint64) error {
	pair, err := pair.normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if expect != nil && *expect != s.generation {
		s.mu.Unlock()
		return nil
	}
	old := s.teardownLocked()
	if expect == nil {
		// a client pick supersedes rankings still in flight
		s.routeSeq++
	}
	s.pair = pair
	if s.intent.SellAsset == "" {
		s.intent.SellAsset, s.intent.BuyAsset = pair.SellAsset, pair.BuyAsset
	}
	gen := s.generation
	genCtx, genCancel := context.WithCancel(s.ctx)
	s.genCancel = genCancel
	s.mu.Unlock()

	closeAll(old)

	steps, err := s.streams.FetchMinSteps(ctx, pair.SellMarket(), pair.BuyMarket())
	if err != nil {
		genCancel()
		return fmt.Errorf("fail to fetch min steps: %w", err)
	}
	s.mu.Lock()
	if gen == s.generation {
		s.minSteps = steps
	}
	s.mu.Unlock()
	sellStream, err := s.streams.SubscribeBook(genCtx, pair.SellMarket(), s.onSellBook(gen))
	if err != nil {
		genCancel()
		return fmt.Errorf("fail to subscribe %s: %w", pair.SellMarket(), err)
	}
	buyStream, err := s.streams.SubscribeBook(genCtx, pair.BuyMarket(), s.onBuyBook(gen))
	if err != nil {
		sellStream.Close()
		genCancel()
		return fmt.Errorf("fail to subscribe %s: %w", pair.BuyMarket(), err)
	}

	s.mu.Lock()
	if s.closed || gen != s.generation {
		// superseded while subscribing
		s.mu.Unlock()
		closeAll([]stream.Stream{sellStream, buyStream})
		genCancel()
		return nil
	}
	s.bookStreams = []stream.Stream{sellStream, buyStream}
	s.state = StateSubscribed
	s.emitLocked(Event{Type: EventState, State: StateSubscribed})
	s.mu.Unlock()

	s.logger.WithFields(log.Fields{"sell": pair.SellMarket(), "buy": pair.BuyMarket()}).Info("legs subscribed")
	return nil
}

// teardownLocked bumps the generation and detaches the leg streams; the caller
// closes them after releasing mu.
func (s *Session) teardownLocked() []stream.Stream {
	s.generation++
	if s.genCancel != nil {
		s.genCancel()
		s.genCancel = nil
	}
	old := s.bookStreams
	s.bookStreams = nil
	s.lastSaleProceeds = decimal.Zero
	if s.state != StateIdle {
		s.state = StateIdle
		s.emitLocked(Event{Type: EventState, State: StateIdle})
	}
	return old
}

// Unselect drops the current pair and returns to idle.
func (s *Session) Unselect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old := s.teardownLocked()
	s.pair = Pair{}
	s.mu.Unlock()
	closeAll(old)
}

// Close tears everything down. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old := s.teardownLocked()
	s.closed = true
	old = append(old, s.priceStreams...)
	s.priceStreams = nil
	if s.priceCancel != nil {
		s.priceCancel()
	}
	s.mu.Unlock()

	s.debouncer.Stop()
	closeAll(old)
	s.cancel()
	s.logger.Info("session closed")
}

func closeAll(streams []stream.Stream) {
	for _, sm := range streams {
		if sm != nil {
			sm.Close()
		}
	}
}

// ╔═════════════╗
//    Leg books
// ╚═════════════╝

func (s *Session) onSellBook(gen uint64) func(types.Book) {
	return func(book types.Book) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.generation {
			return
		}
		sell := fill.SimulateSell(s.size, book.Bids, s.opts.SellFeeRate)
		s.lastSaleProceeds = sell.NetProceeds
		s.emitLocked(Event{Type: EventSellLeg, SellLeg: &SellLegUpdate{
			Market:   book.Symbol,
			UpdateID: book.UpdateID,
			BestBid:  book.BestBid(),
			BestAsk:  book.BestAsk(),
			Fill:     sell,
			Partial:  sell.Partial(),
		}})
	}
}

func (s *Session) onBuyBook(gen uint64) func(types.Book) {
	return func(book types.Book) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.generation {
			return
		}
		buy := fill.SimulateBuy(s.lastSaleProceeds, book.Asks, s.opts.BuyFeeRate)
		buy = fill.Quantize(buy, s.minSteps.B)
		s.emitLocked(Event{Type: EventBuyLeg, BuyLeg: &BuyLegUpdate{
			Market:   book.Symbol,
			UpdateID: book.UpdateID,
			BestBid:  book.BestBid(),
			BestAsk:  book.BestAsk(),
			MinStep:  s.minSteps.B,
			Fill:     buy,
		}})
	}
}

// ╔═════════════╗
//     Routing
// ╚═════════════╝

// SetSize records a new requested size. With smart routing on, a full ranking is
// scheduled after the debounce window; sizes arriving inside the window supersede it.
func (s *Session) SetSize(size decimal.Decimal) error {
	if size.IsNegative() {
		return fmt.Errorf("%w: %v", ErrInvalidSize, size)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.size = size
	s.intent.Size = size
	s.routeSeq++
	seq, q := s.routeSeq, s.intent
	s.mu.Unlock()

	s.scheduleRoute(seq, q)
	return nil
}

// SetIntent changes the assets and size to rank, as when the client picks new coins.
func (s *Session) SetIntent(q route.Query) error {
	if q.Size.IsNegative() {
		return fmt.Errorf("%w: %v", ErrInvalidSize, q.Size)
	}
	q.SellAsset = strings.ToUpper(q.SellAsset)
	q.BuyAsset = strings.ToUpper(q.BuyAsset)
	if len(q.Bridges) == 0 {
		q.Bridges = s.opts.Bridges
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.size = q.Size
	s.intent = q
	s.routeSeq++
	seq := s.routeSeq
	s.mu.Unlock()

	s.scheduleRoute(seq, q)
	return nil
}

// scheduleRoute debounces a ranking of q; seq identifies the request that asked for it.
func (s *Session) scheduleRoute(seq uint64, q route.Query) {
	if !s.opts.SmartRouting || q.SellAsset == "" || q.BuyAsset == "" {
		return
	}
	s.debouncer.Trigger(func() {
		s.computeRoute(s.ctx, seq, q)
	})
}

// RequestBestRoute ranks q now, superseding any pending debounced ranking. The
// result is returned even when a newer selection makes it stale for emitting.
func (s *Session) RequestBestRoute(ctx context.Context, q route.Query) (route.BestRoute, error) {
	if len(q.Bridges) == 0 {
		q.Bridges = s.opts.Bridges
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return route.BestRoute{}, ErrClosed
	}
	s.routeSeq++
	seq := s.routeSeq
	s.mu.Unlock()

	s.debouncer.Cancel()
	return s.computeRoute(ctx, seq, q)
}

// computeRoute ranks q and publishes the result only while seq is still the
// latest routing request. The leg generation at publish time guards the follow.
func (s *Session) computeRoute(ctx context.Context, seq uint64, q route.Query) (route.BestRoute, error) {
	best, err := s.router.BestRoute(ctx, q)

	s.mu.Lock()
	if s.closed || seq != s.routeSeq {
		s.mu.Unlock()
		s.logger.WithField("seq", seq).Debug("stale route result dropped")
		return best, err
	}
	gen := s.generation
	if err != nil {
		s.emitLocked(Event{Type: EventRouteError, Error: err.Error()})
		s.mu.Unlock()
		if !errors.Is(err, route.ErrNoRoute) {
			s.logger.Warnf("fail to compute best route: %v", err)
		}
		return best, err
	}
	s.emitLocked(Event{Type: EventRoute, Route: &best})
	follow := s.opts.FollowBest && (s.state == StateIdle || s.pair.Bridge != best.Route.Bridge ||
		s.pair.SellAsset != best.SellAsset || s.pair.BuyAsset != best.BuyAsset)
	s.mu.Unlock()

	if follow {
		pair := Pair{SellAsset: best.SellAsset, BuyAsset: best.BuyAsset, Bridge: best.Route.Bridge}
		if err := s.selectPair(ctx, pair, &gen); err != nil {
			s.logger.Warnf("fail to follow best route via %s: %v", pair.Bridge, err)
		}
	}
	return best, nil
}

// ╔═════════════╗
//   Last prices
// ╚═════════════╝

// SubscribeLastPrices replaces the price-tick slot with trade streams for markets.
// The fiat self-market is skipped.
func (s *Session) SubscribeLastPrices(ctx context.Context, markets []string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.priceGeneration++
	gen := s.priceGeneration
	old := s.priceStreams
	s.priceStreams = nil
	if s.priceCancel != nil {
		s.priceCancel()
	}
	priceCtx, priceCancel := context.WithCancel(s.ctx)
	s.priceCancel = priceCancel
	s.mu.Unlock()

	closeAll(old)

	fiatSelf := market.Symbol(strings.ToUpper(s.opts.FiatAsset), strings.ToUpper(s.opts.FiatAsset))
	var opened []stream.Stream
	seen := make(map[string]struct{})
	for _, m := range markets {
		m = strings.ToUpper(m)
		if _, dup := seen[m]; dup || m == "" || m == fiatSelf {
			continue
		}
		seen[m] = struct{}{}
		sm, err := s.streams.SubscribeTrades(priceCtx, m, s.onTrade(gen, m))
		if err != nil {
			closeAll(opened)
			priceCancel()
			return fmt.Errorf("fail to subscribe trades %s: %w", m, err)
		}
		opened = append(opened, sm)
	}

	s.mu.Lock()
	if s.closed || gen != s.priceGeneration {
		s.mu.Unlock()
		closeAll(opened)
		priceCancel()
		return nil
	}
	s.priceStreams = opened
	s.mu.Unlock()
	return nil
}

func (s *Session) onTrade(gen uint64, symbol string) func(types.TradeEvent) {
	return func(evt types.TradeEvent) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || gen != s.priceGeneration {
			return
		}
		s.emitLocked(Event{Type: EventLastPrice, Price: &LastPrice{Market: symbol, Price: evt.Price, Time: evt.Time}})
	}
}

func (s *Session) emitLocked(e Event) {
	e.SessionId = s.Id
	e.Generation = s.generation
	s.emitter.Emit(e)
}
