package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"smartroute/pkg/exchange/dummy"
	"smartroute/pkg/market"
	"smartroute/pkg/route"
	"smartroute/pkg/types"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func lvl(price, qty string) []types.Order {
	return []types.Order{{Price: d(price), Quantity: d(qty)}}
}

func newTestExchange() *dummy.DummyExchange {
	e := dummy.NewEmpty()
	e.AddMarket("ETH", "BTC", d("0.0001"))
	e.AddMarket("ADA", "BTC", d("7"))
	e.AddMarket("ETH", "USDT", d("0.0001"))
	e.AddMarket("ADA", "USDT", d("0.1"))
	e.AddMarket("BTC", "USDT", d("0.00001"))

	e.SetBook("ETHBTC", lvl("0.05", "100"), lvl("0.0501", "100"))
	e.SetBook("ADABTC", lvl("0.0000099", "1000000"), lvl("0.00001", "1000000"))
	e.SetBook("ETHUSDT", lvl("2000", "100"), lvl("2001", "100"))
	e.SetBook("ADAUSDT", lvl("0.49", "1000000"), lvl("0.5", "1000000"))
	return e
}

func newTestRouter(e *dummy.DummyExchange) *route.Router {
	return route.NewRouter(route.NewBuilder(e, route.DefaultOptions()), e, e, market.NewConnections(e.Markets()), route.RouterConfig{
		Bridges:   []string{"BTC", "USDT"},
		FiatAsset: "USDT",
	})
}

type collector struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newCollector() *collector {
	return &collector{ch: make(chan Event, 256)}
}

func (c *collector) Emit(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	select {
	case c.ch <- e:
	default:
	}
}

func (c *collector) ofType(t EventType) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (c *collector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func (c *collector) waitFor(t *testing.T, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-c.ch:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func staticOptions() Options {
	opts := DefaultOptions()
	opts.SmartRouting = false
	return opts
}

func TestSelectAndLegUpdates(t *testing.T) {
	e := newTestExchange()
	c := newCollector()
	s := New(context.Background(), e, newTestRouter(e), c, staticOptions())
	defer s.Close()

	if err := s.SetSize(d("1")); err != nil {
		t.Fatalf("SetSize failed: %v", err)
	}
	if err := s.Select(context.Background(), Pair{SellAsset: "eth", BuyAsset: "ada", Bridge: "btc"}); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if s.State() != StateSubscribed {
		t.Errorf("state = %s, want subscribed", s.State())
	}
	if n := e.ActiveStreams(); n != 2 {
		t.Errorf("active streams = %d, want 2", n)
	}

	e.SetBook("ETHBTC", lvl("0.05", "100"), lvl("0.0501", "100"))
	sells := c.ofType(EventSellLeg)
	if len(sells) != 1 {
		t.Fatalf("sell updates = %d, want 1", len(sells))
	}
	sell := sells[0].SellLeg
	if sell.Market != "ETHBTC" || !sell.Fill.Quantity.Equal(d("1")) || sell.Partial {
		t.Errorf("unexpected sell update: %+v", sell)
	}
	if !s.LastSaleProceeds().Equal(d("0.04995")) {
		t.Errorf("last sale proceeds = %v, want 0.04995", s.LastSaleProceeds())
	}

	e.SetBook("ADABTC", lvl("0.0000099", "1000000"), lvl("0.00001", "1000000"))
	buys := c.ofType(EventBuyLeg)
	if len(buys) != 1 {
		t.Fatalf("buy updates = %d, want 1", len(buys))
	}
	buy := buys[0].BuyLeg
	if !buy.Fill.Budget.Equal(d("0.04995")) {
		t.Errorf("buy budget = %v, want 0.04995", buy.Fill.Budget)
	}
	if !buy.MinStep.Equal(d("7")) || !buy.Fill.Quantity.Equal(d("4991")) {
		t.Errorf("buy leg not quantized: step %v qty %v", buy.MinStep, buy.Fill.Quantity)
	}
	if buys[0].SessionId != s.Id || buys[0].Generation != s.Generation() {
		t.Errorf("event not tagged with session: %+v", buys[0])
	}
}

func TestSellLegReportsPartialFill(t *testing.T) {
	e := newTestExchange()
	c := newCollector()
	s := New(context.Background(), e, newTestRouter(e), c, staticOptions())
	defer s.Close()

	s.SetSize(d("150"))
	if err := s.Select(context.Background(), Pair{SellAsset: "ETH", BuyAsset: "ADA", Bridge: "USDT"}); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	e.SetBook("ETHUSDT", lvl("2000", "100"), lvl("2001", "100"))
	sells := c.ofType(EventSellLeg)
	if len(sells) != 1 || !sells[0].SellLeg.Partial || !sells[0].SellLeg.Fill.Quantity.Equal(d("100")) {
		t.Errorf("expected partial fill of 100, got %+v", sells)
	}
}

func TestSelectTearsDownPreviousPair(t *testing.T) {
	e := newTestExchange()
	c := newCollector()
	s := New(context.Background(), e, newTestRouter(e), c, staticOptions())
	defer s.Close()
	s.SetSize(d("1"))

	if err := s.Select(context.Background(), Pair{SellAsset: "ETH", BuyAsset: "ADA", Bridge: "BTC"}); err != nil {
		t.Fatalf("Select BTC failed: %v", err)
	}
	e.SetBook("ETHBTC", lvl("0.05", "100"), nil)
	firstGen := s.Generation()

	if err := s.Select(context.Background(), Pair{SellAsset: "ETH", BuyAsset: "ADA", Bridge: "USDT"}); err != nil {
		t.Fatalf("Select USDT failed: %v", err)
	}
	if n := e.ActiveStreams(); n != 2 {
		t.Errorf("active streams = %d, want 2", n)
	}
	if !s.LastSaleProceeds().IsZero() {
		t.Errorf("proceeds should reset on a new pair, got %v", s.LastSaleProceeds())
	}
	if s.Generation() == firstGen {
		t.Error("generation should advance on Select")
	}

	c.reset()
	e.SetBook("ETHBTC", lvl("0.06", "100"), nil)
	e.SetBook("ADABTC", nil, lvl("0.00001", "10"))
	if n := len(c.ofType(EventSellLeg)) + len(c.ofType(EventBuyLeg)); n != 0 {
		t.Errorf("old pair emitted %d updates after teardown", n)
	}

	e.SetBook("ETHUSDT", lvl("2000", "100"), nil)
	sells := c.ofType(EventSellLeg)
	if len(sells) != 1 || sells[0].SellLeg.Market != "ETHUSDT" {
		t.Fatalf("unexpected sell updates: %+v", sells)
	}
	if sells[0].Generation != s.Generation() {
		t.Errorf("generation = %d, want %d", sells[0].Generation, s.Generation())
	}
}

func TestSetSizeDebouncesRouting(t *testing.T) {
	e := newTestExchange()
	c := newCollector()
	opts := DefaultOptions()
	opts.Debounce = 30 * time.Millisecond
	s := New(context.Background(), e, newTestRouter(e), c, opts)
	defer s.Close()

	if err := s.SetIntent(route.Query{SellAsset: "eth", BuyAsset: "ada", Size: d("1")}); err != nil {
		t.Fatalf("SetIntent failed: %v", err)
	}
	s.SetSize(d("2"))
	s.SetSize(d("3"))

	evt := c.waitFor(t, EventRoute)
	if !evt.Route.Size.Equal(d("3")) {
		t.Errorf("route size = %v, want 3", evt.Route.Size)
	}
	if evt.Route.Route.Bridge != "BTC" {
		t.Errorf("best bridge = %s, want BTC", evt.Route.Route.Bridge)
	}
	time.Sleep(100 * time.Millisecond)
	if n := len(c.ofType(EventRoute)); n != 1 {
		t.Errorf("route updates = %d, want 1", n)
	}
	if s.State() != StateIdle {
		t.Error("session should not follow routes unless asked")
	}
}

type slowRouter struct {
	calls   atomic.Int32
	release chan struct{}
}

func (r *slowRouter) BestRoute(_ context.Context, q route.Query) (route.BestRoute, error) {
	r.calls.Add(1)
	<-r.release
	return route.BestRoute{SellAsset: q.SellAsset, BuyAsset: q.BuyAsset, Size: q.Size, Route: route.Route{Bridge: "BTC"}}, nil
}

func TestStaleRouteResultDiscarded(t *testing.T) {
	e := newTestExchange()
	c := newCollector()
	router := &slowRouter{release: make(chan struct{})}
	opts := DefaultOptions()
	opts.Debounce = 10 * time.Millisecond
	s := New(context.Background(), e, router, c, opts)
	defer s.Close()

	s.SetIntent(route.Query{SellAsset: "ETH", BuyAsset: "ADA", Size: d("1")})
	waitUntil(t, func() bool { return router.calls.Load() == 1 })

	// the pair changes while the ranking is in flight
	if err := s.Select(context.Background(), Pair{SellAsset: "ETH", BuyAsset: "ADA", Bridge: "USDT"}); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	close(router.release)
	time.Sleep(50 * time.Millisecond)

	if n := len(c.ofType(EventRoute)); n != 0 {
		t.Errorf("stale route result emitted %d times", n)
	}
}

// sizeGatedRouter holds every ranking for gate until release is closed. Each
// size wins through its own bridge so the emitted route identifies it.
type sizeGatedRouter struct {
	gate    decimal.Decimal
	release chan struct{}
	gated   atomic.Int32
	bridges map[string]string
}

func (r *sizeGatedRouter) BestRoute(_ context.Context, q route.Query) (route.BestRoute, error) {
	if q.Size.Equal(r.gate) {
		r.gated.Add(1)
		<-r.release
	}
	return route.BestRoute{SellAsset: q.SellAsset, BuyAsset: q.BuyAsset, Size: q.Size, Route: route.Route{Bridge: r.bridges[q.Size.String()]}}, nil
}

func TestSupersededSizeRouteDropped(t *testing.T) {
	e := newTestExchange()
	c := newCollector()
	router := &sizeGatedRouter{gate: d("1"), release: make(chan struct{}), bridges: map[string]string{"1": "BTC", "2": "USDT"}}
	opts := DefaultOptions()
	opts.Debounce = 10 * time.Millisecond
	opts.FollowBest = true
	s := New(context.Background(), e, router, c, opts)
	defer s.Close()

	s.SetIntent(route.Query{SellAsset: "ETH", BuyAsset: "ADA", Size: d("1")})
	waitUntil(t, func() bool { return router.gated.Load() == 1 })

	if err := s.SetSize(d("2")); err != nil {
		t.Fatalf("SetSize failed: %v", err)
	}
	c.waitFor(t, EventRoute)
	waitUntil(t, func() bool { return s.State() == StateSubscribed })

	close(router.release)
	time.Sleep(50 * time.Millisecond)

	routes := c.ofType(EventRoute)
	if len(routes) != 1 {
		t.Fatalf("route updates = %d, want 1", len(routes))
	}
	if !routes[0].Route.Size.Equal(d("2")) {
		t.Errorf("route size = %v, want 2", routes[0].Route.Size)
	}
	if p := s.Pair(); p.Bridge != "USDT" {
		t.Errorf("followed bridge = %s, want USDT from the current size", p.Bridge)
	}
}

func TestRequestBestRouteEmitsImmediately(t *testing.T) {
	e := newTestExchange()
	c := newCollector()
	opts := DefaultOptions()
	opts.Debounce = time.Hour
	s := New(context.Background(), e, newTestRouter(e), c, opts)
	defer s.Close()

	s.SetIntent(route.Query{SellAsset: "ETH", BuyAsset: "ADA", Size: d("1")})
	best, err := s.RequestBestRoute(context.Background(), route.Query{SellAsset: "ETH", BuyAsset: "ADA", Size: d("1")})
	if err != nil {
		t.Fatalf("RequestBestRoute failed: %v", err)
	}
	if best.Route.Bridge != "BTC" {
		t.Errorf("best bridge = %s, want BTC", best.Route.Bridge)
	}
	if n := len(c.ofType(EventRoute)); n != 1 {
		t.Errorf("route updates = %d, want 1", n)
	}

	_, err = s.RequestBestRoute(context.Background(), route.Query{SellAsset: "ETH", BuyAsset: "XRP", Size: d("1")})
	if !errors.Is(err, route.ErrNoRoute) {
		t.Errorf("error = %v, want ErrNoRoute", err)
	}
	if n := len(c.ofType(EventRouteError)); n != 1 {
		t.Errorf("route errors = %d, want 1", n)
	}
}

func TestFollowBestPinsWinningPair(t *testing.T) {
	e := newTestExchange()
	c := newCollector()
	opts := DefaultOptions()
	opts.Debounce = 10 * time.Millisecond
	opts.FollowBest = true
	s := New(context.Background(), e, newTestRouter(e), c, opts)
	defer s.Close()

	s.SetIntent(route.Query{SellAsset: "ETH", BuyAsset: "ADA", Size: d("1")})
	c.waitFor(t, EventRoute)
	waitUntil(t, func() bool { return s.State() == StateSubscribed })

	if p := s.Pair(); p.Bridge != "BTC" || p.SellMarket() != "ETHBTC" || p.BuyMarket() != "ADABTC" {
		t.Errorf("pair = %+v, want ETH/ADA via BTC", p)
	}
	if n := e.ActiveStreams(); n != 2 {
		t.Errorf("active streams = %d, want 2", n)
	}
}

func TestSubscribeLastPrices(t *testing.T) {
	e := newTestExchange()
	c := newCollector()
	s := New(context.Background(), e, newTestRouter(e), c, staticOptions())
	defer s.Close()

	if err := s.SubscribeLastPrices(context.Background(), []string{"ETHBTC", "USDTUSDT", "BTCUSDT", "ethbtc"}); err != nil {
		t.Fatalf("SubscribeLastPrices failed: %v", err)
	}
	if n := e.ActiveStreams(); n != 2 {
		t.Errorf("active streams = %d, want 2", n)
	}
	e.SetPrice("BTCUSDT", d("41000"))
	prices := c.ofType(EventLastPrice)
	if len(prices) != 1 || prices[0].Price.Market != "BTCUSDT" || !prices[0].Price.Price.Equal(d("41000")) {
		t.Fatalf("unexpected price events: %+v", prices)
	}

	if err := s.SubscribeLastPrices(context.Background(), []string{"ADAUSDT"}); err != nil {
		t.Fatalf("SubscribeLastPrices failed: %v", err)
	}
	if n := e.ActiveStreams(); n != 1 {
		t.Errorf("active streams = %d, want 1", n)
	}
	e.SetPrice("BTCUSDT", d("42000"))
	if n := len(c.ofType(EventLastPrice)); n != 1 {
		t.Errorf("replaced slot still emitting: %d events", n)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newTestExchange()
	c := newCollector()
	s := New(context.Background(), e, newTestRouter(e), c, staticOptions())

	s.Select(context.Background(), Pair{SellAsset: "ETH", BuyAsset: "ADA", Bridge: "BTC"})
	s.SubscribeLastPrices(context.Background(), []string{"BTCUSDT"})
	s.Close()
	s.Close()

	if n := e.ActiveStreams(); n != 0 {
		t.Errorf("active streams after close = %d, want 0", n)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
	if err := s.SetSize(d("1")); !errors.Is(err, ErrClosed) {
		t.Errorf("SetSize after close = %v, want ErrClosed", err)
	}
	if err := s.Select(context.Background(), Pair{SellAsset: "ETH", BuyAsset: "ADA", Bridge: "BTC"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Select after close = %v, want ErrClosed", err)
	}
}

func TestInvalidInput(t *testing.T) {
	e := newTestExchange()
	s := New(context.Background(), e, newTestRouter(e), newCollector(), staticOptions())
	defer s.Close()

	if err := s.Select(context.Background(), Pair{SellAsset: "ETH", BuyAsset: "ADA", Bridge: "ETH"}); !errors.Is(err, ErrInvalidPair) {
		t.Errorf("Select error = %v, want ErrInvalidPair", err)
	}
	if err := s.SetSize(d("-1")); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("SetSize error = %v, want ErrInvalidSize", err)
	}
	if err := s.Select(context.Background(), Pair{SellAsset: "ETH", BuyAsset: "XRP", Bridge: "BTC"}); err == nil {
		t.Error("Select on an unknown market should fail")
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
}
