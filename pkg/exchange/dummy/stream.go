package dummy

import (
	"context"
	"fmt"
	"sync"

	"smartroute/pkg/market"
	"smartroute/pkg/stream"
	"smartroute/pkg/types"
)

// DummyStream delivers pushed snapshots synchronously on the pushing goroutine.
type DummyStream struct {
	exchange *DummyExchange
	symbol   string
	name     types.Stream

	onBook  func(types.Book)
	onTrade func(types.TradeEvent)

	doneC    chan struct{}
	mu       sync.Mutex
	isClosed bool
}

func (sm *DummyStream) ConnectAndSubscribe(_ map[string]string, _ func(e []byte)) (chan struct{}, chan struct{}, error) {
	return sm.doneC, nil, nil
}

func (sm *DummyStream) emitBook(book types.Book) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.isClosed || sm.onBook == nil {
		return
	}
	sm.onBook(book)
}

func (sm *DummyStream) emitTrade(evt types.TradeEvent) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.isClosed || sm.onTrade == nil {
		return
	}
	sm.onTrade(evt)
}

// Close unregisters the stream; once it returns no callback is running or will run.
func (sm *DummyStream) Close() {
	sm.mu.Lock()
	if sm.isClosed {
		sm.mu.Unlock()
		return
	}
	sm.isClosed = true
	close(sm.doneC)
	sm.mu.Unlock()
	sm.exchange.unsubscribe(sm)
}

func (sm *DummyStream) IsClosed() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.isClosed
}

func (e *DummyExchange) SubscribeBook(ctx context.Context, symbol string, onUpdate func(types.Book)) (stream.Stream, error) {
	e.mu.Lock()
	if _, ok := e.markets[symbol]; !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", symbol, market.ErrUnknownMarket)
	}
	sm := &DummyStream{exchange: e, symbol: symbol, name: types.StreamBookDepth, onBook: onUpdate, doneC: make(chan struct{})}
	e.bookSubs[symbol] = append(e.bookSubs[symbol], sm)
	e.mu.Unlock()

	go closeOnDone(ctx, sm)
	return sm, nil
}

func (e *DummyExchange) SubscribeTrades(ctx context.Context, symbol string, onTrade func(types.TradeEvent)) (stream.Stream, error) {
	e.mu.Lock()
	sm := &DummyStream{exchange: e, symbol: symbol, name: types.StreamTrade, onTrade: onTrade, doneC: make(chan struct{})}
	e.tradeSubs[symbol] = append(e.tradeSubs[symbol], sm)
	e.mu.Unlock()

	go closeOnDone(ctx, sm)
	return sm, nil
}

func closeOnDone(ctx context.Context, sm *DummyStream) {
	select {
	case <-ctx.Done():
		sm.Close()
	case <-sm.doneC:
	}
}

func (e *DummyExchange) unsubscribe(sm *DummyStream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.bookSubs
	if sm.name == types.StreamTrade {
		subs = e.tradeSubs
	}
	list := subs[sm.symbol]
	for i, s := range list {
		if s == sm {
			subs[sm.symbol] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(subs[sm.symbol]) == 0 {
		delete(subs, sm.symbol)
	}
}
