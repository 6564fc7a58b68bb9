package bns

import (
	"context"
	"net/url"
	"sync"
	"time"

	"smartroute/pkg/stream"
	"smartroute/pkg/types"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	log "github.com/sirupsen/logrus"
)

const (
	handshakeTimeout = 10 * time.Second
	// https://developers.binance.com/docs/binance-spot-api-docs/web-socket-streams
	connAutoReset = time.Hour
	retryMin      = 500 * time.Millisecond
	retryMax      = 30 * time.Second
)

type BnsStream struct {
	exchange *BnsExchange
	wsUrl    string
	dialer   websocket.Dialer
	conn     *websocket.Conn
	retry    *backoff.Backoff

	// channels
	resetC         chan struct{}
	doneC          chan struct{}
	stopC          chan struct{}
	isDisconnected bool // temporary disconnection; the stream may auto-reconnect
	isClosed       bool // permanent closure; the stream will not reconnect

	// callbacks
	onConn  func(stream.Stream)
	onClose func(stream.Stream)

	mu     sync.Mutex
	logger *log.Entry
}

func NewStream(ctx context.Context, streamName types.Stream, bnsExchg *BnsExchange, wsUrl string, onConn func(stream.Stream), onClose func(stream.Stream)) (*BnsStream, error) {
	// validate wsUrl
	_, err := url.Parse(wsUrl)
	if err != nil {
		return nil, err
	}
	return &BnsStream{
		wsUrl:    wsUrl,
		exchange: bnsExchg,
		dialer: websocket.Dialer{
			HandshakeTimeout:  handshakeTimeout,
			EnableCompression: false,
		},
		retry:  &backoff.Backoff{Min: retryMin, Max: retryMax, Factor: 2, Jitter: true},
		resetC: make(chan struct{}, 1),
		logger: log.WithFields(log.Fields{
			"session": ctx.Value(types.SessionIdKey),
			"stream":  wsUrl,
			"name":    streamName,
		}),
		onConn:  onConn,
		onClose: onClose,
	}, nil
}

func (sm *BnsStream) ConnectAndSubscribe(_ map[string]string, onEvent func(e []byte)) (doneC chan struct{}, stopC chan struct{}, err error) {
	// connect
	err = sm.connect()
	if err != nil {
		return nil, nil, err
	}
	if sm.onConn != nil {
		sm.onConn(sm)
	}

	// subscribe
	sm.doneC = make(chan struct{})
	sm.stopC = make(chan struct{})
	go sm.subscribe(onEvent)
	go sm.autoReset()

	return sm.doneC, sm.stopC, nil
}

func (sm *BnsStream) connect() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	c, _, err := sm.dialer.Dial(sm.wsUrl, nil)
	if err != nil {
		sm.logger.Errorf("fail to connect stream: %v", err)
		return err
	}
	sm.conn = c

	// keep stream connection alive: Binance pings every 20s, respond with matching pong payload
	sm.conn.SetPingHandler(func(msg string) error {
		sm.logger.Debugf("received ping, sending pong: %s", msg)
		err := c.WriteControl(websocket.PongMessage, []byte(msg), time.Now().Add(handshakeTimeout))
		if err != nil {
			sm.logger.Warnf("fail to send pong: %v", err)
			return nil // intentionally return nil even err to prevent connection teardown
		}
		return nil
	})
	return nil
}

func (sm *BnsStream) currentConn() *websocket.Conn {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.conn
}

// handleReconnect redials with exponential backoff. Book streams carry full
// snapshots, so nothing has to be replayed after a reconnect.
func (sm *BnsStream) handleReconnect() {
	if !sm.IsDisconnected() {
		sm.forceDisconnect()
	}

	for {
		if sm.IsClosed() {
			return
		}
		wait := sm.retry.Duration()
		select {
		case <-sm.stopC:
			sm.Close()
			return
		case <-sm.doneC:
			return
		case <-time.After(wait):
			if err := sm.connect(); err != nil {
				sm.logger.WithField("attempt", sm.retry.Attempt()).Errorf("fail to reconnect stream (retrying in %v): %v", wait, err)
				continue
			}
			sm.logger.Info("reconnect and resubscribe stream success")
			sm.retry.Reset()
			sm.mu.Lock()
			sm.isDisconnected = false
			sm.mu.Unlock()
			return
		}
	}
}

func (sm *BnsStream) subscribe(onEvent func(e []byte)) {
	for {
		select {
		case <-sm.stopC:
			sm.Close()
			return
		case <-sm.resetC:
			sm.handleReconnect()
		default:
			if sm.IsClosed() {
				return
			}
			_, msg, err := sm.currentConn().ReadMessage()
			if err != nil {
				if sm.IsClosed() {
					return
				}
				sm.logger.Errorf("fail to read stream message (trying to reconnect): %v", err)
				sm.handleReconnect()
				continue
			}
			if sm.IsClosed() {
				return
			}
			onEvent(msg)
		}
	}
}

// Binance drops connections after 24h; the stream resets itself every connAutoReset
// to reconnect on its own terms.
func (sm *BnsStream) autoReset() {
	timer := time.NewTicker(connAutoReset)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			// @dev: must check the state inside the ticker loop to handle reconnections
			if sm.IsClosed() {
				return
			}
			if sm.IsDisconnected() {
				continue
			}
			sm.logger.Infof("auto-reset triggered after %v", connAutoReset)
			select {
			case sm.resetC <- struct{}{}:
			default:
			}
		case <-sm.stopC:
			return
		case <-sm.doneC:
			return
		}
	}
}

// Close() is the final function to be called; the stream cannot be reopened afterward
func (sm *BnsStream) Close() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// @dev: must directly read sm.isClosed here to prevent mutex deadlock
	if sm.isClosed {
		return
	}
	if sm.onClose != nil {
		sm.onClose(sm)
	}
	if sm.conn != nil {
		if err := sm.conn.Close(); err != nil {
			sm.logger.Warnf("fail to close stream: %v", err)
		}
	}
	sm.isDisconnected = true
	sm.isClosed = true

	if sm.doneC != nil {
		select {
		case <-sm.doneC:
		default:
			close(sm.doneC)
		}
	}
	sm.logger.Debug("stream closed")
}

func (sm *BnsStream) forceDisconnect() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.isDisconnected {
		return
	}

	sm.conn.Close()
	sm.isDisconnected = true
}

func (sm *BnsStream) IsDisconnected() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.isDisconnected
}

func (sm *BnsStream) IsClosed() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.isClosed
}
