package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"smartroute/pkg/route"
	"smartroute/pkg/session"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// clientMessage is one request from a session client.
type clientMessage struct {
	Action  string          `json:"action"` // select | unselect | setSize | setIntent | bestRoute | subscribePrices | terminate
	Sell    string          `json:"sell,omitempty"`
	Buy     string          `json:"buy,omitempty"`
	Bridge  string          `json:"bridge,omitempty"`
	Bridges []string        `json:"bridges,omitempty"`
	Size    decimal.Decimal `json:"size"`
	Markets []string        `json:"markets,omitempty"`
}

// WsServer serves one live route session per websocket connection on /ws.
// Query parameters: codec=json|msgpack, follow=true, smart=false.
type WsServer struct {
	ctx      context.Context
	universe *Universe
	upgrader websocket.Upgrader
	server   *http.Server
}

func NewWsServer(ctx context.Context, u *Universe, addr string) *WsServer {
	s := &WsServer{
		ctx:      ctx,
		universe: u,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.server = &http.Server{Addr: addr, Handler: s.Handler()}
	return s
}

func (s *WsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handle)
	return mux
}

func (s *WsServer) ListenAndServe() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *WsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *WsServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("ws: upgrade failed: %v", err)
		return
	}

	params := r.URL.Query()
	opts := s.universe.SessionOptions()
	opts.FollowBest = params.Get("follow") == "true"
	if params.Get("smart") == "false" {
		opts.SmartRouting = false
	}

	c := &wsConn{
		conn:  conn,
		codec: codecFor(params.Get("codec")),
		send:    make(chan session.Event, sendBufferSize),
		done:    make(chan struct{}),
		lagging: make(chan struct{}),
	}
	c.session = session.New(s.ctx, s.universe.RoutingExchange(), s.universe.Router(), c, opts)
	c.logger = log.WithFields(log.Fields{"session": c.session.Id, "codec": c.codec.Name()})
	c.logger.Info("ws: client connected")

	go c.writePump(s.ctx)
	c.readPump(s.ctx)
}

type wsConn struct {
	conn    *websocket.Conn
	codec   codec
	session *session.Session
	logger  *log.Entry

	send      chan session.Event
	done      chan struct{}
	closeOnce sync.Once
	lagging   chan struct{} // closed when an event that must not be lost is dropped
	lagOnce   sync.Once
}

// supersededByNext lists events whose loss the next event of the same type repairs.
var supersededByNext = map[session.EventType]bool{
	session.EventSellLeg:   true,
	session.EventBuyLeg:    true,
	session.EventLastPrice: true,
}

// Emit queues e for the write pump. A full buffer drops leg and price updates;
// for any other event the client is cut off, since it would keep a stale route
// or state.
func (c *wsConn) Emit(e session.Event) {
	select {
	case c.send <- e:
		return
	default:
	}
	if supersededByNext[e.Type] {
		c.logger.Debugf("ws: dropping %s for slow client", e.Type)
		return
	}
	c.lagOnce.Do(func() {
		c.logger.Warnf("ws: client too slow to receive %s, disconnecting", e.Type)
		close(c.lagging)
	})
}

func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.session.Close()
		c.conn.Close()
		c.logger.Info("ws: client disconnected")
	})
}

func (c *wsConn) readPump(ctx context.Context) {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnf("ws: unexpected close error: %v", err)
			}
			return
		}
		var msg clientMessage
		if err := c.codec.Decode(data, &msg); err != nil {
			c.reject(fmt.Errorf("malformed message: %w", err))
			continue
		}
		if msg.Action == "terminate" {
			return
		}
		if err := c.dispatch(ctx, msg); err != nil {
			c.reject(err)
		}
	}
}

func (c *wsConn) dispatch(ctx context.Context, msg clientMessage) error {
	s := c.session
	switch msg.Action {
	case "select":
		return s.Select(ctx, session.Pair{SellAsset: msg.Sell, BuyAsset: msg.Buy, Bridge: msg.Bridge})
	case "unselect":
		s.Unselect()
		return nil
	case "setSize":
		return s.SetSize(msg.Size)
	case "setIntent":
		return s.SetIntent(route.Query{SellAsset: msg.Sell, BuyAsset: msg.Buy, Bridges: msg.Bridges, Size: msg.Size})
	case "bestRoute":
		// the outcome reaches the client as a route event
		go s.RequestBestRoute(ctx, route.Query{SellAsset: msg.Sell, BuyAsset: msg.Buy, Bridges: msg.Bridges, Size: msg.Size})
		return nil
	case "subscribePrices":
		return s.SubscribeLastPrices(ctx, msg.Markets)
	default:
		return fmt.Errorf("unknown action '%s'", msg.Action)
	}
}

func (c *wsConn) reject(err error) {
	c.Emit(session.Event{Type: session.EventError, SessionId: c.session.Id, Error: err.Error()})
}

func (c *wsConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case <-c.done:
			return
		case <-c.lagging:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "client too slow"))
			return
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
			return
		case e := <-c.send:
			data, err := c.codec.Encode(e)
			if err != nil {
				c.logger.Errorf("ws: fail to encode %s event: %v", e.Type, err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
