package handler

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/pairchat/internal/config"
	"github.com/iliyamo/pairchat/internal/hub"
	"github.com/iliyamo/pairchat/internal/middleware"
)

var (
	errTransportClosed = errors.New("transport closed")
	errSendBufferFull  = errors.New("send buffer full")
)

// WSHandler upgrades GET /ws and bridges one websocket to the hub.
type WSHandler struct {
	Hub      *hub.Hub
	Verifier hub.Verifier
	Cfg      config.WSConfig

	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, v hub.Verifier, cfg config.WSConfig, origin string) *WSHandler {
	return &WSHandler{
		Hub:      h,
		Verifier: v,
		Cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(origin),
		},
	}
}

// checkOrigin accepts same-origin and non-browser clients, plus the
// configured browser origin.  "*" accepts everything.
func checkOrigin(allowed string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		o := r.Header.Get("Origin")
		return o == "" || allowed == "*" || o == allowed || o == "http://"+r.Host || o == "https://"+r.Host
	}
}

// Serve runs the connection until the peer leaves or the hub evicts it.
// The session cookie, if any, is verified after registration so a slow
// verification never delays the first presence frame.
//
// Text frames are handled by a per-connection worker in arrival order.  The
// read loop only queues them, so pongs keep reaching the hub while a frame
// waits on the store or the broker.
func (h *WSHandler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		zap.S().Debugw("websocket upgrade failed", "remote", c.RealIP(), "error", err)
		return nil
	}

	t := newWSTransport(conn, h.Cfg)
	go t.writePump()

	hc := hub.NewConn(t)
	if err := h.Hub.Register(hc); err != nil {
		_ = t.Close()
		return nil
	}
	log := zap.S().With("conn", hc.ID(), "remote", c.RealIP())

	ctx := c.Request().Context()
	if ck, err := c.Cookie(middleware.TokenCookie); err == nil && ck.Value != "" {
		go func(token string) {
			id, err := h.Verifier.Verify(ctx, token)
			if err != nil {
				log.Infow("handshake token rejected, connection stays anonymous", "error", fmt.Errorf("%w: %v", hub.ErrInvalidToken, err))
				return
			}
			h.Hub.Identify(hc, id)
		}(ck.Value)
	}

	inbound := make(chan []byte, inboundBuffer(h.Cfg))
	worked := make(chan struct{})
	go func() {
		defer close(worked)
		for data := range inbound {
			_ = h.Hub.HandleInbound(ctx, hc, data)
		}
	}()

	conn.SetReadLimit(h.Cfg.MaxFrameBytes)
	conn.SetPongHandler(func(string) error {
		h.Hub.Ack(hc)
		return nil
	})
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugw("websocket read ended", "error", err)
			}
			break
		}
		if typ != websocket.TextMessage {
			continue
		}
		inbound <- data
	}
	close(inbound)

	h.Hub.Deregister(hc)
	_ = t.Close()
	// Frames already read are still persisted; the request context stays
	// live until Serve returns.
	<-worked
	return nil
}

func inboundBuffer(cfg config.WSConfig) int {
	if cfg.InboundBuffer < 1 {
		return 1
	}
	return cfg.InboundBuffer
}

// wsTransport adapts a gorilla connection to hub.Transport.  Frames are
// queued and written by a single writer goroutine.  Presence snapshots use
// a one-slot mailbox instead of the queue: a newer snapshot replaces an
// unsent older one, so the latest roster is never dropped.
type wsTransport struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	writeWait time.Duration

	mu       sync.Mutex
	presence []byte
	wake     chan struct{}
}

func newWSTransport(conn *websocket.Conn, cfg config.WSConfig) *wsTransport {
	size := cfg.SendBuffer
	if size < 1 {
		size = 1
	}
	wait := cfg.WriteWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &wsTransport{
		conn:      conn,
		send:      make(chan []byte, size),
		done:      make(chan struct{}),
		writeWait: wait,
		wake:      make(chan struct{}, 1),
	}
}

// Send enqueues a frame without blocking.
func (t *wsTransport) Send(frame []byte) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	select {
	case t.send <- frame:
		return nil
	case <-t.done:
		return errTransportClosed
	default:
		return errSendBufferFull
	}
}

// SendPresence stores frame as the next snapshot to write, replacing any
// snapshot the writer has not picked up yet.
func (t *wsTransport) SendPresence(frame []byte) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	t.mu.Lock()
	t.presence = frame
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
	return nil
}

func (t *wsTransport) takePresence() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	frame := t.presence
	t.presence = nil
	return frame
}

func (t *wsTransport) Ping() error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait))
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) writePump() {
	for {
		var frame []byte
		select {
		case frame = <-t.send:
		case <-t.wake:
			if frame = t.takePresence(); frame == nil {
				continue
			}
		case <-t.done:
			return
		}
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
		if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			_ = t.Close()
			return
		}
	}
}
