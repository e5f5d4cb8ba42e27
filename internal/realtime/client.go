package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"guardwatch/internal/auth"
	"guardwatch/internal/logging"
	"guardwatch/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var clientIDs atomic.Uint64

// Dispatcher handles a connection's lifecycle and its decoded inbound frames.
type Dispatcher interface {
	// Connected runs once, after the client is registered and before any frame is read.
	Connected(c *Client)
	Dispatch(ctx context.Context, c *Client, f Frame)
}

// Options tune a client connection.
type Options struct {
	RateRPS       float64 // inbound frames per second, 0 = unlimited
	RateBurst     int
	SendBuffer    int
	MaxFrameBytes int64
}

// Client is one WebSocket connection and its outbound queue.
type Client struct {
	id        uint64
	hub       *Hub
	conn      *websocket.Conn
	principal auth.Principal
	limiter   *rate.Limiter
	maxFrame  int64
	send      chan []byte
	rooms     map[string]struct{} // guarded by hub.mu
	closeOnce sync.Once
}

// NewClient wraps conn. conn may be nil for in-process consumers.
func NewClient(h *Hub, conn *websocket.Conn, p auth.Principal, opts Options) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 1 << 20
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.RateRPS > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(opts.RateRPS) + 1
		}
		lim = rate.NewLimiter(rate.Limit(opts.RateRPS), burst)
	}
	return &Client{
		id:        clientIDs.Add(1),
		hub:       h,
		conn:      conn,
		principal: p,
		limiter:   lim,
		maxFrame:  opts.MaxFrameBytes,
		send:      make(chan []byte, opts.SendBuffer),
		rooms:     map[string]struct{}{},
	}
}

// ID returns the connection id.
func (c *Client) ID() uint64 { return c.id }

// Principal returns the authenticated identity of the connection.
func (c *Client) Principal() auth.Principal { return c.principal }

// Send queues an event to this connection only.
func (c *Client) Send(event string, data any) error {
	return c.hub.sendTo(c, event, data)
}

// enqueue never blocks; a full queue drops the frame. Caller holds hub.mu.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		metrics.DroppedFrames.Inc()
		return false
	}
}

func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
	})
}

// Serve pumps frames until the connection closes. It blocks; the caller's goroutine
// owns the read side.
func (c *Client) Serve(ctx context.Context, d Dispatcher) {
	c.hub.Register(c)
	d.Connected(c)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()
	c.readPump(ctx, d)
	c.hub.Unregister(c)
	<-done
}

func (c *Client) readPump(ctx context.Context, d Dispatcher) {
	defer func() { _ = c.conn.Close() }()
	c.conn.SetReadLimit(c.maxFrame)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Uint64("conn_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			metrics.InboundEvents.WithLabelValues("unknown", "malformed").Inc()
			_ = c.Send(EventError, ErrorPayload{Message: "malformed frame"})
			continue
		}
		if !c.limiter.Allow() {
			metrics.InboundEvents.WithLabelValues(f.Event, "rate_limited").Inc()
			continue
		}
		d.Dispatch(ctx, c, f)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Outbound control events
const (
	EventConnected = "connected"
	EventJoined    = "joined"
	EventError     = "error"
	EventPong      = "pong"
)

// ErrorPayload is sent to a connection whose frame was rejected.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
