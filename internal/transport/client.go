package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/harichopper/connect-world/internal/bus"
	"github.com/harichopper/connect-world/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Client owns the one websocket connection per session. It dials with the
// session metadata as query parameters, decodes inbound envelopes at the
// boundary, republishes them on the bus under the "server." namespace, and
// correlates acknowledgements to in-flight requests by ack id.
//
// The client reconnects on its own with exponential backoff; consumers only
// observe conn.up / conn.down bus events.
type Client struct {
	url        string
	bus        *bus.Bus
	logger     *zap.Logger
	ackTimeout time.Duration

	seq atomic.Uint64

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]*pendingAck
	cancel  context.CancelFunc
	closed  bool

	writeMu sync.Mutex
}

type pendingAck struct {
	cb    func(protocol.Ack)
	timer *time.Timer
}

// New builds a client for the given websocket URL. userID and username are
// attached as connection parameters. A nil logger is replaced with a no-op.
func New(serverURL, userID, username string, ackTimeout time.Duration, b *bus.Bus, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", userID)
	q.Set("username", username)
	u.RawQuery = q.Encode()

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		url:        u.String(),
		bus:        b,
		logger:     logger,
		ackTimeout: ackTimeout,
		pending:    make(map[uint64]*pendingAck),
	}, nil
}

// Connect starts the dial/read loop. It returns immediately; connection
// progress is reported via conn.up and conn.down bus events.
func (c *Client) Connect(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.run(ctx)
}

// Close tears the connection down for good. In-flight requests resolve with
// a connection-lost ack.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.failPending(protocol.ErrConnectionLost)
}

func (c *Client) run(ctx context.Context) {
	for {
		conn, err := c.dial(ctx)
		if err != nil {
			// Only context cancellation escapes the backoff loop.
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("transport connected", zap.String("url", c.url))
		c.bus.Emit("conn.up", nil)

		done := make(chan struct{})
		go c.pingLoop(conn, done)
		c.readLoop(conn)
		close(done)

		c.mu.Lock()
		c.conn = nil
		closed := c.closed
		c.mu.Unlock()

		c.failPending(protocol.ErrConnectionLost)

		if closed || ctx.Err() != nil {
			return
		}
		c.logger.Warn("transport disconnected, redialing")
		c.bus.Emit("conn.down", nil)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	op := func() error {
		var err error
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			c.logger.Warn("dial failed", zap.Error(err))
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // retry until cancelled
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", zap.Error(err))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Warn("malformed envelope dropped", zap.Error(err))
			continue
		}
		decoded, err := protocol.DecodeServerEvent(env)
		if err != nil {
			c.logger.Warn("undecodable event dropped", zap.String("event", string(env.Event)), zap.Error(err))
			continue
		}

		if env.Event == protocol.EventAck {
			c.resolve(env.AckID, *decoded.(*protocol.Ack))
			continue
		}
		c.bus.Emit("server."+string(env.Event), decoded)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Emit sends a fire-and-forget event.
func (c *Client) Emit(event protocol.EventType, payload any) error {
	data, err := protocol.Encode(event, 0, payload)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Request sends an acknowledged event. The callback fires exactly once, from
// the reader goroutine on a server ack, or from a timer when the deadline
// passes, or inline when the link is already down.
func (c *Client) Request(event protocol.EventType, payload any, cb func(protocol.Ack)) {
	id := c.seq.Add(1)

	data, err := protocol.Encode(event, id, payload)
	if err != nil {
		cb(protocol.Ack{Success: false, Error: err.Error()})
		return
	}

	p := &pendingAck{cb: cb}
	c.mu.Lock()
	c.pending[id] = p
	p.timer = time.AfterFunc(c.ackTimeout, func() {
		c.resolve(id, protocol.Ack{Success: false, Error: protocol.ErrTimeout})
	})
	c.mu.Unlock()

	if err := c.write(data); err != nil {
		c.resolve(id, protocol.Ack{Success: false, Error: protocol.ErrConnectionLost})
	}
}

func (c *Client) write(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// resolve fires and removes a pending callback. Duplicate or late acks for
// an already-resolved id are ignored.
func (c *Client) resolve(id uint64, ack protocol.Ack) {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		p.timer.Stop()
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.cb(ack)
}

func (c *Client) failPending(reason string) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]*pendingAck)
	c.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		p.cb(protocol.Ack{Success: false, Error: reason})
	}
}
