// Package transport implements the shared real-time stream client broker
// adapters build on. It owns the websocket connection, the read loop, and
// reconnect-with-backoff; adapters translate their broker's frame layout into
// the gateway event model before handing frames to the sink.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/finkor/brokergate/internal/provider"
	gwerrors "github.com/finkor/brokergate/pkg/errors"
	"github.com/finkor/brokergate/pkg/models"
)

const (
	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = 30 * time.Second
	writeTimeout          = 5 * time.Second
	pongTimeout           = 60 * time.Second
	pingInterval          = 25 * time.Second
)

// Frame is the canonical wire layout for stream messages. Adapters whose
// brokers speak a different shape convert before injecting.
type Frame struct {
	Type   string            `json:"type"`
	Symbol string            `json:"symbol,omitempty"`
	Quote  *models.Quote     `json:"quote,omitempty"`
	Book   *models.OrderBook `json:"book,omitempty"`
	Order  *models.Order     `json:"order,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Sink receives decoded events from the read loop.
type Sink func(provider.Event)

// StreamClient maintains one websocket session against a broker stream
// endpoint. Reads happen on a dedicated goroutine; a broken connection is
// redialed with exponential backoff and the OnReconnect hook is invoked so
// the owner can replay its subscriptions.
type StreamClient struct {
	url    string
	logger *zap.Logger
	dialer *websocket.Dialer
	sink   Sink

	// OnReconnect runs after every successful redial, before reads resume.
	OnReconnect func(ctx context.Context) error

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	done   chan struct{}
}

func NewStreamClient(url string, sink Sink, logger *zap.Logger) *StreamClient {
	return &StreamClient{
		url:    url,
		logger: logger.With(zap.String("stream", url)),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		sink:   sink,
	}
}

// Connect dials the endpoint and starts the read loop.
func (c *StreamClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	c.closed = false

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindNetwork, "StreamDialFailed", err)
	}
	c.conn = conn
	c.done = make(chan struct{})
	go c.readLoop(conn, c.done)
	go c.pingLoop(conn, c.done)
	c.logger.Info("stream connected")
	return nil
}

// Reconnect tears down the current session and dials again. It backs the
// recovery manager's reconnect-transport hook.
func (c *StreamClient) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if c.OnReconnect != nil {
		return c.OnReconnect(ctx)
	}
	return nil
}

// Send writes one JSON message, serialized against concurrent writers.
func (c *StreamClient) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return gwerrors.New(gwerrors.KindNetwork, "StreamNotConnected", "stream is not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return gwerrors.Wrap(gwerrors.KindNetwork, "StreamWriteFailed", err)
	}
	return nil
}

// Close shuts the session down permanently. The read loop will not redial.
func (c *StreamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *StreamClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			replaced := c.conn != conn
			if !replaced {
				c.conn = nil
			}
			c.mu.Unlock()
			if closed || replaced {
				return
			}
			c.logger.Warn("stream read failed, redialing", zap.Error(err))
			c.redial()
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongTimeout))
		c.dispatch(payload)
	}
}

func (c *StreamClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn == conn {
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			}
			c.mu.Unlock()
		}
	}
}

// redial reconnects with exponential backoff until it succeeds or the client
// is closed.
func (c *StreamClient) redial() {
	delay := reconnectInitialDelay
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		time.Sleep(delay)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.Reconnect(ctx)
		cancel()
		if err == nil {
			return
		}
		c.logger.Warn("stream redial failed", zap.Duration("backoff", delay), zap.Error(err))
		if delay *= 2; delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (c *StreamClient) dispatch(payload []byte) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		c.logger.Warn("undecodable stream frame", zap.Error(err))
		return
	}

	ev := provider.Event{Symbol: frame.Symbol}
	switch frame.Type {
	case string(provider.EventTick):
		if frame.Quote == nil {
			return
		}
		ev.Type = provider.EventTick
		ev.Tick = frame.Quote
	case string(provider.EventOrderBook):
		if frame.Book == nil {
			return
		}
		ev.Type = provider.EventOrderBook
		ev.Book = frame.Book
	case string(provider.EventOrderUpdate):
		if frame.Order == nil {
			return
		}
		ev.Type = provider.EventOrderUpdate
		ev.Order = frame.Order
	case string(provider.EventError):
		ev.Type = provider.EventError
		ev.Err = gwerrors.New(gwerrors.KindProvider, "StreamError", frame.Error)
	default:
		c.logger.Debug("ignoring unknown frame type", zap.String("type", frame.Type))
		return
	}
	c.sink(ev)
}
