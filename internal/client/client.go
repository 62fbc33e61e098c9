// Package client is a Go client for the daemon's WebSocket RPC protocol.
//
// Calls are correlated by request id, not call order: any number of
// requests may be in flight at once and responses are matched as they
// arrive. Unsolicited events are delivered to an optional handler.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/streamctl/streamd/internal/events"
	"github.com/streamctl/streamd/internal/infrastructure/logging"
	"github.com/streamctl/streamd/internal/rpc"
	"github.com/streamctl/streamd/internal/shared/id"
)

// ErrClosed is returned for calls issued or abandoned after the connection
// is gone.
var ErrClosed = errors.New("client: connection closed")

// EventHandler receives unsolicited event frames.
type EventHandler func(ev events.Type, data json.RawMessage)

// RawHandler receives frames that are neither responses nor events. Such
// frames indicate a protocol mismatch and are surfaced for diagnosis
// instead of being dropped silently.
type RawHandler func(raw []byte)

// Client is one RPC session.
type Client struct {
	conn *websocket.Conn
	log  *logging.Logger

	onEvent EventHandler
	onRaw   RawHandler

	writeMu sync.Mutex

	mu       sync.Mutex
	inflight map[string]chan rpc.Response
	closed   bool

	closeOnce sync.Once
	closedCh  chan struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(log *logging.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithEventHandler registers a handler for unsolicited events.
func WithEventHandler(h EventHandler) Option {
	return func(c *Client) { c.onEvent = h }
}

// WithRawHandler registers a handler for unrecognized frames.
func WithRawHandler(h RawHandler) Option {
	return func(c *Client) { c.onRaw = h }
}

// Dial connects to a daemon WebSocket endpoint, e.g. "ws://host:9090/ws".
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		log:      logging.NewNop(),
		inflight: make(map[string]chan rpc.Response),
		closedCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	return c, nil
}

// Go issues a request and returns immediately with a channel that yields
// the response. The channel is closed without a value if the connection is
// lost before the response arrives.
func (c *Client) Go(method string, params any) (<-chan rpc.Response, error) {
	reqID := id.NewRequestID().String()

	var raw json.RawMessage
	if params != nil {
		var err error
		raw, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
	} else {
		raw = json.RawMessage("{}")
	}
	req := rpc.Request{JSONRPC: rpc.Version, ID: reqID, Method: method, Params: raw}

	ch := make(chan rpc.Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.inflight[reqID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.inflight, reqID)
		c.mu.Unlock()
		return nil, fmt.Errorf("write request: %w", err)
	}
	return ch, nil
}

// Call issues a request and waits for its response. A response carrying an
// error member is returned as *rpc.ErrorInfo.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ch, err := c.Go(method, params)
	if err != nil {
		return nil, err
	}
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closedCh:
		return nil, ErrClosed
	}
}

// Close tears the connection down. Pending calls are abandoned. Safe to
// call more than once.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}

// Closed is closed exactly once when the connection is gone, whether by
// Close or by the peer.
func (c *Client) Closed() <-chan struct{} { return c.closedCh }

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		pending := c.inflight
		c.inflight = make(map[string]chan rpc.Response)
		c.mu.Unlock()

		for _, ch := range pending {
			close(ch)
		}
		c.conn.Close()
		close(c.closedCh)
	})
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(raw)
	}
}

// handleFrame classifies one inbound frame: a frame with an id and a
// result or error member is a response; a frame with an event field is an
// event; anything else goes to the raw handler.
func (c *Client) handleFrame(raw []byte) {
	var probe struct {
		ID     string          `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *rpc.ErrorInfo  `json:"error"`
		Event  string          `json:"event"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		c.raw(raw)
		return
	}

	switch {
	case probe.ID != "" && (probe.Result != nil || probe.Error != nil):
		c.mu.Lock()
		ch, ok := c.inflight[probe.ID]
		delete(c.inflight, probe.ID)
		c.mu.Unlock()
		if !ok {
			// Response for a request we never issued (or already
			// answered): a protocol anomaly, not a crash.
			c.log.Warn("response with unknown id", zap.String("id", probe.ID))
			return
		}
		ch <- rpc.Response{JSONRPC: rpc.Version, ID: probe.ID, Result: probe.Result, Error: probe.Error}

	case probe.Event != "":
		if c.onEvent != nil {
			c.onEvent(events.Type(probe.Event), probe.Data)
		}

	default:
		c.raw(raw)
	}
}

func (c *Client) raw(raw []byte) {
	c.log.Warn("unrecognized frame", zap.ByteString("frame", raw))
	if c.onRaw != nil {
		c.onRaw(raw)
	}
}
