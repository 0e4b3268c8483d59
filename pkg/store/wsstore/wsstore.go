// Package wsstore talks to a remote store node over a websocket, using
// a small JSON op protocol (put/push/cas/listen/ondisconnect and acks).
// The server owns ordering, id generation, timestamp substitution and
// the dead-man's-switch registry; this package only keeps the session
// alive, re-attaching listeners after every reconnect.
package wsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"rownak/pkg/logger"
	"rownak/pkg/store"
)

const (
	writeWait     = 10 * time.Second
	reconnectMin  = time.Second
	reconnectMax  = 30 * time.Second
	requestWindow = 15 * time.Second
)

type frame struct {
	Op      string          `json:"op"`
	ID      uint64          `json:"id,omitempty"`
	Sub     uint64          `json:"sub,omitempty"`
	Path    string          `json:"path,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Version uint64          `json:"version,omitempty"`
	Key     string          `json:"key,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client implements store.Client against a remote websocket endpoint.
type Client struct {
	url string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	pending   map[uint64]chan frame
	subs      map[uint64]*valueSub
	connSubs  map[uint64]func(bool)
	nextID    uint64
}

type valueSub struct {
	path string
	fn   func(store.Value)
}

var _ store.Client = (*Client)(nil)

// Dial connects to the store endpoint and starts the session loop.
// The returned client keeps reconnecting until Close.
func Dial(ctx context.Context, url string) (*Client, error) {
	c := &Client{
		url:      url,
		pending:  map[uint64]chan frame{},
		subs:     map[uint64]*valueSub{},
		connSubs: map[uint64]func(bool){},
	}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	go c.sessionLoop()
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("wsstore: dial %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	fns := connFns(c.connSubs)
	c.mu.Unlock()
	notify(fns, true)
	return nil
}

func connFns(m map[uint64]func(bool)) []func(bool) {
	out := make([]func(bool), 0, len(m))
	for _, fn := range m {
		out = append(out, fn)
	}
	return out
}

func notify(fns []func(bool), up bool) {
	for _, fn := range fns {
		fn(up)
	}
}

// sessionLoop reads frames until the socket fails, then reconnects
// with backoff and re-attaches every live listener. The server
// re-sends the current value on listen, which rebuilds the local
// materialized state from scratch.
func (c *Client) sessionLoop() {
	backoff := reconnectMin
	for {
		err := c.readLoop()
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.connected = false
		c.failPendingLocked(err)
		fns := connFns(c.connSubs)
		c.mu.Unlock()
		notify(fns, false)
		logger.Warn("store_connection_lost", "error", err)

		for {
			time.Sleep(backoff)
			if backoff < reconnectMax {
				backoff *= 2
			}
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			c.mu.Unlock()
			if err := c.connect(context.Background()); err != nil {
				logger.Warn("store_reconnect_failed", "error", err)
				continue
			}
			backoff = reconnectMin
			c.relisten()
			break
		}
	}
}

func (c *Client) readLoop() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("wsstore: no connection")
	}
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		switch f.Op {
		case "ack":
			c.mu.Lock()
			ch := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ch != nil {
				ch <- f
			}
		case "value":
			c.mu.Lock()
			sub := c.subs[f.Sub]
			c.mu.Unlock()
			if sub != nil {
				var v any
				if len(f.Value) > 0 {
					if err := json.Unmarshal(f.Value, &v); err != nil {
						logger.Error("store_bad_value_frame", "path", f.Path, "error", err)
						continue
					}
				}
				sub.fn(v)
			}
		default:
			logger.Debug("store_unknown_frame", "op", f.Op)
		}
	}
}

func (c *Client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	_ = err
}

func (c *Client) relisten() {
	c.mu.Lock()
	subs := make(map[uint64]*valueSub, len(c.subs))
	for id, s := range c.subs {
		subs[id] = s
	}
	c.mu.Unlock()
	for id, s := range subs {
		if err := c.send(frame{Op: "listen", Sub: id, Path: s.path}); err != nil {
			logger.Warn("store_relisten_failed", "path", s.path, "error", err)
		}
	}
}

// send writes one frame. Deadline and write happen under the same lock
// acquisition: a reconnect may swap c.conn at any moment, and gorilla
// allows one concurrent writer per conn.
func (c *Client) send(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.conn == nil {
		return fmt.Errorf("wsstore: not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

// request performs one op and waits for its ack.
func (c *Client) request(ctx context.Context, f frame) (frame, error) {
	ch := make(chan frame, 1)
	c.mu.Lock()
	c.nextID++
	f.ID = c.nextID
	c.pending[f.ID] = ch
	c.mu.Unlock()
	if err := c.send(f); err != nil {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return frame{}, err
	}
	timer := time.NewTimer(requestWindow)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return frame{}, fmt.Errorf("wsstore: connection lost awaiting ack")
		}
		if resp.Error != "" {
			return frame{}, fmt.Errorf("wsstore: %s: %s", f.Op, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return frame{}, ctx.Err()
	case <-timer.C:
		return frame{}, fmt.Errorf("wsstore: %s timed out", f.Op)
	}
}

func marshalValue(v store.Value) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wsstore: value not JSON-encodable: %w", err)
	}
	return b, nil
}

func unmarshalValue(raw json.RawMessage) (store.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Client) Get(ctx context.Context, path string) (store.Value, error) {
	resp, err := c.request(ctx, frame{Op: "get", Path: path})
	store.CountOp("get", err)
	if err != nil {
		return nil, err
	}
	return unmarshalValue(resp.Value)
}

func (c *Client) GetVersioned(ctx context.Context, path string) (store.Value, uint64, error) {
	resp, err := c.request(ctx, frame{Op: "get", Path: path})
	store.CountOp("get", err)
	if err != nil {
		return nil, 0, err
	}
	v, err := unmarshalValue(resp.Value)
	return v, resp.Version, err
}

func (c *Client) Set(ctx context.Context, path string, v store.Value) error {
	raw, err := marshalValue(v)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, frame{Op: "put", Path: path, Value: raw})
	store.CountOp("set", err)
	return err
}

func (c *Client) Delete(ctx context.Context, path string) error {
	_, err := c.request(ctx, frame{Op: "delete", Path: path})
	store.CountOp("delete", err)
	return err
}

func (c *Client) Push(ctx context.Context, path string, v store.Value) (string, error) {
	raw, err := marshalValue(v)
	if err != nil {
		return "", err
	}
	resp, err := c.request(ctx, frame{Op: "push", Path: path, Value: raw})
	store.CountOp("push", err)
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (c *Client) CompareAndSwap(ctx context.Context, path string, version uint64, v store.Value) (bool, error) {
	raw, err := marshalValue(v)
	if err != nil {
		return false, err
	}
	resp, err := c.request(ctx, frame{Op: "cas", Path: path, Version: version, Value: raw})
	store.CountOp("cas", err)
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

type subHandle struct {
	cancel func()
	once   sync.Once
}

func (h *subHandle) Cancel() { h.once.Do(h.cancel) }

var subSeq uint64

func (c *Client) Subscribe(path string, fn func(store.Value)) (store.Subscription, error) {
	id := atomic.AddUint64(&subSeq, 1)
	c.mu.Lock()
	c.subs[id] = &valueSub{path: path, fn: fn}
	c.mu.Unlock()
	if err := c.send(frame{Op: "listen", Sub: id, Path: path}); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return nil, err
	}
	return &subHandle{cancel: func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		_ = c.send(frame{Op: "unlisten", Sub: id})
	}}, nil
}

func (c *Client) Connection(fn func(bool)) (store.Subscription, error) {
	id := atomic.AddUint64(&subSeq, 1)
	c.mu.Lock()
	c.connSubs[id] = fn
	cur := c.connected
	c.mu.Unlock()
	fn(cur)
	return &subHandle{cancel: func() {
		c.mu.Lock()
		delete(c.connSubs, id)
		c.mu.Unlock()
	}}, nil
}

type disconnectHandle struct {
	c   *Client
	key string
}

func (h *disconnectHandle) Cancel(ctx context.Context) error {
	_, err := h.c.request(ctx, frame{Op: "cancel", Key: h.key})
	return err
}

// OnDisconnect registers a server-side deferred write. The server
// consumes the registration when this session drops, so callers
// re-register after every reconnect.
func (c *Client) OnDisconnect(ctx context.Context, path string, v store.Value) (store.DisconnectHandle, error) {
	raw, err := marshalValue(v)
	if err != nil {
		return nil, err
	}
	resp, err := c.request(ctx, frame{Op: "ondisconnect", Path: path, Value: raw})
	store.CountOp("ondisconnect", err)
	if err != nil {
		return nil, err
	}
	return &disconnectHandle{c: c, key: resp.Key}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.failPendingLocked(nil)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(writeWait))
		return conn.Close()
	}
	return nil
}
