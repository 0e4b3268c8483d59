// Package memstore is an in-memory implementation of the store client
// surface: an ordered key-value tree with subscriptions, versioned
// compare-and-swap, sortable push ids and per-connection deferred
// writes. It backs the single-process mode and every package test.
package memstore

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"rownak/pkg/store"
)

// Store is the shared tree. Multiple Clients (one per simulated
// connection) may be attached to one Store.
type Store struct {
	mu       sync.Mutex
	root     map[string]any
	vers     map[string]uint64
	subs     map[int]*valueSub
	nextSub  int
	entropy  *ulid.MonotonicEntropy
	queue    []dispatch
	draining bool
}

type valueSub struct {
	path string
	fn   func(store.Value)
}

// New returns an empty store.
func New() *Store {
	return &Store{
		root:    map[string]any{},
		vers:    map[string]uint64{},
		subs:    map[int]*valueSub{},
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewClient attaches a new connection to the store. Clients start
// connected.
func (s *Store) NewClient() *Client {
	return &Client{s: s, connected: true, connSubs: map[int]func(bool){}}
}

// related reports whether a change at a is observable at b (equal
// paths or one inside the other).
func related(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// getAt returns the subtree at segs, nil when absent.
func getAt(root map[string]any, segs []string) any {
	var cur any = root
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

// setAt writes v at segs, creating intermediate maps. Writing over a
// scalar replaces it with a map first.
func setAt(root map[string]any, segs []string, v any) {
	m := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[seg] = child
		}
		m = child
	}
	m[segs[len(segs)-1]] = v
}

// deleteAt removes the node at segs and prunes ancestor maps left
// empty, so emptied parents are never observable as tombstones.
func deleteAt(root map[string]any, segs []string) {
	if len(segs) == 0 {
		return
	}
	parents := make([]map[string]any, 0, len(segs))
	m := root
	for _, seg := range segs[:len(segs)-1] {
		parents = append(parents, m)
		child, ok := m[seg].(map[string]any)
		if !ok {
			return
		}
		m = child
	}
	delete(m, segs[len(segs)-1])
	for i := len(parents) - 1; i >= 0; i-- {
		if len(m) != 0 {
			break
		}
		delete(parents[i], segs[i])
		m = parents[i]
	}
}

// deepCopy clones a normalized value tree so snapshots never alias
// store internals.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = deepCopy(c)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = deepCopy(c)
		}
		return out
	default:
		return v
	}
}

// bump advances the version stamp of every tracked path that can
// observe a change at path.
func (s *Store) bump(path string) {
	for q := range s.vers {
		if related(q, path) {
			s.vers[q]++
		}
	}
}

// version lazily tracks path and returns its current stamp.
func (s *Store) version(path string) uint64 {
	if _, ok := s.vers[path]; !ok {
		s.vers[path] = 0
	}
	return s.vers[path]
}

type dispatch struct {
	fn   func(store.Value)
	snap store.Value
}

// mutateLocked applies the write and enqueues the affected listener
// callbacks. Snapshots are taken here, under the lock, so the queue
// holds them in mutation order; callers call drain after unlocking.
func (s *Store) mutateLocked(path string, v any) {
	segs := store.Split(path)
	if v == nil {
		deleteAt(s.root, segs)
	} else {
		setAt(s.root, segs, v)
	}
	s.bump(path)
	for _, sub := range s.subs {
		if related(sub.path, path) {
			s.queue = append(s.queue, dispatch{fn: sub.fn, snap: deepCopy(getAt(s.root, store.Split(sub.path)))})
		}
	}
}

// drain delivers queued dispatches in order. Only one goroutine drains
// at a time, so callbacks observe snapshots in mutation order even when
// writers race; a callback that re-enters the store just enqueues and
// the running drain picks the new work up.
func (s *Store) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		ds := s.queue
		s.queue = nil
		s.mu.Unlock()
		for _, d := range ds {
			d.fn(d.snap)
		}
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

// disconnectReg is a deferred write owned by one client connection.
type disconnectReg struct {
	path string
	v    any
}

// Client is one connection to the store. It implements store.Client
// plus test hooks for simulating connection transitions.
type Client struct {
	s         *Store
	mu        sync.Mutex
	connected bool
	connSubs  map[int]func(bool)
	nextConn  int
	regs      []*disconnectReg
	closed    bool
}

var _ store.Client = (*Client)(nil)

func (c *Client) Get(ctx context.Context, path string) (store.Value, error) {
	store.CountOp("get", nil)
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return deepCopy(getAt(c.s.root, store.Split(path))), nil
}

func (c *Client) GetVersioned(ctx context.Context, path string) (store.Value, uint64, error) {
	store.CountOp("get", nil)
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return deepCopy(getAt(c.s.root, store.Split(path))), c.s.version(path), nil
}

func (c *Client) Set(ctx context.Context, path string, v store.Value) error {
	store.CountOp("set", nil)
	nv, err := store.Normalize(v)
	if err != nil {
		return err
	}
	nv = store.ResolveTimestamps(nv, nowMillis())
	c.s.mu.Lock()
	c.s.mutateLocked(path, nv)
	c.s.mu.Unlock()
	c.s.drain()
	return nil
}

func (c *Client) Delete(ctx context.Context, path string) error {
	store.CountOp("delete", nil)
	c.s.mu.Lock()
	c.s.mutateLocked(path, nil)
	c.s.mu.Unlock()
	c.s.drain()
	return nil
}

func (c *Client) Push(ctx context.Context, path string, v store.Value) (string, error) {
	store.CountOp("push", nil)
	nv, err := store.Normalize(v)
	if err != nil {
		return "", err
	}
	now := time.Now()
	nv = store.ResolveTimestamps(nv, now.UnixMilli())
	c.s.mu.Lock()
	// Monotonic entropy keeps ids sortable by creation order even
	// within one millisecond.
	id := ulid.MustNew(ulid.Timestamp(now), c.s.entropy).String()
	c.s.mutateLocked(store.Join(path, id), nv)
	c.s.mu.Unlock()
	c.s.drain()
	return id, nil
}

func (c *Client) CompareAndSwap(ctx context.Context, path string, version uint64, v store.Value) (bool, error) {
	store.CountOp("cas", nil)
	nv, err := store.Normalize(v)
	if err != nil {
		return false, err
	}
	if nv != nil {
		nv = store.ResolveTimestamps(nv, nowMillis())
	}
	c.s.mu.Lock()
	if c.s.version(path) != version {
		c.s.mu.Unlock()
		return false, nil
	}
	c.s.mutateLocked(path, nv)
	c.s.mu.Unlock()
	c.s.drain()
	return true, nil
}

type subHandle struct {
	cancel func()
	once   sync.Once
}

func (h *subHandle) Cancel() { h.once.Do(h.cancel) }

func (c *Client) Subscribe(path string, fn func(store.Value)) (store.Subscription, error) {
	c.s.mu.Lock()
	id := c.s.nextSub
	c.s.nextSub++
	c.s.subs[id] = &valueSub{path: path, fn: fn}
	// The initial snapshot goes through the queue so a racing writer's
	// newer snapshot cannot be delivered before it.
	c.s.queue = append(c.s.queue, dispatch{fn: fn, snap: deepCopy(getAt(c.s.root, store.Split(path)))})
	c.s.mu.Unlock()
	c.s.drain()
	return &subHandle{cancel: func() {
		c.s.mu.Lock()
		delete(c.s.subs, id)
		c.s.mu.Unlock()
	}}, nil
}

func (c *Client) Connection(fn func(bool)) (store.Subscription, error) {
	c.mu.Lock()
	id := c.nextConn
	c.nextConn++
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

type regHandle struct {
	c   *Client
	reg *disconnectReg
}

func (h *regHandle) Cancel(ctx context.Context) error {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	for i, r := range h.c.regs {
		if r == h.reg {
			h.c.regs = append(h.c.regs[:i], h.c.regs[i+1:]...)
			break
		}
	}
	return nil
}

func (c *Client) OnDisconnect(ctx context.Context, path string, v store.Value) (store.DisconnectHandle, error) {
	store.CountOp("ondisconnect", nil)
	nv, err := store.Normalize(v)
	if err != nil {
		return nil, err
	}
	reg := &disconnectReg{path: path, v: nv}
	c.mu.Lock()
	c.regs = append(c.regs, reg)
	c.mu.Unlock()
	return &regHandle{c: c, reg: reg}, nil
}

// SetConnected simulates a connection transition. Dropping the
// connection consumes the client's deferred writes: the store applies
// them itself with its own clock, exactly once.
func (c *Client) SetConnected(up bool) {
	c.mu.Lock()
	if c.connected == up {
		c.mu.Unlock()
		return
	}
	c.connected = up
	fns := make([]func(bool), 0, len(c.connSubs))
	for _, fn := range c.connSubs {
		fns = append(fns, fn)
	}
	var regs []*disconnectReg
	if !up {
		regs = c.regs
		c.regs = nil
	}
	c.mu.Unlock()

	for _, reg := range regs {
		v := store.ResolveTimestamps(reg.v, nowMillis())
		c.s.mu.Lock()
		c.s.mutateLocked(reg.path, v)
		c.s.mu.Unlock()
		c.s.drain()
	}
	for _, fn := range fns {
		fn(up)
	}
}

// PendingDisconnects reports how many deferred writes are registered.
func (c *Client) PendingDisconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.regs)
}

// Close releases the connection cleanly. A clean close is a
// communicated shutdown, so deferred writes are dropped, not fired.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.regs = nil
	c.connSubs = map[int]func(bool){}
	c.mu.Unlock()
	return nil
}
