// Package pebblestore keeps the store tree in a local Pebble database
// so a single-user deployment survives restarts. Tree nodes are
// flattened to one key per leaf; subtrees are materialized by prefix
// iteration. Subscriptions and CAS version stamps live in process
// memory: they only need to serialize writers inside this client.
package pebblestore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/oklog/ulid/v2"

	"rownak/pkg/logger"
	"rownak/pkg/store"
)

const keyPrefix = "n/"

// Store implements store.Client over a Pebble DB. It is a local
// backend: the connection stream is always up and deferred disconnect
// writes are unsupported (presence falls back to heartbeats).
type Store struct {
	mu       sync.Mutex
	db       *pebble.DB
	dir      string
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

var _ store.Client = (*Store)(nil)

// Open opens (or creates) the database at dir.
func Open(dir string) (*Store, error) {
	logger.Info("opening_pebble_store", "path", dir)
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", dir, "error", err)
		return nil, err
	}
	return &Store{
		db:      db,
		dir:     dir,
		vers:    map[string]uint64{},
		subs:    map[int]*valueSub{},
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("pebble_store_closed", "path", s.dir)
	return err
}

// nodeKey is the exact key for a leaf stored at path.
func nodeKey(path string) []byte { return []byte(keyPrefix + path) }

// childBounds returns the key range covering every descendant of path
// without touching longer sibling names ('0' is '/'+1).
func childBounds(path string) (lo, hi []byte) {
	return []byte(keyPrefix + path + "/"), []byte(keyPrefix + path + "0")
}

func related(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

// readTree materializes the subtree at path. Callers hold s.mu.
func (s *Store) readTree(path string) (any, error) {
	if v, closer, err := s.db.Get(nodeKey(path)); err == nil {
		var out any
		uerr := json.Unmarshal(v, &out)
		_ = closer.Close()
		if uerr != nil {
			return nil, uerr
		}
		return out, nil
	} else if err != pebble.ErrNotFound {
		return nil, err
	}
	lo, hi := childBounds(path)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var root map[string]any
	for iter.First(); iter.Valid(); iter.Next() {
		rel := strings.TrimPrefix(string(iter.Key()), keyPrefix+path+"/")
		var leaf any
		if err := json.Unmarshal(iter.Value(), &leaf); err != nil {
			return nil, fmt.Errorf("corrupt leaf at %s: %w", iter.Key(), err)
		}
		if root == nil {
			root = map[string]any{}
		}
		segs := store.Split(rel)
		m := root
		for _, seg := range segs[:len(segs)-1] {
			child, ok := m[seg].(map[string]any)
			if !ok {
				child = map[string]any{}
				m[seg] = child
			}
			m = child
		}
		m[segs[len(segs)-1]] = leaf
	}
	if root == nil {
		return nil, nil
	}
	return root, nil
}

// writeTree replaces the subtree at path inside batch. Maps fan out
// into child keys; everything else (arrays included) is one leaf.
func writeTree(b *pebble.Batch, path string, v any) error {
	if m, ok := v.(map[string]any); ok {
		for k, c := range m {
			if err := writeTree(b, path+"/"+k, c); err != nil {
				return err
			}
		}
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Set(nodeKey(path), data, nil)
}

// mutateLocked clears the old subtree, writes the new one, bumps
// version stamps and enqueues listener dispatches in mutation order.
// Callers call drain after unlocking.
func (s *Store) mutateLocked(path string, v any) error {
	if s.db == nil {
		return fmt.Errorf("pebblestore: closed")
	}
	b := s.db.NewBatch()
	if err := b.Delete(nodeKey(path), nil); err != nil {
		return err
	}
	lo, hi := childBounds(path)
	if err := b.DeleteRange(lo, hi, nil); err != nil {
		return err
	}
	if v != nil {
		if err := writeTree(b, path, v); err != nil {
			return err
		}
	}
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		return err
	}
	for q := range s.vers {
		if related(q, path) {
			s.vers[q]++
		}
	}
	for _, sub := range s.subs {
		if related(sub.path, path) {
			snap, err := s.readTree(sub.path)
			if err != nil {
				logger.Error("pebble_snapshot_failed", "path", sub.path, "error", err)
				continue
			}
			s.queue = append(s.queue, dispatch{fn: sub.fn, snap: snap})
		}
	}
	return nil
}

type dispatch struct {
	fn   func(store.Value)
	snap store.Value
}

// drain delivers queued dispatches in order; one goroutine drains at a
// time so listeners see snapshots in mutation order.
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

func (s *Store) Get(ctx context.Context, path string) (store.Value, error) {
	s.mu.Lock()
	v, err := s.readTree(path)
	s.mu.Unlock()
	store.CountOp("get", err)
	return v, err
}

func (s *Store) GetVersioned(ctx context.Context, path string) (store.Value, uint64, error) {
	s.mu.Lock()
	v, err := s.readTree(path)
	if err != nil {
		s.mu.Unlock()
		store.CountOp("get", err)
		return nil, 0, err
	}
	if _, ok := s.vers[path]; !ok {
		s.vers[path] = 0
	}
	ver := s.vers[path]
	s.mu.Unlock()
	store.CountOp("get", nil)
	return v, ver, nil
}

func (s *Store) Set(ctx context.Context, path string, v store.Value) error {
	nv, err := store.Normalize(v)
	if err != nil {
		return err
	}
	nv = store.ResolveTimestamps(nv, time.Now().UnixMilli())
	s.mu.Lock()
	err = s.mutateLocked(path, nv)
	s.mu.Unlock()
	store.CountOp("set", err)
	if err != nil {
		return err
	}
	s.drain()
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	err := s.mutateLocked(path, nil)
	s.mu.Unlock()
	store.CountOp("delete", err)
	if err != nil {
		return err
	}
	s.drain()
	return nil
}

func (s *Store) Push(ctx context.Context, path string, v store.Value) (string, error) {
	nv, err := store.Normalize(v)
	if err != nil {
		return "", err
	}
	now := time.Now()
	nv = store.ResolveTimestamps(nv, now.UnixMilli())
	s.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
	err = s.mutateLocked(path+"/"+id, nv)
	s.mu.Unlock()
	store.CountOp("push", err)
	if err != nil {
		return "", err
	}
	s.drain()
	return id, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, path string, version uint64, v store.Value) (bool, error) {
	nv, err := store.Normalize(v)
	if err != nil {
		return false, err
	}
	if nv != nil {
		nv = store.ResolveTimestamps(nv, time.Now().UnixMilli())
	}
	s.mu.Lock()
	if _, ok := s.vers[path]; !ok {
		s.vers[path] = 0
	}
	if s.vers[path] != version {
		s.mu.Unlock()
		store.CountOp("cas", nil)
		return false, nil
	}
	err = s.mutateLocked(path, nv)
	s.mu.Unlock()
	store.CountOp("cas", err)
	if err != nil {
		return false, err
	}
	s.drain()
	return true, nil
}

type subHandle struct {
	cancel func()
	once   sync.Once
}

func (h *subHandle) Cancel() { h.once.Do(h.cancel) }

func (s *Store) Subscribe(path string, fn func(store.Value)) (store.Subscription, error) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &valueSub{path: path, fn: fn}
	snap, err := s.readTree(path)
	if err != nil {
		delete(s.subs, id)
		s.mu.Unlock()
		return nil, err
	}
	// The initial snapshot goes through the queue so a racing writer's
	// newer snapshot cannot be delivered before it.
	s.queue = append(s.queue, dispatch{fn: fn, snap: snap})
	s.mu.Unlock()
	s.drain()
	return &subHandle{cancel: func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}}, nil
}

// Connection reports a permanently-up stream: the backend lives in
// this process.
func (s *Store) Connection(fn func(bool)) (store.Subscription, error) {
	fn(true)
	return &subHandle{cancel: func() {}}, nil
}

// OnDisconnect is unsupported locally; a process that dies takes the
// store with it, so there is nothing left to run the deferred write.
func (s *Store) OnDisconnect(ctx context.Context, path string, v store.Value) (store.DisconnectHandle, error) {
	return nil, store.ErrOnDisconnectUnsupported
}

// DiskUsage returns the total on-disk size of the database directory,
// best effort.
func (s *Store) DiskUsage() uint64 {
	var total uint64
	_ = filepath.WalkDir(s.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += uint64(fi.Size())
		}
		return nil
	})
	return total
}

// Compact compacts the whole node keyspace. Manual maintenance only.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("pebblestore: closed")
	}
	return s.db.Compact([]byte(keyPrefix), append(bytes.Clone([]byte(keyPrefix)), 0xff), true)
}
