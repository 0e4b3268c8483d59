package pebblestore

import (
	"context"
	"testing"

	"rownak/pkg/store"
)

func open(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return s
}

func TestRoundTripNestedTree(t *testing.T) {
	s := open(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	in := map[string]any{
		"text":      "hello",
		"uid":       "u1",
		"reactions": map[string]any{"x": []any{"u1", "u2"}},
	}
	if err := s.Set(ctx, "messages/m1", in); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	v, err := s.Get(ctx, "messages/m1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	m, ok := v.(map[string]any)
	if !ok || m["text"] != "hello" {
		t.Fatalf("unexpected tree: %#v", v)
	}
	rx, ok := m["reactions"].(map[string]any)
	if !ok {
		t.Fatalf("reactions not a map: %#v", m["reactions"])
	}
	uids, ok := rx["x"].([]any)
	if !ok || len(uids) != 2 {
		t.Fatalf("reactor list mangled: %#v", rx["x"])
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := open(t, dir)
	if err := s.Set(ctx, "messages/m1/text", "survives"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	s = open(t, dir)
	defer s.Close()
	if v, _ := s.Get(ctx, "messages/m1/text"); v != "survives" {
		t.Fatalf("value lost across reopen: %#v", v)
	}
}

func TestDeleteRemovesSubtree(t *testing.T) {
	s := open(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "messages/m1", map[string]any{"text": "a", "uid": "u"}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := s.Set(ctx, "messages/m2/text", "b"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := s.Delete(ctx, "messages/m1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if v, _ := s.Get(ctx, "messages/m1"); v != nil {
		t.Fatalf("subtree survived delete: %#v", v)
	}
	if v, _ := s.Get(ctx, "messages/m2/text"); v != "b" {
		t.Fatalf("sibling lost: %#v", v)
	}
}

func TestCompareAndSwap(t *testing.T) {
	s := open(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	_, ver, err := s.GetVersioned(ctx, "node")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if err := s.Set(ctx, "node", "theirs"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	ok, err := s.CompareAndSwap(ctx, "node", ver, "mine")
	if err != nil {
		t.Fatalf("cas failed: %v", err)
	}
	if ok {
		t.Fatalf("stale cas applied")
	}
	_, ver, _ = s.GetVersioned(ctx, "node")
	if ok, _ = s.CompareAndSwap(ctx, "node", ver, "mine"); !ok {
		t.Fatalf("fresh cas rejected")
	}
}

func TestPushOrderingPersisted(t *testing.T) {
	s := open(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	var prev string
	for i := 0; i < 50; i++ {
		id, err := s.Push(ctx, "messages", map[string]any{"n": i})
		if err != nil {
			t.Fatalf("push failed: %v", err)
		}
		if prev != "" && !(prev < id) {
			t.Fatalf("ids not increasing: %s then %s", prev, id)
		}
		prev = id
	}
	v, _ := s.Get(ctx, "messages")
	m, ok := v.(map[string]any)
	if !ok || len(m) != 50 {
		t.Fatalf("expected 50 children, got %#v", v)
	}
}

func TestSubscribeSeesLocalWrites(t *testing.T) {
	s := open(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	var snaps []store.Value
	sub, err := s.Subscribe("messages", func(v store.Value) { snaps = append(snaps, v) })
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Cancel()

	if err := s.Set(ctx, "messages/m1/text", "hi"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected initial + update, got %d", len(snaps))
	}
}

func TestOnDisconnectUnsupported(t *testing.T) {
	s := open(t, t.TempDir())
	defer s.Close()

	_, err := s.OnDisconnect(context.Background(), "status/u1", map[string]any{"state": "offline"})
	if err != store.ErrOnDisconnectUnsupported {
		t.Fatalf("expected ErrOnDisconnectUnsupported, got %v", err)
	}
}
