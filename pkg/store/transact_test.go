package store_test

import (
	"context"
	"testing"

	"rownak/pkg/store"
	"rownak/pkg/store/memstore"
)

// racingClient injects a competing write between the read and the swap
// of the first transaction attempt.
type racingClient struct {
	store.Client
	rival store.Client
	path  string
	fired bool
}

func (r *racingClient) GetVersioned(ctx context.Context, path string) (store.Value, uint64, error) {
	v, ver, err := r.Client.GetVersioned(ctx, path)
	if !r.fired {
		r.fired = true
		if serr := r.rival.Set(ctx, r.path, []any{"rival"}); serr != nil {
			return nil, 0, serr
		}
	}
	return v, ver, err
}

func TestTransactRetriesUntilCommit(t *testing.T) {
	s := memstore.New()
	rc := &racingClient{Client: s.NewClient(), rival: s.NewClient(), path: "node"}
	ctx := context.Background()

	attempts := 0
	out, err := store.Transact(ctx, rc, "node", func(cur store.Value) (store.Value, error) {
		attempts++
		var uids []string
		if cur != nil {
			if err := store.Decode(cur, &uids); err != nil {
				return nil, err
			}
		}
		return append(uids, "me"), nil
	})
	if err != nil {
		t.Fatalf("transact failed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempts)
	}
	// The retry saw the rival's value, so nothing was lost.
	var uids []string
	if err := store.Decode(out, &uids); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(uids) != 2 || uids[0] != "rival" || uids[1] != "me" {
		t.Fatalf("lost update: %v", uids)
	}
}

func TestTransactNilDeletesNode(t *testing.T) {
	c := memstore.New().NewClient()
	ctx := context.Background()

	if err := c.Set(ctx, "node", []any{"only"}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	_, err := store.Transact(ctx, c, "node", func(store.Value) (store.Value, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatalf("transact failed: %v", err)
	}
	if v, _ := c.Get(ctx, "node"); v != nil {
		t.Fatalf("node survived nil result: %#v", v)
	}
}

func TestTransactStopsOnCanceledContext(t *testing.T) {
	s := memstore.New()
	rc := &alwaysRacing{Client: s.NewClient(), rival: s.NewClient()}
	ctx, cancel := context.WithCancel(context.Background())

	_, err := store.Transact(ctx, rc, "node", func(cur store.Value) (store.Value, error) {
		cancel()
		return "v", nil
	})
	if err == nil {
		t.Fatalf("expected context error")
	}
}

type alwaysRacing struct {
	store.Client
	rival store.Client
	n     int
}

func (r *alwaysRacing) GetVersioned(ctx context.Context, path string) (store.Value, uint64, error) {
	v, ver, err := r.Client.GetVersioned(ctx, path)
	r.n++
	if serr := r.rival.Set(ctx, path, r.n); serr != nil {
		return nil, 0, serr
	}
	return v, ver, err
}
