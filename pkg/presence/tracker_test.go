package presence

import (
	"context"
	"testing"
	"time"

	"rownak/pkg/models"
	"rownak/pkg/store"
	"rownak/pkg/store/memstore"
)

func record(t *testing.T, c store.Client, uid string) (models.PresenceRecord, bool) {
	t.Helper()
	v, err := c.Get(context.Background(), store.Join("status", uid))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if v == nil {
		return models.PresenceRecord{}, false
	}
	var rec models.PresenceRecord
	if err := store.Decode(v, &rec); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return rec, true
}

func TestStartRegistersDeferredOfflineThenGoesOnline(t *testing.T) {
	s := memstore.New()
	c := s.NewClient()
	tr := NewTracker(c, "u1", nil, Options{})
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer tr.Stop(ctx)

	rec, ok := record(t, c, "u1")
	if !ok || !rec.Online() {
		t.Fatalf("not online after start: %+v ok=%v", rec, ok)
	}
	if rec.LastChanged == 0 {
		t.Fatalf("last_changed not stamped")
	}
	// The dead-man's-switch must be armed before the online write.
	if n := c.PendingDisconnects(); n != 1 {
		t.Fatalf("expected 1 armed deferred write, got %d", n)
	}
}

func TestUncommunicatedDropFlipsOffline(t *testing.T) {
	s := memstore.New()
	c := s.NewClient()
	tr := NewTracker(c, "u1", nil, Options{})
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	c.SetConnected(false)
	rec, ok := record(t, s.NewClient(), "u1")
	if !ok || rec.Online() {
		t.Fatalf("deferred offline write did not fire: %+v", rec)
	}

	// Reconnect re-registers and goes back online.
	c.SetConnected(true)
	rec, _ = record(t, c, "u1")
	if !rec.Online() {
		t.Fatalf("not online after reconnect: %+v", rec)
	}
	if n := c.PendingDisconnects(); n != 1 {
		t.Fatalf("deferred write not re-armed: %d", n)
	}
	tr.Stop(ctx)
}

func TestStopWritesOfflineAndDisarms(t *testing.T) {
	s := memstore.New()
	c := s.NewClient()
	tr := NewTracker(c, "u1", nil, Options{})
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	tr.Stop(ctx)

	rec, ok := record(t, c, "u1")
	if !ok || rec.Online() {
		t.Fatalf("not offline after stop: %+v", rec)
	}
	if n := c.PendingDisconnects(); n != 0 {
		t.Fatalf("deferred write still armed after clean stop: %d", n)
	}

	// A later drop must not resurrect anything.
	c.SetConnected(false)
	rec, _ = record(t, s.NewClient(), "u1")
	if rec.Online() {
		t.Fatalf("record flipped after stop: %+v", rec)
	}
}

func TestMirrorsAllParticipants(t *testing.T) {
	s := memstore.New()
	c := s.NewClient()
	ctx := context.Background()

	if err := s.NewClient().Set(ctx, "status/u2", map[string]any{"state": "online", "last_changed": 1}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	var updates []map[string]models.PresenceRecord
	tr := NewTracker(c, "u1", func(m map[string]models.PresenceRecord) { updates = append(updates, m) }, Options{})
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer tr.Stop(ctx)

	got := tr.Statuses()
	if !got["u1"].Online() || !got["u2"].Online() {
		t.Fatalf("mirror incomplete: %+v", got)
	}
	if len(updates) == 0 {
		t.Fatalf("onUpdate never fired")
	}
}

func TestHeartbeatFallbackWhenUnsupported(t *testing.T) {
	s := memstore.New()
	c := &noDeferred{Client: s.NewClient()}
	tr := NewTracker(c, "u1", nil, Options{HeartbeatInterval: 10 * time.Millisecond})
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer tr.Stop(ctx)

	first, ok := record(t, s.NewClient(), "u1")
	if !ok || !first.Online() {
		t.Fatalf("not online in fallback mode: %+v", first)
	}

	// The heartbeat refreshes last_changed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cur, _ := record(t, s.NewClient(), "u1")
		if cur.LastChanged > first.LastChanged {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("heartbeat never refreshed last_changed")
}

type noDeferred struct{ *memstore.Client }

func (n *noDeferred) OnDisconnect(ctx context.Context, path string, v store.Value) (store.DisconnectHandle, error) {
	return nil, store.ErrOnDisconnectUnsupported
}

func TestMarkStaleDowngradesLocalMirrorOnly(t *testing.T) {
	s := memstore.New()
	c := s.NewClient()
	ctx := context.Background()

	old := time.Now().Add(-10 * time.Minute).UnixMilli()
	if err := s.NewClient().Set(ctx, "status/u2", map[string]any{"state": "online", "last_changed": old}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	tr := NewTracker(c, "u1", nil, Options{ForceHeartbeat: true, HeartbeatInterval: time.Hour})
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer tr.Stop(ctx)

	tr.MarkStale(2 * time.Minute)
	if tr.Statuses()["u2"].Online() {
		t.Fatalf("stale record still online in mirror")
	}
	// The fresh local record is untouched.
	if !tr.Statuses()["u1"].Online() {
		t.Fatalf("fresh record downgraded")
	}
	// And the authoritative store record is untouched.
	rec, _ := record(t, s.NewClient(), "u2")
	if !rec.Online() {
		t.Fatalf("sweep wrote to the store")
	}
}

func TestMarkStaleIsNoOpInDeferredWriteMode(t *testing.T) {
	s := memstore.New()
	c := s.NewClient()
	ctx := context.Background()

	// In deferred-write mode last_changed is only stamped on
	// connect/disconnect transitions, so an old stamp on a connected
	// participant is normal and must not be treated as staleness.
	old := time.Now().Add(-10 * time.Minute).UnixMilli()
	if err := s.NewClient().Set(ctx, "status/u2", map[string]any{"state": "online", "last_changed": old}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	tr := NewTracker(c, "u1", nil, Options{})
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer tr.Stop(ctx)

	tr.MarkStale(2 * time.Minute)
	if !tr.Statuses()["u2"].Online() {
		t.Fatalf("connected participant shown offline after sweep")
	}
	if !tr.Statuses()["u1"].Online() {
		t.Fatalf("local record downgraded")
	}
}

func TestNewSweeperRejectsBadCron(t *testing.T) {
	tr := NewTracker(memstore.New().NewClient(), "u1", nil, Options{})
	if _, err := NewSweeper(tr, "not a cron", time.Minute); err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
	if _, err := NewSweeper(tr, "", time.Minute); err != nil {
		t.Fatalf("default cron rejected: %v", err)
	}
}
