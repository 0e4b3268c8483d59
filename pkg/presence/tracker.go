// Package presence publishes this client's online/offline status and
// mirrors every participant's status into local state.
//
// The protocol on reconnect is strictly ordered: the store must
// acknowledge the deferred offline write (the dead-man's-switch)
// before the online write goes out. A crash between the two would
// otherwise leave the status stuck online forever. The registration is
// consumed by the store on disconnect, so it is re-registered on every
// reconnect.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rownak/pkg/logger"
	"rownak/pkg/models"
	"rownak/pkg/store"
)

var transitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rownak_presence_transitions_total",
	Help: "Status writes issued for the local identity, by state.",
}, []string{"state"})

// UpdateFn receives the full mirrored status map after every change.
type UpdateFn func(map[string]models.PresenceRecord)

// Options tune the tracker.
type Options struct {
	// ForceHeartbeat skips the deferred-write protocol even when the
	// backend supports it.
	ForceHeartbeat bool
	// HeartbeatInterval is the refresh period in heartbeat mode.
	HeartbeatInterval time.Duration
}

// Tracker maintains the local identity's status record and the
// mirrored statuses of all participants.
type Tracker struct {
	st       store.Client
	uid      string
	onUpdate UpdateFn
	opts     Options

	mu        sync.Mutex
	statuses  map[string]models.PresenceRecord
	connSub   store.Subscription
	statusSub store.Subscription
	dh        store.DisconnectHandle
	heartbeat bool
	hbStop    chan struct{}
	stopped   bool
}

// NewTracker builds a tracker for uid. onUpdate may be nil.
func NewTracker(st store.Client, uid string, onUpdate UpdateFn, opts Options) *Tracker {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	return &Tracker{
		st:        st,
		uid:       uid,
		onUpdate:  onUpdate,
		opts:      opts,
		statuses:  map[string]models.PresenceRecord{},
		heartbeat: opts.ForceHeartbeat,
	}
}

func (t *Tracker) statusPath() string { return store.Join("status", t.uid) }

func offlineRecord() store.Value {
	return map[string]any{"state": models.StateOffline, "last_changed": store.ServerTimestamp()}
}

func onlineRecord() store.Value {
	return map[string]any{"state": models.StateOnline, "last_changed": store.ServerTimestamp()}
}

// Start subscribes to the status tree and the connection stream. Both
// subscriptions are owned by this tracker and released by Stop.
func (t *Tracker) Start(ctx context.Context) error {
	statusSub, err := t.st.Subscribe("status", t.mirror)
	if err != nil {
		return err
	}
	connSub, err := t.st.Connection(func(up bool) {
		if !up {
			// Transient loss: the deferred write registered on the
			// last reconnect covers us if the loss is permanent.
			return
		}
		t.goOnline(ctx)
	})
	if err != nil {
		statusSub.Cancel()
		return err
	}
	t.mu.Lock()
	t.statusSub = statusSub
	t.connSub = connSub
	t.mu.Unlock()
	return nil
}

// mirror copies the status subtree into the local map. No
// transformation beyond decoding.
func (t *Tracker) mirror(v store.Value) {
	m := map[string]models.PresenceRecord{}
	if v != nil {
		if err := store.Decode(v, &m); err != nil {
			logger.Error("presence_mirror_decode_failed", "error", err)
			return
		}
	}
	t.mu.Lock()
	t.statuses = m
	fn := t.onUpdate
	snap := t.snapshotLocked()
	t.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (t *Tracker) snapshotLocked() map[string]models.PresenceRecord {
	out := make(map[string]models.PresenceRecord, len(t.statuses))
	for k, v := range t.statuses {
		out[k] = v
	}
	return out
}

// goOnline runs the reconnect transition.
func (t *Tracker) goOnline(ctx context.Context) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	hb := t.heartbeat
	t.mu.Unlock()

	if !hb {
		dh, err := t.st.OnDisconnect(ctx, t.statusPath(), offlineRecord())
		switch {
		case err == store.ErrOnDisconnectUnsupported:
			logger.Info("presence_heartbeat_fallback", "uid", t.uid)
			t.mu.Lock()
			t.heartbeat = true
			t.mu.Unlock()
			hb = true
		case err != nil:
			logger.Error("presence_ondisconnect_failed", "uid", t.uid, "error", err)
			return
		default:
			t.mu.Lock()
			t.dh = dh
			t.mu.Unlock()
		}
	}

	// The deferred write is acknowledged at this point (OnDisconnect
	// returned), so the online write cannot strand us.
	if err := t.st.Set(ctx, t.statusPath(), onlineRecord()); err != nil {
		logger.Error("presence_online_write_failed", "uid", t.uid, "error", err)
		return
	}
	transitions.WithLabelValues(models.StateOnline).Inc()

	if hb {
		t.startHeartbeat(ctx)
	}
}

// startHeartbeat refreshes last_changed on a fixed period so readers
// can treat stale records as offline. Failure-detection latency is the
// refresh interval plus the reader's staleness window.
func (t *Tracker) startHeartbeat(ctx context.Context) {
	t.mu.Lock()
	if t.hbStop != nil || t.stopped {
		t.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	t.hbStop = stop
	t.mu.Unlock()

	go func() {
		tick := time.NewTicker(t.opts.HeartbeatInterval)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				if err := t.st.Set(ctx, t.statusPath(), onlineRecord()); err != nil {
					logger.Warn("presence_heartbeat_failed", "uid", t.uid, "error", err)
				}
			}
		}
	}()
}

// MarkStale downgrades mirrored records whose last_changed is older
// than window to offline. It only touches the local mirror; the
// authoritative record converges when its owner next heartbeats.
//
// Only heartbeat mode ties last_changed to liveness. In deferred-write
// mode the stamp changes on connect/disconnect transitions alone, so
// age says nothing there and the sweep must not touch the mirror. The
// mode can flip at runtime (the unsupported-backend fallback), which is
// why the check lives here and not at the call site.
func (t *Tracker) MarkStale(window time.Duration) {
	cutoff := time.Now().Add(-window).UnixMilli()
	t.mu.Lock()
	if !t.heartbeat {
		t.mu.Unlock()
		return
	}
	changed := false
	for uid, rec := range t.statuses {
		if rec.Online() && rec.LastChanged < cutoff {
			rec.State = models.StateOffline
			t.statuses[uid] = rec
			changed = true
		}
	}
	fn := t.onUpdate
	snap := t.snapshotLocked()
	t.mu.Unlock()
	if changed && fn != nil {
		fn(snap)
	}
}

// Statuses returns a copy of the mirrored status map.
func (t *Tracker) Statuses() map[string]models.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Stop writes offline synchronously, cancels the deferred write and
// releases both subscriptions. After Stop no callback fires again.
func (t *Tracker) Stop(ctx context.Context) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	dh := t.dh
	t.dh = nil
	connSub, statusSub := t.connSub, t.statusSub
	t.connSub, t.statusSub = nil, nil
	hbStop := t.hbStop
	t.hbStop = nil
	t.statuses = map[string]models.PresenceRecord{}
	t.mu.Unlock()

	if hbStop != nil {
		close(hbStop)
	}
	// Offline write first: the record must read offline before the
	// teardown completes.
	if err := t.st.Set(ctx, t.statusPath(), offlineRecord()); err != nil {
		logger.Error("presence_offline_write_failed", "uid", t.uid, "error", err)
	} else {
		transitions.WithLabelValues(models.StateOffline).Inc()
	}
	if dh != nil {
		if err := dh.Cancel(ctx); err != nil {
			logger.Warn("presence_cancel_deferred_failed", "uid", t.uid, "error", err)
		}
	}
	if connSub != nil {
		connSub.Cancel()
	}
	if statusSub != nil {
		statusSub.Cancel()
	}
}
