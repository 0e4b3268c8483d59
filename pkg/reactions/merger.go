// Package reactions implements the concurrent per-emoji, per-user
// toggle on top of the store's optimistic transaction combinator. The
// merger keeps no cache of its own: the message subscription observes
// the committed value and triggers the re-render.
package reactions

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rownak/pkg/logger"
	"rownak/pkg/ratelimit"
	"rownak/pkg/store"
)

var toggles = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rownak_reaction_toggles_total",
	Help: "Reaction toggles committed by this client.",
})

// DefaultEmojis is the picker palette.
var DefaultEmojis = []string{"👍", "❤️", "😂", "😮", "😢", "🙏"}

// Merger toggles reactions.
type Merger struct {
	st  store.Client
	lim *ratelimit.Pool
}

// NewMerger builds a merger. lim may be nil.
func NewMerger(st store.Client, lim *ratelimit.Pool) *Merger {
	if lim == nil {
		lim = ratelimit.NewPool(0, 0)
	}
	return &Merger{st: st, lim: lim}
}

// toggleFn is the pure merge step: it sees the freshest reactor list
// on every transaction attempt, so two simultaneous togglers never
// lose an update to a lost write.
func toggleFn(uid string) store.UpdateFn {
	return func(cur store.Value) (store.Value, error) {
		var uids []string
		if cur != nil {
			if err := store.Decode(cur, &uids); err != nil {
				return nil, err
			}
		}
		for i, id := range uids {
			if id == uid {
				uids = append(uids[:i], uids[i+1:]...)
				if len(uids) == 0 {
					// Empty set: delete the emoji key entirely. No
					// tombstones.
					return nil, nil
				}
				return uids, nil
			}
		}
		return append(uids, uid), nil
	}
}

// Toggle flips uid's reaction with emoji on the given message. The
// read-modify-write retries until it commits against the latest value.
func (m *Merger) Toggle(ctx context.Context, messageID, emoji, uid string) error {
	if !m.lim.Allow(uid) {
		// Dropped silently: a toggle is idempotent to retry by hand
		// and the store is protected from hammering.
		logger.Debug("reaction_toggle_rate_limited", "uid", uid)
		return nil
	}
	path := store.Join("messages", messageID, "reactions", emoji)
	_, err := store.Transact(ctx, m.st, path, toggleFn(uid))
	if err != nil {
		logger.Error("reaction_toggle_failed", "message", messageID, "emoji", emoji, "error", err)
		return err
	}
	toggles.Inc()
	return nil
}
