package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Value is a JSON-shaped tree: map[string]any, []any, string, float64,
// bool or nil. Backends normalize written values to this shape.
type Value = any

// ErrOnDisconnectUnsupported is returned by backends that cannot
// register server-side deferred writes. Consumers fall back to the
// heartbeat protocol (see pkg/presence).
var ErrOnDisconnectUnsupported = errors.New("store: on-disconnect writes not supported by backend")

// Subscription is an owned handle for a live listener. Every
// subscription must be cancelled when its owning component is torn
// down; leaking one leaks a callback bound to a stale identity.
type Subscription interface {
	Cancel()
}

// DisconnectHandle refers to a registered deferred write. Cancel
// removes the registration; backends also consume registrations
// themselves when the owning connection drops.
type DisconnectHandle interface {
	Cancel(ctx context.Context) error
}

// Client is the surface this application consumes from the remote
// store. The store is the single source of truth; everything the
// client holds locally is a disposable read-through cache rebuilt by
// re-subscribing.
type Client interface {
	// Get returns the value at path, nil when absent.
	Get(ctx context.Context, path string) (Value, error)
	// GetVersioned returns the value plus an opaque version stamp for
	// use with CompareAndSwap. The stamp changes whenever the subtree
	// at path changes.
	GetVersioned(ctx context.Context, path string) (Value, uint64, error)
	// Set replaces the subtree at path. A nil value deletes the node.
	Set(ctx context.Context, path string, v Value) error
	// Delete removes the subtree at path.
	Delete(ctx context.Context, path string) error
	// Push inserts v under path with a store-generated, globally
	// unique, creation-order-sortable child key and returns that key.
	Push(ctx context.Context, path string, v Value) (string, error)
	// CompareAndSwap writes v at path only if the node's version still
	// equals version. It reports whether the write was applied.
	CompareAndSwap(ctx context.Context, path string, version uint64, v Value) (bool, error)
	// Subscribe registers fn for the subtree at path. fn fires once
	// with the current value and again after every change. Callbacks
	// run on the store's dispatch goroutine and must not block.
	Subscribe(path string, fn func(Value)) (Subscription, error)
	// Connection registers fn on the backend's connection-state
	// stream. fn fires with the current state immediately.
	Connection(fn func(connected bool)) (Subscription, error)
	// OnDisconnect registers a deferred write of v at path that the
	// store performs itself if this client disconnects without a clean
	// shutdown. Registrations are consumed on disconnect and must be
	// re-registered after every reconnect.
	OnDisconnect(ctx context.Context, path string, v Value) (DisconnectHandle, error)
	// Close releases the connection and all subscriptions.
	Close() error
}

// serverTimestamp is the placeholder clients write where the store
// must substitute its own clock (ms since epoch). Matches the RTDB
// server-value convention so remote backends pass it through verbatim.
const serverValueKey = ".sv"

// ServerTimestamp returns the server-clock placeholder value.
func ServerTimestamp() Value {
	return map[string]any{serverValueKey: "timestamp"}
}

// IsServerTimestamp reports whether v is the server-clock placeholder.
func IsServerTimestamp(v Value) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	s, ok := m[serverValueKey].(string)
	return ok && s == "timestamp"
}

// ResolveTimestamps returns v with every server-timestamp placeholder
// replaced by nowMillis. Local backends call this at write time.
func ResolveTimestamps(v Value, nowMillis int64) Value {
	if IsServerTimestamp(v) {
		return float64(nowMillis)
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = ResolveTimestamps(c, nowMillis)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = ResolveTimestamps(c, nowMillis)
		}
		return out
	default:
		return v
	}
}

// Normalize round-trips v through JSON so backends hold one canonical
// tree shape regardless of the Go types callers wrote.
func Normalize(v Value) (Value, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: value not JSON-encodable: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode unmarshals a snapshot value into out via JSON.
func Decode(v Value, out any) error {
	if v == nil {
		return errors.New("store: decode of absent value")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Join builds a slash-separated path from segments.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Split breaks a path into its segments, dropping empty ones.
func Split(path string) []string {
	raw := strings.Split(path, "/")
	out := raw[:0]
	for _, s := range raw {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
