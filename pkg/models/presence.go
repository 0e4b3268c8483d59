package models

// Presence states written under status/{uid}.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// PresenceRecord is the authoritative per-identity status record. There
// is exactly one per identity; last writer wins and no history is kept.
type PresenceRecord struct {
	State string `json:"state"`
	// LastChanged is a store-assigned timestamp (ms since epoch).
	LastChanged int64 `json:"last_changed"`
}

// Online reports whether the record marks the identity online.
func (p PresenceRecord) Online() bool { return p.State == StateOnline }
