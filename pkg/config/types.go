package config

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Auth     AuthConfig     `yaml:"auth"`
	Presence PresenceConfig `yaml:"presence"`
	Blob     BlobConfig     `yaml:"blob"`
	Notify   NotifyConfig   `yaml:"notify"`
	Limits   LimitsConfig   `yaml:"limits"`
	Debug    DebugConfig    `yaml:"debug"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig selects and configures the store backend.
type StoreConfig struct {
	// Backend is one of "memory", "pebble" or "remote".
	Backend string `yaml:"backend"`
	// URL is the websocket endpoint for the remote backend.
	URL string `yaml:"url"`
	// DBPath overrides the pebble directory (defaults under the state
	// dir).
	DBPath string `yaml:"db_path"`
}

// AuthConfig points at the identity provider.
type AuthConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

// PresenceConfig tunes the presence protocol.
type PresenceConfig struct {
	// Mode is "auto" (use deferred writes when the backend offers
	// them) or "heartbeat".
	Mode              string   `yaml:"mode"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	StaleAfter        Duration `yaml:"stale_after"`
	SweepCron         string   `yaml:"sweep_cron"`
}

// BlobConfig points at the avatar object store.
type BlobConfig struct {
	Endpoint      string   `yaml:"endpoint"`
	MaxUploadSize ByteSize `yaml:"max_upload_size"`
}

// NotifyConfig points at the push service; empty endpoint disables it.
type NotifyConfig struct {
	Endpoint string `yaml:"endpoint"`
	VapidKey string `yaml:"vapid_key"`
}

// LimitsConfig caps user-initiated store writes.
type LimitsConfig struct {
	SendRPS    float64 `yaml:"send_rps"`
	SendBurst  int     `yaml:"send_burst"`
	ReactRPS   float64 `yaml:"react_rps"`
	ReactBurst int     `yaml:"react_burst"`
}

// DebugConfig controls the local metrics/health listener; empty addr
// disables it.
type DebugConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Duration parses YAML strings like "30s" or "2m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ByteSize parses YAML strings like "5MB" or "512KiB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*b = 0
		return nil
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("config: invalid size %q: %w", s, err)
	}
	*b = ByteSize(v)
	return nil
}
