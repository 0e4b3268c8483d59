package config

import (
	"os"
	"strings"
	"time"
)

func envStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// applyEnv lets the environment override file values, for tests and
// containerized runs.
func applyEnv(cfg *Config) {
	envStr(&cfg.Store.Backend, "ROWNAK_STORE_BACKEND")
	envStr(&cfg.Store.URL, "ROWNAK_STORE_URL")
	envStr(&cfg.Store.DBPath, "ROWNAK_STORE_DB_PATH")
	envStr(&cfg.Auth.Endpoint, "ROWNAK_AUTH_ENDPOINT")
	envStr(&cfg.Auth.APIKey, "ROWNAK_AUTH_API_KEY")
	envStr(&cfg.Presence.Mode, "ROWNAK_PRESENCE_MODE")
	envStr(&cfg.Blob.Endpoint, "ROWNAK_BLOB_ENDPOINT")
	envStr(&cfg.Notify.Endpoint, "ROWNAK_NOTIFY_ENDPOINT")
	envStr(&cfg.Notify.VapidKey, "ROWNAK_NOTIFY_VAPID_KEY")
	envStr(&cfg.Debug.Addr, "ROWNAK_DEBUG_ADDR")
	envStr(&cfg.Logging.Level, "ROWNAK_LOG_LEVEL")
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Presence.Mode == "" {
		cfg.Presence.Mode = "auto"
	}
	if cfg.Presence.HeartbeatInterval == 0 {
		cfg.Presence.HeartbeatInterval = Duration(30 * time.Second)
	}
	if cfg.Presence.StaleAfter == 0 {
		cfg.Presence.StaleAfter = Duration(2 * time.Minute)
	}
	if cfg.Presence.SweepCron == "" {
		cfg.Presence.SweepCron = "* * * * *"
	}
	if cfg.Blob.MaxUploadSize == 0 {
		cfg.Blob.MaxUploadSize = ByteSize(5 << 20)
	}
	if cfg.Limits.SendRPS == 0 {
		cfg.Limits.SendRPS = 1
	}
	if cfg.Limits.SendBurst == 0 {
		cfg.Limits.SendBurst = 5
	}
	if cfg.Limits.ReactRPS == 0 {
		cfg.Limits.ReactRPS = 5
	}
	if cfg.Limits.ReactBurst == 0 {
		cfg.Limits.ReactBurst = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}
