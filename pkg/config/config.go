package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveConfigPath picks the config file path: an explicitly set flag
// wins, then ROWNAK_CONFIG, then the flag default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if env := os.Getenv("ROWNAK_CONFIG"); env != "" {
		return env
	}
	return flagVal
}

// LoadEffective loads the file at path (a missing file is fine: all
// defaults), applies environment overrides, then defaults.
func LoadEffective(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		loaded, err := Load(path)
		switch {
		case err == nil:
			cfg = loaded
		case os.IsNotExist(err):
			// run on defaults + env
		default:
			return nil, err
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Store.Backend {
	case "memory", "pebble":
	case "remote":
		if cfg.Store.URL == "" {
			return fmt.Errorf("config: store.backend is remote but store.url is empty")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", cfg.Store.Backend)
	}
	switch cfg.Presence.Mode {
	case "auto", "heartbeat":
	default:
		return fmt.Errorf("config: unknown presence mode %q", cfg.Presence.Mode)
	}
	return nil
}
