package banner

import (
	"fmt"

	"rownak/pkg/config"
)

const banner = `
██████╗  ██████╗ ██╗    ██╗███╗   ██╗ █████╗ ██╗  ██╗
██╔══██╗██╔═══██╗██║    ██║████╗  ██║██╔══██╗██║ ██╔╝
██████╔╝██║   ██║██║ █╗ ██║██╔██╗ ██║███████║█████╔╝
██╔══██╗██║   ██║██║███╗██║██║╚██╗██║██╔══██║██╔═██╗
██║  ██║╚██████╔╝╚███╔███╔╝██║ ╚████║██║  ██║██║  ██╗
╚═╝  ╚═╝ ╚═════╝  ╚══╝╚══╝ ╚═╝  ╚═══╝╚═╝  ╚═╝╚═╝  ╚═╝
`

// Print writes the startup banner and an effective-config summary.
func Print(cfg *config.Config, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Store:    %s\n", describeStore(cfg))
	fmt.Printf("Auth:     %s\n", orUnset(cfg.Auth.Endpoint))
	fmt.Printf("Presence: mode=%s heartbeat=%s stale_after=%s\n",
		cfg.Presence.Mode, cfg.Presence.HeartbeatInterval.Std(), cfg.Presence.StaleAfter.Std())
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}

	fmt.Println("\n== Checks =====================================================")
	if cfg.Auth.APIKey != "" {
		fmt.Println("- Auth API key: OK")
	} else {
		fmt.Println("- Auth API key: MISSING (sign-in will fail)")
	}
	if cfg.Blob.Endpoint != "" {
		fmt.Println("- Avatar uploads: enabled")
	} else {
		fmt.Println("- Avatar uploads: disabled (no blob endpoint)")
	}
	if cfg.Notify.Endpoint != "" {
		fmt.Println("- Push notifications: enabled")
	} else {
		fmt.Println("- Push notifications: disabled")
	}
	if cfg.Debug.Addr != "" {
		fmt.Printf("- Debug listener: %s (/healthz, /metrics)\n", cfg.Debug.Addr)
	} else {
		fmt.Println("- Debug listener: disabled")
	}
	fmt.Println()
}

func describeStore(cfg *config.Config) string {
	switch cfg.Store.Backend {
	case "remote":
		return "remote " + cfg.Store.URL
	case "pebble":
		if cfg.Store.DBPath != "" {
			return "pebble " + cfg.Store.DBPath
		}
		return "pebble (state dir)"
	default:
		return cfg.Store.Backend
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
