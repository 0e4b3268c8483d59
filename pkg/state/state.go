// Package state manages the client's local state directory. Durable
// local state is deliberately tiny: the auth session file and a single
// display-theme preference key. Everything else is a disposable cache
// rebuilt from the store.
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Themes persisted by the preference key.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// Root resolves the state directory: ROWNAK_STATE_DIR when set, else
// ~/.rownak.
func Root() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("ROWNAK_STATE_DIR")); dir != "" {
		return filepath.Abs(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("state: cannot resolve home dir: %w", err)
	}
	return filepath.Join(home, ".rownak"), nil
}

// EnsureDirs creates the canonical layout under root with restrictive
// permissions, rejecting symlinked components.
func EnsureDirs(root string) error {
	paths := []string{
		filepath.Join(root, "store"),
		filepath.Join(root, "session"),
		filepath.Join(root, "tmp"),
	}
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o700); err != nil {
			return fmt.Errorf("state: cannot create %s: %w", p, err)
		}
		if fi, err := os.Lstat(p); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("state: path is a symlink: %s", p)
			}
			if !fi.IsDir() {
				return fmt.Errorf("state: path exists and is not a directory: %s", p)
			}
		}
	}
	return nil
}

// SessionFile is the default persisted-session location under root.
func SessionFile(root string) string {
	return filepath.Join(root, "session", "session.json")
}

// StoreDir is the pebble backend location under root.
func StoreDir(root string) string {
	return filepath.Join(root, "store")
}

func themeFile(root string) string { return filepath.Join(root, "theme") }

// Theme reads the persisted theme preference, defaulting to light.
func Theme(root string) string {
	b, err := os.ReadFile(themeFile(root))
	if err != nil {
		return ThemeLight
	}
	if strings.TrimSpace(string(b)) == ThemeDark {
		return ThemeDark
	}
	return ThemeLight
}

// SaveTheme persists the theme preference.
func SaveTheme(root, theme string) error {
	if theme != ThemeDark {
		theme = ThemeLight
	}
	return os.WriteFile(themeFile(root), []byte(theme+"\n"), 0o600)
}

// ToggleTheme flips and persists the preference, returning the new
// value.
func ToggleTheme(root string) string {
	next := ThemeDark
	if Theme(root) == ThemeDark {
		next = ThemeLight
	}
	_ = SaveTheme(root, next)
	return next
}
