package paths

import (
	"os"
	"path/filepath"
)

// DataDir returns the helmforge data directory, following XDG conventions:
// $XDG_DATA_HOME/helmforge or ~/.local/share/helmforge as fallback.
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "helmforge"), nil
}

// KeyDir is where the channel token signing keys live inside dataDir.
func KeyDir(dataDir string) string {
	return filepath.Join(dataDir, "keys")
}
