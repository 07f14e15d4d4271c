package config

import (
	"os"
	"path/filepath"
)

// UserConfigPath resolves the user-level config file: $TANGRAM_CONFIG if
// set, else ~/.config/tangram/config.json.
func UserConfigPath() (string, error) {
	if p := os.Getenv("TANGRAM_CONFIG"); p != "" {
		return p, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".config", "tangram", "config.json"), nil
}

// EnsureDataDir creates the instance data directory if it does not exist.
func EnsureDataDir(dataDir string) error {
	return os.MkdirAll(dataDir, 0755)
}
