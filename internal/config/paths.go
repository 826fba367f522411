// Package config resolves the on-disk locations TTHSD uses for logs and
// the supplemental run-history database.
package config

import (
	"os"
	"path/filepath"
)

// GetHomeDir returns the root directory for TTHSD's process-local state.
// It honors TTHSD_HOME for tests and embedders that don't want to touch
// the caller's real home directory.
func GetHomeDir() string {
	if dir := os.Getenv("TTHSD_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tthsd"
	}
	return filepath.Join(home, ".tthsd")
}

// GetLogsDir returns the directory debug logs are written to.
func GetLogsDir() string {
	return filepath.Join(GetHomeDir(), "logs")
}

// GetHistoryDBPath returns the path to the supplemental run-history database.
func GetHistoryDBPath() string {
	return filepath.Join(GetHomeDir(), "history.db")
}

// EnsureDirs creates the directories TTHSD needs, if they don't already exist.
func EnsureDirs() error {
	if err := os.MkdirAll(GetLogsDir(), 0755); err != nil {
		return err
	}
	return nil
}
