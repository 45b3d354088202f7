package config

import (
	"os"
	"path/filepath"
)

const appDirName = "gameday"

// Dir returns $XDG_CONFIG_HOME/gameday, or ~/.config/gameday.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", appDirName)
	}
	return ""
}

// DefaultConfigPath is where the CLI looks for config.yaml.
func DefaultConfigPath() string {
	dir := Dir()
	if dir == "" {
		return "config.yaml"
	}
	return filepath.Join(dir, "config.yaml")
}

// DefaultCredentialsDir holds the file credential backend.
func DefaultCredentialsDir() string {
	dir := Dir()
	if dir == "" {
		return "credentials"
	}
	return filepath.Join(dir, "credentials")
}

// DefaultUsageDBPath is the attempt-record database.
func DefaultUsageDBPath() string {
	dir := Dir()
	if dir == "" {
		return "usage.db"
	}
	return filepath.Join(dir, "usage.db")
}
