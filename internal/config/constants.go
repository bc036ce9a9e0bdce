package config

import (
	"path/filepath"
	"time"

	"github.com/lmbridge/lmbridge/pkg/fs"
)

const (
	// ConfigDirName is the main configuration directory name
	ConfigDirName = ".lmbridge"

	// ConfigFileName is the default configuration file (YAML). A
	// config.json in the same directory is honored when present.
	ConfigFileName = "config.yaml"

	// ConfigFileNameJSON is the JSON alternative checked on startup.
	ConfigFileNameJSON = "config.json"

	LogDirName = "log"

	// RequestTimeout is the default timeout for backend HTTP requests
	RequestTimeout = 600 * time.Second
)

// DefaultConfigDir returns the config directory path (default: ~/.lmbridge)
func DefaultConfigDir() string {
	homeDir, err := fs.GetUserPath()
	if err != nil {
		// Fallback to current directory if home directory is not accessible
		return ConfigDirName
	}
	return filepath.Join(homeDir, ConfigDirName)
}

// DefaultLogDir returns the log directory path
func DefaultLogDir() string {
	return filepath.Join(DefaultConfigDir(), LogDirName)
}
