package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandConfigDir expands a leading ~ to the user home directory and
// returns an absolute path. Empty input is returned unchanged.
func ExpandConfigDir(path string) (string, error) {
	if path == "" {
		return path, nil
	}

	if strings.HasPrefix(path, "~/") || path == "~" {
		homeDir, err := GetUserPath()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		if path == "~" {
			path = homeDir
		} else {
			path = filepath.Join(homeDir, path[2:])
		}
	}

	return filepath.Abs(path)
}

// GetUserPath returns the user's home directory path across all platforms.
func GetUserPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Clean(homeDir), nil
}
