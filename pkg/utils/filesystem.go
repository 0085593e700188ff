package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureUserDir ensures ~/.litcritic exists and returns its path. The user
// config file and the model discovery cache live there.
func EnsureUserDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}

	dir := filepath.Join(home, ".litcritic")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	return dir, nil
}
