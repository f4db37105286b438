package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DatabaseFile is the catalogue file name inside a .starcat directory.
const DatabaseFile = "starcat.db"

// GlobalStarcatPath returns the path to the global .starcat directory.
// On Unix: ~/.starcat
// On Windows: %USERPROFILE%\.starcat
func GlobalStarcatPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".starcat"), nil
}

// LocalStarcatPath returns the path to the local .starcat directory
// for the given project root.
func LocalStarcatPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".starcat")
}
