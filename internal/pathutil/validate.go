// Package pathutil confines user-supplied file paths to known directories.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// RedactPath reduces a full path to .../<parent>/<basename> for error messages.
// For example, "/home/user/.starcat/config.yaml" becomes ".../.starcat/config.yaml".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	parent := filepath.Base(filepath.Dir(cleaned))
	if parent == "." || parent == string(filepath.Separator) {
		return filepath.Base(cleaned)
	}
	return ".../" + parent + "/" + filepath.Base(cleaned)
}

// ResolvePath returns the absolute form of path with symlinks in its
// existing ancestors resolved. The file and some parents may not exist yet.
func ResolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.ContainsRune(path, '\x00') {
		return "", fmt.Errorf("path contains null byte")
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("cannot resolve absolute path: %w", err)
	}
	dir, err := resolveExisting(filepath.Dir(abs))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(abs)), nil
}

// ValidatePath checks that path resolves inside one of allowedDirs.
func ValidatePath(path string, allowedDirs []string) error {
	if len(allowedDirs) == 0 {
		return fmt.Errorf("path validation failed: no allowed directories configured")
	}
	resolved, err := ResolvePath(path)
	if err != nil {
		return fmt.Errorf("path validation failed: %w", err)
	}

	for _, allowed := range allowedDirs {
		abs, err := filepath.Abs(filepath.Clean(allowed))
		if err != nil {
			continue
		}
		base, err := resolveExisting(abs)
		if err != nil {
			continue
		}
		if within(resolved, base) {
			return nil
		}
	}
	return fmt.Errorf("path validation failed: %q is outside allowed directories", RedactPath(resolved))
}

// resolveExisting resolves symlinks on the deepest existing ancestor of dir
// and re-appends the missing tail.
func resolveExisting(dir string) (string, error) {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved, nil
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return "", fmt.Errorf("cannot resolve path: %s", RedactPath(dir))
	}
	resolvedParent, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(dir)), nil
}

// within reports whether path equals base or lies beneath it.
func within(path, base string) bool {
	return path == base || strings.HasPrefix(path, base+string(os.PathSeparator))
}

// AllowedBackupDirs returns ~/.starcat/backups and, when projectRoot is
// non-empty, <projectRoot>/.starcat/backups.
func AllowedBackupDirs(projectRoot string) ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	dirs := []string{filepath.Join(homeDir, ".starcat", "backups")}
	if projectRoot != "" {
		dirs = append(dirs, filepath.Join(projectRoot, ".starcat", "backups"))
	}
	return dirs, nil
}
