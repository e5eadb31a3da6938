// Package fsutil holds the path plumbing shared by the asrd binaries.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolve expands a leading "~" to the user's home directory and cleans the
// result. Paths without a tilde (and the empty path) pass through untouched.
// The ~user form is rejected rather than silently misread.
func Resolve(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	rest := strings.TrimPrefix(path, "~")
	if rest != "" && rest[0] != '/' && rest[0] != filepath.Separator {
		return "", fmt.Errorf("cannot resolve %q: only bare ~ is supported", path)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	return filepath.Join(home, rest), nil
}

// ValidateDocRoot verifies that the static file root is usable before the
// server starts: it must be a directory containing index.html.
func ValidateDocRoot(docRoot string) error {
	if docRoot == "" {
		return errors.New("doc root is required")
	}
	info, err := os.Stat(docRoot)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("doc root %s is not a directory", docRoot)
	}
	index := filepath.Join(docRoot, "index.html")
	if _, err := os.Stat(index); err != nil {
		return fmt.Errorf("%s does not exist; point doc-root at the directory holding the web UI", index)
	}
	return nil
}
