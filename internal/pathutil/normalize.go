package pathutil

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrUnsafe reports a short path that is empty, absolute, or escapes its
// root directory.
var ErrUnsafe = errors.New("unsafe short path")

// Normalize returns a canonical filesystem path string.
// It removes trailing slashes, collapses "." and "..", and
// preserves relative paths when provided.
func Normalize(path string) string {
	if path == "" {
		return path
	}
	return filepath.Clean(path)
}

// CleanShort normalizes a client-supplied short path and rejects anything
// that would resolve outside the directory it is joined to.
func CleanShort(shortPath string) (string, error) {
	if shortPath == "" {
		return "", ErrUnsafe
	}
	if filepath.IsAbs(shortPath) {
		return "", ErrUnsafe
	}
	cleaned := filepath.Clean(shortPath)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrUnsafe
	}
	return cleaned, nil
}
