// Package storage persists opaque model blobs. Backends are a local
// directory, an S3 bucket, and an in-memory map for tests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrBlobNotFound is returned by Get when the key does not exist.
var ErrBlobNotFound = errors.New("storage: blob not found")

// BlobStore reads and writes whole blobs by key. Keys are slash-separated
// relative paths such as "models/random_forest_Kenya_AA.json.zst".
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// Location describes where blobs live, for logs and health output.
	Location() string
}

// cleanKey rejects absolute keys and keys escaping the store root.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("storage: empty key")
	}
	cleaned := path.Clean(strings.ReplaceAll(key, "\\", "/"))
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return cleaned, nil
}

// SafeName converts a bean name to a filesystem- and URL-safe key segment.
// Spaces and slashes become underscores.
func SafeName(name string) string {
	return strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(strings.TrimSpace(name))
}
