// Package storage provides durable artifact storage with public URLs,
// addressed by key. Puts overwrite: re-materializing the same logical
// artifact must never fail because the key already exists.
package storage

import (
	"context"
	"io"
)

// ArtifactStore defines the interface for artifact storage operations
type ArtifactStore interface {
	// EnsureBucket creates the backing bucket if it doesn't exist
	EnsureBucket(ctx context.Context) error

	// Put stores an object under key, overwriting any existing object,
	// and returns the public URL for it
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error)

	// GetURL returns the public URL for an object key
	GetURL(key string) string

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// Delete deletes an object
	Delete(ctx context.Context, key string) error
}
