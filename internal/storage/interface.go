package storage

import (
	"context"
	"io"
)

// BlobStorage defines the capability interface for upload blob storage.
// Rename is required; backends without a native atomic rename implement it
// via copy-then-delete and document the weaker atomicity.
type BlobStorage interface {
	// Store saves content at the given path, replacing any previous content.
	// The write must be atomic: concurrent readers never observe a partially
	// written blob.
	Store(ctx context.Context, path string, content io.Reader) (int64, error)

	// Retrieve gets content from the given path
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes content at the given path
	Delete(ctx context.Context, path string) error

	// Exists checks if content exists at the given path
	Exists(ctx context.Context, path string) (bool, error)

	// GetSize returns the size of content at the given path
	GetSize(ctx context.Context, path string) (int64, error)

	// Rename moves content from oldPath to newPath
	Rename(ctx context.Context, oldPath, newPath string) error
}
