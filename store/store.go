package store

import (
	"context"

	"github.com/flowforge/flowforge/types"
)

// BlobStore persists named byte blobs.
type BlobStore interface {
	// Put stores data under name, replacing any previous blob.
	Put(ctx context.Context, name string, data []byte) error
	// Get returns the blob stored under name, or ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)
	// Delete removes the blob stored under name. Deleting an absent
	// name is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names of all stored blobs.
	List(ctx context.Context) ([]string, error)
	// Close releases the store. Close is idempotent.
	Close() error
}

// ErrNotFound is returned by Get for absent names.
var ErrNotFound = types.NewError(types.ErrNotFound, "blob not found")

// ErrStoreClosed is returned by all operations on a closed store.
var ErrStoreClosed = types.NewError(types.ErrStoreClosed, "blob store is closed")
