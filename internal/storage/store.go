// Package storage archives uploaded files under opaque keys.
package storage

import (
	"context"
	"errors"
	"io"
)

var ErrBadKey = errors.New("storage: invalid key")

// BlobStore keeps raw uploads. Put returns the canonical key.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}
