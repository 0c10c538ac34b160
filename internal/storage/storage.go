// Package storage is the boundary for uploaded image blobs. The
// engine only consumes the resulting public URL; where the bytes live
// is an implementation detail.
package storage

import (
	"context"
	"io"
)

// BlobStorage stores an uploaded blob under name and returns a URL the
// rendering and checkout sides can fetch it from.
type BlobStorage interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}
