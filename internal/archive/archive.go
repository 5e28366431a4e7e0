// Package archive persists completed scan reports as blobs.
package archive

import "context"

// BlobStore writes a named blob and returns a URI locating it.
type BlobStore interface {
	Put(ctx context.Context, path, contentType string, data []byte) (string, error)
}
