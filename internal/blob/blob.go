// Package blob archives completed documents to object storage and hands out
// short-lived download links. Archival is optional; when no bucket is
// configured the rest of the pipeline runs unchanged.
package blob

import (
	"context"
	"io"
)

type Storage interface {
	// Put streams content to the object named by key.
	Put(ctx context.Context, key string, content io.Reader) error
	// SignedURL returns a time-limited GET URL for key.
	SignedURL(key string) (string, error)
	Close() error
}
