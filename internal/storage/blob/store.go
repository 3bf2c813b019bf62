// Package blob stores avatar images and their thumbnails.
package blob

import (
	"context"
	"errors"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// Store is an object store keyed by path-like names.
type Store interface {
	// Put writes data under key and returns the stored reference.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// PresignedURL returns a time-limited URL for reading key.
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
