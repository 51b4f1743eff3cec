package storage

import (
	"context"
	"time"
)

// ObjectStore is the durable blob store behind object-store references.
// Implementations are long-lived and shared by every component.
type ObjectStore interface {
	// Put writes data under path and returns the object URI.
	Put(ctx context.Context, path string, data []byte, mimeType string) (string, error)
	// AccessURL returns a signed, time-limited GET URL for uri.
	AccessURL(ctx context.Context, uri string, ttl time.Duration) (string, error)
	Exists(ctx context.Context, uri string) (bool, error)
	// Get reads the whole object behind uri.
	Get(ctx context.Context, uri string) ([]byte, error)
	// Owns reports whether uri points into this store.
	Owns(uri string) bool
}
