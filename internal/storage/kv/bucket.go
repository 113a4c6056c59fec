// Package kv provides small named key-value buckets with SQLite persistence
// and an in-memory variant.
package kv

// Bucket is the interface for key-value storage operations. Values are
// stored as JSON.
type Bucket interface {
	// Name returns the bucket name.
	Name() string

	// IsPersistent returns true if the bucket is backed by SQLite.
	IsPersistent() bool

	// Put saves value under key, replacing any previous value.
	Put(key string, value any) error

	// Get decodes the value stored under key into dst.
	// Returns false if the key doesn't exist.
	Get(key string, dst any) (bool, error)

	// Delete removes a key from the bucket.
	// Returns true if the key existed.
	Delete(key string) (bool, error)

	// Keys returns all keys in the bucket, sorted.
	Keys() ([]string, error)
}
