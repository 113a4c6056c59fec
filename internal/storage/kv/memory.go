package kv

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/goccy/go-json"
)

// MemoryBucket is an in-memory bucket (not persisted). Values round-trip
// through JSON so it behaves exactly like SQLiteBucket.
type MemoryBucket struct {
	name    string
	entries map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryBucket creates a new in-memory bucket.
func NewMemoryBucket(name string) *MemoryBucket {
	return &MemoryBucket{
		name:    name,
		entries: make(map[string][]byte),
	}
}

// Name returns the bucket name.
func (b *MemoryBucket) Name() string {
	return b.name
}

// IsPersistent returns false (memory buckets are not persistent).
func (b *MemoryBucket) IsPersistent() bool {
	return false
}

// Put saves a value with the given key.
func (b *MemoryBucket) Put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[key] = data
	return nil
}

// Get decodes the value stored under key into dst.
func (b *MemoryBucket) Get(key string, dst any) (bool, error) {
	b.mu.RLock()
	data, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return true, nil
}

// Delete removes a key from the bucket.
func (b *MemoryBucket) Delete(key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.entries[key]
	delete(b.entries, key)
	return ok, nil
}

// Keys returns all keys in the bucket.
func (b *MemoryBucket) Keys() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Sorted(maps.Keys(b.entries)), nil
}
