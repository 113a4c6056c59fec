package storage

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// TypedStore wraps Store with JSON marshaling for a specific type.
type TypedStore[T any] struct {
	store *Store
	kind  string
}

// NewTypedStore creates a new typed store wrapper for the given kind.
func NewTypedStore[T any](store *Store, kind string) *TypedStore[T] {
	return &TypedStore[T]{
		store: store,
		kind:  kind,
	}
}

// Get retrieves and unmarshals the record for an ID.
// Returns zero value and version 0 if not found.
func (s *TypedStore[T]) Get(ctx context.Context, id string) (value T, version int64, err error) {
	payload, version, err := s.store.Get(ctx, s.kind, id)
	if err != nil {
		return value, 0, err
	}

	if payload == nil {
		return value, 0, nil
	}

	if err := json.Unmarshal(payload, &value); err != nil {
		return value, 0, fmt.Errorf("failed to unmarshal %s/%s: %w", s.kind, id, err)
	}

	return value, version, nil
}

// List returns every record of the kind in insertion order. Rows that fail
// to decode are logged and skipped; they never fail the whole load.
func (s *TypedStore[T]) List(ctx context.Context) ([]T, error) {
	records, err := s.store.List(ctx, s.kind)
	if err != nil {
		return nil, err
	}

	values := make([]T, 0, len(records))
	for _, r := range records {
		var value T
		if err := json.Unmarshal(r.Payload, &value); err != nil {
			log.Warn().Err(err).Str("kind", s.kind).Str("id", r.ID).Msg("Skipping corrupt record")
			continue
		}
		values = append(values, value)
	}
	return values, nil
}

// Write stores values keyed by id and deletes the removed ids.
func (s *TypedStore[T]) Write(ctx context.Context, values []T, id func(T) string, removed []string) error {
	records := make([]Record, 0, len(values))
	for _, v := range values {
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal %s/%s: %w", s.kind, id(v), err)
		}
		records = append(records, Record{ID: id(v), Payload: payload})
	}
	return s.store.Write(ctx, s.kind, records, removed)
}
