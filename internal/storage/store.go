// Package storage provides versioned JSON record storage on top of SQLite.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Record is one stored payload.
type Record struct {
	ID        string
	Payload   []byte
	Version   int64
	UpdatedAt time.Time
}

// Store provides generic versioned state storage with JSON payloads.
// State is keyed by (kind, id); every write bumps the version.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new generic state store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves payload and version for a record.
// Returns empty payload and version 0 if not found.
func (s *Store) Get(ctx context.Context, kind, id string) (payload []byte, version int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payloadStr string
	err = s.db.QueryRowContext(ctx, `
		SELECT payload, version FROM resource_state
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payloadStr, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	return []byte(payloadStr), version, nil
}

// List returns all records of a kind in insertion order. Updating a record
// keeps its position.
func (s *Store) List(ctx context.Context, kind string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, version, updated_at FROM resource_state
		WHERE kind = ?
		ORDER BY rowid
	`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var payloadStr string
		var updatedAt int64
		if err := rows.Scan(&r.ID, &payloadStr, &r.Version, &updatedAt); err != nil {
			return nil, err
		}
		r.Payload = []byte(payloadStr)
		r.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Write upserts records and deletes the removed ids of a kind in one
// transaction. Ids absent from both lists are left alone.
func (s *Store) Write(ctx context.Context, kind string, records []Record, removed []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range records {
		if err := upsert(ctx, tx, kind, r.ID, r.Payload); err != nil {
			return fmt.Errorf("failed to store %s/%s: %w", kind, r.ID, err)
		}
	}
	for _, id := range removed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM resource_state WHERE kind = ? AND id = ?`, kind, id); err != nil {
			return fmt.Errorf("failed to delete %s/%s: %w", kind, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	log.Debug().Str("kind", kind).Int("records", len(records)).Int("removed", len(removed)).Msg("Store.Write completed")
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, kind, id string, payload []byte) error {
	now := time.Now().UTC().Unix()
	_, err := db.ExecContext(ctx, `
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, kind, id, string(payload), now)
	return err
}
