// Package ledger provides an append-only history of goal completions and
// persistence failures.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/goald/internal/eventbus"
	"github.com/dokzlo13/goald/internal/tracking"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventGoalCompleted EventType = "goal_completed"
	EventSaveFailed    EventType = "save_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	EventType EventType
	Timestamp time.Time
	ProjectID string
	GoalID    string
	Payload   map[string]any
}

// Ledger provides append-only event logging
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, at time.Time, projectID, goalID string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(`
		INSERT INTO event_ledger (event_type, timestamp, project_id, goal_id, payload)
		VALUES (?, ?, ?, ?, ?)
	`, string(eventType), at.UTC().Unix(), projectID, goalID, string(payloadJSON))

	return err
}

// Subscribe records completions and save failures published on bus. The
// returned function detaches the ledger again.
func (l *Ledger) Subscribe(bus *eventbus.Bus) func() {
	unsubCompleted := bus.Subscribe(eventbus.EventTypeGoalCompleted, l.onGoalCompleted)
	unsubFailed := bus.Subscribe(eventbus.EventTypeSaveFailed, l.onSaveFailed)
	return func() {
		unsubCompleted()
		unsubFailed()
	}
}

func (l *Ledger) onGoalCompleted(e eventbus.Event) {
	c, ok := e.Payload.(tracking.Completion)
	if !ok {
		return
	}
	err := l.Append(EventGoalCompleted, c.At, c.ProjectID, c.GoalID, map[string]any{
		"count":  c.Count,
		"target": c.Target,
	})
	if err != nil {
		log.Error().Err(err).Str("goal", c.GoalID).Msg("Failed to record goal completion")
	}
}

func (l *Ledger) onSaveFailed(e eventbus.Event) {
	payload := map[string]any{}
	if err, ok := e.Payload.(error); ok {
		payload["error"] = err.Error()
	}
	if err := l.Append(EventSaveFailed, l.now(), "", "", payload); err != nil {
		log.Error().Err(err).Msg("Failed to record save failure")
	}
}

// Recent returns the newest entries first
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, project_id, goal_id, payload
		FROM event_ledger
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// ByProject returns the newest entries of one project first
func (l *Ledger) ByProject(projectID string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, project_id, goal_id, payload
		FROM event_ledger
		WHERE project_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, projectID, goalID sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &projectID, &goalID, &payloadStr)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.ProjectID = projectID.String
		entry.GoalID = goalID.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
