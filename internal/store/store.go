// Package store owns durable storage: one SQLite row per log event,
// addressable by (session_id, event_id), plus versioned controller-state
// blobs. Event appends are idempotent per id so that recovery replay is a
// no-op rather than an error.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/driftlabs/taskcore/internal/eventlog"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SessionSummary describes one session's footprint in the events table.
type SessionSummary struct {
	SessionID  string    `json:"session_id"`
	EventCount int64     `json:"event_count"`
	LatestID   int64     `json:"latest_id"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// AppendEvent durably stores one event. Appending an id that is already
// stored for the session is a no-op, since recovery may replay.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, evt eventlog.Event) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if evt.ID <= 0 {
		return fmt.Errorf("event id must be assigned before storage, got %d", evt.ID)
	}
	payloadJSON, err := encodeJSON(evt.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	condensationJSON, err := encodeJSON(evt.Condensation)
	if err != nil {
		return fmt.Errorf("encode condensation: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO events (session_id, event_id, source, kind, body, payload, condensation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, evt.ID, string(evt.Source), string(evt.Kind), evt.Body, payloadJSON, condensationJSON, evt.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// LoadEvents reads every stored event for a session in id order.
func (s *Store) LoadEvents(ctx context.Context, sessionID string) ([]eventlog.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, source, kind, body, payload, condensation, created_at
		FROM events WHERE session_id = ? ORDER BY event_id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var out []eventlog.Event
	for rows.Next() {
		var evt eventlog.Event
		var source, kind, createdAtStr string
		var body, payloadStr, condensationStr sql.NullString
		if err := rows.Scan(&evt.ID, &source, &kind, &body, &payloadStr, &condensationStr, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Source = eventlog.Source(source)
		evt.Kind = eventlog.Kind(kind)
		evt.Body = body.String
		evt.Payload = decodeJSONMap(payloadStr.String)
		if condensationStr.String != "" {
			var c eventlog.Condensation
			if err := json.Unmarshal([]byte(condensationStr.String), &c); err != nil {
				return nil, fmt.Errorf("decode condensation for event %d: %w", evt.ID, err)
			}
			evt.Condensation = &c
		}
		evt.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// LoadLog rebuilds a session's in-memory log from durable storage, with this
// store re-attached as the sink.
func (s *Store) LoadLog(ctx context.Context, sessionID string) (*eventlog.Log, error) {
	events, err := s.LoadEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return eventlog.Replay(sessionID, events, eventlog.WithSink(s))
}

// ListSessions summarizes stored sessions, most recently updated first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MAX(event_id), MIN(created_at), MAX(created_at)
		FROM events GROUP BY session_id ORDER BY MAX(created_at) DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var item SessionSummary
		var startedAtStr, updatedAtStr string
		if err := rows.Scan(&item.SessionID, &item.EventCount, &item.LatestID, &startedAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		item.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAtStr)
		item.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// PutStateBlob stores a serialized controller state keyed by session and
// optional user namespace, replacing any previous blob.
func (s *Store) PutStateBlob(ctx context.Context, sessionID, userID string, blob []byte) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO controller_states (session_id, user_id, blob, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, user_id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at
	`, sessionID, userID, blob, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("put state blob: %w", err)
	}
	return nil
}

// GetStateBlob reads a previously stored controller-state blob.
func (s *Store) GetStateBlob(ctx context.Context, sessionID, userID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT blob FROM controller_states WHERE session_id = ? AND user_id = ?
	`, sessionID, userID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("state blob for %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get state blob: %w", err)
	}
	return blob, nil
}

func encodeJSON(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case *eventlog.Condensation:
		if val == nil {
			return "", nil
		}
	case map[string]any:
		if len(val) == 0 {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSONMap(v string) map[string]any {
	if v == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil
	}
	return out
}
