package stream

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/taskwise/taskwise/pkg/models"
)

// SQLiteLog is a Log implementation backed by a local SQLite database.
// Suitable for single-process deployments; the single-writer-per-stream
// assumption is reinforced by a transaction around order assignment.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog opens (or creates) the event log at path. Use ":memory:" for
// an ephemeral database.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// The sqlite driver does not support concurrent writers on one connection
	// pool; serialize access through a single connection.
	db.SetMaxOpenConns(1)

	log := &SQLiteLog{db: db}
	if err := log.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return log, nil
}

// Close closes the underlying database.
func (s *SQLiteLog) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so other stores (the legacy document
// store) can share the single serialized connection.
func (s *SQLiteLog) DB() *sql.DB {
	return s.db
}

func (s *SQLiteLog) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS stream_events (
			stream_id TEXT NOT NULL,
			event_order INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			payload BLOB,
			session_id TEXT NOT NULL DEFAULT '',
			user_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (stream_id, event_order)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate stream schema: %w", err)
	}
	return nil
}

func (s *SQLiteLog) StartStream(ctx context.Context, streamID, sessionID, userMessage string) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM stream_events WHERE stream_id = ? AND event_order = 0`, streamID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check stream: %w", err)
	}
	if exists > 0 {
		return ErrStreamExists
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO stream_events (stream_id, event_order, event_type, payload, session_id, user_message, created_at)
		VALUES (?, 0, ?, NULL, ?, ?, ?)
	`, streamID, string(models.StreamEventStart), sessionID, userMessage, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert start event: %w", err)
	}
	return nil
}

func (s *SQLiteLog) PublishEvent(ctx context.Context, streamID string, eventType models.StreamEventType, payload json.RawMessage) (*models.StreamEvent, error) {
	events, err := s.PublishEventBatch(ctx, streamID, []EventInput{{Type: eventType, Payload: payload}})
	if err != nil {
		return nil, err
	}
	return events[0], nil
}

func (s *SQLiteLog) PublishEventBatch(ctx context.Context, streamID string, inputs []EventInput) ([]*models.StreamEvent, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var sessionID, userMessage string
	var maxOrder int
	err = tx.QueryRowContext(ctx, `
		SELECT session_id, user_message,
			(SELECT MAX(event_order) FROM stream_events WHERE stream_id = ?)
		FROM stream_events WHERE stream_id = ? AND event_order = 0
	`, streamID, streamID).Scan(&sessionID, &userMessage, &maxOrder)
	if err == sql.ErrNoRows {
		return nil, ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stream head: %w", err)
	}

	out := make([]*models.StreamEvent, 0, len(inputs))
	for i, input := range inputs {
		ev := &models.StreamEvent{
			StreamID:    streamID,
			Order:       maxOrder + 1 + i,
			Type:        input.Type,
			Payload:     input.Payload,
			SessionID:   sessionID,
			UserMessage: userMessage,
			CreatedAt:   time.Now(),
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stream_events (stream_id, event_order, event_type, payload, session_id, user_message, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, ev.StreamID, ev.Order, string(ev.Type), []byte(ev.Payload), ev.SessionID, ev.UserMessage, ev.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert event: %w", err)
		}
		out = append(out, ev)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit events: %w", err)
	}
	return out, nil
}

func (s *SQLiteLog) GetStreamEvents(ctx context.Context, streamID string, fromOrder, limit int) ([]*models.StreamEvent, error) {
	query := `
		SELECT stream_id, event_order, event_type, payload, session_id, user_message, created_at
		FROM stream_events
		WHERE stream_id = ? AND event_order >= ?
		ORDER BY event_order ASC
	`
	args := []any{streamID, fromOrder}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*models.StreamEvent
	for rows.Next() {
		var ev models.StreamEvent
		var eventType string
		var payload []byte
		if err := rows.Scan(&ev.StreamID, &ev.Order, &eventType, &payload, &ev.SessionID, &ev.UserMessage, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = models.StreamEventType(eventType)
		if len(payload) > 0 {
			ev.Payload = json.RawMessage(payload)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *SQLiteLog) GetStreamState(ctx context.Context, streamID string) (*models.StreamState, error) {
	events, err := s.GetStreamEvents(ctx, streamID, 0, 0)
	if err != nil {
		return nil, err
	}
	return deriveState(events), nil
}

func (s *SQLiteLog) ReconstructContent(ctx context.Context, streamID string) (string, error) {
	events, err := s.GetStreamEvents(ctx, streamID, 0, 0)
	if err != nil {
		return "", err
	}
	return reconstruct(events)
}

func (s *SQLiteLog) DeleteStreamsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stream_id FROM stream_events
		WHERE event_order = 0 AND created_at < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired streams: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM stream_events WHERE stream_id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to delete stream %s: %w", id, err)
		}
	}
	return len(ids), nil
}
