package stream

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/taskwise/taskwise/pkg/models"
)

// PostgresLog is a Log implementation backed by Postgres, sharing the
// connection pool with the session store.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog creates the event log on an existing database connection.
func NewPostgresLog(db *sql.DB) (*PostgresLog, error) {
	log := &PostgresLog{db: db}
	if err := log.migrate(context.Background()); err != nil {
		return nil, err
	}
	return log, nil
}

func (p *PostgresLog) migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS stream_events (
			stream_id TEXT NOT NULL,
			event_order INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			payload JSONB,
			session_id TEXT NOT NULL DEFAULT '',
			user_message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (stream_id, event_order)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stream_events_created ON stream_events (created_at) WHERE event_order = 0`,
	}
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate stream schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresLog) StartStream(ctx context.Context, streamID, sessionID, userMessage string) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO stream_events (stream_id, event_order, event_type, payload, session_id, user_message, created_at)
		VALUES ($1, 0, $2, NULL, $3, $4, $5)
		ON CONFLICT (stream_id, event_order) DO NOTHING
	`, streamID, string(models.StreamEventStart), sessionID, userMessage, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert start event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStreamExists
	}
	return nil
}

func (p *PostgresLog) PublishEvent(ctx context.Context, streamID string, eventType models.StreamEventType, payload json.RawMessage) (*models.StreamEvent, error) {
	events, err := p.PublishEventBatch(ctx, streamID, []EventInput{{Type: eventType, Payload: payload}})
	if err != nil {
		return nil, err
	}
	return events[0], nil
}

func (p *PostgresLog) PublishEventBatch(ctx context.Context, streamID string, inputs []EventInput) ([]*models.StreamEvent, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var sessionID, userMessage string
	var maxOrder int
	err = tx.QueryRowContext(ctx, `
		SELECT session_id, user_message,
			(SELECT MAX(event_order) FROM stream_events WHERE stream_id = $1)
		FROM stream_events WHERE stream_id = $1 AND event_order = 0
		FOR UPDATE
	`, streamID).Scan(&sessionID, &userMessage, &maxOrder)
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
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, ev.StreamID, ev.Order, string(ev.Type), nullableJSON(ev.Payload), ev.SessionID, ev.UserMessage, ev.CreatedAt)
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

func (p *PostgresLog) GetStreamEvents(ctx context.Context, streamID string, fromOrder, limit int) ([]*models.StreamEvent, error) {
	query := `
		SELECT stream_id, event_order, event_type, payload, session_id, user_message, created_at
		FROM stream_events
		WHERE stream_id = $1 AND event_order >= $2
		ORDER BY event_order ASC
	`
	args := []any{streamID, fromOrder}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
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

func (p *PostgresLog) GetStreamState(ctx context.Context, streamID string) (*models.StreamState, error) {
	events, err := p.GetStreamEvents(ctx, streamID, 0, 0)
	if err != nil {
		return nil, err
	}
	return deriveState(events), nil
}

func (p *PostgresLog) ReconstructContent(ctx context.Context, streamID string) (string, error) {
	events, err := p.GetStreamEvents(ctx, streamID, 0, 0)
	if err != nil {
		return "", err
	}
	return reconstruct(events)
}

func (p *PostgresLog) DeleteStreamsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM stream_events WHERE stream_id IN (
			SELECT stream_id FROM stream_events WHERE event_order = 0 AND created_at < $1
		) AND event_order = 0
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete start events: %w", err)
	}
	deleted, _ := res.RowsAffected()

	// Remove the now-headless remainder of those streams.
	_, err = p.db.ExecContext(ctx, `
		DELETE FROM stream_events WHERE stream_id NOT IN (
			SELECT stream_id FROM stream_events WHERE event_order = 0
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired streams: %w", err)
	}
	return int(deleted), nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
