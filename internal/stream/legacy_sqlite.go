package stream

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taskwise/taskwise/pkg/models"
)

// SQLiteLegacyStore persists legacy stream documents in the same SQLite
// database as the event log. Patched in place, matching the document model
// the event log is replacing.
type SQLiteLegacyStore struct {
	db *sql.DB
}

// NewSQLiteLegacyStore creates the legacy document store on an existing
// database handle, typically SQLiteLog.DB().
func NewSQLiteLegacyStore(db *sql.DB) (*SQLiteLegacyStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	store := &SQLiteLegacyStore{db: db}
	if err := store.migrate(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLiteLegacyStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS legacy_stream_documents (
			stream_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL DEFAULT '',
			user_message TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			tool_ledger BLOB,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			metadata BLOB,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate legacy document schema: %w", err)
	}
	return nil
}

func (s *SQLiteLegacyStore) CreateDocument(ctx context.Context, doc *models.LegacyStreamDocument) error {
	if doc == nil || doc.StreamID == "" {
		return errors.New("document with stream id is required")
	}

	status := doc.Status
	if status == "" {
		status = models.StreamStatusStreaming
	}
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	ledger, err := marshalNullable(doc.ToolLedger, len(doc.ToolLedger) > 0)
	if err != nil {
		return fmt.Errorf("failed to encode tool ledger: %w", err)
	}
	metadata, err := marshalNullable(doc.Metadata, len(doc.Metadata) > 0)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO legacy_stream_documents
			(stream_id, session_id, user_message, content, tool_ledger, status, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (stream_id) DO NOTHING
	`, doc.StreamID, doc.SessionID, doc.UserMessage, doc.Content, ledger,
		string(status), doc.Error, metadata, createdAt, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if affected == 0 {
		return ErrStreamExists
	}
	return nil
}

func (s *SQLiteLegacyStore) GetDocument(ctx context.Context, streamID string) (*models.LegacyStreamDocument, error) {
	var doc models.LegacyStreamDocument
	var status string
	var ledger, metadata []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT stream_id, session_id, user_message, content, tool_ledger, status, error, metadata, created_at, updated_at
		FROM legacy_stream_documents WHERE stream_id = ?
	`, streamID).Scan(&doc.StreamID, &doc.SessionID, &doc.UserMessage, &doc.Content,
		&ledger, &status, &doc.Error, &metadata, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	doc.Status = models.StreamStatus(status)
	if len(ledger) > 0 {
		if err := json.Unmarshal(ledger, &doc.ToolLedger); err != nil {
			return nil, fmt.Errorf("failed to decode tool ledger: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &doc, nil
}

func (s *SQLiteLegacyStore) AppendText(ctx context.Context, streamID, text string) error {
	return s.patch(ctx, streamID, `content = content || ?`, text)
}

func (s *SQLiteLegacyStore) AppendToolResult(ctx context.Context, streamID string, result models.ToolResult) error {
	// Read-modify-write on the ledger; acceptable under the
	// single-writer-per-stream contract.
	doc, err := s.GetDocument(ctx, streamID)
	if err != nil {
		return err
	}
	ledger, err := json.Marshal(append(doc.ToolLedger, result))
	if err != nil {
		return fmt.Errorf("failed to encode tool ledger: %w", err)
	}
	return s.patch(ctx, streamID, `tool_ledger = ?`, ledger)
}

func (s *SQLiteLegacyStore) Complete(ctx context.Context, streamID, finalContent string) error {
	return s.patch(ctx, streamID, `content = ?, status = '`+string(models.StreamStatusComplete)+`'`, finalContent)
}

func (s *SQLiteLegacyStore) Fail(ctx context.Context, streamID, message string) error {
	return s.patch(ctx, streamID, `error = ?, status = '`+string(models.StreamStatusError)+`'`, message)
}

func (s *SQLiteLegacyStore) DeleteDocumentsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM legacy_stream_documents WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *SQLiteLegacyStore) patch(ctx context.Context, streamID, set string, arg any) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE legacy_stream_documents SET `+set+`, updated_at = ? WHERE stream_id = ?`,
		arg, time.Now(), streamID)
	if err != nil {
		return fmt.Errorf("failed to patch document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func marshalNullable(v any, present bool) ([]byte, error) {
	if !present {
		return nil, nil
	}
	return json.Marshal(v)
}
