package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/taskwise/taskwise/pkg/models"
)

// ErrDocumentNotFound is returned when a legacy stream document does not exist.
var ErrDocumentNotFound = errors.New("stream document not found")

// LegacyStore is the older streaming representation: one mutable document
// per stream, patched in place as the assistant response is produced. Kept
// alive during migration to the event log; see Bridge.
type LegacyStore interface {
	CreateDocument(ctx context.Context, doc *models.LegacyStreamDocument) error
	GetDocument(ctx context.Context, streamID string) (*models.LegacyStreamDocument, error)

	// AppendText patches the accumulated text in place.
	AppendText(ctx context.Context, streamID, text string) error

	// AppendToolResult records one tool execution on the document's ledger.
	AppendToolResult(ctx context.Context, streamID string, result models.ToolResult) error

	// Complete marks the document finished with the final content.
	Complete(ctx context.Context, streamID, finalContent string) error

	// Fail marks the document errored.
	Fail(ctx context.Context, streamID, message string) error

	DeleteDocumentsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryLegacyStore is an in-memory LegacyStore.
type MemoryLegacyStore struct {
	mu   sync.RWMutex
	docs map[string]*models.LegacyStreamDocument
}

// NewMemoryLegacyStore creates an empty legacy document store.
func NewMemoryLegacyStore() *MemoryLegacyStore {
	return &MemoryLegacyStore{docs: make(map[string]*models.LegacyStreamDocument)}
}

func (m *MemoryLegacyStore) CreateDocument(ctx context.Context, doc *models.LegacyStreamDocument) error {
	if doc == nil || doc.StreamID == "" {
		return errors.New("document with stream id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[doc.StreamID]; ok {
		return ErrStreamExists
	}
	clone := *doc
	if clone.Status == "" {
		clone.Status = models.StreamStatusStreaming
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	m.docs[doc.StreamID] = &clone
	return nil
}

func (m *MemoryLegacyStore) GetDocument(ctx context.Context, streamID string) (*models.LegacyStreamDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[streamID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	clone := *doc
	clone.ToolLedger = append([]models.ToolResult(nil), doc.ToolLedger...)
	return &clone, nil
}

func (m *MemoryLegacyStore) AppendText(ctx context.Context, streamID, text string) error {
	return m.patch(streamID, func(doc *models.LegacyStreamDocument) {
		doc.Content += text
	})
}

func (m *MemoryLegacyStore) AppendToolResult(ctx context.Context, streamID string, result models.ToolResult) error {
	return m.patch(streamID, func(doc *models.LegacyStreamDocument) {
		doc.ToolLedger = append(doc.ToolLedger, result)
	})
}

func (m *MemoryLegacyStore) Complete(ctx context.Context, streamID, finalContent string) error {
	return m.patch(streamID, func(doc *models.LegacyStreamDocument) {
		doc.Content = finalContent
		doc.Status = models.StreamStatusComplete
	})
}

func (m *MemoryLegacyStore) Fail(ctx context.Context, streamID, message string) error {
	return m.patch(streamID, func(doc *models.LegacyStreamDocument) {
		doc.Status = models.StreamStatusError
		doc.Error = message
	})
}

func (m *MemoryLegacyStore) DeleteDocumentsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, doc := range m.docs {
		if doc.CreatedAt.Before(cutoff) {
			delete(m.docs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryLegacyStore) patch(streamID string, apply func(*models.LegacyStreamDocument)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[streamID]
	if !ok {
		return ErrDocumentNotFound
	}
	apply(doc)
	doc.UpdatedAt = time.Now()
	return nil
}
