// Package assistant exposes the chat entry point: one user message in, one
// assistant response out, with incremental progress republished into the
// stream log along the way.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskwise/taskwise/internal/agent"
	"github.com/taskwise/taskwise/internal/observability"
	"github.com/taskwise/taskwise/internal/sessions"
	"github.com/taskwise/taskwise/internal/stream"
	"github.com/taskwise/taskwise/pkg/models"
)

// ErrSessionBusy is returned when another run holds the session write lock.
var ErrSessionBusy = errors.New("session is busy with another request")

// ChatOptions carries per-request options for ChatWithAI.
type ChatOptions struct {
	// ConversationID distinguishes conversation threads per user. Empty means
	// the user's default thread.
	ConversationID string

	// StreamID names the stream for this turn. Empty generates one.
	StreamID string
}

// ChatResponse is the result of one completed turn.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
	StreamID  string `json:"stream_id"`
	StepCount int    `json:"step_count"`
}

// ServiceConfig configures the assistant service.
type ServiceConfig struct {
	// LockTimeout bounds how long a request waits for the session write lock.
	// Default 10s.
	LockTimeout time.Duration
}

// Service wires the orchestrator, session store, and stream bridge into the
// ChatWithAI operation.
type Service struct {
	orchestrator *agent.Orchestrator
	store        sessions.Store
	locks        *sessions.LockManager
	bridge       *stream.Bridge
	logger       *observability.Logger
	config       ServiceConfig
}

// NewService creates the assistant service. All collaborators except logger
// are required.
func NewService(orchestrator *agent.Orchestrator, store sessions.Store, locks *sessions.LockManager, bridge *stream.Bridge, logger *observability.Logger, config ServiceConfig) (*Service, error) {
	if orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if locks == nil {
		return nil, errors.New("lock manager is required")
	}
	if bridge == nil {
		return nil, errors.New("stream bridge is required")
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = 10 * time.Second
	}
	return &Service{
		orchestrator: orchestrator,
		store:        store,
		locks:        locks,
		bridge:       bridge,
		logger:       logger,
		config:       config,
	}, nil
}

// ChatWithAI runs one conversational turn for the user. It resolves the
// session, takes the session write lock so only one run advances the thread
// at a time, opens a stream, runs the orchestrator, and republishes every
// chunk into the stream log. The final text is returned once the run reaches
// a terminal state.
func (s *Service) ChatWithAI(ctx context.Context, userID, message string, opts ChatOptions) (*ChatResponse, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if message == "" {
		return nil, errors.New("message is required")
	}

	conversationID := opts.ConversationID
	if conversationID == "" {
		conversationID = "default"
	}
	session, err := s.store.GetOrCreate(ctx, sessions.SessionKey(userID, conversationID), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	runID := uuid.NewString()
	ctx = observability.WithRunID(ctx, runID)
	ctx = observability.WithSessionID(ctx, session.ID)
	ctx = observability.WithUserID(ctx, userID)

	release, err := s.locks.Acquire(ctx, session.ID, runID, s.config.LockTimeout)
	if err != nil {
		if errors.Is(err, sessions.ErrLockTimeout) {
			return nil, ErrSessionBusy
		}
		return nil, err
	}
	defer release()

	streamID := opts.StreamID
	if streamID == "" {
		streamID = uuid.NewString()
	}
	ctx = observability.WithStreamID(ctx, streamID)

	if err := s.bridge.Start(ctx, streamID, session.ID, message); err != nil {
		return nil, fmt.Errorf("failed to start stream: %w", err)
	}

	chunks, err := s.orchestrator.Run(ctx, session, &models.Message{
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   message,
	})
	if err != nil {
		s.errorStream(ctx, streamID, err)
		return nil, err
	}

	response, transcript, stepCount, runErr := s.republish(ctx, streamID, chunks)
	if runErr != nil {
		s.errorStream(ctx, streamID, runErr)
		return nil, runErr
	}

	// Finish carries the concatenation of every published delta, so the
	// finish content always equals what reconstruction of the log yields.
	if err := s.bridge.Finish(ctx, streamID, transcript, stepCount); err != nil {
		s.logger.Warn(ctx, "failed to finish stream", "error", err)
	}

	return &ChatResponse{
		Response:  response,
		SessionID: session.ID,
		StreamID:  streamID,
		StepCount: stepCount,
	}, nil
}

// republish copies orchestrator chunks into the stream log and collects the
// final text plus the transcript of all text deltas it published, including
// assistant narration from tool-calling steps. Stream-write failures are
// logged, never fatal to the run.
func (s *Service) republish(ctx context.Context, streamID string, chunks <-chan *agent.ResponseChunk) (string, string, int, error) {
	var finalText string
	var transcript strings.Builder
	var stepCount int

	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			return "", "", 0, chunk.Error

		case chunk.Text != "":
			transcript.WriteString(chunk.Text)
			if err := s.bridge.AppendText(ctx, streamID, chunk.Text); err != nil {
				s.logger.Warn(ctx, "failed to append text delta", "error", err)
			}

		case chunk.ToolCall != nil:
			if err := s.bridge.RecordToolCall(ctx, streamID, *chunk.ToolCall); err != nil {
				s.logger.Warn(ctx, "failed to record tool call", "error", err)
			}

		case chunk.ToolResult != nil:
			if err := s.bridge.RecordToolResult(ctx, streamID, *chunk.ToolResult); err != nil {
				s.logger.Warn(ctx, "failed to record tool result", "error", err)
			}

		case chunk.Done:
			finalText = chunk.FinalText
			stepCount = chunk.StepCount
		}
	}

	return finalText, transcript.String(), stepCount, nil
}

func (s *Service) errorStream(ctx context.Context, streamID string, cause error) {
	if err := s.bridge.Error(ctx, streamID, cause.Error()); err != nil {
		s.logger.Warn(ctx, "failed to error stream", "error", err)
	}
}
