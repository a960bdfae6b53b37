// Package gateway exposes the assistant over HTTP: a chat endpoint, stream
// state and event reads for reconnecting clients, a WebSocket tail, and the
// usual health and metrics endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskwise/taskwise/internal/assistant"
	"github.com/taskwise/taskwise/internal/observability"
	"github.com/taskwise/taskwise/internal/stream"
)

// ChatService runs one conversational turn. Implemented by assistant.Service.
type ChatService interface {
	ChatWithAI(ctx context.Context, userID, message string, opts assistant.ChatOptions) (*assistant.ChatResponse, error)
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Host string
	Port int
}

// Server is the HTTP gateway.
type Server struct {
	chat     ChatService
	events   stream.Log
	bridge   *stream.Bridge
	auth     *Authenticator
	logger   *observability.Logger
	metrics  *observability.Metrics
	config   ServerConfig
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the gateway. chat, events, and bridge are required; a nil
// auth disables authentication.
func NewServer(chat ChatService, events stream.Log, bridge *stream.Bridge, auth *Authenticator, logger *observability.Logger, metrics *observability.Metrics, config ServerConfig) (*Server, error) {
	if chat == nil {
		return nil, errors.New("chat service is required")
	}
	if events == nil {
		return nil, errors.New("event log is required")
	}
	if bridge == nil {
		return nil, errors.New("stream bridge is required")
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Server{
		chat:    chat,
		events:  events,
		bridge:  bridge,
		auth:    auth,
		logger:  logger,
		metrics: metrics,
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("POST /v1/chat", s.withObservability("/v1/chat", s.withAuth(s.handleChat)))
	mux.HandleFunc("GET /v1/streams/{id}", s.withObservability("/v1/streams/{id}", s.withAuth(s.handleStreamState)))
	mux.HandleFunc("GET /v1/streams/{id}/events", s.withObservability("/v1/streams/{id}/events", s.withAuth(s.handleStreamEvents)))
	mux.HandleFunc("GET /v1/streams/{id}/tail", s.withObservability("/v1/streams/{id}/tail", s.withAuth(s.handleStreamTail)))

	return mux
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "http server error", "error", err)
		}
	}()

	s.logger.Info(ctx, "gateway listening", "addr", addr)
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := s.chat.ChatWithAI(r.Context(), userID, req.Message, assistant.ChatOptions{
		ConversationID: req.ConversationID,
	})
	if err != nil {
		switch {
		case errors.Is(err, assistant.ErrSessionBusy):
			writeError(w, http.StatusConflict, "session is busy with another request")
		case errors.Is(err, context.Canceled):
			// Client went away; nothing useful to write.
		default:
			s.logger.Error(r.Context(), "chat turn failed", "error", err)
			writeError(w, http.StatusInternalServerError, "chat request failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStreamState(w http.ResponseWriter, r *http.Request) {
	data, err := s.bridge.GetStreamingDataSmart(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, stream.ErrStreamNotFound) {
			writeError(w, http.StatusNotFound, "stream not found")
			return
		}
		s.logger.Error(r.Context(), "stream read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stream read failed")
		return
	}
	writeJSON(w, http.StatusOK, data)
}

type streamEventsResponse struct {
	StreamID string `json:"stream_id"`
	Events   any    `json:"events"`
	NextFrom int    `json:"next_from"`
}

// handleStreamEvents serves incremental reads: clients poll with from set to
// the next order they have not seen.
func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("id")
	from := queryInt(r, "from", 0)
	limit := queryInt(r, "limit", 0)

	events, err := s.events.GetStreamEvents(r.Context(), streamID, from, limit)
	if err != nil {
		if errors.Is(err, stream.ErrStreamNotFound) {
			writeError(w, http.StatusNotFound, "stream not found")
			return
		}
		s.logger.Error(r.Context(), "event read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "event read failed")
		return
	}

	nextFrom := from
	if len(events) > 0 {
		nextFrom = events[len(events)-1].Order + 1
	}
	writeJSON(w, http.StatusOK, streamEventsResponse{
		StreamID: streamID,
		Events:   events,
		NextFrom: nextFrom,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
