package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 45 * time.Second
	wsPingInterval = 15 * time.Second
	wsPollInterval = 200 * time.Millisecond
)

// handleStreamTail pushes stream events over a WebSocket, starting from the
// client's cursor. The event log has no change notification, so the tail
// polls it; the poll interval bounds delivery latency, not correctness,
// because orders are dense and reads are cursor-based. The connection closes
// after the terminal event is delivered.
func (s *Server) handleStreamTail(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("id")
	from := queryInt(r, "from", 0)

	// Reject unknown streams before upgrading so the client gets a real 404.
	state, err := s.events.GetStreamState(r.Context(), streamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stream read failed")
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, "stream not found")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Drain client frames so pongs and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	poll := time.NewTicker(wsPollInterval)
	defer poll.Stop()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		events, err := s.events.GetStreamEvents(ctx, streamID, from, 0)
		if err != nil {
			s.logger.Warn(ctx, "tail read failed", "stream_id", streamID, "error", err)
			return
		}

		for _, event := range events {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			from = event.Order + 1
			if event.Type.IsTerminal() {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream finished"))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
		}
	}
}
