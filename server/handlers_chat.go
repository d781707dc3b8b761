package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/ytlivechat/chat"
)

const (
	keepAliveInterval = 15 * time.Second
	wsWriteTimeout    = 10 * time.Second
)

func newUpgrader(cors corsConfig) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     cors.allowsWebSocket,
	}
}

// HandleChatSSE relays live poller events as Server-Sent Events.
// Params: live_id (optional filter).
func (h *Handlers) HandleChatSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if h.hub == nil {
		http.Error(w, "live relay not configured", http.StatusServiceUnavailable)
		return
	}
	events, cancel := h.hub.Subscribe(r.URL.Query().Get("live_id"), 0)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := h.clock.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	enc := json.NewEncoder(w)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		case <-keepAlive.Chan():
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("event: " + ev.Type + "\ndata: ")); err != nil {
				slog.Warn("failed to write SSE data prefix", slog.Any("err", err))
				return
			}
			// Encode terminates the payload with a newline
			if err := enc.Encode(ev); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				slog.Warn("failed to write SSE newline", slog.Any("err", err))
				return
			}
			flusher.Flush()
		}
	}
}

// HandleChatWS relays live poller events over a WebSocket as JSON text frames.
// Params: live_id (optional filter).
func (h *Handlers) HandleChatWS(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "live relay not configured", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("err", err))
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := h.hub.Subscribe(r.URL.Query().Get("live_id"), 0)
	defer cancel()

	// Read pump: clients only send control frames; a read error means they left.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := h.clock.NewTicker(keepAliveInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-h.ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-ping.Chan():
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				slog.Debug("websocket write failed", slog.Any("err", err))
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev chat.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}
