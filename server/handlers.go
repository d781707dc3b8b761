package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/ytlivechat/chat"
	"github.com/onnwee/ytlivechat/config"
	"github.com/onnwee/ytlivechat/db"
	"github.com/onnwee/ytlivechat/livechat"
)

// Archive is the read side of the chat archive; *db.Store satisfies it.
type Archive interface {
	Ping(ctx context.Context) error
	ListLiveSessions(ctx context.Context, limit int) ([]db.LiveSession, error)
	ListChatMessages(ctx context.Context, liveID string, since time.Time, limit int) ([]livechat.ChatItem, error)
}

// Poller is the part of *livechat.LiveChat the HTTP layer controls.
type Poller interface {
	Start(ctx context.Context) bool
	Stop(reason string)
	Status() livechat.Status
}

// Breaker reports whether upstream calls are short-circuited.
type Breaker interface {
	BreakerOpen() bool
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx      context.Context
	store    Archive
	poller   Poller
	hub      *chat.Hub
	breaker  Breaker
	clock    clockwork.Clock
	upgrader *websocket.Upgrader
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handlers{
		ctx:      ctx,
		store:    deps.Store,
		poller:   deps.Poller,
		hub:      deps.Hub,
		breaker:  deps.Breaker,
		clock:    deps.Clock,
		upgrader: newUpgrader(corsConfigFrom(cfg)),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("err", err))
	}
}
