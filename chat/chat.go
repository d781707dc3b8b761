package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/ytlivechat/livechat"
)

// Event types carried in an Event envelope.
const (
	EventStart = "start"
	EventEnd   = "end"
	EventChat  = "chat"
)

// Event is the envelope relayed to live subscribers (SSE, WebSocket, Redis).
type Event struct {
	Type   string             `json:"type" yaml:"type"`
	LiveID string             `json:"live_id" yaml:"live_id"`
	Reason string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	Item   *livechat.ChatItem `json:"item,omitempty" yaml:"item,omitempty"`
	At     time.Time          `json:"at" yaml:"at"`
}

// Sink consumes poller events. Errors are logged by Attach and otherwise ignored.
type Sink interface {
	SessionStarted(ctx context.Context, liveID string, at time.Time) error
	SessionEnded(ctx context.Context, liveID, reason string, at time.Time) error
	Chat(ctx context.Context, item livechat.ChatItem) error
}

// Attach registers listeners on lc that forward every session and chat event
// to each sink in order. End events are tagged with lc.LiveID(), which still
// names the ending session while OnEnd listeners run.
func Attach(ctx context.Context, lc *livechat.LiveChat, sinks ...Sink) {
	lc.OnStart(func(liveID string) {
		now := time.Now().UTC()
		for _, s := range sinks {
			if err := s.SessionStarted(ctx, liveID, now); err != nil {
				slog.Warn("chat: sink session start failed", slog.String("live_id", liveID), slog.Any("err", err))
			}
		}
	})
	lc.OnEnd(func(reason string) {
		liveID := lc.LiveID()
		now := time.Now().UTC()
		for _, s := range sinks {
			if err := s.SessionEnded(ctx, liveID, reason, now); err != nil {
				slog.Warn("chat: sink session end failed", slog.String("live_id", liveID), slog.Any("err", err))
			}
		}
	})
	lc.OnChat(func(item livechat.ChatItem) {
		for _, s := range sinks {
			if err := s.Chat(ctx, item); err != nil {
				slog.Warn("chat: sink message failed", slog.String("live_id", item.LiveID), slog.String("message_id", item.ID), slog.Any("err", err))
			}
		}
	})
}
