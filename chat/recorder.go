package chat

import (
	"context"
	"time"

	"github.com/onnwee/ytlivechat/livechat"
)

// Archive is the storage the Recorder writes through; *db.Store satisfies it.
type Archive interface {
	UpsertLiveSession(ctx context.Context, liveID, selector string, startedAt time.Time) error
	EndLiveSession(ctx context.Context, liveID, reason string, at time.Time) error
	InsertChatMessage(ctx context.Context, item livechat.ChatItem) (bool, error)
}

// Recorder is a Sink that archives sessions and messages.
type Recorder struct {
	store    Archive
	selector string
}

func NewRecorder(store Archive, sel livechat.Selector) *Recorder {
	return &Recorder{store: store, selector: sel.String()}
}

func (r *Recorder) SessionStarted(ctx context.Context, liveID string, at time.Time) error {
	return r.store.UpsertLiveSession(ctx, liveID, r.selector, at)
}

func (r *Recorder) SessionEnded(ctx context.Context, liveID, reason string, at time.Time) error {
	if liveID == "" {
		return nil
	}
	return r.store.EndLiveSession(ctx, liveID, reason, at)
}

// Chat stores item. Redelivered messages (same id) are ignored by the archive.
func (r *Recorder) Chat(ctx context.Context, item livechat.ChatItem) error {
	_, err := r.store.InsertChatMessage(ctx, item)
	return err
}
