// Package pubsub relays poller events across processes over Redis Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/onnwee/ytlivechat/chat"
	"github.com/onnwee/ytlivechat/livechat"
)

// NewClient creates a Redis client from a URL (e.g., "redis://localhost:6379").
func NewClient(redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return goredis.NewClient(opts), nil
}

// Channel is the Pub/Sub channel events for liveID are published on.
func Channel(prefix, liveID string) string {
	return prefix + ":" + liveID
}

// Publisher is a chat.Sink publishing JSON event envelopes to Redis.
type Publisher struct {
	rdb    *goredis.Client
	prefix string
}

func NewPublisher(rdb *goredis.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "livechat"
	}
	return &Publisher{rdb: rdb, prefix: prefix}
}

func (p *Publisher) publish(ctx context.Context, ev chat.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, Channel(p.prefix, ev.LiveID), data).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

func (p *Publisher) SessionStarted(ctx context.Context, liveID string, at time.Time) error {
	return p.publish(ctx, chat.Event{Type: chat.EventStart, LiveID: liveID, At: at})
}

func (p *Publisher) SessionEnded(ctx context.Context, liveID, reason string, at time.Time) error {
	return p.publish(ctx, chat.Event{Type: chat.EventEnd, LiveID: liveID, Reason: reason, At: at})
}

func (p *Publisher) Chat(ctx context.Context, item livechat.ChatItem) error {
	return p.publish(ctx, chat.Event{Type: chat.EventChat, LiveID: item.LiveID, Item: &item, At: item.Timestamp})
}

// Subscription represents an active Pub/Sub subscription.
type Subscription struct {
	sub    *goredis.PubSub
	Ch     <-chan chat.Event
	cancel context.CancelFunc
}

// Close unsubscribes and closes the subscription.
func (s *Subscription) Close() {
	s.cancel()
	_ = s.sub.Close()
}

// Subscribe listens for events of liveID, or of every session when liveID is
// empty. Undecodable payloads are logged and skipped; a slow reader drops events.
func Subscribe(ctx context.Context, rdb *goredis.Client, prefix, liveID string) *Subscription {
	if prefix == "" {
		prefix = "livechat"
	}
	var sub *goredis.PubSub
	if liveID == "" {
		sub = rdb.PSubscribe(ctx, Channel(prefix, "*"))
	} else {
		sub = rdb.Subscribe(ctx, Channel(prefix, liveID))
	}

	subCtx, cancel := context.WithCancel(ctx)
	ch := make(chan chat.Event, 64)
	go func() {
		defer close(ch)
		msgCh := sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				ev, err := Decode([]byte(msg.Payload))
				if err != nil {
					slog.Warn("pubsub: bad payload", slog.String("channel", msg.Channel), slog.Any("err", err))
					continue
				}
				select {
				case ch <- ev:
				default:
				}
			case <-subCtx.Done():
				return
			}
		}
	}()
	return &Subscription{sub: sub, Ch: ch, cancel: cancel}
}

// Decode parses one published envelope.
func Decode(data []byte) (chat.Event, error) {
	var ev chat.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return chat.Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if ev.Type == "" {
		return chat.Event{}, fmt.Errorf("event without type")
	}
	return ev, nil
}
