package chat

import (
	"context"
	"sync"
	"time"

	"github.com/onnwee/ytlivechat/livechat"
	"github.com/onnwee/ytlivechat/telemetry"
)

const defaultSubscriberBuffer = 64

// Hub is a Sink that fans events out to in-process subscribers. A subscriber
// whose buffer is full misses the event; the drop is counted.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped int64
}

type subscriber struct {
	ch     chan Event
	liveID string
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel of events and a cancel func that must be called
// to release it. An empty liveID receives every session; buffer <= 0 uses the default.
func (h *Hub) Subscribe(liveID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer), liveID: liveID}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	telemetry.SetHubSubscribers(n)

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			n := len(h.subs)
			close(s.ch)
			h.mu.Unlock()
			telemetry.SetHubSubscribers(n)
		})
	}
}

// Subscribers reports the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many events were discarded for slow subscribers.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Publish delivers ev to every matching subscriber without blocking.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.liveID != "" && s.liveID != ev.LiveID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			h.dropped++
			telemetry.Inc(telemetry.HubDropped)
		}
	}
}

func (h *Hub) SessionStarted(_ context.Context, liveID string, at time.Time) error {
	h.Publish(Event{Type: EventStart, LiveID: liveID, At: at})
	return nil
}

func (h *Hub) SessionEnded(_ context.Context, liveID, reason string, at time.Time) error {
	h.Publish(Event{Type: EventEnd, LiveID: liveID, Reason: reason, At: at})
	return nil
}

func (h *Hub) Chat(_ context.Context, item livechat.ChatItem) error {
	it := item
	h.Publish(Event{Type: EventChat, LiveID: item.LiveID, Item: &it, At: item.Timestamp})
	return nil
}
