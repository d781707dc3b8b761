package livechat

import (
	"log/slog"
	"sync"
)

// emitter is an append-only listener registry. Delivery is synchronous and in
// registration order, to the listeners present at emit time.
type emitter struct {
	mu      sync.RWMutex
	onStart []func(liveID string)
	onEnd   []func(reason string)
	onChat  []func(item ChatItem)
	onError []func(err error)
}

// OnStart registers a listener for session (re)starts.
func (lc *LiveChat) OnStart(fn func(liveID string)) {
	lc.events.mu.Lock()
	defer lc.events.mu.Unlock()
	lc.events.onStart = append(lc.events.onStart, fn)
}

// OnEnd registers a listener for session ends. reason is empty when Stop was given none.
func (lc *LiveChat) OnEnd(fn func(reason string)) {
	lc.events.mu.Lock()
	defer lc.events.mu.Unlock()
	lc.events.onEnd = append(lc.events.onEnd, fn)
}

// OnChat registers a listener receiving every chat item in upstream order.
func (lc *LiveChat) OnChat(fn func(item ChatItem)) {
	lc.events.mu.Lock()
	defer lc.events.mu.Unlock()
	lc.events.onChat = append(lc.events.onChat, fn)
}

// OnError registers a listener for resolution, precondition and fetch failures.
// Errors emitted while no listener is registered are only logged.
func (lc *LiveChat) OnError(fn func(err error)) {
	lc.events.mu.Lock()
	defer lc.events.mu.Unlock()
	lc.events.onError = append(lc.events.onError, fn)
}

func (lc *LiveChat) emitStart(liveID string) {
	lc.events.mu.RLock()
	fns := append([]func(string){}, lc.events.onStart...)
	lc.events.mu.RUnlock()
	for _, fn := range fns {
		fn(liveID)
	}
}

func (lc *LiveChat) emitEnd(reason string) {
	lc.events.mu.RLock()
	fns := append([]func(string){}, lc.events.onEnd...)
	lc.events.mu.RUnlock()
	for _, fn := range fns {
		fn(reason)
	}
}

func (lc *LiveChat) emitChat(item ChatItem) {
	lc.events.mu.RLock()
	fns := append([]func(ChatItem){}, lc.events.onChat...)
	lc.events.mu.RUnlock()
	for _, fn := range fns {
		fn(item)
	}
}

func (lc *LiveChat) emitError(err error) {
	lc.events.mu.RLock()
	fns := append([]func(error){}, lc.events.onError...)
	lc.events.mu.RUnlock()
	if len(fns) == 0 {
		lc.log.Warn("livechat: unhandled error", slog.Any("err", err))
		return
	}
	for _, fn := range fns {
		fn(err)
	}
}
