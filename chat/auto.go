package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/ytlivechat/livechat"
)

const (
	ReasonStreamEnded = "stream ended"
	ReasonShutdown    = "shutdown"
)

// Poller is the part of *livechat.LiveChat the supervisor drives.
type Poller interface {
	Start(ctx context.Context) bool
	Stop(reason string)
	Running() bool
	OnError(fn func(err error))
}

// StartAutoChatRecorder keeps the poller attached to whatever broadcast the
// selector currently resolves to. It calls Start right away and again every
// interval: a stream going live is picked up, a changed live id rolls the
// session over, and an unchanged one is a no-op. When the fetcher reports the
// broadcast ended the poller is stopped with "stream ended". On context
// cancellation the poller is stopped with "shutdown" and the function returns.
func StartAutoChatRecorder(ctx context.Context, lc Poller, every time.Duration, clock clockwork.Clock) {
	if every <= 0 {
		every = time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	lc.OnError(func(err error) {
		if errors.Is(err, livechat.ErrSessionEnded) {
			slog.Info("auto chat: stream ended; stopping poller", slog.Any("err", err))
			lc.Stop(ReasonStreamEnded)
			return
		}
		slog.Debug("auto chat: poller error", slog.Any("err", err))
	})

	ticker := clock.NewTicker(every)
	defer ticker.Stop()
	slog.Info("auto chat: started supervisor", slog.Duration("interval", every))
	for {
		if ctx.Err() != nil {
			break
		}
		if lc.Start(ctx) {
			slog.Info("auto chat: stream live; poller attached")
		}
		select {
		case <-ctx.Done():
		case <-ticker.Chan():
		}
	}
	if lc.Running() {
		lc.Stop(ReasonShutdown)
	}
	slog.Info("auto chat: supervisor exited")
}
