package livechat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/ytlivechat/telemetry"
)

const (
	defaultInterval = time.Second
	tracerName      = "livechat"
)

// LiveChat polls one live chat and republishes its messages as events.
// It is Idle until Start adopts a session and Running until Stop (or a
// rollover) ends it; it can be restarted any number of times.
type LiveChat struct {
	sel      Selector
	mode     ChatMode
	interval time.Duration
	clock    clockwork.Clock
	log      *slog.Logger
	resolver Resolver
	fetcher  Fetcher
	events   emitter

	mu     sync.Mutex
	liveID string
	run    *episode // nil while Idle
	stats  Status
}

// episode is one Running period: a single armed ticker and the context it polls with.
type episode struct {
	liveID   string
	fetch    *FetchContext
	ticker   clockwork.Ticker
	cancel   context.CancelFunc
	ready    chan struct{} // closed once OnStart listeners have returned
	inFlight atomic.Bool
}

// Status is a point-in-time view of the poller.
type Status struct {
	Running      bool      `json:"running"`
	LiveID       string    `json:"live_id,omitempty"`
	Selector     string    `json:"selector"`
	Mode         string    `json:"mode"`
	Interval     string    `json:"interval"`
	Continuation string    `json:"continuation,omitempty"`
	Ticks        int64     `json:"ticks"`
	Skipped      int64     `json:"skipped_ticks"`
	ChatItems    int64     `json:"chat_items"`
	Errors       int64     `json:"errors"`
	LastTick     time.Time `json:"last_tick,omitempty"`
	StartedAt    time.Time `json:"started_at,omitempty"`
}

type Option func(*LiveChat)

// WithChatMode sets the rendering mode passed to the resolver (default AllChat).
func WithChatMode(m ChatMode) Option { return func(lc *LiveChat) { lc.mode = m } }

// WithInterval sets the poll interval (default 1s). Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(lc *LiveChat) {
		if d > 0 {
			lc.interval = d
		}
	}
}

func WithClock(c clockwork.Clock) Option { return func(lc *LiveChat) { lc.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(lc *LiveChat) { lc.log = l } }

// New validates the selector and returns an Idle poller.
func New(sel Selector, r Resolver, f Fetcher, opts ...Option) (*LiveChat, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	if r == nil || f == nil {
		return nil, fmt.Errorf("livechat: resolver and fetcher are required")
	}
	lc := &LiveChat{
		sel:      sel,
		interval: defaultInterval,
		clock:    clockwork.NewRealClock(),
		log:      slog.Default(),
		resolver: r,
		fetcher:  f,
		liveID:   sel.LiveID,
	}
	for _, o := range opts {
		o(lc)
	}
	lc.log = lc.log.With(slog.String("component", "livechat"), slog.String("selector", sel.String()))
	return lc, nil
}

// Start resolves the selector and begins polling. It reports true when a new
// session was adopted and false when resolution failed or the resolved session
// is the one already running. Failures are only observable through OnError.
func (lc *LiveChat) Start(ctx context.Context) bool {
	fc, err := lc.resolve(ctx)
	if err != nil {
		telemetry.IncPollError("resolve")
		lc.countError()
		lc.emitError(err)
		return false
	}

	lc.mu.Lock()
	if lc.run != nil && lc.run.liveID == fc.LiveID {
		lc.mu.Unlock()
		return false
	}
	if lc.run != nil {
		oldID := lc.run.liveID
		lc.haltLocked()
		lc.mu.Unlock()

		// OnEnd listeners still see the old session through LiveID.
		lc.log.Info("livechat: live id changed", slog.String("live_id", oldID), slog.String("next_live_id", fc.LiveID))
		telemetry.Inc(telemetry.SessionsEnded)
		lc.emitEnd(reasonLiveIDChanged)

		lc.mu.Lock()
		if lc.run != nil {
			// Another Start adopted a session while the end was delivered.
			lc.mu.Unlock()
			return false
		}
	}
	epCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ep := &episode{
		liveID: fc.LiveID,
		fetch:  fc,
		ticker: lc.clock.NewTicker(lc.interval),
		cancel: cancel,
		ready:  make(chan struct{}),
	}
	lc.run = ep
	lc.liveID = fc.LiveID
	lc.stats.StartedAt = lc.clock.Now()
	go lc.poll(epCtx, ep)
	lc.mu.Unlock()

	lc.log.Info("livechat: session started", slog.String("live_id", fc.LiveID), slog.Duration("interval", lc.interval))
	telemetry.Inc(telemetry.SessionsStarted)
	lc.emitStart(fc.LiveID)
	close(ep.ready)
	return true
}

func (lc *LiveChat) resolve(ctx context.Context) (*FetchContext, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "livechat.resolve", telemetry.SelectorAttr(lc.sel.String()))
	defer span.End()

	var (
		fc  *FetchContext
		err error
	)
	telemetry.TimeFunc(telemetry.ResolveDuration, func() {
		fc, err = lc.resolver.Resolve(ctx, lc.sel, lc.mode)
	})
	if err == nil && (fc == nil || fc.LiveID == "") {
		err = fmt.Errorf("resolver returned no live session: %w", ErrNoFetchContext)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetSpanSuccess(span)
	// Own a private copy so nothing outside the poller can mutate it.
	owned := *fc
	return &owned, nil
}

// Stop ends the running session. It is a no-op while Idle. An empty reason
// is delivered as-is to OnEnd listeners.
func (lc *LiveChat) Stop(reason string) {
	lc.stop(nil, reason)
}

// stop ends the running session. A non-nil only restricts it to that
// episode, so a stale tick cannot end a session adopted after it.
func (lc *LiveChat) stop(only *episode, reason string) {
	lc.mu.Lock()
	if lc.run == nil || (only != nil && lc.run != only) {
		lc.mu.Unlock()
		return
	}
	liveID := lc.run.liveID
	lc.haltLocked()
	lc.mu.Unlock()

	lc.log.Info("livechat: session ended", slog.String("live_id", liveID), slog.String("reason", reason))
	telemetry.Inc(telemetry.SessionsEnded)
	lc.emitEnd(reason)
}

// haltLocked disarms the current ticker and returns to Idle. lc.mu must be held.
func (lc *LiveChat) haltLocked() {
	lc.run.ticker.Stop()
	lc.run.cancel()
	lc.run = nil
}

func (lc *LiveChat) poll(ctx context.Context, ep *episode) {
	// Ticks that fire before the start event is delivered wait in the ticker.
	select {
	case <-ctx.Done():
		return
	case <-ep.ready:
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ep.ticker.Chan():
			if !ep.inFlight.CompareAndSwap(false, true) {
				lc.mu.Lock()
				lc.stats.Skipped++
				lc.mu.Unlock()
				telemetry.Inc(telemetry.TicksSkipped)
				lc.log.Debug("livechat: previous fetch still in flight; skipping tick", slog.String("live_id", ep.liveID))
				continue
			}
			// Stop must not abort a fetch already on the wire.
			go lc.tick(context.WithoutCancel(ctx), ep)
		}
	}
}

func (lc *LiveChat) tick(ctx context.Context, ep *episode) {
	defer lc.finishTick(ep)

	lc.mu.Lock()
	if lc.run != ep {
		// Superseded by Stop or a rollover between the tick firing and now.
		lc.mu.Unlock()
		return
	}
	if ep.fetch == nil {
		lc.mu.Unlock()
		telemetry.IncPollError("precondition")
		lc.countError()
		lc.emitError(ErrNoFetchContext)
		lc.stop(ep, noFetchContextMessage)
		return
	}
	req := *ep.fetch
	lc.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, tracerName, "livechat.fetch", telemetry.LiveIDAttr(req.LiveID))
	defer span.End()

	var (
		items []ChatItem
		next  string
		err   error
	)
	telemetry.TimeFunc(telemetry.FetchDuration, func() {
		items, next, err = lc.fetcher.Fetch(ctx, &req)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.IncPollError("fetch")
		lc.countError()
		lc.log.Debug("livechat: fetch failed; retrying next tick", slog.String("live_id", req.LiveID), slog.Any("err", err))
		lc.emitError(err)
		return
	}
	telemetry.SetSpanSuccess(span)

	for _, item := range items {
		lc.emitChat(item)
	}
	telemetry.Add(telemetry.ChatItems, len(items))

	lc.mu.Lock()
	if ep.fetch != nil {
		ep.fetch.Continuation = next
	}
	lc.stats.ChatItems += int64(len(items))
	lc.mu.Unlock()
}

// finishTick records the tick and releases the in-flight guard under the
// same lock so Status readers never observe a counted tick still in flight.
func (lc *LiveChat) finishTick(ep *episode) {
	telemetry.Inc(telemetry.PollTicks)
	lc.mu.Lock()
	lc.stats.Ticks++
	lc.stats.LastTick = lc.clock.Now()
	ep.inFlight.Store(false)
	lc.mu.Unlock()
}

func (lc *LiveChat) countError() {
	lc.mu.Lock()
	lc.stats.Errors++
	lc.mu.Unlock()
}

// LiveID returns the current (or most recently adopted) live session id.
func (lc *LiveChat) LiveID() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.liveID
}

// Running reports whether a session is being polled.
func (lc *LiveChat) Running() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.run != nil
}

func (lc *LiveChat) Selector() Selector { return lc.sel }

// Status returns a snapshot of the poller state and counters.
func (lc *LiveChat) Status() Status {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	st := lc.stats
	st.Running = lc.run != nil
	st.LiveID = lc.liveID
	st.Selector = lc.sel.String()
	st.Mode = lc.mode.String()
	st.Interval = lc.interval.String()
	st.Continuation = ""
	if lc.run != nil && lc.run.fetch != nil {
		st.Continuation = lc.run.fetch.Continuation
	}
	return st
}
