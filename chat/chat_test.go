package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/ytlivechat/livechat"
)

// spySink records every call it receives as a short string.
type spySink struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *spySink) add(c string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
	return s.err
}

func (s *spySink) SessionStarted(_ context.Context, liveID string, _ time.Time) error {
	return s.add("start:" + liveID)
}

func (s *spySink) SessionEnded(_ context.Context, liveID, reason string, _ time.Time) error {
	return s.add("end:" + liveID + ":" + reason)
}

func (s *spySink) Chat(_ context.Context, item livechat.ChatItem) error {
	return s.add("chat:" + item.ID)
}

func (s *spySink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestAttach_RolloverEndCarriesPreviousLiveID(t *testing.T) {
	ids := []string{"vid1", "vid2"}
	var n int
	resolver := livechat.ResolverFunc(func(context.Context, livechat.Selector, livechat.ChatMode) (*livechat.FetchContext, error) {
		id := ids[n]
		n++
		return &livechat.FetchContext{LiveID: id, ChatID: "chat-" + id}, nil
	})
	fetcher := livechat.FetcherFunc(func(_ context.Context, fc *livechat.FetchContext) ([]livechat.ChatItem, string, error) {
		return []livechat.ChatItem{{ID: "m-" + fc.LiveID, LiveID: fc.LiveID}}, fc.Continuation, nil
	})
	clock := clockwork.NewFakeClock()
	lc, err := livechat.New(livechat.ByChannelID("UC1"), resolver, fetcher, livechat.WithClock(clock), livechat.WithInterval(time.Second))
	require.NoError(t, err)

	first, failing := &spySink{}, &spySink{err: errors.New("disk full")}
	Attach(context.Background(), lc, failing, first)

	require.True(t, lc.Start(context.Background()))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(first.snapshot()) >= 2 }, 2*time.Second, time.Millisecond)

	require.True(t, lc.Start(context.Background()))
	lc.Stop("done")

	want := []string{"start:vid1", "chat:m-vid1", "end:vid1:liveID is changed", "start:vid2", "end:vid2:done"}
	assert.Equal(t, want, first.snapshot())
	assert.Equal(t, want, failing.snapshot(), "a failing sink still sees every event")
}

// fakePoller stands in for *livechat.LiveChat in supervisor tests.
type fakePoller struct {
	mu      sync.Mutex
	starts  int
	running bool
	stops   []string
	onError func(error)
	adopt   bool
}

func (p *fakePoller) Start(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	if p.adopt && !p.running {
		p.running = true
		return true
	}
	return false
}

func (p *fakePoller) Stop(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	p.stops = append(p.stops, reason)
}

func (p *fakePoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *fakePoller) OnError(fn func(error)) { p.onError = fn }

func (p *fakePoller) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts
}

func (p *fakePoller) stopReasons() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.stops...)
}

func runSupervisor(t *testing.T, p *fakePoller) (*clockwork.FakeClock, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartAutoChatRecorder(ctx, p, time.Minute, clock)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool { return p.startCount() == 1 }, 2*time.Second, time.Millisecond)
	return clock, cancel, done
}

func TestAutoChatRecorder_StartsImmediatelyAndOnEveryTick(t *testing.T) {
	p := &fakePoller{}
	clock, _, _ := runSupervisor(t, p)

	for want := 2; want <= 4; want++ {
		clock.Advance(time.Minute)
		require.Eventually(t, func() bool { return p.startCount() == want }, 2*time.Second, time.Millisecond)
	}
}

func TestAutoChatRecorder_StopsWhenStreamEnds(t *testing.T) {
	p := &fakePoller{adopt: true}
	runSupervisor(t, p)
	require.True(t, p.Running())

	p.onError(errors.New("quota exceeded"))
	assert.True(t, p.Running(), "unrelated errors keep polling")

	p.onError(fmt.Errorf("live vid1 offline: %w", livechat.ErrSessionEnded))
	assert.False(t, p.Running())
	assert.Equal(t, []string{ReasonStreamEnded}, p.stopReasons())
}

func TestAutoChatRecorder_ShutdownStopsPoller(t *testing.T) {
	p := &fakePoller{adopt: true}
	_, cancel, done := runSupervisor(t, p)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit")
	}
	assert.Equal(t, []string{ReasonShutdown}, p.stopReasons())
}
