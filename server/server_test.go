package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/ytlivechat/chat"
	"github.com/onnwee/ytlivechat/config"
	"github.com/onnwee/ytlivechat/livechat"
	"github.com/onnwee/ytlivechat/testutil"
)

type fakePoller struct {
	mu      sync.Mutex
	running bool
	liveID  string
	reason  string
	starts  int
}

func (p *fakePoller) Start(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	if p.running {
		return false
	}
	p.running = true
	p.liveID = "vid1"
	return true
}

func (p *fakePoller) Stop(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.reason = reason
}

func (p *fakePoller) Status() livechat.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return livechat.Status{Running: p.running, LiveID: p.liveID, Selector: "channel:UC1", Mode: "all"}
}

type fakeBreaker bool

func (b fakeBreaker) BreakerOpen() bool { return bool(b) }

type failingArchive struct{ Archive }

func (failingArchive) Ping(context.Context) error { return errors.New("connection refused") }

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	return Deps{
		Config: &config.Config{RateLimitEnabled: false, CORSPermissive: true},
		Store:  testutil.SetupTestDB(t),
		Poller: &fakePoller{},
		Hub:    chat.NewHub(),
		Clock:  clockwork.NewFakeClock(),
	}
}

func serve(t *testing.T, deps Deps, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	rr := httptest.NewRecorder()
	NewMux(ctx, deps).ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	deps := newTestDeps(t)
	rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	deps.Store = failingArchive{}
	rr = serve(t, deps, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Deps)
		wantStatus int
		wantCheck  string
	}{
		{name: "all checks pass", mutate: func(*Deps) {}, wantStatus: http.StatusOK},
		{name: "database down", mutate: func(d *Deps) { d.Store = failingArchive{} }, wantStatus: http.StatusServiceUnavailable, wantCheck: "database"},
		{name: "no poller", mutate: func(d *Deps) { d.Poller = nil }, wantStatus: http.StatusServiceUnavailable, wantCheck: "poller"},
		{name: "breaker open", mutate: func(d *Deps) { d.Breaker = fakeBreaker(true) }, wantStatus: http.StatusServiceUnavailable, wantCheck: "circuit_breaker"},
		{name: "breaker closed", mutate: func(d *Deps) { d.Breaker = fakeBreaker(false) }, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDeps(t)
			tt.mutate(&deps)
			rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			require.Equal(t, tt.wantStatus, rr.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			if tt.wantCheck == "" {
				assert.Equal(t, "ready", body["status"])
				return
			}
			assert.Equal(t, "not_ready", body["status"])
			assert.Equal(t, tt.wantCheck, body["failed_check"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestStatus(t *testing.T) {
	deps := newTestDeps(t)
	deps.Breaker = fakeBreaker(true)
	deps.Poller.Start(context.Background())
	_, cancelSub := deps.Hub.Subscribe("", 1)
	defer cancelSub()

	rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Poller.Running)
	assert.Equal(t, "vid1", resp.Poller.LiveID)
	assert.Equal(t, "channel:UC1", resp.Poller.Selector)
	assert.True(t, resp.CircuitOpen)
	assert.Equal(t, 1, resp.Subscribers)
}

func TestStatusWithoutPoller(t *testing.T) {
	deps := newTestDeps(t)
	deps.Poller = nil
	rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestCorrelationIDEchoed(t *testing.T) {
	deps := newTestDeps(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := serve(t, deps, req)
	assert.Equal(t, "corr-123", rr.Header().Get("X-Correlation-ID"))

	rr = serve(t, deps, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rr.Header().Get("X-Correlation-ID"))
}

func TestSessionsList(t *testing.T) {
	deps := newTestDeps(t)
	store := testutil.SetupTestDB(t)
	deps.Store = store

	rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertLiveSession(ctx, "vid1", "channel:UC1", base))
	require.NoError(t, store.EndLiveSession(ctx, "vid1", "stream ended", base.Add(time.Hour)))
	require.NoError(t, store.UpsertLiveSession(ctx, "vid2", "channel:UC1", base.Add(2*time.Hour)))

	rr = serve(t, deps, httptest.NewRequest(http.MethodGet, "/sessions?limit=10", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var sessions []struct {
		LiveID    string `json:"live_id"`
		EndReason string `json:"end_reason"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sessions))
	require.Len(t, sessions, 2)
	assert.Equal(t, "vid2", sessions[0].LiveID)
	assert.Equal(t, "vid1", sessions[1].LiveID)
	assert.Equal(t, "stream ended", sessions[1].EndReason)
}

func TestSessionChat(t *testing.T) {
	deps := newTestDeps(t)
	store := testutil.SetupTestDB(t)
	deps.Store = store
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertLiveSession(ctx, "vid1", "channel:UC1", base))
	for i, msg := range []string{"hello", "world", "bye"} {
		_, err := store.InsertChatMessage(ctx, livechat.ChatItem{
			ID:        fmt.Sprintf("m%d", i+1),
			LiveID:    "vid1",
			Kind:      "textMessageEvent",
			Author:    livechat.Author{ChannelID: "UCa", Name: "alice"},
			Message:   msg,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/sessions/vid1/chat", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var items []livechat.ChatItem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &items))
	require.Len(t, items, 3)
	assert.Equal(t, "hello", items[0].Message)
	assert.Equal(t, "bye", items[2].Message)

	since := base.Add(time.Minute).Format(time.RFC3339)
	rr = serve(t, deps, httptest.NewRequest(http.MethodGet, "/sessions/vid1/chat?since="+since+"&limit=1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	items = nil
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "world", items[0].Message)

	rr = serve(t, deps, httptest.NewRequest(http.MethodGet, "/sessions/unknown/chat", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = serve(t, deps, httptest.NewRequest(http.MethodGet, "/sessions/vid1/chat?since=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdminPollerEndpoints(t *testing.T) {
	deps := newTestDeps(t)
	deps.Config.AdminToken = "secret-token"
	poller := deps.Poller.(*fakePoller)

	rr := serve(t, deps, httptest.NewRequest(http.MethodPost, "/admin/poller/start", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Zero(t, poller.starts)

	req := httptest.NewRequest(http.MethodPost, "/admin/poller/start", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	rr = serve(t, deps, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var startResp struct {
		Started bool            `json:"started"`
		Status  livechat.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &startResp))
	assert.True(t, startResp.Started)
	assert.True(t, startResp.Status.Running)

	// already running on the same broadcast
	req = httptest.NewRequest(http.MethodPost, "/admin/poller/start", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	rr = serve(t, deps, req)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &startResp))
	assert.False(t, startResp.Started)

	req = httptest.NewRequest(http.MethodPost, "/admin/poller/stop?reason=maintenance", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	rr = serve(t, deps, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "maintenance", poller.reason)
	assert.False(t, poller.Status().Running)

	req = httptest.NewRequest(http.MethodPost, "/admin/poller/stop", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	serve(t, deps, req)
	assert.Equal(t, "admin stop", poller.reason)
}

func TestAdminRoutesRejectGET(t *testing.T) {
	deps := newTestDeps(t)
	rr := serve(t, deps, httptest.NewRequest(http.MethodGet, "/admin/poller/stop", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestChatStreamSSE(t *testing.T) {
	deps := newTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(NewMux(ctx, deps))
	defer srv.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/chat/stream?live_id=vid1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return deps.Hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	deps.Hub.Publish(chat.Event{Type: chat.EventStart, LiveID: "other", At: at})
	deps.Hub.Publish(chat.Event{Type: chat.EventStart, LiveID: "vid1", At: at})
	_ = deps.Hub.Chat(ctx, livechat.ChatItem{ID: "m1", LiveID: "vid1", Message: "hi", Timestamp: at})

	reader := bufio.NewReader(resp.Body)
	readFrame := func() (string, chat.Event) {
		t.Helper()
		var typ string
		var ev chat.Event
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				typ = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			case line == "" && typ != "":
				return typ, ev
			}
		}
	}

	typ, ev := readFrame()
	assert.Equal(t, chat.EventStart, typ)
	assert.Equal(t, "vid1", ev.LiveID)

	typ, ev = readFrame()
	assert.Equal(t, chat.EventChat, typ)
	require.NotNil(t, ev.Item)
	assert.Equal(t, "hi", ev.Item.Message)
}

func TestChatStreamWebSocket(t *testing.T) {
	deps := newTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(NewMux(ctx, deps))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return deps.Hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_ = deps.Hub.SessionEnded(ctx, "vid1", "stream ended", at)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev chat.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, chat.EventEnd, ev.Type)
	assert.Equal(t, "vid1", ev.LiveID)
	assert.Equal(t, "stream ended", ev.Reason)

	// server shutdown closes the socket with going-away
	cancel()
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected close: %v", err)

	require.Eventually(t, func() bool { return deps.Hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestChatStreamWebSocketOriginPolicy(t *testing.T) {
	deps := newTestDeps(t)
	deps.Config.CORSPermissive = false
	deps.Config.CORSAllowedOrigins = []string{"https://app.example.com"}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(NewMux(ctx, deps))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"allowed origin", "https://app.example.com", true},
		{"no origin", "", true},
		{"foreign origin", "https://evil.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
			if !tt.ok {
				require.ErrorIs(t, err, websocket.ErrBadHandshake)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
			_ = conn.Close()
		})
	}
}

func TestChatStreamRateLimited(t *testing.T) {
	deps := newTestDeps(t)
	deps.Config.RateLimitEnabled = true
	deps.Config.RateLimitRequests = 1
	deps.Config.RateLimitWindow = time.Minute
	deps.Hub = nil // relay handler fails fast; only the limiter matters here

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mux := NewMux(ctx, deps)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/stream", nil))
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{http.StatusServiceUnavailable, http.StatusTooManyRequests}, codes)
}

func TestStartReturnsAfterShutdown(t *testing.T) {
	deps := newTestDeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, "127.0.0.1:0", deps) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancel")
	}
}
