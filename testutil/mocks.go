package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// MockYouTubeServer creates a test server that mocks YouTube Data API v3 responses
type MockYouTubeServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []*http.Request
}

// Paths served by the Data API relative to its base URL.
const (
	ChannelsPath     = "/youtube/v3/channels"
	SearchPath       = "/youtube/v3/search"
	VideosPath       = "/youtube/v3/videos"
	ChatMessagesPath = "/youtube/v3/liveChat/messages"
)

// NewMockYouTubeServer creates a new mock YouTube API server
func NewMockYouTubeServer(t *testing.T) *MockYouTubeServer {
	t.Helper()
	m := &MockYouTubeServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests = append(m.requests, r.Clone(context.Background()))
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Service returns a Data API client that talks to the mock.
func (m *MockYouTubeServer) Service(t *testing.T) *yt.Service {
	t.Helper()
	svc, err := yt.NewService(context.Background(),
		option.WithHTTPClient(m.Client()),
		option.WithEndpoint(m.URL+"/"))
	if err != nil {
		t.Fatalf("youtube service: %v", err)
	}
	return svc
}

// Handle registers a handler for path.
func (m *MockYouTubeServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Handlers[path] = h
}

// Requests returns the requests received for path, in order.
func (m *MockYouTubeServer) Requests(path string) []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*http.Request
	for _, r := range m.requests {
		if r.URL.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockChannelForHandle answers channels.list?forHandle with channelID.
// An empty channelID yields an empty result set.
func (m *MockYouTubeServer) MockChannelForHandle(channelID string) {
	m.Handle(ChannelsPath, func(w http.ResponseWriter, r *http.Request) {
		resp := &yt.ChannelListResponse{}
		if channelID != "" {
			resp.Items = []*yt.Channel{{Id: channelID}}
		}
		writeJSON(w, resp)
	})
}

// MockLiveSearch answers search.list with the given live video ids.
func (m *MockYouTubeServer) MockLiveSearch(videoIDs ...string) {
	m.Handle(SearchPath, func(w http.ResponseWriter, r *http.Request) {
		resp := &yt.SearchListResponse{}
		for _, id := range videoIDs {
			resp.Items = append(resp.Items, &yt.SearchResult{Id: &yt.ResourceId{Kind: "youtube#video", VideoId: id}})
		}
		writeJSON(w, resp)
	})
}

// MockVideo answers videos.list with a single video. An empty chatID means the
// video has no active chat; a non-empty endTime marks the broadcast finished.
func (m *MockYouTubeServer) MockVideo(videoID, chatID, endTime string) {
	m.Handle(VideosPath, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, &yt.VideoListResponse{Items: []*yt.Video{{
			Id: videoID,
			LiveStreamingDetails: &yt.VideoLiveStreamingDetails{
				ActiveLiveChatId: chatID,
				ActualEndTime:    endTime,
			},
		}}})
	})
}

// MockChatPages serves liveChatMessages.list. The page is chosen by the
// request's pageToken: "" maps to pages[""], and so on. Unknown tokens get an
// empty page that points back at themselves.
func (m *MockYouTubeServer) MockChatPages(pages map[string]*yt.LiveChatMessageListResponse) {
	m.Handle(ChatMessagesPath, func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("pageToken")
		resp, ok := pages[token]
		if !ok {
			resp = &yt.LiveChatMessageListResponse{NextPageToken: token}
		}
		writeJSON(w, resp)
	})
}

// MockError makes path answer with the given HTTP status.
func (m *MockYouTubeServer) MockError(path string, status int) {
	m.Handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"code":` + strconv.Itoa(status) + `,"message":"mock failure"}}`))
	})
}

// TextMessage builds a plain chat message for use in mocked pages.
func TextMessage(id, author, text, publishedAt string) *yt.LiveChatMessage {
	return &yt.LiveChatMessage{
		Id: id,
		Snippet: &yt.LiveChatMessageSnippet{
			Type:           "textMessageEvent",
			DisplayMessage: text,
			PublishedAt:    publishedAt,
		},
		AuthorDetails: &yt.LiveChatMessageAuthorDetails{
			ChannelId:   "UC-" + author,
			DisplayName: author,
		},
	}
}
