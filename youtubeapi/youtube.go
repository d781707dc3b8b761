// Package youtubeapi wraps the YouTube Data API for the two jobs the live chat
// poller delegates: resolving a channel, handle or video id to an active live
// chat, and fetching one page of that chat by page token.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/ytlivechat/config"
	"github.com/onnwee/ytlivechat/livechat"
	"github.com/onnwee/ytlivechat/telemetry"
)

var (
	ErrNotLive         = errors.New("stream is not live")
	ErrChannelNotFound = errors.New("channel not found")
	ErrNoCredentials   = errors.New("no youtube API key or OAuth refresh token configured")
)

// NewService builds a YouTube Data API client from an API key, or failing that
// from an OAuth client id + refresh token. Extra options are appended last.
func NewService(ctx context.Context, cfg *config.Config, extra ...option.ClientOption) (*yt.Service, error) {
	var opts []option.ClientOption
	switch {
	case cfg.YTAPIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.YTAPIKey))
	case cfg.YTClientID != "" && cfg.YTRefreshToken != "":
		ts := OAuthConfig(cfg).TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.YTRefreshToken})
		opts = append(opts, option.WithTokenSource(ts))
	default:
		return nil, ErrNoCredentials
	}
	opts = append(opts, extra...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return svc, nil
}

// OAuthConfig returns the Google OAuth2 config for the configured client.
func OAuthConfig(cfg *config.Config) *oauth2.Config {
	scopes := []string{"https://www.googleapis.com/auth/youtube.readonly"}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		if fields := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(fields) > 0 {
			scopes = fields
		}
	}
	return &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       scopes,
	}
}

// Client implements livechat.Resolver and livechat.Fetcher.
type Client struct {
	svc     *yt.Service
	breaker *gobreaker.CircuitBreaker
	hl      string
}

type Option func(*clientOptions)

type clientOptions struct {
	failures   uint32
	openPeriod time.Duration
	hl         string
}

// WithBreaker sets how many consecutive fetch failures open the circuit and how long it stays open.
func WithBreaker(failures uint32, open time.Duration) Option {
	return func(o *clientOptions) {
		if failures > 0 {
			o.failures = failures
		}
		if open > 0 {
			o.openPeriod = open
		}
	}
}

// WithLanguage sets the hl parameter used for localized system messages.
func WithLanguage(hl string) Option { return func(o *clientOptions) { o.hl = hl } }

func New(svc *yt.Service, opts ...Option) *Client {
	o := clientOptions{failures: 5, openPeriod: 30 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "youtube-live-chat",
		MaxRequests: 1,
		Timeout:     o.openPeriod,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= o.failures },
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("youtube: circuit state changed", slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
			telemetry.UpdateCircuitGauge(to == gobreaker.StateOpen)
		},
	})
	return &Client{svc: svc, breaker: breaker, hl: o.hl}
}

// BreakerOpen reports whether fetches are currently short-circuited.
func (c *Client) BreakerOpen() bool { return c.breaker.State() == gobreaker.StateOpen }

// Resolve finds the active live chat for the selector.
func (c *Client) Resolve(ctx context.Context, sel livechat.Selector, mode livechat.ChatMode) (*livechat.FetchContext, error) {
	videoID := sel.LiveID
	if videoID == "" {
		channelID := sel.ChannelID
		if channelID == "" {
			id, err := c.channelForHandle(ctx, sel.Handle)
			if err != nil {
				return nil, err
			}
			channelID = id
		}
		id, err := c.liveVideoForChannel(ctx, channelID)
		if err != nil {
			return nil, err
		}
		videoID = id
	}
	chatID, err := c.activeChatID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	return &livechat.FetchContext{LiveID: videoID, ChatID: chatID, Mode: mode}, nil
}

func (c *Client) channelForHandle(ctx context.Context, handle string) (string, error) {
	resp, err := c.svc.Channels.List([]string{"id"}).ForHandle(handle).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("lookup handle %s: %w", handle, err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Id == "" {
		return "", fmt.Errorf("handle %s: %w", handle, ErrChannelNotFound)
	}
	return resp.Items[0].Id, nil
}

func (c *Client) liveVideoForChannel(ctx context.Context, channelID string) (string, error) {
	resp, err := c.svc.Search.List([]string{"id"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("search live video for %s: %w", channelID, err)
	}
	for _, r := range resp.Items {
		if r.Id != nil && r.Id.VideoId != "" {
			return r.Id.VideoId, nil
		}
	}
	return "", fmt.Errorf("channel %s: %w", channelID, ErrNotLive)
}

func (c *Client) activeChatID(ctx context.Context, videoID string) (string, error) {
	resp, err := c.svc.Videos.List([]string{"snippet", "liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("lookup video %s: %w", videoID, err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("video %s not found: %w", videoID, ErrNotLive)
	}
	d := resp.Items[0].LiveStreamingDetails
	if d == nil || d.ActiveLiveChatId == "" || d.ActualEndTime != "" {
		return "", fmt.Errorf("video %s: %w", videoID, ErrNotLive)
	}
	return d.ActiveLiveChatId, nil
}

// Fetch requests one page of chat messages starting at fc.Continuation.
// When the chat has gone offline and the page is empty, it returns an error
// wrapping livechat.ErrSessionEnded.
func (c *Client) Fetch(ctx context.Context, fc *livechat.FetchContext) ([]livechat.ChatItem, string, error) {
	if fc.ChatID == "" {
		return nil, "", fmt.Errorf("live %s: no chat id: %w", fc.LiveID, livechat.ErrNoFetchContext)
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		call := c.svc.LiveChatMessages.List(fc.ChatID, []string{"snippet", "authorDetails"}).Context(ctx)
		if fc.Continuation != "" {
			call = call.PageToken(fc.Continuation)
		}
		if c.hl != "" {
			call = call.Hl(c.hl)
		}
		return call.Do()
	})
	if err != nil {
		return nil, "", fmt.Errorf("list live chat messages: %w", err)
	}
	resp := res.(*yt.LiveChatMessageListResponse)

	items := make([]livechat.ChatItem, 0, len(resp.Items))
	for _, m := range resp.Items {
		item := toChatItem(fc.LiveID, m)
		if fc.Mode == livechat.TopChat && !isTopChat(item) {
			continue
		}
		items = append(items, item)
	}
	if resp.OfflineAt != "" && len(resp.Items) == 0 {
		return nil, resp.NextPageToken, fmt.Errorf("live %s offline at %s: %w", fc.LiveID, resp.OfflineAt, livechat.ErrSessionEnded)
	}
	return items, resp.NextPageToken, nil
}

func toChatItem(liveID string, m *yt.LiveChatMessage) livechat.ChatItem {
	item := livechat.ChatItem{ID: m.Id, LiveID: liveID}
	if s := m.Snippet; s != nil {
		item.Kind = s.Type
		item.Message = s.DisplayMessage
		if ts, err := time.Parse(time.RFC3339Nano, s.PublishedAt); err == nil {
			item.Timestamp = ts.UTC()
		}
		switch {
		case s.SuperChatDetails != nil:
			d := s.SuperChatDetails
			item.SuperChat = &livechat.SuperChat{Amount: d.AmountDisplayString, AmountMicros: d.AmountMicros, Currency: d.Currency, Tier: d.Tier}
			if item.Message == "" {
				item.Message = d.UserComment
			}
		case s.SuperStickerDetails != nil:
			d := s.SuperStickerDetails
			item.SuperChat = &livechat.SuperChat{Amount: d.AmountDisplayString, AmountMicros: d.AmountMicros, Currency: d.Currency, Tier: d.Tier}
		}
	}
	if a := m.AuthorDetails; a != nil {
		item.Author = livechat.Author{
			ChannelID:   a.ChannelId,
			Name:        a.DisplayName,
			ImageURL:    a.ProfileImageUrl,
			IsOwner:     a.IsChatOwner,
			IsModerator: a.IsChatModerator,
			IsMember:    a.IsChatSponsor,
			IsVerified:  a.IsVerified,
		}
	}
	return item
}

// isTopChat approximates YouTube's "Top chat" filter: privileged authors and paid messages.
func isTopChat(item livechat.ChatItem) bool {
	a := item.Author
	return a.IsOwner || a.IsModerator || a.IsMember || a.IsVerified || item.SuperChat != nil
}
