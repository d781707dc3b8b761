package livechat

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidSelector is returned by New when the selector names no stream (or more than one).
	ErrInvalidSelector = errors.New("required channelId or liveId or handle")
	// ErrNoFetchContext is emitted when a tick runs without a resolved fetch context.
	ErrNoFetchContext = errors.New(noFetchContextMessage) //nolint:staticcheck // ST1005: message doubles as the end reason
	// ErrSessionEnded may be returned by a Fetcher once the upstream chat has gone offline.
	ErrSessionEnded = errors.New("live chat session ended")
)

const (
	noFetchContextMessage = "Not found options"
	reasonLiveIDChanged   = "liveID is changed"
)

// Selector identifies the stream to follow. Exactly one field must be set.
type Selector struct {
	ChannelID string `json:"channel_id,omitempty"`
	LiveID    string `json:"live_id,omitempty"`
	Handle    string `json:"handle,omitempty"`
}

func ByChannelID(id string) Selector { return Selector{ChannelID: id} }
func ByLiveID(id string) Selector    { return Selector{LiveID: id} }
func ByHandle(h string) Selector     { return Selector{Handle: h} }

// Validate reports ErrInvalidSelector unless exactly one variant is present.
func (s Selector) Validate() error {
	n := 0
	for _, v := range []string{s.ChannelID, s.LiveID, s.Handle} {
		if v != "" {
			n++
		}
	}
	if n != 1 {
		return ErrInvalidSelector
	}
	return nil
}

// String renders the selector as kind:value, used in logs and the session archive.
func (s Selector) String() string {
	switch {
	case s.LiveID != "":
		return "live:" + s.LiveID
	case s.ChannelID != "":
		return "channel:" + s.ChannelID
	case s.Handle != "":
		return "handle:" + s.Handle
	}
	return ""
}

// ChatMode selects which chat rendering the upstream should serve.
type ChatMode int

const (
	AllChat ChatMode = iota
	TopChat
)

func (m ChatMode) String() string {
	if m == TopChat {
		return "top"
	}
	return "all"
}

// FetchContext is everything a Fetcher needs to request the next chat page.
// The poller only ever rewrites Continuation.
type FetchContext struct {
	LiveID       string
	ChatID       string
	Continuation string
	Mode         ChatMode
}

// Author describes who posted a chat item.
type Author struct {
	ChannelID   string `json:"channel_id" yaml:"channel_id"`
	Name        string `json:"name" yaml:"name"`
	ImageURL    string `json:"image_url,omitempty" yaml:"image_url,omitempty"`
	IsOwner     bool   `json:"is_owner,omitempty" yaml:"is_owner,omitempty"`
	IsModerator bool   `json:"is_moderator,omitempty" yaml:"is_moderator,omitempty"`
	IsMember    bool   `json:"is_member,omitempty" yaml:"is_member,omitempty"`
	IsVerified  bool   `json:"is_verified,omitempty" yaml:"is_verified,omitempty"`
}

// SuperChat carries paid-message details.
type SuperChat struct {
	Amount       string `json:"amount" yaml:"amount"`
	AmountMicros uint64 `json:"amount_micros" yaml:"amount_micros"`
	Currency     string `json:"currency" yaml:"currency"`
	Tier         int64  `json:"tier" yaml:"tier"`
}

// ChatItem is one unit of chat output. The poller forwards it untouched.
type ChatItem struct {
	ID        string     `json:"id" yaml:"id"`
	LiveID    string     `json:"live_id" yaml:"live_id"`
	Kind      string     `json:"kind" yaml:"kind"`
	Author    Author     `json:"author" yaml:"author"`
	Message   string     `json:"message" yaml:"message"`
	SuperChat *SuperChat `json:"super_chat,omitempty" yaml:"super_chat,omitempty"`
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
}

// Resolver turns a selector into a live session and its initial fetch context.
type Resolver interface {
	Resolve(ctx context.Context, sel Selector, mode ChatMode) (*FetchContext, error)
}

// Fetcher performs one chat page request and returns the items plus the next continuation.
type Fetcher interface {
	Fetch(ctx context.Context, fc *FetchContext) ([]ChatItem, string, error)
}

type ResolverFunc func(ctx context.Context, sel Selector, mode ChatMode) (*FetchContext, error)

func (f ResolverFunc) Resolve(ctx context.Context, sel Selector, mode ChatMode) (*FetchContext, error) {
	return f(ctx, sel, mode)
}

type FetcherFunc func(ctx context.Context, fc *FetchContext) ([]ChatItem, string, error)

func (f FetcherFunc) Fetch(ctx context.Context, fc *FetchContext) ([]ChatItem, string, error) {
	return f(ctx, fc)
}
