package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/onnwee/ytlivechat/chat"
	"github.com/onnwee/ytlivechat/livechat"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	sessionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	endStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	authorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	ownerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	moderatorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Bold(true)
	memberStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)

	superChatStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("214")).
			Padding(0, 1)
)

// printer writes events in one output format. It is also a chat.Sink so a
// local poller can feed it directly.
type printer struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	switch format {
	case formatText, formatJSON, formatYAML:
	default:
		return nil, fmt.Errorf("unsupported output format %q (want text, json or yaml)", format)
	}
	return &printer{w: w, format: format}, nil
}

func (p *printer) Print(ev chat.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.format {
	case formatJSON:
		return json.NewEncoder(p.w).Encode(ev)
	case formatYAML:
		out, err := yaml.Marshal(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(p.w, "---\n%s", out)
		return err
	default:
		_, err := fmt.Fprintln(p.w, renderText(ev))
		return err
	}
}

func (p *printer) SessionStarted(_ context.Context, liveID string, at time.Time) error {
	return p.Print(chat.Event{Type: chat.EventStart, LiveID: liveID, At: at})
}

func (p *printer) SessionEnded(_ context.Context, liveID, reason string, at time.Time) error {
	return p.Print(chat.Event{Type: chat.EventEnd, LiveID: liveID, Reason: reason, At: at})
}

func (p *printer) Chat(_ context.Context, item livechat.ChatItem) error {
	return p.Print(chat.Event{Type: chat.EventChat, LiveID: item.LiveID, Item: &item, At: item.Timestamp})
}

func renderText(ev chat.Event) string {
	switch ev.Type {
	case chat.EventStart:
		return sessionStyle.Render("▶ live " + ev.LiveID)
	case chat.EventEnd:
		line := "■ ended " + ev.LiveID
		if ev.Reason != "" {
			line += " (" + ev.Reason + ")"
		}
		return endStyle.Render(line)
	case chat.EventChat:
		if ev.Item == nil {
			return ""
		}
		return renderChat(*ev.Item)
	}
	return ev.Type
}

func renderChat(item livechat.ChatItem) string {
	var b strings.Builder
	b.WriteString(timestampStyle.Render(item.Timestamp.Local().Format("15:04:05")))
	b.WriteByte(' ')
	b.WriteString(styleFor(item.Author).Render(item.Author.Name + badges(item.Author)))
	if sc := item.SuperChat; sc != nil {
		b.WriteByte(' ')
		b.WriteString(superChatStyle.Render(sc.Amount))
	}
	if item.Message != "" {
		b.WriteString(": ")
		b.WriteString(item.Message)
	}
	return b.String()
}

func styleFor(a livechat.Author) lipgloss.Style {
	switch {
	case a.IsOwner:
		return ownerStyle
	case a.IsModerator:
		return moderatorStyle
	case a.IsMember:
		return memberStyle
	}
	return authorStyle
}

func badges(a livechat.Author) string {
	var s string
	if a.IsVerified {
		s += " ✓"
	}
	if a.IsModerator {
		s += " 🔧"
	}
	return s
}
