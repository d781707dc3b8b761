package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/ytlivechat/chat"
	"github.com/onnwee/ytlivechat/config"
	"github.com/onnwee/ytlivechat/db"
	"github.com/onnwee/ytlivechat/livechat"
	"github.com/onnwee/ytlivechat/pubsub"
	"github.com/onnwee/ytlivechat/youtubeapi"
)

var (
	channelID   string
	liveID      string
	handle      string
	apiKey      string
	topOnly     bool
	interval    time.Duration
	resolveEach time.Duration
	output      string
	archivePath string
	redisURL    string
	redisPrefix string
	verbose     bool
	version     = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "chat-tail",
	Short: "Follow a YouTube live chat from the terminal",
	Long: `Follow a YouTube live chat from the terminal.

Select exactly one of --channel, --handle or --live (or set YT_CHANNEL_ID,
YT_HANDLE or YT_LIVE_ID). chat-tail waits for the
stream to go live, prints every message, and picks up the next broadcast when
one ends. With --redis it instead follows the events a ytlivechat server
publishes, without calling YouTube at all.

Examples:
  chat-tail --handle @somecreator
  chat-tail --live dQw4w9WgXcQ --top --output json
  chat-tail --channel UCxxxx --archive chat.db
  chat-tail --redis redis://localhost:6379/0`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		lvl := slog.LevelWarn
		if verbose {
			lvl = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPrinter(cmd.OutOrStdout(), output)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if redisURL != "" {
			return followRedis(ctx, p)
		}
		return pollYouTube(ctx, p)
	},
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&channelID, "channel", "", "YouTube channel id (UC...) to follow")
	f.StringVar(&liveID, "live", "", "YouTube broadcast (video) id to follow")
	f.StringVar(&handle, "handle", "", "YouTube channel handle (@name) to follow")
	f.StringVar(&apiKey, "api-key", "", "YouTube Data API key (default $YT_API_KEY)")
	f.BoolVar(&topOnly, "top", false, "Show top chat only (drops ordinary text messages)")
	f.DurationVar(&interval, "interval", time.Second, "Chat poll interval")
	f.DurationVar(&resolveEach, "resolve-interval", time.Minute, "How often to check whether the stream is live")
	f.StringVarP(&output, "output", "o", formatText, "Output format: text, json or yaml")
	f.StringVar(&archivePath, "archive", "", "Also record sessions and messages to this SQLite file")
	f.StringVar(&redisURL, "redis", "", "Follow events from a ytlivechat server via Redis instead of polling")
	f.StringVar(&redisPrefix, "redis-prefix", "livechat", "Redis channel prefix used by the server")
	rootCmd.MarkFlagsMutuallyExclusive("channel", "live", "handle")
	rootCmd.MarkFlagsMutuallyExclusive("redis", "channel")
	rootCmd.MarkFlagsMutuallyExclusive("redis", "handle")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

func pollYouTube(ctx context.Context, p *printer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// flags replace, rather than merge with, a selector from the environment
	if channelID != "" || liveID != "" || handle != "" {
		cfg.YTChannelID, cfg.YTLiveID, cfg.YTHandle = channelID, liveID, handle
	}
	if apiKey != "" {
		cfg.YTAPIKey = apiKey
	}
	cfg.ChatTopOnly = topOnly
	if err := cfg.ValidateYouTubeReady(); err != nil {
		return err
	}

	svc, err := youtubeapi.NewService(ctx, cfg)
	if err != nil {
		return err
	}
	client := youtubeapi.New(svc,
		youtubeapi.WithBreaker(cfg.BreakerFailures, cfg.BreakerOpenPeriod),
		youtubeapi.WithLanguage(cfg.YTLanguage),
	)
	lc, err := livechat.New(cfg.Selector(), client, client,
		livechat.WithChatMode(cfg.ChatMode()),
		livechat.WithInterval(interval),
	)
	if err != nil {
		return err
	}

	sinks := []chat.Sink{p}
	if archivePath != "" {
		store, err := db.Open("sqlite://" + archivePath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		sinks = append(sinks, chat.NewRecorder(store, cfg.Selector()))
	}
	chat.Attach(context.WithoutCancel(ctx), lc, sinks...)
	lc.OnError(func(err error) {
		if errors.Is(err, youtubeapi.ErrNotLive) || errors.Is(err, livechat.ErrSessionEnded) {
			slog.Debug("waiting for stream", slog.Any("err", err))
			return
		}
		slog.Warn("chat poll error", slog.Any("err", err))
	})

	chat.StartAutoChatRecorder(ctx, lc, resolveEach, nil)
	return nil
}

func followRedis(ctx context.Context, p *printer) error {
	rdb, err := pubsub.NewClient(redisURL)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	sub := pubsub.Subscribe(ctx, rdb, redisPrefix, liveID)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Ch:
			if !ok {
				return nil
			}
			if err := p.Print(ev); err != nil {
				return err
			}
		}
	}
}
