// Command ytlivechat follows one YouTube channel, handle or broadcast and
// records its live chat. It:
//   - Loads configuration and initializes structured logging.
//   - Opens the archive (Postgres or SQLite) and applies migrations.
//   - Starts the live chat poller under a supervisor that re-resolves the
//     selector so new broadcasts are picked up and finished ones are closed.
//   - Fans events out to the archive, in-process relays and optionally Redis.
//   - Exposes an HTTP server with health, status, metrics, history and live relays.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/joho/godotenv"

	"github.com/onnwee/ytlivechat/chat"
	"github.com/onnwee/ytlivechat/config"
	"github.com/onnwee/ytlivechat/db"
	"github.com/onnwee/ytlivechat/livechat"
	"github.com/onnwee/ytlivechat/pubsub"
	"github.com/onnwee/ytlivechat/server"
	"github.com/onnwee/ytlivechat/telemetry"
	"github.com/onnwee/ytlivechat/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateYouTubeReady(); err != nil {
		slog.Error("youtube not configured", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("ytlivechat", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	slog.Info("running database migrations", slog.String("component", "db_migrate"), slog.String("dialect", store.Dialect().String()))
	if err := store.Setup(ctx); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	svc, err := youtubeapi.NewService(ctx, cfg)
	if err != nil {
		slog.Error("youtube client init failed", slog.Any("err", err))
		os.Exit(1)
	}
	client := youtubeapi.New(svc,
		youtubeapi.WithBreaker(cfg.BreakerFailures, cfg.BreakerOpenPeriod),
		youtubeapi.WithLanguage(cfg.YTLanguage),
	)

	clock := clockwork.NewRealClock()
	lc, err := livechat.New(cfg.Selector(), client, client,
		livechat.WithChatMode(cfg.ChatMode()),
		livechat.WithInterval(cfg.PollInterval),
		livechat.WithClock(clock),
		livechat.WithLogger(slog.Default()),
	)
	if err != nil {
		slog.Error("poller init failed", slog.Any("err", err))
		os.Exit(1)
	}

	hub := chat.NewHub()
	sinks := []chat.Sink{chat.NewRecorder(store, cfg.Selector()), hub}
	if cfg.RedisURL != "" {
		rdb, err := pubsub.NewClient(cfg.RedisURL)
		if err != nil {
			slog.Error("redis init failed", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() { _ = rdb.Close() }()
		sinks = append(sinks, pubsub.NewPublisher(rdb, cfg.RedisChannelPrefix))
		slog.Info("redis fan-out enabled", slog.String("prefix", cfg.RedisChannelPrefix))
	}
	// sinks must still record the shutdown end after ctx is cancelled
	chat.Attach(context.WithoutCancel(ctx), lc, sinks...)

	supervisorDone := make(chan struct{})
	if cfg.ChatAutoStart {
		go func() {
			defer close(supervisorDone)
			chat.StartAutoChatRecorder(ctx, lc, cfg.ResolveInterval, clock)
		}()
	} else {
		slog.Info("chat auto start disabled; use POST /admin/poller/start")
		go func() {
			defer close(supervisorDone)
			<-ctx.Done()
			lc.Stop(chat.ReasonShutdown)
		}()
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	deps := server.Deps{Config: cfg, Store: store, Poller: lc, Hub: hub, Breaker: client, Clock: clock}
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := server.Start(ctx, cfg.HTTPAddr, deps); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	<-supervisorDone
	<-serverDone
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}
