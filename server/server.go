// Package server exposes the HTTP API: health, status, metrics, the chat
// archive, and live relays of the poller's events over SSE and WebSocket.
// It injects correlation IDs into request contexts for consistent logging.
package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/ytlivechat/chat"
	"github.com/onnwee/ytlivechat/config"
	"github.com/onnwee/ytlivechat/telemetry"
)

// Deps are the collaborators the HTTP layer serves from.
type Deps struct {
	Config  *config.Config
	Store   Archive
	Poller  Poller
	Hub     *chat.Hub
	Breaker Breaker // optional
	Clock   clockwork.Clock
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine and admin-triggered starts.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	limiter := newIPRateLimiter(ctx, deps.Clock, cfg.RateLimitEnabled, cfg.RateLimitRequests, cfg.RateLimitWindow)
	auth := authConfigFrom(cfg)
	h := NewHandlers(ctx, deps)

	limited := func(fn http.HandlerFunc) http.Handler { return rateLimitMiddleware(fn, limiter) }
	admin := func(fn http.HandlerFunc) http.Handler { return adminAuth(limited(fn), auth) }

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.HandleFunc("GET /status", h.HandleStatus)

	mux.HandleFunc("GET /sessions", h.HandleSessionsList)
	mux.HandleFunc("GET /sessions/{liveID}/chat", h.HandleSessionChat)

	mux.Handle("GET /chat/stream", limited(h.HandleChatSSE))
	mux.Handle("GET /chat/ws", limited(h.HandleChatWS))

	mux.Handle("POST /admin/poller/start", admin(h.HandleAdminPollerStart))
	mux.Handle("POST /admin/poller/stop", admin(h.HandleAdminPollerStop))

	return withCORSConfig(withRequestContext(mux), corsConfigFrom(cfg))
}

// withRequestContext injects a correlation id and a tracing span around every request.
func withRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack implements http.Hijacker so WebSocket upgrades pass through.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, deps Deps) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     NewMux(ctx, deps),
		ReadTimeout: 5 * time.Second,
		// no WriteTimeout: SSE and WebSocket relays are long-lived
		IdleTimeout: 60 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	// ListenAndServe returns as soon as Shutdown begins; wait for it to drain.
	<-shutdownDone
	return nil
}
