package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/ytlivechat/config"
)

// authConfig protects the admin endpoints.
type authConfig struct {
	username string
	password string
	token    string
}

func authConfigFrom(cfg *config.Config) authConfig {
	a := authConfig{username: cfg.AdminUsername, password: cfg.AdminPassword, token: cfg.AdminToken}
	if !a.enabled() {
		slog.Warn("Admin authentication not configured - admin endpoints are UNPROTECTED. Set ADMIN_USERNAME+ADMIN_PASSWORD or ADMIN_TOKEN for production")
	}
	return a
}

func (a authConfig) enabled() bool {
	return (a.username != "" && a.password != "") || a.token != ""
}

func (a authConfig) allows(r *http.Request) bool {
	if a.token != "" {
		if tok := r.Header.Get("X-Admin-Token"); tok != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(a.token)) == 1 {
			return true
		}
	}
	if a.username != "" && a.password != "" {
		if u, p, ok := r.BasicAuth(); ok {
			userOK := subtle.ConstantTimeCompare([]byte(u), []byte(a.username)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(p), []byte(a.password)) == 1
			return userOK && passOK
		}
	}
	return false
}

// adminAuth accepts an X-Admin-Token header or Basic Auth. With nothing configured every request passes.
func adminAuth(next http.Handler, cfg authConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.enabled() || cfg.allows(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="ytlivechat admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
	})
}

// ipRateLimiter is a sliding-window limiter keyed by client IP.
type ipRateLimiter struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	enabled  bool
	limit    int
	window   time.Duration
	visitors map[string][]time.Time
}

// newIPRateLimiter creates a limiter whose stale entries are swept until ctx ends.
func newIPRateLimiter(ctx context.Context, clock clockwork.Clock, enabled bool, limit int, window time.Duration) *ipRateLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	rl := &ipRateLimiter{clock: clock, enabled: enabled, limit: limit, window: window, visitors: make(map[string][]time.Time)}
	if enabled {
		go rl.cleanupLoop(ctx)
	}
	return rl
}

func (rl *ipRateLimiter) cleanupLoop(ctx context.Context) {
	ticker := rl.clock.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			rl.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup forgets visitors with no request inside the window.
func (rl *ipRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.clock.Now().Add(-rl.window)
	for ip, reqs := range rl.visitors {
		if len(reqs) == 0 || !reqs[len(reqs)-1].After(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

func (rl *ipRateLimiter) allow(ip string) bool {
	if !rl.enabled {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	cutoff := now.Add(-rl.window)
	reqs := rl.visitors[ip]
	kept := reqs[:0]
	for _, t := range reqs {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= rl.limit {
		rl.visitors[ip] = kept
		return false
	}
	rl.visitors[ip] = append(kept, now)
	return true
}

// clientIP prefers the first X-Forwarded-For hop and strips any port.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ = strings.Cut(fwd, ",")
		ip = strings.TrimSpace(ip)
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return strings.Trim(ip, "[]")
}

func rateLimitMiddleware(next http.Handler, limiter *ipRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !limiter.allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(int(limiter.window.Seconds())))
			http.Error(w, "Too Many Requests - rate limit exceeded", http.StatusTooManyRequests)
			slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type corsConfig struct {
	allowedOrigins []string
	permissive     bool
}

func corsConfigFrom(cfg *config.Config) corsConfig {
	return corsConfig{permissive: cfg.CORSPermissive, allowedOrigins: cfg.CORSAllowedOrigins}
}

// allowsWebSocket applies the CORS origin policy to a WebSocket handshake.
// Browsers do not preflight upgrades, so the handshake is checked here.
// Requests without an Origin and same-host origins are always accepted.
func (c corsConfig) allowsWebSocket(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if c.permissive || origin == "" || isOriginAllowed(origin, c.allowedOrigins) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-Admin-Token, X-Correlation-ID"
)

// withCORSConfig wraps a handler with CORS headers based on configuration
func withCORSConfig(next http.Handler, cfg corsConfig) http.Handler {
	if !cfg.permissive && len(cfg.allowedOrigins) == 0 {
		slog.Warn("CORS restricted mode enabled but no CORS_ALLOWED_ORIGINS configured - all CORS requests will be blocked")
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case cfg.permissive:
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
		case origin != "" && isOriginAllowed(origin, cfg.allowedOrigins):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", corsMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed supports exact origins and "*.example.com" wildcards.
func isOriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if origin == a {
			return true
		}
		if domain, ok := strings.CutPrefix(a, "*."); ok {
			if strings.HasSuffix(origin, "."+domain) {
				return true
			}
		}
	}
	return false
}
