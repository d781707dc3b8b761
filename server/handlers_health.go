package server

import (
	"errors"
	"net/http"
)

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	if err := h.store.Ping(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
// An idle poller is ready (the stream may simply be offline); an open circuit is not.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error {
			if h.store == nil {
				return errors.New("no database configured")
			}
			return h.store.Ping(r.Context())
		}},
		{"poller", func() error {
			if h.poller == nil {
				return errors.New("no poller configured")
			}
			return nil
		}},
		{"circuit_breaker", func() error {
			if h.breaker != nil && h.breaker.BreakerOpen() {
				return errors.New("circuit breaker open")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
