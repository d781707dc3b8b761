package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/ytlivechat/telemetry"
)

// HandleAdminPollerStart resolves the configured stream and starts polling it.
// The response reports whether a new session was adopted; resolution failures
// surface through the poller's error events, not here.
func (h *Handlers) HandleAdminPollerStart(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		http.Error(w, "poller not configured", http.StatusServiceUnavailable)
		return
	}
	// the session outlives this request
	started := h.poller.Start(telemetry.WithCorrelation(h.ctx, telemetry.GetCorrelation(r.Context())))
	telemetry.LoggerWithCorr(r.Context()).Info("admin poller start", slog.Bool("started", started))
	writeJSON(w, http.StatusOK, map[string]any{"started": started, "status": h.poller.Status()})
}

// HandleAdminPollerStop stops the poller. Params: reason (default "admin stop").
func (h *Handlers) HandleAdminPollerStop(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		http.Error(w, "poller not configured", http.StatusServiceUnavailable)
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "admin stop"
	}
	h.poller.Stop(reason)
	telemetry.LoggerWithCorr(r.Context()).Info("admin poller stop", slog.String("reason", reason))
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true, "status": h.poller.Status()})
}
