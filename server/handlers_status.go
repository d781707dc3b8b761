package server

import (
	"net/http"

	"github.com/onnwee/ytlivechat/livechat"
)

type statusResponse struct {
	Poller      livechat.Status `json:"poller"`
	CircuitOpen bool            `json:"circuit_open"`
	Subscribers int             `json:"subscribers"`
	Dropped     int64           `json:"dropped"`
}

// HandleStatus reports the poller state and relay counters.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		http.Error(w, "poller not configured", http.StatusServiceUnavailable)
		return
	}
	resp := statusResponse{Poller: h.poller.Status()}
	if h.breaker != nil {
		resp.CircuitOpen = h.breaker.BreakerOpen()
	}
	if h.hub != nil {
		resp.Subscribers = h.hub.Subscribers()
		resp.Dropped = h.hub.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}
