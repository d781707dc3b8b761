package server

import (
	"net/http"

	"github.com/onnwee/ytlivechat/db"
	"github.com/onnwee/ytlivechat/livechat"
)

// HandleSessionsList returns archived live sessions, newest first.
func (h *Handlers) HandleSessionsList(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	sessions, err := h.store.ListLiveSessions(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []db.LiveSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandleSessionChat returns archived chat for one session.
// Params: since (RFC3339), limit (default 1000, max 5000).
func (h *Handlers) HandleSessionChat(w http.ResponseWriter, r *http.Request) {
	liveID := r.PathValue("liveID")
	since, err := parseTimeQuery(r, "since")
	if err != nil {
		http.Error(w, "invalid since: "+err.Error(), http.StatusBadRequest)
		return
	}
	limit := parseIntQuery(r, "limit", 1000)
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	items, err := h.store.ListChatMessages(r.Context(), liveID, since, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []livechat.ChatItem{}
	}
	writeJSON(w, http.StatusOK, items)
}
