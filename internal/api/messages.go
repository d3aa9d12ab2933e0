package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"duet/internal/models"
)

func (a *API) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	q := r.URL.Query()

	peer := q.Get("user_id")
	if peer == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}
	before, err := queryInt(q.Get("before"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid before")
		return
	}

	messages, err := a.messenger.GetHistory(r.Context(), id.UserID, peer, int(limit), before)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("failed to load history", "user_id", id.UserID, "peer", peer, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func queryInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// ConversationsHandler lists every conversation of the caller, newest first,
// with the peer's online flag and the live unread counter.
func (a *API) ConversationsHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	last, err := a.store.LastMessages(r.Context(), id.UserID)
	if err != nil {
		slog.Error("failed to load conversations", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load conversations")
		return
	}

	unread := a.messenger.Unread(id.UserID)
	conversations := make([]models.Conversation, 0, len(last))
	for _, m := range last {
		peerID := models.NewPair(m.FromUserID, m.ToUserID).Other(id.UserID)
		peer, err := a.store.GetUser(r.Context(), peerID)
		if err != nil {
			slog.Warn("conversation peer missing", "user_id", id.UserID, "peer", peerID, "error", err)
			continue
		}
		conversations = append(conversations, models.Conversation{
			UserID:        peer.ID,
			Username:      peer.UserName,
			IsOnline:      a.presence.Online(peer.ID),
			LastMessage:   m.Text,
			LastMessageAt: m.Timestamp,
			UnreadCount:   unread[peer.ID],
		})
	}

	writeJSON(w, http.StatusOK, conversations)
}
