package api

import (
	"log/slog"
	"net/http"
	"net/url"

	"duet/internal/models"
)

// PushSubscribeRequest mirrors the browser's PushSubscription.toJSON().
type PushSubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	var req PushSubscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if u, err := url.Parse(req.Endpoint); err != nil || u.Scheme != "https" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "Invalid push subscription")
		return
	}

	err := a.store.AddPushSubscription(r.Context(), models.PushSubscription{
		UserID:   id.UserID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		slog.Error("failed to store push subscription", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to subscribe")
		return
	}

	writeJSON(w, http.StatusCreated, models.APIResponse{Success: true})
}
