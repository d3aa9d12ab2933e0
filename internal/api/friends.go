package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"duet/internal/models"
)

const searchLimit = 20

type FriendRequest struct {
	UserID string `json:"user_id"`
}

type Friend struct {
	UserID    string              `json:"user_id"`
	Username  string              `json:"username"`
	Status    models.FriendStatus `json:"status"`
	Incoming  bool                `json:"incoming"`
	IsOnline  bool                `json:"is_online"`
	UpdatedAt int64               `json:"updated_at"`
}

func (a *API) FriendsHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	friendships, err := a.store.ListFriendships(r.Context(), id.UserID)
	if err != nil {
		slog.Error("failed to list friendships", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load friends")
		return
	}

	friends := make([]Friend, 0, len(friendships))
	for _, f := range friendships {
		if f.Status == models.FriendStatusRejected {
			continue
		}
		incoming := f.AddresseeID == id.UserID
		peerID := f.AddresseeID
		if incoming {
			peerID = f.RequesterID
		}
		peer, err := a.store.GetUser(r.Context(), peerID)
		if err != nil {
			continue
		}
		friends = append(friends, Friend{
			UserID:    peer.ID,
			Username:  peer.UserName,
			Status:    f.Status,
			Incoming:  incoming,
			IsOnline:  f.Status == models.FriendStatusAccepted && a.presence.Online(peer.ID),
			UpdatedAt: f.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, friends)
}

func (a *API) readFriendRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req FriendRequest
	if err := decodeJSON(w, r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return "", false
	}
	return req.UserID, true
}

func (a *API) FriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	peerID, ok := a.readFriendRequest(w, r)
	if !ok {
		return
	}
	if peerID == id.UserID {
		writeError(w, http.StatusBadRequest, "Cannot befriend yourself")
		return
	}
	if _, err := a.store.GetUser(r.Context(), peerID); err != nil {
		writeError(w, statusFor(err), "User not found")
		return
	}

	now := time.Now().Unix()
	existing, err := a.store.GetFriendship(r.Context(), id.UserID, peerID)
	switch {
	case errors.Is(err, models.ErrNotFound) || (err == nil && existing.Status == models.FriendStatusRejected):
		err = a.store.UpsertFriendship(r.Context(), models.Friendship{
			RequesterID: id.UserID,
			AddresseeID: peerID,
			Status:      models.FriendStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	case err != nil:
	case existing.Status == models.FriendStatusAccepted:
		writeError(w, http.StatusConflict, "Already friends")
		return
	case existing.RequesterID == id.UserID:
		writeError(w, http.StatusConflict, "Request already sent")
		return
	default:
		// The peer already asked: a counter request accepts theirs.
		existing.Status = models.FriendStatusAccepted
		existing.UpdatedAt = now
		err = a.store.UpsertFriendship(r.Context(), existing)
	}
	if err != nil {
		slog.Error("failed to store friend request", "user_id", id.UserID, "peer", peerID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to send request")
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) FriendAcceptHandler(w http.ResponseWriter, r *http.Request) {
	a.answerFriendRequest(w, r, models.FriendStatusAccepted)
}

func (a *API) FriendRejectHandler(w http.ResponseWriter, r *http.Request) {
	a.answerFriendRequest(w, r, models.FriendStatusRejected)
}

// answerFriendRequest settles a pending request addressed to the caller.
func (a *API) answerFriendRequest(w http.ResponseWriter, r *http.Request, status models.FriendStatus) {
	id := identityFrom(r.Context())
	peerID, ok := a.readFriendRequest(w, r)
	if !ok {
		return
	}

	f, err := a.store.GetFriendship(r.Context(), id.UserID, peerID)
	if err != nil {
		writeError(w, statusFor(err), "Friend request not found")
		return
	}
	if f.Status != models.FriendStatusPending || f.AddresseeID != id.UserID {
		writeError(w, http.StatusConflict, "No pending request from this user")
		return
	}

	f.Status = status
	f.UpdatedAt = time.Now().Unix()
	if err := a.store.UpsertFriendship(r.Context(), f); err != nil {
		slog.Error("failed to update friendship", "user_id", id.UserID, "peer", peerID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update request")
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) SearchUsersHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	users, err := a.store.SearchUsers(r.Context(), q, searchLimit+1)
	if err != nil {
		slog.Error("user search failed", "user_id", id.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	result := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID == id.UserID || len(result) == searchLimit {
			continue
		}
		u.IsOnline = a.presence.Online(u.ID)
		result = append(result, u)
	}
	writeJSON(w, http.StatusOK, result)
}
