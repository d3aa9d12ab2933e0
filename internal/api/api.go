package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"duet/internal/auth"
	"duet/internal/models"
)

const maxBodySize = 64 << 10

type Store interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	SearchUsers(ctx context.Context, prefix string, limit int) ([]models.User, error)
	LastMessages(ctx context.Context, userID string) ([]models.Message, error)

	UpsertFriendship(ctx context.Context, f models.Friendship) error
	GetFriendship(ctx context.Context, userID, peerID string) (models.Friendship, error)
	ListFriendships(ctx context.Context, userID string) ([]models.Friendship, error)

	AddPushSubscription(ctx context.Context, sub models.PushSubscription) error
}

type Messenger interface {
	GetHistory(ctx context.Context, requester, peer string, limit int, before int64) ([]models.Message, error)
	Unread(owner string) map[string]int
}

type Presence interface {
	Online(userID string) bool
}

type API struct {
	auth      *auth.AuthService
	authn     *auth.Authenticator
	store     Store
	messenger Messenger
	presence  Presence
}

func New(authService *auth.AuthService, store Store, messenger Messenger, presence Presence) *API {
	return &API{
		auth:      authService,
		authn:     auth.NewAuthenticator(authService),
		store:     store,
		messenger: messenger,
		presence:  presence,
	}
}

func (a *API) Authenticate(r *http.Request) (models.Identity, error) {
	return a.authn.Authenticate(r)
}

type identityKey struct{}

func identityFrom(ctx context.Context) models.Identity {
	id, _ := ctx.Value(identityKey{}).(models.Identity)
	return id
}

// RequireAuth rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := a.authn.Authenticate(r)
		if err != nil {
			if !errors.Is(err, models.ErrUnauthorized) {
				slog.Error("authentication failed", "error", err)
			}
			writeJSON(w, http.StatusUnauthorized, models.APIResponse{Message: "Unauthorized"})
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	}
}

// RequireSameOrigin blocks cross-site form posts that would ride on the
// token cookie. Requests without an Origin header are let through.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.APIResponse{Success: false, Message: message})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidRecipient), errors.Is(err, models.ErrInvalidMessage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
}
