package api

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"duet/internal/auth"
	"duet/internal/content"
	"duet/internal/models"
)

type SessionAdmin interface {
	OnlineUsers() []string
	Count() int
	DisconnectUser(userID string) int
}

type AdminHandler struct {
	authService *auth.AuthService
	sessions    SessionAdmin
}

func NewAdminHandler(authService *auth.AuthService, sessions SessionAdmin) *AdminHandler {
	return &AdminHandler{authService: authService, sessions: sessions}
}

type AddUserRequest struct {
	Username string `json:"username"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AddUserHandler creates a user with a random password the operator hands over.
func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := content.ValidateUsername(req.Username); err != nil {
		writeJSON(w, http.StatusBadRequest, AddUserResponse{Message: err.Error()})
		return
	}

	password := rand.Text()
	user, err := h.authService.Register(r.Context(), auth.RegisterRequest{
		Username: req.Username,
		Password: password,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrUserExists) {
			status = http.StatusConflict
		}
		writeJSON(w, status, AddUserResponse{
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	slog.Info("user created by administrator", "user_id", user.ID, "username", user.UserName)
	writeJSON(w, http.StatusOK, AddUserResponse{
		Success:  true,
		UserID:   user.ID,
		Username: user.UserName,
		Password: password,
	})
}

type SessionsResponse struct {
	Connections int      `json:"connections"`
	OnlineUsers []string `json:"online_users"`
}

func (h *AdminHandler) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	online := h.sessions.OnlineUsers()
	if online == nil {
		online = []string{}
	}
	writeJSON(w, http.StatusOK, SessionsResponse{
		Connections: h.sessions.Count(),
		OnlineUsers: online,
	})
}

func (h *AdminHandler) DisconnectUserHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	n := h.sessions.DisconnectUser(userID)
	if n == 0 {
		writeJSON(w, http.StatusNotFound, models.APIResponse{Message: "User is not connected"})
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: fmt.Sprintf("Closed %d session(s) of user %s", n, userID),
	})
}
