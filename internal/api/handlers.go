package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"duet/internal/auth"
	"duet/internal/content"
	"duet/internal/models"
)

const tokenCookie = "token"

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest

	// Support both JSON and Form (login page posts x-www-form-urlencoded)
	if r.Header.Get("Content-Type") == "application/json" {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "Failed to parse form")
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	loginResp := a.auth.Login(r.Context(), req)
	if !loginResp.Success {
		writeJSON(w, http.StatusUnauthorized, loginResp)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    loginResp.Token,
		HttpOnly: true,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(loginResp.TokenExpiry, 0),
	})

	writeJSON(w, http.StatusOK, loginResp)
}

func (a *API) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if token := auth.TokenFromRequest(r); token != "" {
		if err := a.auth.Logout(token); err != nil {
			slog.Info("logout with invalid token", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

type RegisterResponse struct {
	models.APIResponse
	User *models.User `json:"user,omitempty"`
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := content.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.auth.Register(r.Context(), req)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		writeError(w, http.StatusConflict, "Username is already taken")
		return
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("registration failed", "username", req.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.UserName)
	writeJSON(w, http.StatusCreated, RegisterResponse{
		APIResponse: models.APIResponse{Success: true},
		User:        &user,
	})
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	user, err := a.store.GetUser(r.Context(), id.UserID)
	if err != nil {
		writeError(w, statusFor(err), "User not found")
		return
	}
	user.IsOnline = a.presence.Online(user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "ok"})
}
