package auth

import (
	"context"
	"net/http"
	"strings"

	"duet/internal/models"
)

const tokenCookie = "token"

// Verifier resolves a bearer token to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (models.Identity, error)
}

// Authenticator checks the credentials presented on an HTTP request,
// including WebSocket upgrade requests.
type Authenticator struct {
	verifier Verifier
}

func NewAuthenticator(v Verifier) *Authenticator {
	return &Authenticator{verifier: v}
}

// Authenticate returns an error wrapping models.ErrUnauthorized when the
// request carries no valid token.
func (a *Authenticator) Authenticate(r *http.Request) (models.Identity, error) {
	return a.verifier.Verify(r.Context(), TokenFromRequest(r))
}

// TokenFromRequest looks at the token query parameter first because browsers
// cannot set headers on WebSocket handshakes.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(tokenCookie); err == nil {
		return c.Value
	}
	return ""
}
