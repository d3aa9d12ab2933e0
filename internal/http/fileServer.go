package http

import (
	"net/http"
	"os"

	"duet/internal/models"
)

type authenticator interface {
	Authenticate(r *http.Request) (models.Identity, error)
}

// NewFileServerHandler serves the web client from dir. The app page itself
// redirects to the login page when the request carries no valid token.
func NewFileServerHandler(auth authenticator, dir string) http.HandlerFunc {
	fileServer := http.FileServer(http.FS(os.DirFS(dir)))

	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" || r.URL.Path == "/index.html" {
			if _, err := auth.Authenticate(r); err != nil {
				http.Redirect(w, r, "/login.html", http.StatusFound)
				return
			}
		}

		fileServer.ServeHTTP(w, r)
	}
}
