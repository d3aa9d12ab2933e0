package http

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"duet/internal/api"
)

// AdminServer exposes operator endpoints. It should listen on a loopback
// address only.
type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(adminHandler *api.AdminHandler, addr string) *AdminServer {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", adminHandler.AddUserHandler)
	mux.HandleFunc("GET /admin/sessions", adminHandler.SessionsHandler)
	mux.HandleFunc("POST /admin/users/{id}/disconnect", adminHandler.DisconnectUserHandler)

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *AdminServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *AdminServer) Start() error {
	log.Printf("Admin API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
