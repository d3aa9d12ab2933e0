package http

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"duet/internal/api"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

type APIServerConfig struct {
	Addr string
	// StaticDir is served at / when set.
	StaticDir string
}

func NewAPIServer(apiHandlers *api.API, wsHandler http.HandlerFunc, cfg APIServerConfig) *APIServer {
	mux := http.NewServeMux()

	if cfg.StaticDir != "" {
		mux.HandleFunc("/", NewFileServerHandler(apiHandlers, cfg.StaticDir))
	}

	// Auth endpoints
	mux.HandleFunc("POST /api/auth/register", api.RequireSameOrigin(apiHandlers.RegisterHandler))
	mux.HandleFunc("POST /api/auth/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/auth/logout", api.RequireSameOrigin(apiHandlers.LogoutHandler))
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))

	// Conversations
	mux.HandleFunc("GET /api/messages/history", apiHandlers.RequireAuth(apiHandlers.HistoryHandler))
	mux.HandleFunc("GET /api/conversations", apiHandlers.RequireAuth(apiHandlers.ConversationsHandler))

	// Friends
	mux.HandleFunc("GET /api/friends", apiHandlers.RequireAuth(apiHandlers.FriendsHandler))
	mux.HandleFunc("POST /api/friends/request", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.FriendRequestHandler)))
	mux.HandleFunc("POST /api/friends/accept", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.FriendAcceptHandler)))
	mux.HandleFunc("POST /api/friends/reject", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.FriendRejectHandler)))
	mux.HandleFunc("GET /api/users/search", apiHandlers.RequireAuth(apiHandlers.SearchUsersHandler))

	mux.HandleFunc("POST /api/push/subscribe", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.PushSubscribeHandler)))

	mux.HandleFunc("GET /healthz", apiHandlers.HealthHandler)

	// WebSocket endpoint
	mux.HandleFunc("GET /ws", wsHandler)

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
