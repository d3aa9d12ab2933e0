package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"duet/internal/models"

	"github.com/gorilla/websocket"
)

// Close reasons are limited to 123 bytes by the protocol.
const maxCloseReason = 123

type Authenticator interface {
	Authenticate(r *http.Request) (models.Identity, error)
}

type Config struct {
	AllowedOrigins []string
	MaxMessageSize int64

	// PongWait is how long the socket may stay silent at the transport level.
	PongWait   time.Duration
	Connection ConnectionConfig
}

type Server struct {
	auth     Authenticator
	hub      messageHub
	cfg      Config
	upgrader *websocket.Upgrader
}

func NewServer(auth Authenticator, hub messageHub, cfg Config) *Server {
	cfg.Connection.setDefaults()
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.Connection.PingInterval >= cfg.PongWait {
		cfg.Connection.PingInterval = cfg.PongWait * 9 / 10
	}

	return &Server{
		auth: auth,
		hub:  hub,
		cfg:  cfg,
		upgrader: &websocket.Upgrader{
			CheckOrigin: originChecker(cfg.AllowedOrigins),
		},
	}
}

// originChecker allows everything when no origins are configured.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 || slices.Contains(allowed, "*") {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	identity, authErr := s.auth.Authenticate(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("error upgrading to websocket", "error", err)
		return
	}

	if authErr != nil {
		// Browsers cannot read a rejected handshake, so the close code carries it.
		// 1008 tells the client to log in again; anything else is worth a retry.
		if errors.Is(authErr, models.ErrUnauthorized) {
			slog.Info("rejecting websocket session", "remote", r.RemoteAddr, "error", authErr)
			s.reject(ws, websocket.ClosePolicyViolation, "Unauthorized: "+authErr.Error())
		} else {
			slog.Error("failed to authenticate websocket session", "remote", r.RemoteAddr, "error", authErr)
			s.reject(ws, websocket.CloseInternalServerErr, "Internal error")
		}
		return
	}

	ws.SetReadLimit(s.cfg.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	conn := NewConnection(s.hub, ws, identity, s.cfg.Connection)
	if err := conn.Handle(r.Context()); err != nil {
		slog.Info("connection closed", "conn_id", conn.Session().ID, "user_id", identity.UserID, "error", err)
	}
}

func (s *Server) reject(ws *websocket.Conn, code int, reason string) {
	if len(reason) > maxCloseReason {
		reason = strings.ToValidUTF8(reason[:maxCloseReason], "")
	}
	msg := websocket.FormatCloseMessage(code, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.Connection.WriteWait)); err != nil {
		slog.Warn("error writing close frame", "error", err)
	}
	if err := ws.Close(); err != nil {
		slog.Warn("error closing websocket", "error", err)
	}
}
