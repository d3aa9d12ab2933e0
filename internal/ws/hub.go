package ws

import (
	"context"
	"fmt"
	"log/slog"

	"duet/internal/heartbeat"
	"duet/internal/models"
	"duet/internal/presence"
	"duet/internal/registry"
	"duet/internal/router"
	"duet/internal/session"

	"github.com/gorilla/websocket"
)

// Hub ties live sessions to the registry, the router and the heartbeat
// supervisor.
type Hub struct {
	registry  *registry.Registry
	router    *router.Router
	presence  *presence.Tracker
	heartbeat *heartbeat.Supervisor
	cfg       session.Config
}

// NewHub subscribes tracker to registry transitions. tracker may be nil.
func NewHub(
	reg *registry.Registry,
	rt *router.Router,
	tracker *presence.Tracker,
	hb *heartbeat.Supervisor,
	cfg session.Config,
) *Hub {
	if tracker != nil {
		reg.AddListener(tracker.HandleEvent)
	}
	return &Hub{
		registry:  reg,
		router:    rt,
		presence:  tracker,
		heartbeat: hb,
		cfg:       cfg,
	}
}

func (h *Hub) Join(id models.Identity) *session.Session {
	s := session.New(id, h.cfg)
	h.heartbeat.Watch(s.ID, func() { h.evict(s) })
	h.registry.Register(s)
	slog.Info("session joined", "conn_id", s.ID, "user_id", s.UserID)
	return s
}

func (h *Hub) evict(s *session.Session) {
	h.registry.Unregister(s)
	s.Close(websocket.CloseNormalClosure, "heartbeat timeout")
}

func (h *Hub) Leave(s *session.Session) {
	h.heartbeat.Cancel(s.ID)
	s.SetActive("")
	if h.registry.Unregister(s) {
		slog.Info("session left", "conn_id", s.ID, "user_id", s.UserID)
	}
	s.Close(websocket.CloseNormalClosure, "")
}

func (h *Hub) Dispatch(ctx context.Context, s *session.Session, msg models.ClientMessage) error {
	switch msg.Type {
	case models.ClientMessageTypeJoin:
		// Identity comes from the handshake token; join only announces it.
		if msg.User != "" && msg.User != s.UserID && msg.User != s.UserName {
			slog.Warn("join for a different user ignored", "conn_id", s.ID, "user_id", s.UserID, "user", msg.User)
		}
	case models.ClientMessageTypeLeave:
		s.Close(websocket.CloseNormalClosure, "leave")
	case models.ClientMessageTypeHeartbeat:
		h.heartbeat.Beat(s.ID)
		if h.presence != nil {
			h.presence.Touch(ctx, s.UserID)
		}
		if err := s.TrySend(models.NewHeartbeatAck()); err != nil {
			slog.Warn("failed to queue heartbeat ack", "conn_id", s.ID, "error", err)
		}
	case models.ClientMessageTypeActive:
		h.router.SetActive(s, msg.PeerID)
	case models.ClientMessageTypeMessage:
		if msg.FromUserID != "" && msg.FromUserID != s.UserID {
			return fmt.Errorf("%w: cannot send as %s", models.ErrForbidden, msg.FromUserID)
		}
		if _, err := h.router.Send(ctx, s.Identity(), msg.ToUserID, msg.Text); err != nil {
			return err
		}
	}
	return nil
}

// DisconnectUser closes every live session of userID and returns how many
// there were.
func (h *Hub) DisconnectUser(userID string) int {
	sessions := h.registry.Lookup(userID)
	for _, s := range sessions {
		s.Close(websocket.CloseNormalClosure, "disconnected by administrator")
	}
	return len(sessions)
}

func (h *Hub) OnlineUsers() []string {
	return h.registry.OnlineUsers()
}

func (h *Hub) Count() int {
	return h.registry.Count()
}

// Shutdown closes every live session with CloseGoingAway.
func (h *Hub) Shutdown() {
	h.registry.CloseAll(websocket.CloseGoingAway, "server shutting down")
}
