package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"duet/internal/models"
	"duet/internal/session"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	defaultWriteWait    = 10 * time.Second
	defaultPingInterval = 54 * time.Second
)

type wsConnection interface {
	Close() error
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
}

type messageHub interface {
	Join(id models.Identity) *session.Session
	Leave(s *session.Session)
	Dispatch(ctx context.Context, s *session.Session, msg models.ClientMessage) error
}

type ConnectionConfig struct {
	WriteWait    time.Duration
	PingInterval time.Duration
	// RatePerMinute limits message frames. Zero disables the limit.
	RatePerMinute int
	RateBurst     int
}

func (c *ConnectionConfig) setDefaults() {
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
}

// Connection pumps one websocket. The reader decodes and dispatches inbound
// frames; the writer is the only goroutine that writes to the socket.
type Connection struct {
	ws      wsConnection
	hub     messageHub
	session *session.Session
	cfg     ConnectionConfig
	limiter *rate.Limiter
	errorCh chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	identity models.Identity,
	cfg ConnectionConfig,
) *Connection {
	cfg.setDefaults()

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60)
	}

	return &Connection{
		ws:      ws,
		hub:     hub,
		session: hub.Join(identity),
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.RateBurst),
		errorCh: make(chan error, 2),
	}
}

func (c *Connection) Session() *session.Session {
	return c.session
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		close(c.errorCh)
		c.hub.Leave(c.session)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.readLoop(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.writeLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err == nil || errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}

	return err
}

func (c *Connection) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := models.DecodeClientMessage(data)
		if err != nil {
			slog.Warn("dropping frame", "conn_id", c.session.ID, "user_id", c.session.UserID, "error", err)
			continue
		}

		if msg.Type == models.ClientMessageTypeMessage && !c.limiter.Allow() {
			c.reply(models.NewErrorFrame(models.ErrRateLimited))
			continue
		}

		if err := c.hub.Dispatch(ctx, c.session, msg); err != nil {
			slog.Info("frame rejected", "conn_id", c.session.ID, "user_id", c.session.UserID, "type", msg.Type, "error", err)
			c.reply(models.NewErrorFrame(err))
		}
	}
}

func (c *Connection) reply(msg models.ServerMessage) {
	if err := c.session.TrySend(msg); err != nil {
		slog.Warn("failed to queue reply", "conn_id", c.session.ID, "error", err)
	}
}

func (c *Connection) writeLoop(ctx context.Context) error {
	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case msg := <-c.session.Outbound():
			if err := c.write(msg); err != nil {
				return err
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				return err
			}
		case <-c.session.Done():
			return c.closeWithReason()
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) write(msg models.ServerMessage) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(msg)
}

// closeWithReason flushes what is already queued and sends the close frame
// the session was closed with.
func (c *Connection) closeWithReason() error {
	for len(c.session.Outbound()) > 0 {
		if err := c.write(<-c.session.Outbound()); err != nil {
			return err
		}
	}

	code, text := c.session.CloseReason()
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	err := c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(c.cfg.WriteWait))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}
