// Package session holds the per-connection state shared by the registry, the
// router and the presence tracker.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"duet/internal/models"

	"github.com/google/uuid"
)

type Config struct {
	// Buffer is the outbound queue capacity.
	Buffer int
	// SendTimeout bounds how long Send waits for queue space.
	SendTimeout time.Duration
}

// Session is one live transport connection of a user. The outbound queue is
// drained by exactly one writer, so frames reach the client in Send order.
type Session struct {
	ID        string
	UserID    string
	UserName  string
	CreatedAt time.Time

	sendTimeout time.Duration
	outbound    chan models.ServerMessage
	done        chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeText   string

	active atomic.Pointer[string]
}

func New(id models.Identity, cfg Config) *Session {
	return &Session{
		ID:          uuid.NewString(),
		UserID:      id.UserID,
		UserName:    id.UserName,
		CreatedAt:   time.Now(),
		sendTimeout: cfg.SendTimeout,
		outbound:    make(chan models.ServerMessage, cfg.Buffer),
		done:        make(chan struct{}),
	}
}

func (s *Session) Identity() models.Identity {
	return models.Identity{UserID: s.UserID, UserName: s.UserName}
}

// Send queues msg for the client. It fails with models.ErrDeliveryFailure when
// the session is closed or the queue stays full for the send timeout.
func (s *Session) Send(ctx context.Context, msg models.ServerMessage) error {
	select {
	case <-s.done:
		return fmt.Errorf("%w: session %s closed", models.ErrDeliveryFailure, s.ID)
	default:
	}

	select {
	case s.outbound <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()

	select {
	case s.outbound <- msg:
		return nil
	case <-s.done:
		return fmt.Errorf("%w: session %s closed", models.ErrDeliveryFailure, s.ID)
	case <-timer.C:
		return fmt.Errorf("%w: session %s queue full", models.ErrDeliveryFailure, s.ID)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", models.ErrDeliveryFailure, ctx.Err())
	}
}

// TrySend queues msg without waiting.
func (s *Session) TrySend(msg models.ServerMessage) error {
	select {
	case <-s.done:
		return fmt.Errorf("%w: session %s closed", models.ErrDeliveryFailure, s.ID)
	default:
	}
	select {
	case s.outbound <- msg:
		return nil
	default:
		return fmt.Errorf("%w: session %s queue full", models.ErrDeliveryFailure, s.ID)
	}
}

func (s *Session) Outbound() <-chan models.ServerMessage {
	return s.outbound
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close asks the writer to close the transport with the given close code.
// Only the first call has an effect.
func (s *Session) Close(code int, text string) {
	s.closeOnce.Do(func() {
		s.closeCode = code
		s.closeText = text
		close(s.done)
	})
}

// CloseReason is valid once Done is closed.
func (s *Session) CloseReason() (int, string) {
	<-s.done
	return s.closeCode, s.closeText
}

// SetActive points the session at the conversation with peerID. Empty clears it.
func (s *Session) SetActive(peerID string) {
	if peerID == "" {
		s.active.Store(nil)
		return
	}
	s.active.Store(&peerID)
}

func (s *Session) Active() string {
	if p := s.active.Load(); p != nil {
		return *p
	}
	return ""
}
