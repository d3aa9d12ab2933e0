// Package router persists direct messages and fans them out to live sessions.
package router

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"duet/internal/content"
	"duet/internal/models"
	"duet/internal/notify"
	"duet/internal/session"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	DefaultMaxText      = 2000

	pairStripes   = 64
	notifyTimeout = 10 * time.Second
)

type MessageStore interface {
	AppendMessage(ctx context.Context, m models.Message) (models.Message, error)
	ListMessages(ctx context.Context, pair models.Pair, before int64, limit int) ([]models.Message, error)
}

type Directory interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
}

type SessionLookup interface {
	Lookup(userID string) []*session.Session
}

type Config struct {
	MaxTextLength int
}

type Router struct {
	store    MessageStore
	dir      Directory
	sessions SessionLookup
	notifier notify.Notifier
	maxText  int

	// owner -> peer -> unread messages
	unread *geche.Locker[string, map[string]int]
	// Persist and enqueue of one pair happen under the same stripe.
	pairLocks [pairStripes]sync.Mutex
	now       func() time.Time
}

// New builds a router. notifier may be nil.
func New(cfg Config, store MessageStore, dir Directory, sessions SessionLookup, notifier notify.Notifier) *Router {
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultMaxText
	}
	return &Router{
		store:    store,
		dir:      dir,
		sessions: sessions,
		notifier: notifier,
		maxText:  cfg.MaxTextLength,
		unread:   geche.NewLocker[string, map[string]int](geche.NewMapCache[string, map[string]int]()),
		now:      time.Now,
	}
}

func (r *Router) pairLock(pair models.Pair) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(pair.Key()))
	return &r.pairLocks[h.Sum32()%pairStripes]
}

func (r *Router) checkRecipient(ctx context.Context, from, to string) error {
	if to == "" || to == from {
		return fmt.Errorf("%w: %q", models.ErrInvalidRecipient, to)
	}
	if _, err := r.dir.GetUser(ctx, to); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: unknown user %s", models.ErrInvalidRecipient, to)
		}
		return fmt.Errorf("failed to look up recipient: %w", err)
	}
	return nil
}

// Send persists a message from one user to another and delivers it to every
// live session of both parties. Errors before persistence abort the send;
// delivery problems afterwards are only logged.
func (r *Router) Send(ctx context.Context, from models.Identity, to, text string) (models.Message, error) {
	if err := r.checkRecipient(ctx, from.UserID, to); err != nil {
		return models.Message{}, err
	}
	text, err := content.MessageText(text, r.maxText)
	if err != nil {
		return models.Message{}, err
	}

	pair := models.NewPair(from.UserID, to)
	lock := r.pairLock(pair)
	lock.Lock()
	defer lock.Unlock()

	msg, err := r.store.AppendMessage(ctx, models.Message{
		ID:         uuid.NewString(),
		FromUserID: from.UserID,
		ToUserID:   to,
		Text:       text,
		Timestamp:  r.now().UnixMilli(),
	})
	if err != nil {
		slog.Error("failed to persist message", "from", from.UserID, "to", to, "error", err)
		return models.Message{}, fmt.Errorf("%w: %w", models.ErrPersistenceFailure, err)
	}

	// The message is stored; the sender going away must not cut delivery short.
	ctx = context.WithoutCancel(ctx)
	frame := models.NewMessageFrame(msg, from.UserName)

	for _, s := range r.sessions.Lookup(from.UserID) {
		r.deliver(ctx, s, frame)
	}

	recipients := r.sessions.Lookup(to)
	if len(recipients) == 0 {
		r.notifyOffline(msg, from.UserName)
		return msg, nil
	}

	// Read every pointer once so the unread decision matches what is delivered.
	viewing := make([]bool, len(recipients))
	anyViewing := false
	for i, s := range recipients {
		viewing[i] = s.Active() == from.UserID
		anyViewing = anyViewing || viewing[i]
	}

	unread := 0
	if !anyViewing {
		unread = r.incrementUnread(to, from.UserID)
	}

	for i, s := range recipients {
		if viewing[i] {
			r.deliver(ctx, s, frame)
		} else {
			r.deliver(ctx, s, models.NewConversationUpdatedFrame(msg, from.UserName, unread))
		}
	}

	return msg, nil
}

func (r *Router) deliver(ctx context.Context, s *session.Session, frame models.ServerMessage) {
	if err := s.Send(ctx, frame); err != nil {
		slog.Warn("delivery failed", "conn_id", s.ID, "user_id", s.UserID, "type", frame.Type, "error", err)
	}
}

func (r *Router) notifyOffline(msg models.Message, fromName string) {
	if r.notifier == nil {
		return
	}
	n := notify.NewNotification(msg, fromName)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := r.notifier.Notify(ctx, n); err != nil {
			slog.Warn("offline notification failed", "user_id", n.RecipientID, "message_id", n.MessageID, "error", err)
		}
	}()
}

func (r *Router) incrementUnread(owner, peer string) int {
	tx := r.unread.Lock()
	defer tx.Unlock()
	counts, err := tx.Get(owner)
	if err != nil {
		counts = make(map[string]int)
		tx.Set(owner, counts)
	}
	counts[peer]++
	return counts[peer]
}

func (r *Router) clearUnread(owner, peer string) {
	tx := r.unread.Lock()
	defer tx.Unlock()
	counts, err := tx.Get(owner)
	if err != nil {
		return
	}
	delete(counts, peer)
	if len(counts) == 0 {
		_ = tx.Del(owner)
	}
}

// Unread returns a copy of the owner's unread counters keyed by peer.
func (r *Router) Unread(owner string) map[string]int {
	tx := r.unread.Lock()
	defer tx.Unlock()
	out := make(map[string]int)
	if counts, err := tx.Get(owner); err == nil {
		for peer, n := range counts {
			out[peer] = n
		}
	}
	return out
}

// SetActive points s at the conversation with peerID and marks it read.
// An empty peerID only clears the pointer.
func (r *Router) SetActive(s *session.Session, peerID string) {
	if peerID == "" || peerID == s.UserID {
		s.SetActive("")
		return
	}
	lock := r.pairLock(models.NewPair(s.UserID, peerID))
	lock.Lock()
	defer lock.Unlock()
	s.SetActive(peerID)
	r.clearUnread(s.UserID, peerID)
}

// GetHistory returns up to limit messages of the conversation with seq < before
// (0 means latest), oldest first.
func (r *Router) GetHistory(ctx context.Context, requester, peer string, limit int, before int64) ([]models.Message, error) {
	if requester == "" {
		return nil, models.ErrForbidden
	}
	if err := r.checkRecipient(ctx, requester, peer); err != nil {
		return nil, err
	}
	pair := models.NewPair(requester, peer)

	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	messages, err := r.store.ListMessages(ctx, pair, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return messages, nil
}
