// Package presence turns registry transitions into user_status pushes to contacts.
package presence

import (
	"context"
	"log/slog"
	"time"

	"duet/internal/models"
	"duet/internal/registry"
	"duet/internal/session"
)

const (
	storeTimeout = 2 * time.Second
	eventBuffer  = 1024
)

type ContactLister interface {
	ListContacts(ctx context.Context, userID string) ([]string, error)
}

type LastSeenRecorder interface {
	UpdateLastSeen(ctx context.Context, userID string, ts int64) error
}

type SessionLookup interface {
	Lookup(userID string) []*session.Session
}

// Mirror publishes online state to an external store.
type Mirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userID string) error
}

type Tracker struct {
	sessions SessionLookup
	contacts ContactLister
	lastSeen LastSeenRecorder
	mirror   Mirror
	now      func() time.Time

	events  chan registry.Event
	stopped chan struct{}
}

// NewTracker wires the tracker. lastSeen and mirror may be nil.
func NewTracker(sessions SessionLookup, contacts ContactLister, lastSeen LastSeenRecorder, mirror Mirror) *Tracker {
	return &Tracker{
		sessions: sessions,
		contacts: contacts,
		lastSeen: lastSeen,
		mirror:   mirror,
		now:      time.Now,
		events:   make(chan registry.Event, eventBuffer),
		stopped:  make(chan struct{}),
	}
}

// HandleEvent is a registry.Listener. It only queues the transition so store
// and mirror latency stays off the Register/Unregister path; Run applies the
// queue in order. Events arriving after Run has returned are dropped.
func (t *Tracker) HandleEvent(ev registry.Event) {
	select {
	case t.events <- ev:
	case <-t.stopped:
	}
}

// Run processes queued transitions until ctx is done, then applies whatever
// is still queued.
func (t *Tracker) Run(ctx context.Context) error {
	defer close(t.stopped)
	for {
		select {
		case ev := <-t.events:
			t.process(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-t.events:
					t.process(ev)
				default:
					return nil
				}
			}
		}
	}
}

// process never fails: every problem is logged.
func (t *Tracker) process(ev registry.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if t.mirror != nil {
		var err error
		if ev.Online {
			err = t.mirror.SetOnline(ctx, ev.UserID)
		} else {
			err = t.mirror.SetOffline(ctx, ev.UserID)
		}
		if err != nil {
			slog.Warn("presence mirror update failed", "user_id", ev.UserID, "online", ev.Online, "error", err)
		}
	}

	if !ev.Online && t.lastSeen != nil {
		if err := t.lastSeen.UpdateLastSeen(ctx, ev.UserID, t.now().Unix()); err != nil {
			slog.Warn("failed to record last seen", "user_id", ev.UserID, "error", err)
		}
	}

	t.broadcast(ctx, ev)
}

func (t *Tracker) broadcast(ctx context.Context, ev registry.Event) {
	contacts, err := t.contacts.ListContacts(ctx, ev.UserID)
	if err != nil {
		slog.Error("failed to list contacts", "user_id", ev.UserID, "error", err)
		return
	}

	frame := models.NewUserStatusFrame(ev.UserID, ev.UserName, ev.Online)
	for _, contactID := range contacts {
		if contactID == ev.UserID {
			continue
		}
		for _, s := range t.sessions.Lookup(contactID) {
			// A full queue drops the update instead of stalling other contacts.
			if err := s.TrySend(frame); err != nil {
				slog.Warn("presence push failed", "conn_id", s.ID, "user_id", contactID, "error", err)
			}
		}
	}
}

// Touch keeps the mirrored online state of a user alive.
func (t *Tracker) Touch(ctx context.Context, userID string) {
	if t.mirror == nil {
		return
	}
	if err := t.mirror.Refresh(ctx, userID); err != nil {
		slog.Warn("presence mirror refresh failed", "user_id", userID, "error", err)
	}
}
