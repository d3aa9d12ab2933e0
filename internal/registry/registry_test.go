package registry

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"duet/internal/models"
	"duet/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func newSession(userID string) *session.Session {
	return session.New(models.Identity{UserID: userID, UserName: "name-" + userID}, session.Config{
		Buffer:      1,
		SendTimeout: time.Millisecond,
	})
}

func TestPresenceTransitions(t *testing.T) {
	r := New()
	rec := &recorder{}
	r.AddListener(rec.listen)

	tab1 := newSession("alice")
	tab2 := newSession("alice")

	assert.True(t, r.Register(tab1))
	assert.False(t, r.Register(tab2))
	assert.False(t, r.Register(tab1), "registering twice is a no-op")
	assert.True(t, r.Online("alice"))
	assert.Equal(t, 2, r.Count())
	assert.Len(t, r.Lookup("alice"), 2)

	assert.False(t, r.Unregister(tab1))
	assert.True(t, r.Online("alice"))
	assert.True(t, r.Unregister(tab2))
	assert.False(t, r.Online("alice"))
	assert.Nil(t, r.Lookup("alice"))

	assert.False(t, r.Unregister(tab2), "double unregister is a no-op")

	events := rec.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, Event{UserID: "alice", UserName: "name-alice", Online: true}, events[0])
	assert.Equal(t, Event{UserID: "alice", UserName: "name-alice", Online: false}, events[1])
}

func TestConcurrentUnregisterIsExactlyOnce(t *testing.T) {
	r := New()
	var offline atomic.Int32
	r.AddListener(func(ev Event) {
		if !ev.Online {
			offline.Add(1)
		}
	})

	s := newSession("bob")
	r.Register(s)

	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			r.Unregister(s)
		})
	}
	wg.Wait()

	assert.EqualValues(t, 1, offline.Load())
	assert.Equal(t, 0, r.Count())
}

func TestEventsAlternateUnderChurn(t *testing.T) {
	r := New()
	rec := &recorder{}
	r.AddListener(rec.listen)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 50 {
				s := newSession("carol")
				r.Register(s)
				r.Unregister(s)
			}
		})
	}
	wg.Wait()

	events := rec.snapshot()
	require.NotEmpty(t, events)
	for i, ev := range events {
		assert.Equal(t, i%2 == 0, ev.Online, "event %d out of order", i)
	}
	assert.False(t, events[len(events)-1].Online)
	assert.False(t, r.Online("carol"))
}

func TestListenerMayQueryRegistry(t *testing.T) {
	r := New()
	var seen []bool
	r.AddListener(func(ev Event) {
		seen = append(seen, r.Online(ev.UserID))
	})

	s := newSession("dave")
	r.Register(s)
	r.Unregister(s)

	assert.Equal(t, []bool{true, false}, seen)
}

func TestGetAndOnlineUsers(t *testing.T) {
	r := New()
	a := newSession("a")
	b := newSession("b")
	r.Register(a)
	r.Register(b)

	got, ok := r.Get(a.ID)
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"a", "b"}, r.OnlineUsers())
}

func TestCloseAll(t *testing.T) {
	r := New()
	a := newSession("a")
	b := newSession("b")
	r.Register(a)
	r.Register(b)

	r.CloseAll(1001, "shutdown")

	for _, s := range []*session.Session{a, b} {
		select {
		case <-s.Done():
		default:
			t.Fatalf("session %s not closed", s.ID)
		}
		code, text := s.CloseReason()
		assert.Equal(t, 1001, code)
		assert.Equal(t, "shutdown", text)
	}
}
