// Package registry tracks live sessions per user and is the source of truth
// for who is online.
package registry

import (
	"sync"

	"duet/internal/session"
)

// Event reports a user's 0->1 or 1->0 connection transition.
type Event struct {
	UserID   string
	UserName string
	Online   bool
}

type Listener func(Event)

type Registry struct {
	mu        sync.RWMutex
	byUser    map[string]map[string]*session.Session
	byConn    map[string]*session.Session
	listeners []Listener

	// Transitions are numbered under mu and delivered strictly in that order.
	nextTicket uint64
	emitMu     sync.Mutex
	emitCond   *sync.Cond
	turn       uint64
}

func New() *Registry {
	r := &Registry{
		byUser: make(map[string]map[string]*session.Session),
		byConn: make(map[string]*session.Session),
	}
	r.emitCond = sync.NewCond(&r.emitMu)
	return r
}

// AddListener must be called before the registry is used.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Register adds s to its user's set. It reports whether the user came online.
// Registering the same session twice is a no-op.
func (r *Registry) Register(s *session.Session) bool {
	r.mu.Lock()
	if _, ok := r.byConn[s.ID]; ok {
		r.mu.Unlock()
		return false
	}
	conns, ok := r.byUser[s.UserID]
	if !ok {
		conns = make(map[string]*session.Session)
		r.byUser[s.UserID] = conns
	}
	conns[s.ID] = s
	r.byConn[s.ID] = s

	transitioned := len(conns) == 1
	var ticket uint64
	if transitioned {
		ticket = r.takeTicket()
	}
	listeners := r.listeners
	r.mu.Unlock()

	if transitioned {
		r.emit(ticket, listeners, Event{UserID: s.UserID, UserName: s.UserName, Online: true})
	}
	return transitioned
}

// Unregister removes s. Only the first call for a session has an effect; it
// reports whether the user went offline.
func (r *Registry) Unregister(s *session.Session) bool {
	r.mu.Lock()
	if _, ok := r.byConn[s.ID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byConn, s.ID)

	conns := r.byUser[s.UserID]
	delete(conns, s.ID)
	transitioned := len(conns) == 0
	var ticket uint64
	if transitioned {
		delete(r.byUser, s.UserID)
		ticket = r.takeTicket()
	}
	listeners := r.listeners
	r.mu.Unlock()

	if transitioned {
		r.emit(ticket, listeners, Event{UserID: s.UserID, UserName: s.UserName, Online: false})
	}
	return transitioned
}

func (r *Registry) takeTicket() uint64 {
	t := r.nextTicket
	r.nextTicket++
	return t
}

func (r *Registry) emit(ticket uint64, listeners []Listener, ev Event) {
	r.emitMu.Lock()
	for r.turn != ticket {
		r.emitCond.Wait()
	}
	r.emitMu.Unlock()

	for _, l := range listeners {
		l(ev)
	}

	r.emitMu.Lock()
	r.turn++
	r.emitCond.Broadcast()
	r.emitMu.Unlock()
}

// Lookup returns a snapshot of the user's live sessions.
func (r *Registry) Lookup(userID string) []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]*session.Session, 0, len(conns))
	for _, s := range conns {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Get(connID string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[connID]
	return s, ok
}

func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	return users
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// CloseAll asks every session to close. Sessions unregister themselves as
// their connections wind down.
func (r *Registry) CloseAll(code int, text string) {
	r.mu.RLock()
	all := make([]*session.Session, 0, len(r.byConn))
	for _, s := range r.byConn {
		all = append(all, s)
	}
	r.mu.RUnlock()

	for _, s := range all {
		s.Close(code, text)
	}
}
