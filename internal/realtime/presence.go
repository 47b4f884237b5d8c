package realtime

import (
	"context"
	"sync"
)

// Notifier observes a user's online/offline transitions: online when the
// first session registers, offline when the last one unregisters.
// Implemented by directory.Service.
type Notifier interface {
	UserOnline(ctx context.Context, userID uint64)
	UserOffline(ctx context.Context, userID uint64)
}

// Router tracks which sessions are live for each user. It is the only
// shared in-memory structure of the live layer and must stay safe under
// concurrent connect/disconnect from unrelated users. Events for a user
// with no sessions are simply dropped; offline recipients catch up by
// fetching history.
type Router struct {
	mu       sync.RWMutex
	sessions map[string]Session
	byUser   map[uint64]map[string]Session
	notifier Notifier
}

func NewRouter(notifier Notifier) *Router {
	return &Router{
		sessions: make(map[string]Session),
		byUser:   make(map[uint64]map[string]Session),
		notifier: notifier,
	}
}

// Register adds a session on connect. The first session of a user flips
// them online.
func (r *Router) Register(ctx context.Context, s Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	set := r.byUser[s.UserID()]
	first := len(set) == 0
	if set == nil {
		set = make(map[string]Session)
		r.byUser[s.UserID()] = set
	}
	set[s.ID()] = s
	r.mu.Unlock()

	if first && r.notifier != nil {
		r.notifier.UserOnline(ctx, s.UserID())
	}
}

// Unregister removes a session on disconnect and reports whether it was the
// user's last one. The last removal flips the user offline.
func (r *Router) Unregister(ctx context.Context, s Session) bool {
	r.mu.Lock()
	if _, ok := r.sessions[s.ID()]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, s.ID())
	set := r.byUser[s.UserID()]
	delete(set, s.ID())
	last := len(set) == 0
	if last {
		delete(r.byUser, s.UserID())
	}
	r.mu.Unlock()

	if last && r.notifier != nil {
		r.notifier.UserOffline(ctx, s.UserID())
	}
	return last
}

// SessionsOf returns a snapshot of the user's live sessions. Empty means
// the user is offline.
func (r *Router) SessionsOf(userID uint64) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// NotifyUser delivers payload to every live session of the user and returns
// how many sessions accepted it.
func (r *Router) NotifyUser(userID uint64, payload []byte) int {
	delivered := 0
	for _, s := range r.SessionsOf(userID) {
		if err := s.Send(payload); err == nil {
			delivered++
		}
	}
	return delivered
}

// Close terminates every tracked session and clears router state. Every
// user with a live session is flipped offline here: the read loops observe
// the close afterwards and their Unregister calls no-op.
func (r *Router) Close(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	users := make([]uint64, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	r.sessions = make(map[string]Session)
	r.byUser = make(map[uint64]map[string]Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(1001, "server shutdown")
	}
	if r.notifier != nil {
		for _, id := range users {
			r.notifier.UserOffline(ctx, id)
		}
	}
}
