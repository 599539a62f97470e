// Package session tracks live client sessions and detects conflicting
// logins across tabs and devices. The registry is advisory UX logic; the
// token layer stays the actual credential check, but revoking a session
// here invalidates its tokens because every token carries a session ID.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"lifeline.org/internal/ids"
)

// DefaultConflictWindow is how recently another session must have been
// seen to count as an active conflict.
const DefaultConflictWindow = 30 * time.Second

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionRevoked  = errors.New("session: revoked")
)

// Session is one logged-in tab or device. ClientID identifies the
// browser profile, so two tabs of the same browser share it.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
	Revoked   bool      `json:"revoked"`
}

// Invalidation is pushed to watchers of a session that was force-revoked.
type Invalidation struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// Registry is the in-memory session table with push-based invalidation.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	watchers map[string]map[int]chan Invalidation
	nextID   int
	window   time.Duration
	now      func() time.Time
}

// Option configures Registry.
type Option func(*Registry)

// WithWindow overrides the conflict recency window.
func WithWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		watchers: make(map[string]map[int]chan Invalidation),
		window:   DefaultConflictWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open registers a new session for the user on the given client.
func (r *Registry) Open(userID, clientID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	s := &Session{
		ID:        ids.New(),
		UserID:    userID,
		ClientID:  clientID,
		CreatedAt: now,
		LastSeen:  now,
	}
	r.sessions[s.ID] = s
	out := *s
	return &out
}

// Heartbeat refreshes the session's recency. Called on every
// authenticated request and on websocket pings.
func (r *Registry) Heartbeat(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Revoked {
		return ErrSessionRevoked
	}
	s.LastSeen = r.now().UTC()
	return nil
}

// Validate reports whether the session is still usable.
func (r *Registry) Validate(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Revoked {
		return ErrSessionRevoked
	}
	return nil
}

// Conflict reports whether another account has an active session on the
// same client within the recency window, returning the newest such session.
func (r *Registry) Conflict(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	own, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	cutoff := r.now().UTC().Add(-r.window)
	var newest *Session
	for _, s := range r.sessions {
		if s.ID == own.ID || s.Revoked {
			continue
		}
		if s.ClientID != own.ClientID || s.UserID == own.UserID {
			continue
		}
		if s.LastSeen.Before(cutoff) {
			continue
		}
		if newest == nil || s.LastSeen.After(newest.LastSeen) {
			cp := *s
			newest = &cp
		}
	}
	return newest, newest != nil
}

// ForceLogoutOthers revokes every other session on the same client and
// pushes an invalidation event to each. Returns how many were revoked.
func (r *Registry) ForceLogoutOthers(sessionID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	own, ok := r.sessions[sessionID]
	if !ok {
		return 0, ErrSessionNotFound
	}
	if own.Revoked {
		return 0, ErrSessionRevoked
	}
	var revoked int
	for _, s := range r.sessions {
		if s.ID == own.ID || s.Revoked || s.ClientID != own.ClientID {
			continue
		}
		s.Revoked = true
		revoked++
		r.pushLocked(s.ID, Invalidation{SessionID: s.ID, Reason: "forced-logout"})
	}
	return revoked, nil
}

// Revoke invalidates a single session (logout).
func (r *Registry) Revoke(sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if !s.Revoked {
		s.Revoked = true
		r.pushLocked(s.ID, Invalidation{SessionID: s.ID, Reason: "logout"})
	}
	return nil
}

// Watch returns a channel receiving invalidation events for the session.
// The channel is closed when the provided context ends.
func (r *Registry) Watch(ctx context.Context, sessionID string) <-chan Invalidation {
	ch := make(chan Invalidation, 1)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	if r.watchers[sessionID] == nil {
		r.watchers[sessionID] = make(map[int]chan Invalidation)
	}
	r.watchers[sessionID][id] = ch
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		if set, ok := r.watchers[sessionID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.watchers, sessionID)
			}
		}
		close(ch)
		r.mu.Unlock()
	}()

	return ch
}

func (r *Registry) pushLocked(sessionID string, evt Invalidation) {
	for _, ch := range r.watchers[sessionID] {
		select {
		case ch <- evt:
		default:
			// Drop when watcher is slow to avoid blocking.
		}
	}
}
