package chat

import "sync"

// Conn is one live transport session as seen by the registry and room index.
// Both only hold references; the transport owns the connection's lifecycle.
type Conn interface {
	// ID returns the server-assigned connection identity.
	ID() string
	// Send enqueues an encoded frame without blocking. It reports false when
	// the connection is closed or cannot accept more frames.
	Send(frame []byte) bool
	// Close forcibly terminates the connection. It must be safe to call more
	// than once and must not call back into the registry.
	Close()
}

// Registry maps a user identity to its single live connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Conn   // user_id -> conn
	users    map[string]string // conn_id -> user_id
	agencies map[string]string // conn_id -> agency_id
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Conn),
		users:    make(map[string]string),
		agencies: make(map[string]string),
	}
}

// Bind registers c as the only session for userID. A different connection
// already bound to userID is closed and returned as evicted. bound is false
// when nothing changed hands: an empty user id, or a connection that already
// belongs to another user.
func (r *Registry) Bind(userID string, c Conn) (evicted Conn, bound bool) {
	if userID == "" || c == nil {
		return nil, false
	}

	r.mu.Lock()
	if owner, ok := r.users[c.ID()]; ok && owner != userID {
		r.mu.Unlock()
		return nil, false
	}

	prev := r.sessions[userID]
	if prev != nil && prev.ID() == c.ID() {
		r.mu.Unlock()
		return nil, true
	}

	r.sessions[userID] = c
	r.users[c.ID()] = userID
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return prev, true
}

// UnbindOnDisconnect forgets everything the registry knows about connID. The
// user's session is removed only while it still points at connID, so a late
// teardown of a superseded connection leaves the newer session alone.
func (r *Registry) UnbindOnDisconnect(connID string) (userID string, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.agencies, connID)

	userID, ok := r.users[connID]
	if !ok {
		return "", false
	}
	delete(r.users, connID)

	if cur, ok := r.sessions[userID]; ok && cur.ID() == connID {
		delete(r.sessions, userID)
		return userID, true
	}
	return userID, false
}

// TagAgency records the agency identity of connID. The tag is set once; a
// repeat with the same agency succeeds, a different one is refused.
func (r *Registry) TagAgency(connID, agencyID string) bool {
	if connID == "" || agencyID == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.agencies[connID]; ok {
		return cur == agencyID
	}
	r.agencies[connID] = agencyID
	return true
}

// Lookup returns the connection currently bound to userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[userID]
	return c, ok
}

// UserOf returns the user identity bound by connID, if any.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[connID]
	return u, ok
}

// AgencyOf returns the agency identity tagged on connID, if any.
func (r *Registry) AgencyOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agencies[connID]
	return a, ok
}

// Users returns a snapshot of the bound user ids.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.sessions))
	for userID := range r.sessions {
		users = append(users, userID)
	}
	return users
}

// Count returns the number of live user sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
