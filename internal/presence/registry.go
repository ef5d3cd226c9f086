// Package presence tracks which users currently have live WebSocket
// connections. The registry maps a user id to the set of its open connection
// ids; a user is online iff that set is non-empty. All state is in-memory and
// resets on process restart — every user starts offline until they reconnect.
package presence

import "sync"

// Registry is a goroutine-safe map from user id to the set of that user's
// open connection ids. An entry exists iff the user has at least one open
// connection; the entry is deleted the moment its set becomes empty, so the
// key set of the map is exactly the set of online users.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[string]struct{} // user_id -> set of conn ids
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[string]struct{}),
	}
}

// Add inserts connID into userID's connection set, creating the set if
// absent. It is idempotent for a repeated (userID, connID) pair. The first
// return value reports whether this call brought the user online (their set
// was previously absent).
func (r *Registry) Add(userID, connID string) (firstConn bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		set = make(map[string]struct{})
		r.users[userID] = set
	}
	set[connID] = struct{}{}
	return !ok
}

// Remove deletes connID from userID's connection set. It reports whether the
// connection was actually registered (removed) and whether its removal took
// the user offline (lastConn). Removing an unknown pair is a no-op.
func (r *Registry) Remove(userID, connID string) (removed, lastConn bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.users[userID]
	if !ok {
		return false, false
	}
	if _, ok := set[connID]; !ok {
		return false, false
	}
	delete(set, connID)
	if len(set) == 0 {
		// Never leave an empty set behind; the entry's existence is the
		// online indicator.
		delete(r.users, userID)
		return true, true
	}
	return true, false
}

// Snapshot returns the ids of all users with at least one open connection.
// The order is unspecified.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.users))
	for id := range r.users {
		users = append(users, id)
	}
	return users
}

// Online reports whether userID currently has at least one open connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	_, ok := r.users[userID]
	r.mu.RUnlock()
	return ok
}

// Connections returns the connection ids currently registered for userID.
// The returned slice is a copy and safe to iterate without holding the lock.
func (r *Registry) Connections(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.users[userID]
	if !ok {
		return nil
	}
	conns := make([]string, 0, len(set))
	for id := range set {
		conns = append(conns, id)
	}
	return conns
}

// CountUsers returns the number of users currently online.
func (r *Registry) CountUsers() int {
	r.mu.RLock()
	n := len(r.users)
	r.mu.RUnlock()
	return n
}
