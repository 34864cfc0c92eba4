package presence

import (
	"sort"
	"sync"
)

// Handle is the part of a connection the tracker needs: a stable unique id.
type Handle interface {
	ID() string
}

// Tracker is a thread-safe bidirectional map between connection handles and
// user ids.
type Tracker[H Handle] struct {
	mu     sync.RWMutex
	byConn map[string]string // connection id -> user id
	byUser map[string]H      // user id -> active handle
}

// New creates an empty Tracker.
func New[H Handle]() *Tracker[H] {
	return &Tracker[H]{
		byConn: make(map[string]string),
		byUser: make(map[string]H),
	}
}

// Register binds h to userID. If userID was bound to a different connection,
// that connection is unbound and returned with evicted=true. If h was bound
// to another user, that binding is dropped first.
func (t *Tracker[H]) Register(h H, userID string) (stale H, evicted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	connID := h.ID()
	if prevUser, ok := t.byConn[connID]; ok && prevUser != userID {
		delete(t.byConn, connID)
		if cur, ok := t.byUser[prevUser]; ok && cur.ID() == connID {
			delete(t.byUser, prevUser)
		}
	}

	if prev, ok := t.byUser[userID]; ok && prev.ID() != connID {
		delete(t.byConn, prev.ID())
		stale, evicted = prev, true
	}

	t.byConn[connID] = userID
	t.byUser[userID] = h
	return stale, evicted
}

// Unregister removes the binding of h. It returns the user id h was bound to
// and ok=false when h was not bound (never authenticated, or evicted).
func (t *Tracker[H]) Unregister(h H) (userID string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	connID := h.ID()
	userID, ok = t.byConn[connID]
	if !ok {
		return "", false
	}
	delete(t.byConn, connID)
	if cur, exists := t.byUser[userID]; exists && cur.ID() == connID {
		delete(t.byUser, userID)
	}
	return userID, true
}

// UserFor returns the user bound to h.
func (t *Tracker[H]) UserFor(h H) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	userID, ok := t.byConn[h.ID()]
	return userID, ok
}

// ConnectionFor returns the active connection of userID, for unicast delivery.
func (t *Tracker[H]) ConnectionFor(userID string) (H, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.byUser[userID]
	return h, ok
}

// IsOnline reports whether userID has an active connection.
func (t *Tracker[H]) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byUser[userID]
	return ok
}

// Online returns the ids of all online users, sorted.
func (t *Tracker[H]) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.byUser))
	for id := range t.byUser {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of online users.
func (t *Tracker[H]) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUser)
}
