package main

import (
	"errors"
	"sync"
)

// errDuplicateConn signals an invariant violation: connection ids are
// assigned once and never reused, so a second Add with the same id means
// the caller is broken, not the registry.
var errDuplicateConn = errors.New("duplicate connection id")

// Registry is the authoritative set of currently open, authenticated
// connections. A user index sits next to the primary map so fanout does
// not scan every connection. Every successful mutation invokes onChange
// with a roster snapshot and the connections it should reach, while the
// write lock is still held, so no announce can observe a half-applied
// mutation.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	byUser   map[string]map[string]*Connection
	onChange func(roster []Identity, conns []*Connection)
}

// NewRegistry creates an empty registry. onChange may be nil.
func NewRegistry(onChange func(roster []Identity, conns []*Connection)) *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		byUser:   make(map[string]map[string]*Connection),
		onChange: onChange,
	}
}

// Add admits an authenticated connection. The connection must carry an
// identity; unauthenticated connections are never admitted.
func (r *Registry) Add(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID]; exists {
		return errDuplicateConn
	}

	r.conns[conn.ID] = conn
	userConns, ok := r.byUser[conn.Identity.UserID]
	if !ok {
		userConns = make(map[string]*Connection)
		r.byUser[conn.Identity.UserID] = userConns
	}
	userConns[conn.ID] = conn

	r.notifyLocked()
	return nil
}

// Remove drops a connection from both maps. Removing an id that is not
// present is a no-op; teardown can race between the read loop and the
// heartbeat without a double announce.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.conns[connID]
	if !exists {
		return
	}

	delete(r.conns, connID)
	if userConns, ok := r.byUser[conn.Identity.UserID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(r.byUser, conn.Identity.UserID)
		}
	}

	r.notifyLocked()
}

// ConnectionsForUser returns a snapshot of the live connections
// authenticated as userID. Mutations after the call are not reflected.
func (r *Registry) ConnectionsForUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Connection, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	return conns
}

// Snapshot returns the current roster: one entry per online user,
// recomputed fresh on every call.
func (r *Registry) Snapshot() []Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rosterLocked()
}

// Connections returns a snapshot of every live connection.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) rosterLocked() []Identity {
	roster := make([]Identity, 0, len(r.byUser))
	for _, userConns := range r.byUser {
		for _, conn := range userConns {
			roster = append(roster, conn.Identity)
			break
		}
	}
	return roster
}

func (r *Registry) notifyLocked() {
	if r.onChange == nil {
		return
	}
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.onChange(r.rosterLocked(), conns)
}
