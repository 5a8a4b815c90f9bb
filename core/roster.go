package core

import "sync"

// Connection is the relay's record of an active participant: the ephemeral
// binding of a role to a transport-session handle, plus the room the
// connection was placed into at join time.
type Connection struct {
	// ID is the transport-session handle. It is the only identity a
	// disconnect event reliably carries.
	ID     string
	Role   string
	RoomID string
}

// Roster maps each role to its current active connection. A role has at
// most one active connection; registering a role that is already present
// overwrites the previous record without closing the old transport
// (last join wins).
type Roster struct {
	byRole map[string]Connection
	mu     sync.RWMutex
}

func NewRoster() *Roster {
	return &Roster{byRole: make(map[string]Connection)}
}

// Register binds conn.Role to conn, superseding any previous connection for
// that role.
func (r *Roster) Register(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byRole[conn.Role] = conn
}

// Lookup returns the connection currently bound to role.
func (r *Roster) Lookup(role string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byRole[role]
	return conn, ok
}

// LookupByConn returns the record whose transport handle is connID.
// A connection that was superseded by a later join for the same role no
// longer resolves.
func (r *Roster) LookupByConn(connID string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.byRole {
		if conn.ID == connID {
			return conn, true
		}
	}
	return Connection{}, false
}

// UnregisterByConn removes the record whose transport handle is connID and
// returns it, so the caller can notify the remaining participant. Disconnect
// events only carry the handle, hence the reverse scan.
func (r *Roster) UnregisterByConn(connID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for role, conn := range r.byRole {
		if conn.ID == connID {
			delete(r.byRole, role)
			return conn, true
		}
	}
	return Connection{}, false
}
