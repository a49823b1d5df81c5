package relay

import "sync"

// Presence maps logical user ids to live connection ids. At most one
// connection is recorded per user, last write wins; a stale entry is only
// reclaimed when its own connection goes away.
type Presence interface {
	Set(userID, connID string)
	Get(userID string) (string, bool)
	Remove(connID string)
}

// NewMemoryPresence returns a Presence backed by in-process maps, suitable
// for a single-instance deployment.
func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// MemoryPresence implements Presence with a pair of mutex-guarded maps.
type MemoryPresence struct {
	mu     sync.RWMutex
	byUser map[string]string
	byConn map[string]string
}

// Set records connID as the user's current connection, displacing any
// previous one.
func (p *MemoryPresence) Set(userID, connID string) {
	p.mu.Lock()
	p.byUser[userID] = connID
	p.byConn[connID] = userID
	p.mu.Unlock()
}

// Get returns the user's current connection id.
func (p *MemoryPresence) Get(userID string) (string, bool) {
	p.mu.RLock()
	connID, ok := p.byUser[userID]
	p.mu.RUnlock()
	return connID, ok
}

// Remove forgets the given connection. The user entry is only dropped when it
// still points at this connection, so a reconnected user is not logged out by
// their stale connection closing.
func (p *MemoryPresence) Remove(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.byConn[connID]
	if !ok {
		return
	}
	delete(p.byConn, connID)
	if p.byUser[userID] == connID {
		delete(p.byUser, userID)
	}
}
