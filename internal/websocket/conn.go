package websocket

import "sync"

// Conn is the transport-side handle for one live connection. The realtime
// core references connections through this interface and never owns them; the
// transport layer (Client) creates and closes the underlying socket.
type Conn interface {
	// ID returns the stable connection identifier.
	ID() string

	// Send queues data for reliable delivery. Returns an error when the
	// client can no longer accept writes.
	Send(data []byte) error

	// SendBestEffort queues data if the client's buffer has room and
	// otherwise drops it. Used for low-priority global broadcasts that must
	// not wait for slow clients.
	SendBestEffort(data []byte) bool

	// Close tears down the underlying transport.
	Close()
}

// ConnTable indexes live connections by id.
type ConnTable struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// NewConnTable creates an empty table.
func NewConnTable() *ConnTable {
	return &ConnTable{conns: make(map[string]Conn)}
}

// Add registers a connection, replacing any previous entry with the same id.
func (t *ConnTable) Add(c Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[c.ID()] = c
}

// Remove drops a connection from the table.
func (t *ConnTable) Remove(connectionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, connectionID)
}

// Get resolves a connection by id.
func (t *ConnTable) Get(connectionID string) (Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[connectionID]
	return c, ok
}

// All returns a snapshot of every live connection.
func (t *ConnTable) All() []Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Conn, 0, len(t.conns))
	for _, c := range t.conns {
		out = append(out, c)
	}
	return out
}

// Len returns the number of live connections.
func (t *ConnTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}
