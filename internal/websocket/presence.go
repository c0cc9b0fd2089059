package websocket

import (
	"log/slog"
	"sync"
	"time"
)

// PresenceRecord tracks online/offline state for one user identity. A record
// is created on first authentication and survives disconnects until the
// reaper drops it after the offline retention window.
type PresenceRecord struct {
	UserID      string
	Username    string
	House       string
	IsAdmin     bool
	Online      bool
	LastSeen    time.Time
	ConnectedAt time.Time
}

// PresenceRegistry maps user identities to live connections. Invariant: a
// record with Online == true has a matching entry in the connection index;
// the reaper demotes records whose connection went silent.
type PresenceRegistry struct {
	mu      sync.RWMutex
	records map[string]*PresenceRecord
	byUser  map[string]string // userID -> connectionID, most recent auth wins
	byConn  map[string]string // connectionID -> userID

	now func() time.Time
}

// NewPresenceRegistry creates an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		records: make(map[string]*PresenceRecord),
		byUser:  make(map[string]string),
		byConn:  make(map[string]string),
		now:     time.Now,
	}
}

// Authenticate registers or overwrites the presence record and connection
// index entry for userID. Re-authentication replaces the prior connection
// mapping; the superseded connection is orphaned, not closed, and its pending
// disconnect timers become no-ops because MarkOffline re-validates the
// mapping.
func (p *PresenceRegistry) Authenticate(userID, username, house string, isAdmin bool, connectionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if prev, ok := p.byUser[userID]; ok && prev != connectionID {
		delete(p.byConn, prev)
		slog.Debug("superseding previous connection", "userID", userID, "previous", prev, "current", connectionID)
	}
	p.byUser[userID] = connectionID
	p.byConn[connectionID] = userID

	rec, ok := p.records[userID]
	if !ok {
		rec = &PresenceRecord{UserID: userID}
		p.records[userID] = rec
	}
	rec.Username = username
	rec.House = house
	rec.IsAdmin = isAdmin
	rec.Online = true
	rec.LastSeen = now
	rec.ConnectedAt = now
}

// Heartbeat updates lastSeen for a known user. Unknown identities are
// ignored: an unauthenticated heartbeat is never trusted.
func (p *PresenceRegistry) Heartbeat(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rec, ok := p.records[userID]; ok {
		rec.LastSeen = p.now()
	}
}

// MarkOffline transitions the owning user to offline, but only if
// connectionID still matches the current index entry. A disconnect event from
// a connection that has since been superseded by a newer session must not
// clobber that session. Returns the affected userID and whether a transition
// happened.
func (p *PresenceRegistry) MarkOffline(connectionID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	userID, ok := p.byConn[connectionID]
	if !ok || p.byUser[userID] != connectionID {
		return "", false
	}
	delete(p.byConn, connectionID)
	delete(p.byUser, userID)

	rec, ok := p.records[userID]
	if !ok {
		return "", false
	}
	rec.Online = false
	rec.LastSeen = p.now()
	return userID, true
}

// IsOnline reports whether the user currently has a live connection mapping.
func (p *PresenceRegistry) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.records[userID]
	return ok && rec.Online
}

// LookupConnection resolves the current connection id for a user.
func (p *PresenceRegistry) LookupConnection(userID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	id, ok := p.byUser[userID]
	return id, ok
}

// UserForConnection resolves the owning userID for a connection id.
func (p *PresenceRegistry) UserForConnection(connectionID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	userID, ok := p.byConn[connectionID]
	return userID, ok
}

// Record returns a copy of the user's presence record.
func (p *PresenceRegistry) Record(userID string) (PresenceRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rec, ok := p.records[userID]
	if !ok {
		return PresenceRecord{}, false
	}
	return *rec, true
}

// SetHouse updates the recorded house for a user, returning the previous
// value. No-op for unknown identities.
func (p *PresenceRegistry) SetHouse(userID, house string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.records[userID]
	if !ok {
		return "", false
	}
	old := rec.House
	rec.House = house
	return old, true
}

// OnlineUsers returns a snapshot of online users, optionally filtered by
// house.
func (p *PresenceRegistry) OnlineUsers(houseFilter string) []OnlineUser {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users := make([]OnlineUser, 0, len(p.byUser))
	for _, rec := range p.records {
		if !rec.Online {
			continue
		}
		if houseFilter != "" && rec.House != houseFilter {
			continue
		}
		users = append(users, OnlineUser{
			UserID:   rec.UserID,
			Username: rec.Username,
			House:    rec.House,
			LastSeen: wireTime(rec.LastSeen),
		})
	}
	return users
}

// Demotion identifies one stale record turned offline by a sweep.
type Demotion struct {
	UserID       string
	ConnectionID string
}

// Sweep demotes online records silent beyond silence to offline, removing
// their connection index entries, and deletes records offline beyond
// retention. At most limit records are touched per call so a large presence
// table cannot stall a reaper tick.
func (p *PresenceRegistry) Sweep(silence, retention time.Duration, limit int) (demoted []Demotion, deleted int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	touched := 0
	for userID, rec := range p.records {
		if limit > 0 && touched >= limit {
			break
		}
		switch {
		case rec.Online && now.Sub(rec.LastSeen) > silence:
			rec.Online = false
			if connID, ok := p.byUser[userID]; ok {
				delete(p.byUser, userID)
				delete(p.byConn, connID)
				demoted = append(demoted, Demotion{UserID: userID, ConnectionID: connID})
			}
			touched++
		case !rec.Online && now.Sub(rec.LastSeen) > retention:
			delete(p.records, userID)
			deleted++
			touched++
		}
	}
	return demoted, deleted
}

// Len returns the number of known presence records.
func (p *PresenceRegistry) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}
