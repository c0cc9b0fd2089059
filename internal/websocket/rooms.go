package websocket

import (
	"log/slog"
	"strings"
	"sync"
)

// Well-known room names. House rooms are prefixed so a house can never
// collide with a reserved room.
const (
	RoomAdmin         = "admin"
	RoomStudent       = "student"
	RoomSystemUpdates = "system-updates"

	housePrefix     = "house:"
	ephemeralPrefix = "ephemeral:"
)

// Houses a user can belong to. "admin" doubles as a house in legacy data.
var validHouses = map[string]bool{
	"gryffindor": true,
	"slytherin":  true,
	"ravenclaw":  true,
	"hufflepuff": true,
	"muggle":     true,
	"admin":      true,
}

// ValidHouse reports whether name is a known house.
func ValidHouse(name string) bool {
	return validHouses[strings.ToLower(name)]
}

// HouseRoom returns the broadcast room name for a house.
func HouseRoom(house string) string {
	return housePrefix + strings.ToLower(house)
}

// RoomSet binds connections to broadcast groups. Membership is not
// persisted; it is rebuilt from authentication events after a restart.
type RoomSet struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Conn // room -> connectionID -> Conn
}

// NewRoomSet creates an empty room set.
func NewRoomSet() *RoomSet {
	return &RoomSet{rooms: make(map[string]map[string]Conn)}
}

// Join adds a connection to a room. Idempotent: joining twice leaves a single
// membership.
func (r *RoomSet) Join(room string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		r.rooms[room] = members
	}
	members[c.ID()] = c
}

// Leave removes a connection from a room. Idempotent; empty rooms are
// dropped.
func (r *RoomSet) Leave(room, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, connectionID)
}

// LeaveAll removes a connection from every room it belongs to.
func (r *RoomSet) LeaveAll(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.rooms {
		r.leaveLocked(room, connectionID)
	}
}

func (r *RoomSet) leaveLocked(room, connectionID string) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Drop removes a room and all its memberships. Used to tear down ephemeral
// rooms; safe to call on a room that is already gone.
func (r *RoomSet) Drop(room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, room)
}

// Members returns a snapshot of the connections in a room.
func (r *RoomSet) Members(room string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Contains reports whether a connection is a member of a room.
func (r *RoomSet) Contains(room, connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	_, ok = members[connectionID]
	return ok
}

// Count returns the membership size of a room.
func (r *RoomSet) Count(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Broadcast sends data to every member of a room. A failed send drops only
// that member's delivery; the transport handles closing broken connections.
// Returns the number of successful deliveries.
func (r *RoomSet) Broadcast(room string, data []byte) int {
	delivered := 0
	for _, c := range r.Members(room) {
		if err := c.Send(data); err != nil {
			slog.Debug("room send failed", "room", room, "connectionID", c.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}
