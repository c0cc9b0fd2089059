package websocket

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingHouse  = fmt.Errorf("house is required")
	ErrMissingPoints = fmt.Errorf("point delta is required and must be non-zero")
	ErrEmptyUpdate   = fmt.Errorf("no fields to update")
)

// Dispatcher resolves broadcast targets to connections and emits events. Its
// operations are independent and safe to call concurrently; each fails soft
// and reports undelivered targets as booleans rather than errors.
type Dispatcher struct {
	presence *PresenceRegistry
	rooms    *RoomSet
	conns    *ConnTable
	dedup    *RecencyCache
	batcher  *Batcher
	opts     Options

	now func() time.Time
}

// NewDispatcher wires a dispatcher over the shared registries.
func NewDispatcher(presence *PresenceRegistry, rooms *RoomSet, conns *ConnTable, dedup *RecencyCache, opts Options) *Dispatcher {
	d := &Dispatcher{
		presence: presence,
		rooms:    rooms,
		conns:    conns,
		dedup:    dedup,
		opts:     opts,
		now:      time.Now,
	}
	d.batcher = NewBatcher(opts.MaxBatchSize, opts.BatchTimeout, dedup, opts.NotificationDedupWindow, d.emitBatch)
	return d
}

// Batcher exposes the per-room notification batcher.
func (d *Dispatcher) Batcher() *Batcher {
	return d.batcher
}

// emitBatch delivers a flushed batch as a single payload to the room.
func (d *Dispatcher) emitBatch(room string, batch []*Notification) {
	payload := NotificationBatchPayload{
		Notifications: make([]NotificationPayload, 0, len(batch)),
		Count:         len(batch),
		Timestamp:     wireTime(d.now()),
	}
	for _, n := range batch {
		payload.Notifications = append(payload.Notifications, n.Payload())
	}
	data, err := Event{Kind: EventNotificationBatch, Data: payload}.Encode()
	if err != nil {
		slog.Error("failed to encode notification batch", "room", room, "error", err)
		return
	}
	d.rooms.Broadcast(room, data)
}

// EnqueueNotification hands a generic notification to the per-room batcher.
// Delivery happens on the next flush.
func (d *Dispatcher) EnqueueNotification(room string, n *Notification) {
	d.batcher.Enqueue(room, n)
}

// NotifyUser unicasts an event to a user's current connection. Returns false
// when the user has no live connection (undelivered; the caller decides
// whether to persist a pending-sync marker). With skipIfAdmin set, admins are
// silently suppressed and the call counts as handled.
func (d *Dispatcher) NotifyUser(userID string, ev Event, skipIfAdmin bool) bool {
	rec, ok := d.presence.Record(userID)
	if !ok || !rec.Online {
		return false
	}
	if skipIfAdmin && rec.IsAdmin {
		return true
	}
	connID, ok := d.presence.LookupConnection(userID)
	if !ok {
		return false
	}
	conn, ok := d.conns.Get(connID)
	if !ok {
		return false
	}
	data, err := ev.Encode()
	if err != nil {
		slog.Error("failed to encode event", "kind", ev.Kind, "error", err)
		return false
	}
	if err := conn.Send(data); err != nil {
		slog.Debug("unicast failed", "userID", userID, "connectionID", connID, "error", err)
		return false
	}
	return true
}

// SendUserNotification unicasts a single notification to a user.
func (d *Dispatcher) SendUserNotification(userID string, n *Notification, skipIfAdmin bool) bool {
	return d.NotifyUser(userID, Event{Kind: EventNotification, Data: n.Payload()}, skipIfAdmin)
}

// NotifyHouse emits an event to a house room. Without skipAdmins this is a
// single group send regardless of membership size. With skipAdmins the
// connected non-admin members are enumerated and delivered per the fan-out
// policy: small sets are unicast, larger ones go through a short-lived
// ephemeral room so per-socket overhead stays bounded. Returns the delivery
// count.
func (d *Dispatcher) NotifyHouse(house string, ev Event, skipAdmins bool) (int, error) {
	if house == "" {
		return 0, ErrMissingHouse
	}
	data, err := ev.Encode()
	if err != nil {
		return 0, err
	}

	if !skipAdmins {
		return d.rooms.Broadcast(HouseRoom(house), data), nil
	}

	recipients := d.nonAdminMembers(HouseRoom(house))
	if len(recipients) == 0 {
		return 0, nil
	}
	if len(recipients) <= d.opts.UnicastThreshold {
		delivered := 0
		for _, c := range recipients {
			if err := c.Send(data); err != nil {
				slog.Debug("house unicast failed", "house", house, "connectionID", c.ID(), "error", err)
				continue
			}
			delivered++
		}
		return delivered, nil
	}
	return d.ephemeralMulticast(recipients, data), nil
}

// nonAdminMembers filters a room down to connections whose authenticated
// identity is not an admin.
func (d *Dispatcher) nonAdminMembers(room string) []Conn {
	members := d.rooms.Members(room)
	out := make([]Conn, 0, len(members))
	for _, c := range members {
		userID, ok := d.presence.UserForConnection(c.ID())
		if !ok {
			continue
		}
		if rec, ok := d.presence.Record(userID); ok && rec.IsAdmin {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ephemeralMulticast creates a temporary room for an ad hoc recipient set,
// multicasts once, and tears the room down after a short delay so group
// membership state does not leak. The teardown timer is idempotent; the room
// may already be gone.
func (d *Dispatcher) ephemeralMulticast(recipients []Conn, data []byte) int {
	room := ephemeralPrefix + uuid.NewString()
	for _, c := range recipients {
		d.rooms.Join(room, c)
	}
	delivered := d.rooms.Broadcast(room, data)
	time.AfterFunc(d.opts.EphemeralRoomTTL, func() {
		d.rooms.Drop(room)
	})
	slog.Debug("ephemeral multicast", "room", room, "recipients", len(recipients), "delivered", delivered)
	return delivered
}

// BroadcastHousePoints deduplicates and fans out a point change to a house.
// Criteria and level are parsed out of the free-text reason when not supplied
// explicitly. Returns true when the call was handled, including the case
// where an identical broadcast inside the dedup window suppressed delivery.
func (d *Dispatcher) BroadcastHousePoints(house string, points, newTotal int, reason string, skipAdmins bool, criteria, level string) (bool, error) {
	if house == "" {
		return false, ErrMissingHouse
	}
	if points == 0 {
		return false, ErrMissingPoints
	}

	if d.dedup.ShouldSuppress(HousePointsKey(house, points, reason), d.opts.PointDedupWindow) {
		slog.Debug("duplicate house points broadcast suppressed", "house", house, "points", points)
		return true, nil
	}

	if criteria == "" && level == "" {
		criteria, level = ParseCriteriaLevel(reason)
	}

	n := NewHousePointsNotification(house, points, newTotal, reason, criteria, level, d.now())
	ev := Event{Kind: EventHousePoints, Data: n.housePointsWire(skipAdmins)}
	delivered, err := d.NotifyHouse(house, ev, skipAdmins)
	if err != nil {
		return false, err
	}
	slog.Info("house points broadcast", "house", house, "points", points, "newTotal", newTotal, "delivered", delivered, "skipAdmins", skipAdmins)
	return true, nil
}

// Fields whose change makes a user update high priority.
func highPriorityField(name string) bool {
	switch name {
	case "house", "points", "magicPoints", "needsSync":
		return true
	}
	return false
}

// UpdateUserFields unicasts a partial user record update. Null fields are
// stripped; an update touching house, points or the sync flag is tagged high
// priority. Returns false when nothing could be delivered.
func (d *Dispatcher) UpdateUserFields(userID string, fields map[string]interface{}) (bool, error) {
	clean := make(map[string]interface{}, len(fields))
	priority := PriorityDefault
	for name, v := range fields {
		if v == nil {
			continue
		}
		clean[name] = v
		if highPriorityField(name) {
			priority = PriorityHigh
		}
	}
	if len(clean) == 0 {
		return false, ErrEmptyUpdate
	}

	ev := Event{Kind: EventUserUpdate, Data: UserUpdatePayload{
		UpdatedFields: clean,
		Timestamp:     wireTime(d.now()),
		Priority:      priority,
	}}
	return d.NotifyUser(userID, ev, false), nil
}

// BroadcastAll emits an event to every live connection. Low-priority payloads
// use best-effort delivery and are dropped for clients whose buffers are
// full; anything else is delivered reliably. Returns the delivery count.
func (d *Dispatcher) BroadcastAll(ev Event, lowPriority bool) int {
	data, err := ev.Encode()
	if err != nil {
		slog.Error("failed to encode broadcast", "kind", ev.Kind, "error", err)
		return 0
	}
	delivered := 0
	for _, c := range d.conns.All() {
		if lowPriority {
			if c.SendBestEffort(data) {
				delivered++
			}
			continue
		}
		if err := c.Send(data); err != nil {
			slog.Debug("broadcast send failed", "connectionID", c.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// NotifyAdmins emits an event to the admin room.
func (d *Dispatcher) NotifyAdmins(ev Event) (int, error) {
	data, err := ev.Encode()
	if err != nil {
		return 0, err
	}
	return d.rooms.Broadcast(RoomAdmin, data), nil
}

// GetOnlineUsers returns online users, optionally filtered by house.
func (d *Dispatcher) GetOnlineUsers(houseFilter string) []OnlineUser {
	return d.presence.OnlineUsers(houseFilter)
}
