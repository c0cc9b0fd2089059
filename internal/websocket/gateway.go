package websocket

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StatusMirror replicates online/offline transitions to an external store so
// collaborators outside this process can read presence. Calls are best
// effort; a mirror failure never affects in-memory state.
type StatusMirror interface {
	SetUserOnline(ctx context.Context, userID string) error
	SetUserOffline(ctx context.Context, userID string) error
}

// Gateway is the function-call boundary between the realtime core and the
// rest of the application. Inbound transport events come in through the On*
// handlers; route handlers and admin actions use the outbound methods. Every
// handler recovers internally: a failure is logged and answered with a safe
// false or an error notification, never a crash of the process.
type Gateway struct {
	presence   *PresenceRegistry
	rooms      *RoomSet
	conns      *ConnTable
	dispatcher *Dispatcher
	mirror     StatusMirror
	opts       Options

	now func() time.Time
}

// NewGateway wires the inbound surface over the shared registries. mirror may
// be nil.
func NewGateway(presence *PresenceRegistry, rooms *RoomSet, conns *ConnTable, dispatcher *Dispatcher, mirror StatusMirror, opts Options) *Gateway {
	return &Gateway{
		presence:   presence,
		rooms:      rooms,
		conns:      conns,
		dispatcher: dispatcher,
		mirror:     mirror,
		opts:       opts,
		now:        time.Now,
	}
}

// Dispatcher exposes the outbound broadcast operations.
func (g *Gateway) Dispatcher() *Dispatcher {
	return g.dispatcher
}

// recoverHandler converts a handler panic into a logged failure. The event
// loop must survive any single bad event.
func recoverHandler(handler string, ok *bool) {
	if r := recover(); r != nil {
		slog.Error("handler panic recovered", "handler", handler, "panic", r)
		if ok != nil {
			*ok = false
		}
	}
}

// OnConnect registers a freshly upgraded connection. The connection carries
// no identity until OnAuthenticate.
func (g *Gateway) OnConnect(c Conn) {
	defer recoverHandler("OnConnect", nil)

	g.conns.Add(c)
	slog.Debug("connection established", "connectionID", c.ID())
}

// OnAuthenticate binds a pre-validated identity to a connection and joins the
// relevant rooms. Re-authentication for the same user replaces the prior
// connection mapping; the orphaned connection is not force-closed, its
// pending timers re-validate mappings and fall out as no-ops.
func (g *Gateway) OnAuthenticate(connectionID, userID, house, username string, isAdmin bool) (ok bool) {
	defer recoverHandler("OnAuthenticate", &ok)

	if userID == "" {
		return false
	}
	c, found := g.conns.Get(connectionID)
	if !found {
		slog.Warn("authenticate for unknown connection", "connectionID", connectionID, "userID", userID)
		return false
	}

	isAdmin = isAdmin || g.opts.IsAdminUser(username) || strings.EqualFold(house, "admin")
	g.presence.Authenticate(userID, username, house, isAdmin, connectionID)

	if house != "" && ValidHouse(house) {
		g.rooms.Join(HouseRoom(house), c)
	}
	role := RoomStudent
	if isAdmin {
		role = RoomAdmin
	}
	g.rooms.Join(role, c)
	g.rooms.Join(RoomSystemUpdates, c)

	if g.mirror != nil {
		if err := g.mirror.SetUserOnline(context.Background(), userID); err != nil {
			slog.Warn("presence mirror update failed", "userID", userID, "error", err)
		}
	}
	slog.Info("user authenticated", "userID", userID, "username", username, "house", house, "isAdmin", isAdmin, "connectionID", connectionID)
	return true
}

// OnHeartbeat refreshes lastSeen for a known user. Heartbeats from unknown
// identities are dropped without error.
func (g *Gateway) OnHeartbeat(userID string) {
	defer recoverHandler("OnHeartbeat", nil)
	g.presence.Heartbeat(userID)
}

// OnHouseChangeRequest moves a connected user between house rooms and pushes
// the change to them. Leaving the old room strictly before joining the new
// one guarantees the client cannot receive the same broadcast through both
// rooms. Missing newHouse is malformed input: no state is mutated and the
// caller's connection gets an error notification.
func (g *Gateway) OnHouseChangeRequest(userID, oldHouse, newHouse string, ts time.Time) (ok bool) {
	defer recoverHandler("OnHouseChangeRequest", &ok)

	if newHouse == "" || !ValidHouse(newHouse) {
		g.sendErrorToUser(userID, "invalid house: "+newHouse)
		return false
	}

	prev, known := g.presence.SetHouse(userID, newHouse)
	if !known {
		return false
	}
	if oldHouse == "" {
		oldHouse = prev
	}

	if connID, online := g.presence.LookupConnection(userID); online {
		if c, found := g.conns.Get(connID); found {
			if oldHouse != "" {
				g.rooms.Leave(HouseRoom(oldHouse), connID)
			}
			g.rooms.Join(HouseRoom(newHouse), c)
		}
	}

	if ts.IsZero() {
		ts = g.now()
	}
	delivered, err := g.dispatcher.UpdateUserFields(userID, map[string]interface{}{
		"house":     newHouse,
		"timestamp": wireTime(ts),
	})
	if err != nil {
		return false
	}
	slog.Info("house changed", "userID", userID, "from", oldHouse, "to", newHouse)
	return delivered
}

// OnDisconnect removes the connection from all rooms immediately but defers
// the offline transition by the grace window, so a page refresh does not flap
// presence. The deferred commit re-checks that the connection id still owns
// the user's index entry before acting.
func (g *Gateway) OnDisconnect(connectionID, reason string) {
	defer recoverHandler("OnDisconnect", nil)

	g.conns.Remove(connectionID)
	g.rooms.LeaveAll(connectionID)
	slog.Debug("connection closed", "connectionID", connectionID, "reason", reason)

	time.AfterFunc(g.opts.OfflineGrace, func() {
		userID, transitioned := g.presence.MarkOffline(connectionID)
		if !transitioned {
			return
		}
		slog.Info("user offline", "userID", userID, "connectionID", connectionID)
		if g.mirror != nil {
			if err := g.mirror.SetUserOffline(context.Background(), userID); err != nil {
				slog.Warn("presence mirror update failed", "userID", userID, "error", err)
			}
		}
	})
}

// OnDirectMessageRequest relays a message between two users. Returns false
// when the recipient has no live connection.
func (g *Gateway) OnDirectMessageRequest(fromUserID, toUserID, message string) (ok bool) {
	defer recoverHandler("OnDirectMessageRequest", &ok)

	if toUserID == "" || message == "" {
		g.sendErrorToUser(fromUserID, "recipient and message are required")
		return false
	}
	ev := Event{Kind: EventDirectMessage, Data: DirectMessagePayload{
		From:      fromUserID,
		Message:   message,
		Timestamp: wireTime(g.now()),
		UniqueID:  uuid.NewString(),
	}}
	return g.dispatcher.NotifyUser(toUserID, ev, false)
}

// OnOnlineUsersRequest replies to the requesting user with a presence
// snapshot, optionally filtered by house. Returns false when the requester is
// not connected.
func (g *Gateway) OnOnlineUsersRequest(userID, houseFilter string) (ok bool) {
	defer recoverHandler("OnOnlineUsersRequest", &ok)

	users := g.dispatcher.GetOnlineUsers(houseFilter)
	ev := Event{Kind: EventOnlineUsers, Data: OnlineUsersPayload{
		Users:     users,
		Count:     len(users),
		Timestamp: wireTime(g.now()),
	}}
	return g.dispatcher.NotifyUser(userID, ev, false)
}

// OnSyncRequest pushes a sync_update event asking the client to reconcile
// state it may have missed while offline. Returns false when the user is not
// connected; the caller then persists the pending-sync marker instead.
func (g *Gateway) OnSyncRequest(userID string, priority int) (ok bool) {
	defer recoverHandler("OnSyncRequest", &ok)

	ev := Event{Kind: EventSyncUpdate, Data: SyncUpdatePayload{
		Type:      "sync_update",
		Message:   "Server requests a state sync",
		Timestamp: wireTime(g.now()),
		Priority:  priority,
	}}
	return g.dispatcher.NotifyUser(userID, ev, false)
}

// BroadcastHousePoints is the admin-only outbound entry. The actor's admin
// status is re-checked here; a rejected caller gets an explicit denial event
// rather than a silent drop.
func (g *Gateway) BroadcastHousePoints(actorUserID, house string, points, newTotal int, reason string, skipAdmins bool, criteria, level string) (ok bool) {
	defer recoverHandler("BroadcastHousePoints", &ok)

	if !g.isAdmin(actorUserID) {
		slog.Warn("house points broadcast denied", "actor", actorUserID)
		g.sendErrorToUser(actorUserID, "admin privileges required")
		return false
	}
	handled, err := g.dispatcher.BroadcastHousePoints(house, points, newTotal, reason, skipAdmins, criteria, level)
	if err != nil {
		g.sendErrorToUser(actorUserID, err.Error())
		return false
	}
	return handled
}

// NotifyAdmins delivers an admin alert to every member of the admin room.
func (g *Gateway) NotifyAdmins(title, message string) (delivered int) {
	defer recoverHandler("NotifyAdmins", nil)

	n := NewNotification(NotificationAnnouncement, title, message)
	ev := Event{Kind: EventAdminAlert, Data: n.Payload()}
	delivered, err := g.dispatcher.NotifyAdmins(ev)
	if err != nil {
		slog.Error("admin notify failed", "error", err)
		return 0
	}
	return delivered
}

// sendErrorToUser pushes an error notification back to the originating
// user's connection if there is one. Best effort.
func (g *Gateway) sendErrorToUser(userID, message string) {
	if userID == "" {
		return
	}
	ev := Event{Kind: EventErrorNotification, Data: ErrorPayload{
		Type:      "error",
		Message:   message,
		Timestamp: wireTime(g.now()),
	}}
	g.dispatcher.NotifyUser(userID, ev, false)
}

func (g *Gateway) isAdmin(userID string) bool {
	rec, ok := g.presence.Record(userID)
	if !ok {
		return false
	}
	return rec.IsAdmin || g.opts.IsAdminUser(rec.Username)
}
