package websocket

import (
	"testing"
	"time"
)

func TestAuthenticateJoinsRooms(t *testing.T) {
	tc := newTestCore(testOptions())
	tc.connect(t, "c1", "u-harry", "gryffindor", "harry", false)

	for _, room := range []string{HouseRoom("gryffindor"), RoomStudent, RoomSystemUpdates} {
		if !tc.rooms.Contains(room, "c1") {
			t.Errorf("connection should be a member of %s", room)
		}
	}
	if tc.rooms.Contains(RoomAdmin, "c1") {
		t.Error("student must not join the admin room")
	}
}

func TestAuthenticateAdminByAllowlist(t *testing.T) {
	tc := newTestCore(testOptions())
	// "hungpro" is on the default admin allowlist; the flag is not set.
	tc.connect(t, "c1", "u-hp", "gryffindor", "hungpro", false)

	if !tc.rooms.Contains(RoomAdmin, "c1") {
		t.Error("allowlisted username must join the admin room")
	}
	rec, ok := tc.presence.Record("u-hp")
	if !ok || !rec.IsAdmin {
		t.Error("allowlisted username must be recorded as admin")
	}
}

func TestAuthenticateRejectsUnknownConnection(t *testing.T) {
	tc := newTestCore(testOptions())
	if tc.gateway.OnAuthenticate("nope", "u1", "gryffindor", "a", false) {
		t.Error("authenticating an unregistered connection must fail")
	}
	if tc.gateway.OnAuthenticate("nope", "", "gryffindor", "a", false) {
		t.Error("authenticating without a user id must fail")
	}
}

func TestHouseChangeMovesRooms(t *testing.T) {
	tc := newTestCore(testOptions())
	harry := tc.connect(t, "c1", "u-harry", "gryffindor", "harry", false)

	if !tc.gateway.OnHouseChangeRequest("u-harry", "gryffindor", "slytherin", time.Time{}) {
		t.Fatal("house change should succeed")
	}
	if tc.rooms.Contains(HouseRoom("gryffindor"), "c1") {
		t.Error("connection must leave the old house room")
	}
	if !tc.rooms.Contains(HouseRoom("slytherin"), "c1") {
		t.Error("connection must join the new house room")
	}
	rec, _ := tc.presence.Record("u-harry")
	if rec.House != "slytherin" {
		t.Errorf("presence record not updated: %q", rec.House)
	}

	kind, data := harry.lastEvent(t)
	if kind != EventUserUpdate {
		t.Fatalf("expected user_update push, got %s", kind)
	}
	fields := data["updatedFields"].(map[string]interface{})
	if fields["house"].(string) != "slytherin" {
		t.Errorf("unexpected pushed fields: %v", fields)
	}
}

func TestHouseChangeRejectsInvalidHouse(t *testing.T) {
	tc := newTestCore(testOptions())
	harry := tc.connect(t, "c1", "u-harry", "gryffindor", "harry", false)

	if tc.gateway.OnHouseChangeRequest("u-harry", "gryffindor", "durmstrang", time.Time{}) {
		t.Fatal("unknown house must be rejected")
	}
	if !tc.rooms.Contains(HouseRoom("gryffindor"), "c1") {
		t.Error("rejected change must not mutate room membership")
	}
	kind, data := harry.lastEvent(t)
	if kind != EventErrorNotification {
		t.Fatalf("expected error_notification, got %s", kind)
	}
	if data["message"].(string) == "" {
		t.Error("error payload must carry a readable message")
	}
}

func TestDisconnectDefersOfflineByGrace(t *testing.T) {
	tc := newTestCore(testOptions())
	tc.connect(t, "c1", "u-harry", "gryffindor", "harry", false)

	tc.gateway.OnDisconnect("c1", "client closed")
	if !tc.presence.IsOnline("u-harry") {
		t.Error("user must stay online during the grace window")
	}
	if tc.rooms.Contains(HouseRoom("gryffindor"), "c1") {
		t.Error("room membership must be removed immediately on disconnect")
	}

	time.Sleep(3 * tc.opts.OfflineGrace)
	if tc.presence.IsOnline("u-harry") {
		t.Error("user must go offline after the grace window")
	}
}

func TestReconnectWithinGraceKeepsUserOnline(t *testing.T) {
	tc := newTestCore(testOptions())
	tc.connect(t, "c1", "u-harry", "gryffindor", "harry", false)

	tc.gateway.OnDisconnect("c1", "page refresh")
	tc.connect(t, "c2", "u-harry", "gryffindor", "harry", false)

	time.Sleep(3 * tc.opts.OfflineGrace)
	if !tc.presence.IsOnline("u-harry") {
		t.Error("reconnect within the grace window must keep the user online")
	}
	if connID, _ := tc.presence.LookupConnection("u-harry"); connID != "c2" {
		t.Errorf("expected connection c2, got %s", connID)
	}
}

func TestBroadcastHousePointsRequiresAdmin(t *testing.T) {
	tc := newTestCore(testOptions())
	student := tc.connect(t, "c1", "u-student", "gryffindor", "harry", false)

	if tc.gateway.BroadcastHousePoints("u-student", "gryffindor", 10, 110, "", false, "", "") {
		t.Fatal("non-admin actor must be rejected")
	}
	kind, data := student.lastEvent(t)
	if kind != EventErrorNotification {
		t.Fatalf("expected denial event, got %s", kind)
	}
	if data["message"].(string) != "admin privileges required" {
		t.Errorf("unexpected denial message: %v", data["message"])
	}

	tc.connect(t, "c2", "u-admin", "admin", "snape", true)
	if !tc.gateway.BroadcastHousePoints("u-admin", "gryffindor", 10, 110, "", false, "", "") {
		t.Error("admin actor must be allowed")
	}
}

func TestDirectMessageDelivery(t *testing.T) {
	tc := newTestCore(testOptions())
	harry := tc.connect(t, "c1", "u-harry", "gryffindor", "harry", false)
	ron := tc.connect(t, "c2", "u-ron", "gryffindor", "ron", false)

	if !tc.gateway.OnDirectMessageRequest("u-ron", "u-harry", "wingardium leviosa") {
		t.Fatal("direct message to an online user should deliver")
	}
	kind, data := harry.lastEvent(t)
	if kind != EventDirectMessage {
		t.Fatalf("expected direct_message, got %s", kind)
	}
	if data["from"].(string) != "u-ron" || data["message"].(string) != "wingardium leviosa" {
		t.Errorf("unexpected payload: %v", data)
	}

	if tc.gateway.OnDirectMessageRequest("u-ron", "u-ghost", "hello") {
		t.Error("delivery to an offline recipient must report false")
	}
	if tc.gateway.OnDirectMessageRequest("u-ron", "", "hello") {
		t.Error("missing recipient is malformed input")
	}
	kind, _ = ron.lastEvent(t)
	if kind != EventErrorNotification {
		t.Errorf("sender should get an error event back, got %s", kind)
	}
}

func TestSyncRequestDelivery(t *testing.T) {
	tc := newTestCore(testOptions())
	harry := tc.connect(t, "c1", "u-harry", "gryffindor", "harry", false)

	if !tc.gateway.OnSyncRequest("u-harry", PriorityHigh) {
		t.Fatal("sync request to an online user should deliver")
	}
	kind, data := harry.lastEvent(t)
	if kind != EventSyncUpdate {
		t.Fatalf("expected sync_update, got %s", kind)
	}
	if data["priority"].(float64) != float64(PriorityHigh) {
		t.Errorf("unexpected priority: %v", data["priority"])
	}

	if tc.gateway.OnSyncRequest("u-ghost", 0) {
		t.Error("sync request to an offline user must report false")
	}
}

func TestOnlineUsersRequestRepliesWithSnapshot(t *testing.T) {
	tc := newTestCore(testOptions())
	harry := tc.connect(t, "c1", "u-harry", "gryffindor", "harry", false)
	tc.connect(t, "c2", "u-draco", "slytherin", "draco", false)

	if !tc.gateway.OnOnlineUsersRequest("u-harry", "") {
		t.Fatal("request from an online user should deliver")
	}
	kind, data := harry.lastEvent(t)
	if kind != EventOnlineUsers {
		t.Fatalf("expected online_users, got %s", kind)
	}
	if data["count"].(float64) != 2 {
		t.Errorf("expected 2 online users, got %v", data["count"])
	}

	if !tc.gateway.OnOnlineUsersRequest("u-harry", "slytherin") {
		t.Fatal("filtered request should deliver")
	}
	_, data = harry.lastEvent(t)
	if data["count"].(float64) != 1 {
		t.Errorf("expected 1 slytherin, got %v", data["count"])
	}

	if tc.gateway.OnOnlineUsersRequest("u-ghost", "") {
		t.Error("request from an offline user must report false")
	}
}

func TestNotifyAdminsReachesAdminRoomOnly(t *testing.T) {
	tc := newTestCore(testOptions())
	admin := tc.connect(t, "c1", "u-admin", "admin", "snape", true)
	student := tc.connect(t, "c2", "u-student", "gryffindor", "harry", false)

	if got := tc.gateway.NotifyAdmins("Alert", "cauldron overflow"); got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
	kind, data := admin.lastEvent(t)
	if kind != EventAdminAlert {
		t.Fatalf("expected admin_alert, got %s", kind)
	}
	if data["title"].(string) != "Alert" {
		t.Errorf("unexpected payload: %v", data)
	}
	if student.sentCount() != 0 {
		t.Error("students must not receive admin alerts")
	}
}
