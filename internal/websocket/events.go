package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind identifies the kind of event pushed to clients. Payload shapes are
// typed per kind instead of ad hoc string-keyed maps so that the serialization
// boundary stays validated.
type EventKind string

const (
	// Single notification delivered outside a batch.
	EventNotification EventKind = "notification"

	// Coalesced batch of notifications for one room.
	EventNotificationBatch EventKind = "notification_batch"

	// House point change, high priority.
	EventHousePoints EventKind = "house_points_update"

	// Partial update of the recipient's own user record.
	EventUserUpdate EventKind = "user_update"

	// Server asks the client to reconcile local state.
	EventSyncUpdate EventKind = "sync_update"

	// Direct user-to-user message.
	EventDirectMessage EventKind = "direct_message"

	// Rejection or failure surfaced to the originating client.
	EventErrorNotification EventKind = "error_notification"

	// Admin-room announcement.
	EventAdminAlert EventKind = "admin_alert"

	// Snapshot of currently online users.
	EventOnlineUsers EventKind = "online_users"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// IsValid checks if the EventKind is a known enum value.
func (k EventKind) IsValid() bool {
	switch k {
	case EventNotification, EventNotificationBatch, EventHousePoints,
		EventUserUpdate, EventSyncUpdate, EventDirectMessage,
		EventErrorNotification, EventAdminAlert, EventOnlineUsers:
		return true
	default:
		return false
	}
}

// Event is the envelope written to the wire: the event name plus a typed
// payload. The payload field names are part of the client contract and must
// not change.
type Event struct {
	Kind EventKind   `json:"event"`
	Data interface{} `json:"data"`
}

// Encode validates the envelope and marshals it for transport.
func (e Event) Encode() ([]byte, error) {
	if !e.Kind.IsValid() {
		return nil, fmt.Errorf("invalid event kind: %q", e.Kind)
	}
	return json.Marshal(e)
}

// HousePointsPayload is the canonical house point change payload. One instance
// is shared by every recipient of a broadcast so that all clients see the same
// uniqueId and timestamp.
type HousePointsPayload struct {
	Type      string `json:"type"`
	SubType   string `json:"subType"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	House     string `json:"house"`
	Points    int    `json:"points"`
	NewTotal  int    `json:"newTotal"`
	Reason    string `json:"reason,omitempty"`
	Criteria  string `json:"criteria,omitempty"`
	Level     string `json:"level,omitempty"`
	UniqueID  string `json:"uniqueId"`
	Priority  int    `json:"priority"`
	SkipAdmin bool   `json:"skipAdmin"`

	Display DisplayHints `json:"display"`
}

// DisplayHints carries frontend rendering hints for point changes.
type DisplayHints struct {
	Color     string `json:"color"`
	BgColor   string `json:"bgColor"`
	Icon      string `json:"icon"`
	Image     string `json:"image"`
	Animation string `json:"animation"`
}

// NotificationPayload is the wire form of a single notification.
type NotificationPayload struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	House     string `json:"house,omitempty"`
	Points    int    `json:"points,omitempty"`
	NewTotal  int    `json:"newTotal,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Criteria  string `json:"criteria,omitempty"`
	Level     string `json:"level,omitempty"`
	UniqueID  string `json:"uniqueId"`
	Priority  int    `json:"priority"`
}

// NotificationBatchPayload is the wire form of a flushed batch.
type NotificationBatchPayload struct {
	Notifications []NotificationPayload `json:"notifications"`
	Count         int                   `json:"count"`
	Timestamp     string                `json:"timestamp"`
}

// UserUpdatePayload carries a partial user record update.
type UserUpdatePayload struct {
	UpdatedFields map[string]interface{} `json:"updatedFields"`
	Timestamp     string                 `json:"timestamp"`
	Priority      int                    `json:"priority"`
}

// SyncUpdatePayload asks a client to reconcile local state with the server.
type SyncUpdatePayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Priority  int    `json:"priority"`
}

// DirectMessagePayload is a user-to-user message.
type DirectMessagePayload struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	UniqueID  string `json:"uniqueId"`
}

// ErrorPayload is delivered to a client whose request was rejected. Clients
// get a readable message, never a stack trace.
type ErrorPayload struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// OnlineUsersPayload is a presence snapshot.
type OnlineUsersPayload struct {
	Users     []OnlineUser `json:"users"`
	Count     int          `json:"count"`
	Timestamp string       `json:"timestamp"`
}

// OnlineUser is one entry of a presence snapshot.
type OnlineUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	House    string `json:"house,omitempty"`
	LastSeen string `json:"lastSeen"`
}

func wireTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
