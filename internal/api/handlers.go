package api

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/joinquit3110/be-web/internal/api/middleware"
	"github.com/joinquit3110/be-web/internal/store"
	"github.com/joinquit3110/be-web/internal/websocket"
)

// Handlers exposes the realtime core to route handlers and admin actions. The
// store persists pending-sync markers when a realtime delivery comes back
// undelivered.
type Handlers struct {
	gateway *websocket.Gateway
	users   *store.UserStore
	feed    *ActiveFeed
}

// NewHandlers wires the handler set. users may be nil when running without a
// database.
func NewHandlers(gateway *websocket.Gateway, users *store.UserStore) *Handlers {
	return &Handlers{
		gateway: gateway,
		users:   users,
		feed:    NewActiveFeed(),
	}
}

type housePointsRequest struct {
	House      string `json:"house" binding:"required"`
	Points     int    `json:"points" binding:"required"`
	NewTotal   int    `json:"newTotal"`
	Reason     string `json:"reason"`
	Criteria   string `json:"criteria"`
	Level      string `json:"level"`
	SkipAdmins bool   `json:"skipAdmins"`
}

// BroadcastHousePoints handles POST /api/house-points (admin only).
func (h *Handlers) BroadcastHousePoints(c *gin.Context) {
	var req housePointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "house and points are required fields"})
		return
	}

	actor := c.GetString(middleware.CtxUserID)
	if !h.gateway.BroadcastHousePoints(actor, req.House, req.Points, req.NewTotal, req.Reason, req.SkipAdmins, req.Criteria, req.Level) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": "broadcast rejected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "broadcast"})
}

type notificationRequest struct {
	Type           string   `json:"type" binding:"required"`
	Title          string   `json:"title"`
	Message        string   `json:"message" binding:"required"`
	TargetUsers    []string `json:"targetUsers"`
	HousesAffected []string `json:"housesAffected"`
}

// Types callers may create through the API. Point changes have their own
// endpoint and are never accepted here.
var allowedNotificationTypes = map[websocket.NotificationType]bool{
	websocket.NotificationSuccess:      true,
	websocket.NotificationWarning:      true,
	websocket.NotificationError:        true,
	websocket.NotificationInfo:         true,
	websocket.NotificationAnnouncement: true,
}

// CreateNotification handles POST /api/notifications (admin only). The
// notification goes to the realtime batcher for connected clients and to the
// polled feed for everyone else; users who could not be reached are flagged
// for sync.
func (h *Handlers) CreateNotification(c *gin.Context) {
	var req notificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "type and message are required fields"})
		return
	}

	notificationType := websocket.NotificationType(req.Type)
	if !allowedNotificationTypes[notificationType] {
		c.JSON(http.StatusBadRequest, gin.H{"message": "unsupported notification type: " + req.Type})
		return
	}

	n := websocket.NewNotification(notificationType, req.Title, req.Message)
	dispatcher := h.gateway.Dispatcher()

	switch {
	case len(req.TargetUsers) > 0:
		for _, userID := range req.TargetUsers {
			if !dispatcher.SendUserNotification(userID, n, false) {
				h.markNeedsSync(c, userID)
			}
		}
	case len(req.HousesAffected) > 0:
		for _, house := range req.HousesAffected {
			dispatcher.EnqueueNotification(websocket.HouseRoom(house), n)
		}
	default:
		dispatcher.EnqueueNotification(websocket.RoomSystemUpdates, n)
	}

	feedEntry := FeedNotification{
		ID:             n.ID,
		Type:           string(n.Type),
		Title:          n.Title,
		Message:        n.Message,
		Timestamp:      n.Timestamp.UTC().Format(time.RFC3339Nano),
		TargetUsers:    req.TargetUsers,
		HousesAffected: req.HousesAffected,
	}
	h.feed.Add(feedEntry)
	c.JSON(http.StatusCreated, feedEntry)
}

// ListNotifications handles GET /api/notifications for the calling user.
func (h *Handlers) ListNotifications(c *gin.Context) {
	userID := c.GetString(middleware.CtxUserID)
	house := c.GetString(middleware.CtxHouse)
	c.JSON(http.StatusOK, h.feed.ActiveFor(userID, house))
}

// OnlineUsers handles GET /api/users/online with an optional house filter.
func (h *Handlers) OnlineUsers(c *gin.Context) {
	users := h.gateway.Dispatcher().GetOnlineUsers(c.Query("house"))
	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}

type syncRequest struct {
	Operations []store.PointOperation `json:"operations" binding:"required"`
}

// SyncMagicPoints handles POST /api/user/magic-points/sync: replays the
// offline operation log, clears the pending-sync flag and pushes the new
// total to the user's live connection if they have one.
func (h *Handlers) SyncMagicPoints(c *gin.Context) {
	if h.users == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "user store not configured"})
		return
	}
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Operations) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "valid non-empty operations array is required"})
		return
	}

	userID := c.GetString(middleware.CtxUserID)
	points, err := h.users.ApplySyncOperations(c.Request.Context(), userID, req.Operations)
	if err != nil {
		if err == store.ErrUserNotFound {
			c.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	if err := h.users.ClearNeedsSync(c.Request.Context(), userID); err != nil {
		slog.Warn("failed to clear sync flag", "userID", userID, "error", err)
	}

	if delivered, err := h.gateway.Dispatcher().UpdateUserFields(userID, map[string]interface{}{
		"magicPoints": points,
		"needsSync":   false,
	}); err == nil && !delivered {
		slog.Debug("sync result not delivered in realtime", "userID", userID)
	}

	c.JSON(http.StatusOK, gin.H{"magicPoints": points, "timestamp": time.Now().UTC().Format(time.RFC3339Nano)})
}

// RequestSync handles POST /api/users/:id/sync (admin only): asks a connected
// client to reconcile, or flags the user for sync when offline.
func (h *Handlers) RequestSync(c *gin.Context) {
	userID := c.Param("id")
	if h.gateway.OnSyncRequest(userID, websocket.PriorityHigh) {
		c.JSON(http.StatusOK, gin.H{"status": "sync requested"})
		return
	}
	h.markNeedsSync(c, userID)
	c.JSON(http.StatusAccepted, gin.H{"status": "user offline, flagged for sync"})
}

func (h *Handlers) markNeedsSync(c *gin.Context, userID string) {
	if h.users == nil {
		return
	}
	if err := h.users.MarkNeedsSync(c.Request.Context(), userID); err != nil && err != store.ErrUserNotFound {
		slog.Warn("failed to flag user for sync", "userID", userID, "error", err)
	}
}
