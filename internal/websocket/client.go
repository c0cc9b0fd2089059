package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var ErrClientDisconnected = fmt.Errorf("client disconnected")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, implement proper origin checking
		return true
	},
}

// Identity carries the pre-validated authentication result handed to the
// transport by the auth middleware. The core trusts these fields.
type Identity struct {
	UserID   string
	Username string
	House    string
	IsAdmin  bool
}

// Client owns one websocket connection and its read/write goroutines. It
// implements Conn; the realtime core holds it only through that interface.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	identity Identity

	closed int32

	// sendMu serializes queueing against closing the send channel, so a
	// concurrent Send can never hit a closed channel.
	sendMu     sync.RWMutex
	sendClosed bool
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, identity Identity) *Client {
	return &Client{
		id:       uuid.NewString(),
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		identity: identity,
	}
}

// ID returns the stable connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Send queues data for reliable delivery. A full buffer means the client has
// stopped draining; the connection is closed and an error returned.
func (c *Client) Send(data []byte) error {
	c.sendMu.RLock()
	if c.isClosed() || c.sendClosed {
		c.sendMu.RUnlock()
		return ErrClientDisconnected
	}
	select {
	case c.send <- data:
		c.sendMu.RUnlock()
		return nil
	default:
		c.sendMu.RUnlock()
		slog.Warn("send buffer full, closing client", "connectionID", c.id, "userID", c.identity.UserID)
		c.closeSendChannel()
		return ErrClientDisconnected
	}
}

// SendBestEffort queues data if there is room and otherwise drops it without
// penalizing the connection.
func (c *Client) SendBestEffort(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.isClosed() || c.sendClosed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close tears down the underlying socket.
func (c *Client) Close() {
	c.close()
	_ = c.conn.Close()
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Client) close() {
	atomic.CompareAndSwapInt32(&c.closed, 0, 1)
}

func (c *Client) closeSendChannel() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// clientMessage is the envelope for inbound client-to-server messages. The
// transport-level events (connect, disconnect, pong) are handled by the pumps
// themselves.
type clientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type houseChangeData struct {
	OldHouse  string `json:"oldHouse"`
	NewHouse  string `json:"newHouse"`
	Timestamp string `json:"timestamp"`
}

type directMessageData struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type syncRequestData struct {
	Priority int `json:"priority"`
}

type onlineUsersData struct {
	House string `json:"house"`
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		select {
		case c.hub.unregister <- c:
		case <-time.After(5 * time.Second):
			slog.Warn("timeout sending unregister request", "connectionID", c.id, "userID", c.identity.UserID)
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.gateway.OnHeartbeat(c.identity.UserID)
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("websocket error", "connectionID", c.id, "userID", c.identity.UserID, "error", err)
			}
			return
		}
		c.handleInbound(raw)
	}
}

// handleInbound routes one decoded client message into the gateway. Malformed
// input short-circuits with an error notification and mutates nothing.
func (c *Client) handleInbound(raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("malformed client message", "connectionID", c.id, "error", err)
		c.sendErrorEvent("invalid message format")
		return
	}

	switch msg.Type {
	case "heartbeat":
		c.hub.gateway.OnHeartbeat(c.identity.UserID)

	case "house_change":
		var d houseChangeData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			c.sendErrorEvent("invalid house_change payload")
			return
		}
		ts, _ := time.Parse(time.RFC3339Nano, d.Timestamp)
		c.hub.gateway.OnHouseChangeRequest(c.identity.UserID, d.OldHouse, d.NewHouse, ts)

	case "direct_message":
		var d directMessageData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			c.sendErrorEvent("invalid direct_message payload")
			return
		}
		c.hub.gateway.OnDirectMessageRequest(c.identity.UserID, d.To, d.Message)

	case "sync_request":
		var d syncRequestData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			c.sendErrorEvent("invalid sync_request payload")
			return
		}
		c.hub.gateway.OnSyncRequest(c.identity.UserID, d.Priority)

	case "get_online_users":
		var d onlineUsersData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				c.sendErrorEvent("invalid get_online_users payload")
				return
			}
		}
		c.hub.gateway.OnOnlineUsersRequest(c.identity.UserID, d.House)

	default:
		c.sendErrorEvent("unknown message type: " + msg.Type)
	}
}

func (c *Client) sendErrorEvent(message string) {
	data, err := Event{Kind: EventErrorNotification, Data: ErrorPayload{
		Type:      "error",
		Message:   message,
		Timestamp: wireTime(time.Now()),
	}}.Encode()
	if err != nil {
		return
	}
	_ = c.Send(data)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("write failed", "connectionID", c.id, "userID", c.identity.UserID, "error", err)
				return
			}

		case <-ticker.C:
			if c.isClosed() {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
