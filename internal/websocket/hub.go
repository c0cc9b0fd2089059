package websocket

import (
	"context"
	"log/slog"
	"net/http"
)

// Hub composes the realtime core: the shared registries, the dispatcher, the
// inbound gateway and the reaper, plus the register/unregister loop that
// serializes connection lifecycle events the way the transport delivers them.
// All of it lives in a single process; registries are process-wide
// singletons created here and torn down with Stop.
type Hub struct {
	presence *PresenceRegistry
	rooms    *RoomSet
	conns    *ConnTable
	dedup    *RecencyCache

	dispatcher *Dispatcher
	gateway    *Gateway
	reaper     *Reaper

	register   chan *Client
	unregister chan *Client

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub builds the core with the given options. mirror may be nil.
func NewHub(opts Options, mirror StatusMirror) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	presence := NewPresenceRegistry()
	rooms := NewRoomSet()
	conns := NewConnTable()
	dedup := NewRecencyCache(opts.DedupHorizon)
	dispatcher := NewDispatcher(presence, rooms, conns, dedup, opts)
	gateway := NewGateway(presence, rooms, conns, dispatcher, mirror, opts)
	reaper := NewReaper(presence, rooms, conns, dedup, mirror, opts)

	return &Hub{
		presence:   presence,
		rooms:      rooms,
		conns:      conns,
		dedup:      dedup,
		dispatcher: dispatcher,
		gateway:    gateway,
		reaper:     reaper,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Gateway returns the function-call boundary used by route handlers and
// other collaborators.
func (h *Hub) Gateway() *Gateway {
	return h.gateway
}

// Dispatcher returns the outbound broadcast operations.
func (h *Hub) Dispatcher() *Dispatcher {
	return h.dispatcher
}

// Run processes connection lifecycle events until Stop. It also starts the
// reaper.
func (h *Hub) Run() {
	h.reaper.Start()

	for {
		select {
		case client := <-h.register:
			h.gateway.OnConnect(client)
			h.gateway.OnAuthenticate(client.id, client.identity.UserID, client.identity.House, client.identity.Username, client.identity.IsAdmin)

		case client := <-h.unregister:
			h.gateway.OnDisconnect(client.id, "transport closed")

		case <-h.ctx.Done():
			slog.Info("websocket hub shutting down")
			return
		}
	}
}

// Stop shuts down the run loop and the reaper.
func (h *Hub) Stop() {
	h.reaper.Stop()
	h.cancel()
}

// ServeWS upgrades an HTTP request whose identity was already validated by
// the auth middleware and hands the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, identity Identity) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "userID", identity.UserID, "error", err)
		return
	}

	client := NewClient(h, conn, identity)
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
	slog.Info("websocket connection established", "connectionID", client.id, "userID", identity.UserID)
}
