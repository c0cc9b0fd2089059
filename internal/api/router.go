package api

import (
	"github.com/gin-gonic/gin"

	"github.com/joinquit3110/be-web/internal/api/middleware"
	"github.com/joinquit3110/be-web/internal/store"
	"github.com/joinquit3110/be-web/internal/websocket"
)

// Router wires the HTTP surface: the websocket endpoint plus the REST routes
// that call into the realtime core.
type Router struct {
	engine   *gin.Engine
	hub      *websocket.Hub
	handlers *Handlers
	secret   string
}

// NewRouter builds the gin engine. users may be nil.
func NewRouter(hub *websocket.Hub, users *store.UserStore, jwtSecret string) *Router {
	return &Router{
		engine:   gin.New(),
		hub:      hub,
		handlers: NewHandlers(hub.Gateway(), users),
		secret:   jwtSecret,
	}
}

// Engine returns the configured gin engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// SetupRoutes registers all endpoints.
func (r *Router) SetupRoutes() {
	r.engine.Use(gin.Recovery())

	r.engine.GET("/api/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy"})
	})

	r.engine.GET("/ws", middleware.WSAuth(r.secret), func(c *gin.Context) {
		identity := websocket.Identity{
			UserID:   c.GetString(middleware.CtxUserID),
			Username: c.GetString(middleware.CtxUsername),
			House:    c.GetString(middleware.CtxHouse),
			IsAdmin:  c.GetBool(middleware.CtxIsAdmin),
		}
		r.hub.ServeWS(c.Writer, c.Request, identity)
	})

	authed := r.engine.Group("/api", middleware.Auth(r.secret))
	{
		authed.GET("/notifications", r.handlers.ListNotifications)
		authed.GET("/users/online", r.handlers.OnlineUsers)
		authed.POST("/user/magic-points/sync", r.handlers.SyncMagicPoints)
	}

	admin := authed.Group("", middleware.RequireAdmin())
	{
		admin.POST("/notifications", r.handlers.CreateNotification)
		admin.POST("/house-points", r.handlers.BroadcastHousePoints)
		admin.POST("/users/:id/sync", r.handlers.RequestSync)
	}
}
