package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/rmmvregion/audit"
	"github.com/kasuganosora/rmmvregion/cache"
	"github.com/kasuganosora/rmmvregion/config"
	"github.com/kasuganosora/rmmvregion/game/world"
	mw "github.com/kasuganosora/rmmvregion/middleware"
	"github.com/kasuganosora/rmmvregion/scheduler"
	"go.uber.org/zap"
)

// Deps is everything the REST routes need.
type Deps struct {
	Cache     cache.Cache
	Security  config.SecurityConfig
	World     *world.WorldManager
	Audit     *audit.Service
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
	// Stream, when set, is mounted at GET /api/stream. It authenticates on
	// its own so EventSource clients can pass ?token=.
	Stream gin.HandlerFunc
}

// Register mounts /health and the /api routes on r. It returns the
// authenticated group so callers can add more routes to it.
func Register(r gin.IRouter, d Deps) *gin.RouterGroup {
	authH := NewAuthHandler(d.Cache, d.Security, d.Logger)
	adminH := NewAdminHandler(d.World, d.Audit, d.Scheduler, d.Logger)
	mapH := NewMapHandler(d.World, d.Audit, d.Logger)
	stateH := NewStateHandler(d.World.GameState(), d.Logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/auth/token", authH.Token)

	if d.Stream != nil {
		api.GET("/stream", mw.IPWhitelist(d.Security.AllowedIPs), d.Stream)
	}

	authed := api.Group("", mw.IPWhitelist(d.Security.AllowedIPs), mw.Auth(d.Security, d.Cache))
	authed.POST("/auth/logout", authH.Logout)
	authed.POST("/auth/refresh", authH.Refresh)

	authed.GET("/metrics", adminH.Metrics)
	authed.GET("/scheduler", adminH.ListSchedulerTasks)

	authed.GET("/maps", mapH.List)
	authed.POST("/maps/:id/open", mapH.Open)
	authed.DELETE("/maps/:id", mapH.Close)
	authed.GET("/maps/:id/npcs", mapH.NPCs)
	authed.GET("/maps/:id/npcs/:eid", mapH.NPC)
	authed.POST("/maps/:id/npcs/:eid/move", mapH.Move)
	authed.GET("/maps/:id/reserved", mapH.Reserved)
	authed.POST("/maps/:id/reserved", mapH.Reserve)
	authed.GET("/maps/:id/region-log", mapH.RegionLog)
	authed.GET("/maps/:id/firings", mapH.Firings)

	authed.GET("/switches", stateH.ListSwitches)
	authed.GET("/switches/:id", stateH.GetSwitch)
	authed.PUT("/switches/:id", stateH.SetSwitch)
	authed.GET("/variables", stateH.ListVariables)
	authed.GET("/variables/:id", stateH.GetVariable)
	authed.PUT("/variables/:id", stateH.SetVariable)

	return authed
}
