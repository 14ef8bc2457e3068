// Package routes implements the management HTTP API.
package routes

import (
	"github.com/gin-gonic/gin"

	"terminal-log-sync/internal/forward"
	"terminal-log-sync/internal/registry"
	"terminal-log-sync/internal/session"
	"terminal-log-sync/internal/storage"
	"terminal-log-sync/internal/syncer"
	"terminal-log-sync/internal/terminal"
)

// Deps collects the services the route handlers operate on.
type Deps struct {
	Store      storage.Provider
	Registry   *registry.Registry
	Keeper     *session.Keeper
	Client     *terminal.Client
	Supervisor *syncer.Supervisor
	Forwarder  *forward.Forwarder
}

func RegisterRoutes(r *gin.Engine, deps *Deps) {
	r.Use(ErrorHandler())

	Health(&r.RouterGroup)
	Dashboard(&r.RouterGroup, deps)

	api := r.Group("/", AuthMiddleware())
	DeviceRoutes(api, deps)
	MonitorRoutes(api, deps)
}

func Health(r *gin.RouterGroup) {
	r.GET("/health", func(c *gin.Context) {
		msg := c.Query("ping")
		if msg == "" {
			msg = "pong"
		}

		c.JSON(200, gin.H{
			"message": msg,
		})
	})
}
