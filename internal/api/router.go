package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"device-notifier/internal/config"
	"device-notifier/internal/logging"
)

func NewRouter(logger *logging.Logger, cfg config.Config, h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	api := r.Group(cfg.API.BasePath)
	{
		// Runs
		api.POST("/runs", h.StartRun)
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/current", h.CurrentRun)
		api.GET("/runs/:id/outcomes", h.GetRunOutcomes)

		// Live run events
		api.GET("/ws", h.HandleWebSocket)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}
