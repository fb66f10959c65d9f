package app

import (
	"github.com/gin-gonic/gin"

	"github.com/s35241607/ticket-system/internal/api/handlers"
	"github.com/s35241607/ticket-system/internal/api/middleware"
	"github.com/s35241607/ticket-system/internal/pkg/logger"
)

func newRouter(server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())

	router.GET("/health/live", server.GetLiveness)
	router.GET("/health/ready", server.GetReadiness)

	// zap.AtomicLevel serves GET (current level) and PUT {"level":"debug"}.
	level := gin.WrapH(logger.HTTPHandler())
	router.GET("/log/level", level)
	router.PUT("/log/level", level)

	ops := router.Group("/ops")
	ops.GET("/pools", server.GetPools)
	ops.POST("/timeouts/sweep", server.TriggerSweep)
	ops.GET("/events/:aggregate_type/:aggregate_id", server.ListAggregateEvents)
	return router
}
