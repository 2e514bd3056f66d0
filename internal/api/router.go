package api

import (
	"github.com/gin-gonic/gin"

	"selenite/pkg/logger"
	"selenite/pkg/middleware"
)

// SetupRoutes wires every route onto a fresh gin.Engine: gin.New plus
// explicit Recovery/logger/compression middleware, grouped under /api/v1.
func SetupRoutes(handler *Handler) *gin.Engine {
	logger.SetGinOutput()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.GinLogger())
	router.Use(middleware.CompressionMiddleware())

	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", handler.SubmitJob)
			jobs.GET("", handler.ListJobs)
			jobs.GET("/:id", handler.GetJobStatus)
			jobs.POST("/:id/cancel", handler.CancelJob)
			jobs.POST("/:id/pause", handler.PauseJob)
			jobs.POST("/:id/resume", handler.ResumeJob)
			jobs.POST("/:id/restart", handler.RestartJob)
			jobs.DELETE("/:id", handler.DeleteJob)
			jobs.PATCH("/:id", handler.RenameJob)
			jobs.GET("/:id/transcript", handler.GetTranscript)
			jobs.PATCH("/:id/speakers", handler.RenameSpeaker)
		}

		availability := v1.Group("/availability")
		{
			availability.GET("", handler.ListAvailability)
			availability.POST("/refresh", handler.RefreshAvailability)
		}

		registry := v1.Group("/registry")
		{
			registry.GET("/:kind/sets", handler.ListModelSets)
			registry.POST("/:kind/sets", handler.CreateModelSet)
			registry.PATCH("/sets/:setID", handler.UpdateModelSet)
			registry.POST("/sets/:setID/weights", handler.CreateModelWeight)
			registry.PATCH("/weights/:weightID", handler.UpdateModelWeight)
		}

		settings := v1.Group("/settings")
		{
			settings.GET("", handler.GetSettings)
			settings.PUT("", handler.UpdateSettings)
		}

		admin := v1.Group("/admin")
		{
			admin.GET("/queue/stats", handler.QueueStats)
		}
	}

	return router
}
