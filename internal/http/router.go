package http

import (
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the HTTP router with all endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	health := NewHealthController(cfg.Database, cfg.Version)
	if cfg.Workers != nil {
		health.WithWorkers(cfg.Workers)
	}
	if cfg.Admission != nil {
		health.WithAdmission(cfg.Admission)
	}
	router.GET("/health", health.Status)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	api := router.Group("/api")

	if cfg.Batches != nil {
		batches := NewBatchesController(cfg.Batches)
		api.POST("/batches", batches.Create)
		api.GET("/batches", batches.List)
		api.GET("/batches/:id", batches.Get)
		api.POST("/batches/:id/cancel", batches.Cancel)
	}

	if cfg.Syncs != nil {
		syncs := NewSyncRunsController(cfg.Syncs)
		api.POST("/sync-runs", syncs.Start)
		api.GET("/sync-runs/:id", syncs.Get)
		api.POST("/sync-runs/:id/cancel", syncs.Cancel)
		api.POST("/sync-runs/:id/resume", syncs.Resume)
	}

	if cfg.Workers != nil {
		workers := NewWorkersController(cfg.Workers)
		api.GET("/workers", workers.List)
	}

	if cfg.TaskClient != nil {
		tasks := NewTasksController(cfg.TaskClient)
		api.GET("/tasks/:id", tasks.GetTaskStatus)
	}

	return router
}
