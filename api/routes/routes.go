package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/plan-takeoff/api/handlers"
	"github.com/feichai0017/plan-takeoff/api/middleware"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/metrics"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, origins []string, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.CORS(origins))
	r.Use(middleware.RequestLogger(log.Named("http")))

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API 版本组
	v1 := r.Group("/api/v1")

	// 图纸路由组
	plans := v1.Group("/plans")
	{
		plans.POST("", h.Plan.CreatePlan)
		plans.GET("/:planId", h.Plan.GetPlan)
		plans.POST("/:planId/ingest", h.Plan.Ingest)
		plans.GET("/:planId/status", h.Plan.GetStatus)
		plans.GET("/:planId/sheets", h.Plan.ListSheets)
		plans.GET("/:planId/chunks", h.Plan.ListChunks)
		plans.POST("/:planId/takeoff", h.Takeoff.StartRun)
	}

	v1.GET("/takeoff/:runId", h.Takeoff.GetRun)

	tasks := v1.Group("/tasks")
	{
		tasks.GET("/:taskId", h.Task.GetStatus)
		tasks.DELETE("/:taskId", h.Task.CancelTask)
	}
}
