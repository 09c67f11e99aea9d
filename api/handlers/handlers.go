package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/plan-takeoff/internal/repository"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/queue"
)

// PlanStore is the persistence surface the API reads and writes.
type PlanStore interface {
	repository.PlanRepository
	repository.StatusRepository
	repository.SheetRepository
	repository.ChunkRepository
	repository.TakeoffRepository
	Ping(ctx context.Context) error
}

type Handlers struct {
	Plan    *PlanHandler
	Takeoff *TakeoffHandler
	Task    *TaskHandler
	Health  *HealthHandler
}

func NewHandlers(store PlanStore, q queue.Queue, log logger.Logger) *Handlers {
	log = log.Named("api")
	return &Handlers{
		Plan:    NewPlanHandler(store, q, log),
		Takeoff: NewTakeoffHandler(store, q, log),
		Task:    NewTaskHandler(q, log),
		Health:  NewHealthHandler(store),
	}
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, status int, message string, err error) {
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}
	c.AbortWithStatusJSON(status, response)
}
