package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/queue"
)

type TaskHandler struct {
	queue  queue.Queue
	logger logger.Logger
}

func NewTaskHandler(q queue.Queue, log logger.Logger) *TaskHandler {
	return &TaskHandler{queue: q, logger: log}
}

// GetStatus 获取队列任务状态
func (h *TaskHandler) GetStatus(c *gin.Context) {
	taskID := c.Param("taskId")
	status, err := h.queue.GetTaskStatus(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			handleError(c, h.logger, http.StatusNotFound, "Task not found", err)
			return
		}
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to get status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// CancelTask 取消处理任务
func (h *TaskHandler) CancelTask(c *gin.Context) {
	taskID := c.Param("taskId")
	if err := h.queue.CancelTask(c.Request.Context(), taskID); err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to cancel task", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Task cancelled successfully",
		"taskId":  taskID,
	})
}
