package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/internal/repository"
	"github.com/feichai0017/plan-takeoff/internal/service/takeoff"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/queue"
)

type TakeoffHandler struct {
	store  PlanStore
	queue  queue.Queue
	logger logger.Logger
}

// TakeoffRequest 发起工程量计算请求. Sources 为空时使用图纸本身
type TakeoffRequest struct {
	Sources []takeoff.SourceDocument `json:"sources"`
	Build   takeoff.BuildContext     `json:"build"`
}

type TakeoffResponse struct {
	RunID  string           `json:"runId"`
	TaskID string           `json:"taskId"`
	Status models.RunStatus `json:"status"`
}

func NewTakeoffHandler(store PlanStore, q queue.Queue, log logger.Logger) *TakeoffHandler {
	return &TakeoffHandler{
		store:  store,
		queue:  q,
		logger: log,
	}
}

// StartRun 创建运行记录并入队
func (h *TakeoffHandler) StartRun(c *gin.Context) {
	ctx := c.Request.Context()

	var req TakeoffRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		handleError(c, h.logger, http.StatusBadRequest, "Invalid takeoff request", err)
		return
	}

	plan, err := h.store.GetPlan(ctx, c.Param("planId"))
	if err != nil {
		if errors.Is(err, repository.ErrPlanNotFound) {
			handleError(c, h.logger, http.StatusNotFound, "Plan not found", err)
			return
		}
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to load plan", err)
		return
	}

	sources := req.Sources
	if len(sources) == 0 {
		if plan.Status != models.PlanStatusReady {
			handleError(c, h.logger, http.StatusConflict, "Plan is not ready for takeoff", nil)
			return
		}
		sources = []takeoff.SourceDocument{planSource(plan)}
	}

	runID := uuid.NewString()
	run := &models.TakeoffRun{ID: runID, PlanID: plan.ID, Status: models.RunQueued}
	if err := h.store.CreateRun(ctx, run); err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to create takeoff run", err)
		return
	}

	task, err := queue.NewTakeoffTask(runID, plan.ID, takeoff.Request{
		RunID:   runID,
		PlanID:  plan.ID,
		Sources: sources,
		Build:   req.Build,
	})
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to build takeoff task", err)
		return
	}
	if err := h.queue.Enqueue(ctx, task); err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to enqueue takeoff", err)
		return
	}

	c.JSON(http.StatusAccepted, TakeoffResponse{
		RunID:  runID,
		TaskID: task.ID,
		Status: run.Status,
	})
}

// GetRun 返回运行状态, 完成后 result 为 [items, analysis, segments, runLog]
func (h *TakeoffHandler) GetRun(c *gin.Context) {
	run, err := h.store.GetRun(c.Request.Context(), c.Param("runId"))
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			handleError(c, h.logger, http.StatusNotFound, "Takeoff run not found", err)
			return
		}
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to load takeoff run", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// planSource 整套图纸作为一个完整文档, 启用 consensus 模式
func planSource(plan *models.Plan) takeoff.SourceDocument {
	return takeoff.SourceDocument{
		FileRef:   plan.FileRef,
		Name:      plan.FileName,
		PageStart: 1,
		PageEnd:   plan.PageCount,
		Full: &takeoff.FullDocument{
			PageCount:      plan.PageCount,
			LinkedFileRefs: plan.LinkedFileRefs,
		},
	}
}
