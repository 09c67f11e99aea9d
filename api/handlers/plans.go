package handlers

import (
	"errors"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/internal/repository"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/queue"
)

type PlanHandler struct {
	store  PlanStore
	queue  queue.Queue
	logger logger.Logger
}

// CreatePlanRequest 注册图纸请求
type CreatePlanRequest struct {
	JobID          string   `json:"jobId" binding:"required"`
	FileRef        string   `json:"fileRef" binding:"required"`
	FileName       string   `json:"fileName"`
	LinkedFileRefs []string `json:"linkedFileRefs"`
}

// IngestResponse 摄取任务响应
type IngestResponse struct {
	TaskID string `json:"taskId"`
	PlanID string `json:"planId"`
	Status string `json:"status"`
}

func NewPlanHandler(store PlanStore, q queue.Queue, log logger.Logger) *PlanHandler {
	return &PlanHandler{
		store:  store,
		queue:  q,
		logger: log,
	}
}

// CreatePlan 注册一份已上传的图纸
func (h *PlanHandler) CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleError(c, h.logger, http.StatusBadRequest, "Invalid plan request", err)
		return
	}

	name := req.FileName
	if name == "" {
		name = path.Base(req.FileRef)
	}
	plan := &models.Plan{
		ID:             uuid.NewString(),
		JobID:          req.JobID,
		FileRef:        req.FileRef,
		FileName:       name,
		Status:         models.PlanStatusDraft,
		LinkedFileRefs: req.LinkedFileRefs,
	}
	if err := h.store.SavePlan(c.Request.Context(), plan); err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to save plan", err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}

func (h *PlanHandler) GetPlan(c *gin.Context) {
	plan, ok := h.loadPlan(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, plan)
}

// Ingest 提交摄取任务, 同一图纸同时只允许一个
func (h *PlanHandler) Ingest(c *gin.Context) {
	plan, ok := h.loadPlan(c)
	if !ok {
		return
	}

	task, err := queue.NewIngestTask(plan.ID)
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to build ingest task", err)
		return
	}
	if err := h.queue.Enqueue(c.Request.Context(), task); err != nil {
		if errors.Is(err, queue.ErrAlreadyQueued) {
			handleError(c, h.logger, http.StatusConflict, "Ingestion already queued for plan", err)
			return
		}
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to enqueue ingestion", err)
		return
	}

	c.JSON(http.StatusAccepted, IngestResponse{
		TaskID: task.ID,
		PlanID: plan.ID,
		Status: "queued",
	})
}

func (h *PlanHandler) GetStatus(c *gin.Context) {
	planID := c.Param("planId")
	status, err := h.store.GetStatus(c.Request.Context(), planID)
	if err != nil {
		h.storeError(c, "Failed to get status", err)
		return
	}
	if status == nil {
		handleError(c, h.logger, http.StatusNotFound, "Plan has not been ingested", nil)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *PlanHandler) ListSheets(c *gin.Context) {
	plan, ok := h.loadPlan(c)
	if !ok {
		return
	}
	sheets, err := h.store.ListSheets(c.Request.Context(), plan.ID)
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to list sheets", err)
		return
	}
	if sheets == nil {
		sheets = []models.SheetIndexEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"planId": plan.ID, "sheets": sheets})
}

func (h *PlanHandler) ListChunks(c *gin.Context) {
	plan, ok := h.loadPlan(c)
	if !ok {
		return
	}
	chunks, err := h.store.ListChunks(c.Request.Context(), plan.ID)
	if err != nil {
		handleError(c, h.logger, http.StatusInternalServerError, "Failed to list chunks", err)
		return
	}
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	c.JSON(http.StatusOK, gin.H{"planId": plan.ID, "chunks": chunks})
}

func (h *PlanHandler) loadPlan(c *gin.Context) (*models.Plan, bool) {
	plan, err := h.store.GetPlan(c.Request.Context(), c.Param("planId"))
	if err != nil {
		h.storeError(c, "Failed to load plan", err)
		return nil, false
	}
	return plan, true
}

func (h *PlanHandler) storeError(c *gin.Context, message string, err error) {
	if errors.Is(err, repository.ErrPlanNotFound) {
		handleError(c, h.logger, http.StatusNotFound, "Plan not found", err)
		return
	}
	handleError(c, h.logger, http.StatusInternalServerError, message, err)
}
