package repository

import (
	"context"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

// PlanRepository 图纸文档
type PlanRepository interface {
	SavePlan(ctx context.Context, plan *models.Plan) error
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	UpdatePlanStatus(ctx context.Context, id string, status models.PlanStatus, errMsg string) error
	SetPageCount(ctx context.Context, id string, pages int) error
	SetProject(ctx context.Context, info models.ProjectInfo) error
}

// StatusRepository stores the ProcessingStatus blob on the plan row.
type StatusRepository interface {
	SaveStatus(ctx context.Context, planID string, status *models.ProcessingStatus) error
	GetStatus(ctx context.Context, planID string) (*models.ProcessingStatus, error)
}

type SheetRepository interface {
	ReplaceSheets(ctx context.Context, planID string, sheets []models.SheetIndexEntry) error
	ListSheets(ctx context.Context, planID string) ([]models.SheetIndexEntry, error)
}

type ChunkRepository interface {
	ReplaceChunks(ctx context.Context, planID string, chunks []models.Chunk) error
	ListChunks(ctx context.Context, planID string) ([]models.Chunk, error)
}

type TakeoffRepository interface {
	CreateRun(ctx context.Context, run *models.TakeoffRun) error
	UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus) error
	SaveRunResult(ctx context.Context, runID string, result *models.TakeoffResult, exportURL string) error
	GetRun(ctx context.Context, runID string) (*models.TakeoffRun, error)
}

var (
	_ PlanRepository    = (*Store)(nil)
	_ StatusRepository  = (*Store)(nil)
	_ SheetRepository   = (*Store)(nil)
	_ ChunkRepository   = (*Store)(nil)
	_ TakeoffRepository = (*Store)(nil)
)
