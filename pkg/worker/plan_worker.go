package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/internal/service/ingest"
	"github.com/feichai0017/plan-takeoff/internal/service/takeoff"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/queue"
)

type Ingester interface {
	Ingest(ctx context.Context, planID string) (*ingest.Report, error)
}

type TakeoffRunner interface {
	Run(ctx context.Context, req takeoff.Request) *takeoff.Result
}

type RunStore interface {
	UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus) error
	SaveRunResult(ctx context.Context, runID string, result *models.TakeoffResult, exportURL string) error
}

type StatusSaver interface {
	SaveFinalStatus(ctx context.Context, status *queue.TaskStatus) error
}

// PlanWorker runs plan ingestion and takeoff tasks.
type PlanWorker struct {
	*BaseWorker
	ingester Ingester
	runner   TakeoffRunner
	runs     RunStore
	statuses StatusSaver
	logger   logger.Logger
	now      func() time.Time
}

func NewPlanWorker(cfg *Config, ingester Ingester, runner TakeoffRunner, runs RunStore, statuses StatusSaver, log logger.Logger) *PlanWorker {
	log = log.Named("worker")
	w := newPlanWorker(ingester, runner, runs, statuses, log)
	w.BaseWorker = newBaseWorker(cfg, log)
	w.registerHandlers()
	return w
}

func newPlanWorker(ingester Ingester, runner TakeoffRunner, runs RunStore, statuses StatusSaver, log logger.Logger) *PlanWorker {
	return &PlanWorker{
		ingester: ingester,
		runner:   runner,
		runs:     runs,
		statuses: statuses,
		logger:   log,
		now:      time.Now,
	}
}

func (w *PlanWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypePlanIngest, w.handleIngest)
	w.mux.HandleFunc(queue.TaskTypeTakeoffRun, w.handleTakeoff)
}

func (w *PlanWorker) handleIngest(ctx context.Context, t *asynq.Task) error {
	task, err := w.decode(t)
	if err != nil {
		return err
	}

	var payload queue.IngestPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil || payload.PlanID == "" {
		w.logger.Error("Invalid ingest payload", logger.String("taskId", task.ID))
		return fmt.Errorf("invalid ingest payload: %w", asynq.SkipRetry)
	}

	ctx = logger.WithTaskID(logger.WithPlanID(ctx, payload.PlanID), task.ID)
	log := logger.FromContext(ctx, w.logger)
	started := w.now()
	w.writeResult(t, `{"status":"running","progress":0}`)

	report, err := w.ingester.Ingest(ctx, payload.PlanID)
	if err != nil {
		log.Error("Plan ingestion failed", logger.Error(err))
		w.writeResult(t, fmt.Sprintf(`{"status":"failed","error":%q}`, err.Error()))
		w.saveStatus(ctx, &queue.TaskStatus{
			TaskID:     task.ID,
			Type:       task.Type,
			Status:     "failed",
			Error:      err.Error(),
			StartedAt:  started,
			FinishedAt: w.now(),
		})
		return err
	}

	log.Info("Plan ingested",
		logger.Int("sheets", len(report.Sheets)),
		logger.Int("chunks", len(report.Chunks)),
	)
	w.writeResult(t, `{"status":"completed","progress":100}`)
	w.saveStatus(ctx, &queue.TaskStatus{
		TaskID:     task.ID,
		Type:       task.Type,
		Status:     "completed",
		Progress:   1,
		StartedAt:  started,
		FinishedAt: w.now(),
	})
	return nil
}

func (w *PlanWorker) handleTakeoff(ctx context.Context, t *asynq.Task) error {
	task, err := w.decode(t)
	if err != nil {
		return err
	}

	var req takeoff.Request
	if err := json.Unmarshal(task.Payload, &req); err != nil || req.RunID == "" {
		w.logger.Error("Invalid takeoff payload", logger.String("taskId", task.ID))
		return fmt.Errorf("invalid takeoff payload: %w", asynq.SkipRetry)
	}

	ctx = logger.WithTaskID(logger.WithRunID(ctx, req.RunID), task.ID)
	log := logger.FromContext(ctx, w.logger)
	started := w.now()

	if err := w.runs.UpdateRunStatus(ctx, req.RunID, models.RunRunning); err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	w.writeResult(t, `{"status":"running","progress":0}`)

	// Run 不返回错误, 失败记录在运行日志里
	result := w.runner.Run(ctx, req)
	if err := w.runs.SaveRunResult(ctx, req.RunID, result.Output, result.ExportURL); err != nil {
		log.Error("Failed to save takeoff result", logger.Error(err))
		return fmt.Errorf("failed to save takeoff result: %w", err)
	}

	errorsLogged := 0
	for _, e := range result.Output.RunLog {
		if e.Severity == models.SeverityError {
			errorsLogged++
		}
	}
	log.Info("Takeoff run finished",
		logger.String("mode", string(result.Mode)),
		logger.Int("items", len(result.Output.Items)),
		logger.Int("errors", errorsLogged),
	)

	w.writeResult(t, `{"status":"completed","progress":100}`)
	w.saveStatus(ctx, &queue.TaskStatus{
		TaskID:     task.ID,
		Type:       task.Type,
		Status:     "completed",
		Progress:   1,
		StartedAt:  started,
		FinishedAt: w.now(),
	})
	return nil
}

func (w *PlanWorker) decode(t *asynq.Task) (*queue.Task, error) {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		w.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return nil, fmt.Errorf("failed to unmarshal task: %w", asynq.SkipRetry)
	}
	if task.ID == "" || len(task.Payload) == 0 {
		w.logger.Error("Invalid task data", logger.String("taskId", task.ID))
		return nil, fmt.Errorf("invalid task data: missing required fields: %w", asynq.SkipRetry)
	}
	return &task, nil
}

// writeResult 写入 asynq 任务结果, 测试中构造的任务没有 ResultWriter
func (w *PlanWorker) writeResult(t *asynq.Task, body string) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	if _, err := rw.Write([]byte(body)); err != nil {
		w.logger.Error("Failed to write task status", logger.Error(err))
	}
}

func (w *PlanWorker) saveStatus(ctx context.Context, status *queue.TaskStatus) {
	if w.statuses == nil {
		return
	}
	if err := w.statuses.SaveFinalStatus(ctx, status); err != nil {
		w.logger.Warn("Failed to save final task status",
			logger.String("taskId", status.TaskID),
			logger.Error(err),
		)
	}
}
