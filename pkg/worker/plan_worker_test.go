package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/internal/service/ingest"
	"github.com/feichai0017/plan-takeoff/internal/service/takeoff"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/queue"
)

type fakeIngester struct {
	planID string
	err    error
}

func (f *fakeIngester) Ingest(ctx context.Context, planID string) (*ingest.Report, error) {
	f.planID = planID
	if f.err != nil {
		return &ingest.Report{PlanID: planID}, f.err
	}
	return &ingest.Report{PlanID: planID, Sheets: make([]models.SheetIndexEntry, 2)}, nil
}

type fakeRunner struct {
	req takeoff.Request
}

func (f *fakeRunner) Run(ctx context.Context, req takeoff.Request) *takeoff.Result {
	f.req = req
	out := models.NewTakeoffResult()
	out.Items = append(out.Items, models.TakeoffItem{Name: "Door", Quantity: 2, Unit: models.UnitEA})
	return &takeoff.Result{RunID: req.RunID, Mode: takeoff.ModeSegmentBatch, Output: out, ExportURL: "s3://exports/run-1.json"}
}

type memRuns struct {
	statuses []models.RunStatus
	result   *models.TakeoffResult
	export   string
}

func (m *memRuns) UpdateRunStatus(ctx context.Context, runID string, status models.RunStatus) error {
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *memRuns) SaveRunResult(ctx context.Context, runID string, result *models.TakeoffResult, exportURL string) error {
	m.statuses = append(m.statuses, models.RunCompleted)
	m.result, m.export = result, exportURL
	return nil
}

type memStatuses struct {
	saved []*queue.TaskStatus
}

func (m *memStatuses) SaveFinalStatus(ctx context.Context, status *queue.TaskStatus) error {
	m.saved = append(m.saved, status)
	return nil
}

func asynqTask(t *testing.T, task *queue.Task) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(task)
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(task.Type, data)
}

func TestHandleIngest(t *testing.T) {
	ing := &fakeIngester{}
	statuses := &memStatuses{}
	w := newPlanWorker(ing, nil, nil, statuses, logger.NewTestLogger())

	task, err := queue.NewIngestTask("plan-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.handleIngest(context.Background(), asynqTask(t, task)); err != nil {
		t.Fatalf("handleIngest failed: %v", err)
	}
	if ing.planID != "plan-1" {
		t.Errorf("planID = %q", ing.planID)
	}
	if len(statuses.saved) != 1 || statuses.saved[0].Status != "completed" || statuses.saved[0].TaskID != "ingest:plan-1" {
		t.Errorf("saved = %+v", statuses.saved)
	}
}

func TestHandleIngestFailure(t *testing.T) {
	log := logger.NewTestLogger()
	statuses := &memStatuses{}
	w := newPlanWorker(&fakeIngester{err: errors.New("no pages")}, nil, nil, statuses, log)

	task, _ := queue.NewIngestTask("plan-1")
	if err := w.handleIngest(context.Background(), asynqTask(t, task)); err == nil {
		t.Fatal("expected error")
	}
	if len(statuses.saved) != 1 || statuses.saved[0].Status != "failed" || statuses.saved[0].Error != "no pages" {
		t.Errorf("saved = %+v", statuses.saved)
	}
	if len(log.EntriesAt("ERROR")) == 0 {
		t.Error("expected an error log line")
	}
}

func TestHandleTakeoff(t *testing.T) {
	runner := &fakeRunner{}
	runs := &memRuns{}
	w := newPlanWorker(nil, runner, runs, nil, logger.NewTestLogger())

	req := takeoff.Request{
		RunID:   "run-1",
		PlanID:  "plan-1",
		Sources: []takeoff.SourceDocument{{FileRef: "plans/a.pdf", PageStart: 1, PageEnd: 4}},
		Build:   takeoff.BuildContext{Industry: "commercial", PagesPerBatch: 2},
	}
	task, err := queue.NewTakeoffTask(req.RunID, req.PlanID, req)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.handleTakeoff(context.Background(), asynqTask(t, task)); err != nil {
		t.Fatalf("handleTakeoff failed: %v", err)
	}

	if runner.req.RunID != "run-1" || len(runner.req.Sources) != 1 || runner.req.Sources[0].PageEnd != 4 {
		t.Errorf("request = %+v", runner.req)
	}
	if len(runs.statuses) != 2 || runs.statuses[0] != models.RunRunning || runs.statuses[1] != models.RunCompleted {
		t.Errorf("statuses = %v", runs.statuses)
	}
	if runs.result == nil || len(runs.result.Items) != 1 || runs.export != "s3://exports/run-1.json" {
		t.Errorf("result = %+v export = %q", runs.result, runs.export)
	}
}

func TestHandleRejectsGarbage(t *testing.T) {
	w := newPlanWorker(&fakeIngester{}, nil, nil, nil, logger.NewTestLogger())
	err := w.handleIngest(context.Background(), asynq.NewTask(queue.TaskTypePlanIngest, []byte("not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("expected SkipRetry, got %v", err)
	}
}
