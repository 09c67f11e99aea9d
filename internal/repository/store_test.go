package repository

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/feichai0017/plan-takeoff/config"
	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), &config.DatabaseConfig{
		Driver:      "sqlite3",
		DSN:         ":memory:",
		AutoMigrate: true,
	}, logger.NewTestLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedPlan(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.SavePlan(context.Background(), &models.Plan{
		ID:             id,
		JobID:          "job-1",
		FileRef:        "plans/" + id + ".pdf",
		LinkedFileRefs: []string{"plans/specs.pdf"},
	}); err != nil {
		t.Fatalf("SavePlan failed: %v", err)
	}
}

func TestPlanLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s, "plan-1")

	if err := s.UpdatePlanStatus(ctx, "plan-1", models.PlanStatusProcessing, ""); err != nil {
		t.Fatalf("UpdatePlanStatus failed: %v", err)
	}
	if err := s.SetPageCount(ctx, "plan-1", 12); err != nil {
		t.Fatalf("SetPageCount failed: %v", err)
	}
	if err := s.SetProject(ctx, models.ProjectInfo{PlanID: "plan-1", Name: "Riverside Clinic", Address: "12 Main St"}); err != nil {
		t.Fatalf("SetProject failed: %v", err)
	}

	p, err := s.GetPlan(ctx, "plan-1")
	if err != nil {
		t.Fatalf("GetPlan failed: %v", err)
	}
	if p.Status != models.PlanStatusProcessing || p.PageCount != 12 || p.ProjectName != "Riverside Clinic" {
		t.Errorf("unexpected plan %+v", p)
	}
	if !reflect.DeepEqual(p.LinkedFileRefs, []string{"plans/specs.pdf"}) {
		t.Errorf("LinkedFileRefs = %v", p.LinkedFileRefs)
	}

	if _, err := s.GetPlan(ctx, "missing"); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound, got %v", err)
	}
	if err := s.UpdatePlanStatus(ctx, "missing", models.PlanStatusReady, ""); !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("expected ErrPlanNotFound on update, got %v", err)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s, "plan-2")

	if st, err := s.GetStatus(ctx, "plan-2"); err != nil || st != nil {
		t.Fatalf("expected no status yet, got %v %v", st, err)
	}

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	status := models.NewProcessingStatus(now)
	if err := status.Advance(models.StageDownloading, "downloading plan", now); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	status.Warnings = []string{"images disabled"}
	if err := s.SaveStatus(ctx, "plan-2", status); err != nil {
		t.Fatalf("SaveStatus failed: %v", err)
	}

	got, err := s.GetStatus(ctx, "plan-2")
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if got.Stage != models.StageDownloading || got.Progress != 10 || !got.StartedAt.Equal(now) {
		t.Errorf("unexpected status %+v", got)
	}
}

func TestReplaceSheetsAndChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s, "plan-3")

	first := []models.SheetIndexEntry{
		{PageNo: 1, SheetID: "G-001", Discipline: models.DisciplineUnknown, Units: models.UnitsUnknown, SheetType: models.SheetTypeTitle, HasText: true},
		{PageNo: 2, SheetID: "A-101", Discipline: models.DisciplineArchitectural, Units: models.UnitsImperial, SheetType: models.SheetTypeFloorPlan, Scale: `1/4" = 1'-0"`, ScaleRatio: 48, Keywords: []string{"door"}, HasImage: true},
	}
	if err := s.ReplaceSheets(ctx, "plan-3", first); err != nil {
		t.Fatalf("ReplaceSheets failed: %v", err)
	}
	second := first[1:]
	if err := s.ReplaceSheets(ctx, "plan-3", second); err != nil {
		t.Fatalf("ReplaceSheets failed: %v", err)
	}
	sheets, err := s.ListSheets(ctx, "plan-3")
	if err != nil {
		t.Fatalf("ListSheets failed: %v", err)
	}
	if len(sheets) != 1 || sheets[0].SheetID != "A-101" || sheets[0].ScaleRatio != 48 || !sheets[0].HasImage {
		t.Errorf("unexpected sheets %+v", sheets)
	}
	if !reflect.DeepEqual(sheets[0].Keywords, []string{"door"}) {
		t.Errorf("Keywords = %v", sheets[0].Keywords)
	}

	chunks := []models.Chunk{
		{ID: "c1", PlanID: "plan-3", Index: 0, PageStart: 1, PageEnd: 2, Pages: []int{1, 2}, Text: "=== PAGE 1 ===", TokenCount: 4},
		{ID: "c2", PlanID: "plan-3", Index: 1, PageStart: 2, PageEnd: 2, Pages: []int{2}, Text: "=== PAGE 2 ===", TokenCount: 4},
	}
	if err := s.ReplaceChunks(ctx, "plan-3", chunks); err != nil {
		t.Fatalf("ReplaceChunks failed: %v", err)
	}
	got, err := s.ListChunks(ctx, "plan-3")
	if err != nil {
		t.Fatalf("ListChunks failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c1" || !reflect.DeepEqual(got[0].Pages, []int{1, 2}) {
		t.Errorf("unexpected chunks %+v", got)
	}
}

func TestReplaceChunksRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPlan(t, s, "plan-4")

	if err := s.ReplaceChunks(ctx, "plan-4", []models.Chunk{{ID: "keep", Index: 0, Pages: []int{1}}}); err != nil {
		t.Fatalf("ReplaceChunks failed: %v", err)
	}
	dup := []models.Chunk{{ID: "dup", Index: 0}, {ID: "dup", Index: 1}}
	if err := s.ReplaceChunks(ctx, "plan-4", dup); err == nil {
		t.Fatal("expected duplicate id error")
	}
	got, err := s.ListChunks(ctx, "plan-4")
	if err != nil {
		t.Fatalf("ListChunks failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("failed replace should leave prior chunks, got %+v", got)
	}
}

func TestTakeoffRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &models.TakeoffRun{ID: "run-1", PlanID: "plan-5"}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if err := s.UpdateRunStatus(ctx, "run-1", models.RunRunning); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != models.RunRunning || got.Result != nil {
		t.Errorf("unexpected run %+v", got)
	}

	result := models.NewTakeoffResult()
	result.Items = append(result.Items, models.TakeoffItem{Name: "Concrete footing", Quantity: 12, Unit: models.UnitCY, PageRefs: []int{3}})
	if err := s.SaveRunResult(ctx, "run-1", result, "https://bucket/takeoff-results/run-1.json"); err != nil {
		t.Fatalf("SaveRunResult failed: %v", err)
	}

	got, err = s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != models.RunCompleted || got.ExportURL == "" || len(got.Result.Items) != 1 {
		t.Errorf("unexpected completed run %+v", got)
	}
	if got.Result.Analysis == nil || got.Result.RunLog == nil {
		t.Errorf("decoded result should have non-nil slices")
	}

	if _, err := s.GetRun(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}
