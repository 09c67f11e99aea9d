package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/feichai0017/plan-takeoff/config"
	"github.com/feichai0017/plan-takeoff/internal/agent/chunk"
	"github.com/feichai0017/plan-takeoff/internal/agent/document/pdf"
	"github.com/feichai0017/plan-takeoff/internal/agent/sheet"
	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/internal/repository"
	"github.com/feichai0017/plan-takeoff/internal/testutil"
	"github.com/feichai0017/plan-takeoff/internal/utils/validator"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

type fakeSigner struct {
	url        string
	resolveErr error
}

func (f *fakeSigner) ResolvePath(ref string) (string, error) {
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	return strings.TrimPrefix(ref, "/"), nil
}

func (f *fakeSigner) SignedURL(_ context.Context, path string, _ time.Duration) (string, error) {
	return f.url + "/" + path, nil
}

func retrieverConfig() config.RetrieverConfig {
	return config.RetrieverConfig{
		MaxAttempts: 3,
		Delays:      []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond},
		MaxBytes:    1024,
	}
}

func TestRetrieverFailsAfterThreeAttempts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	log := logger.NewTestLogger()
	r := NewRetriever(&fakeSigner{url: srv.URL}, retrieverConfig(), log)

	if _, err := r.Fetch(context.Background(), "/plans/a.pdf"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("attempts = %d, want 3", calls)
	}
	if got := len(log.EntriesAt("WARN")); got != 3 {
		t.Errorf("warn lines = %d, want 3", got)
	}
}

func TestRetrieverDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/plans/a.pdf" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte("%PDF-1.4 body"))
	}))
	defer srv.Close()

	r := NewRetriever(&fakeSigner{url: srv.URL}, retrieverConfig(), logger.NewTestLogger())
	data, err := r.Fetch(context.Background(), "plans/a.pdf")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != "%PDF-1.4 body" {
		t.Errorf("data = %q", data)
	}
}

func TestRetrieverRejectsOversizedFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	r := NewRetriever(&fakeSigner{url: srv.URL}, retrieverConfig(), logger.NewTestLogger())
	_, err := r.Fetch(context.Background(), "plans/big.pdf")
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestRetrieverBadReferenceIsNotRetried(t *testing.T) {
	log := logger.NewTestLogger()
	r := NewRetriever(&fakeSigner{resolveErr: errors.New("bad ref")}, retrieverConfig(), log)

	if _, err := r.Fetch(context.Background(), "::"); err == nil {
		t.Fatal("expected error")
	}
	if got := len(log.EntriesAt("WARN")); got != 0 {
		t.Errorf("warn lines = %d, want 0", got)
	}
}

type failingStatusRepo struct{}

func (failingStatusRepo) SaveStatus(context.Context, string, *models.ProcessingStatus) error {
	return errors.New("db down")
}

func (failingStatusRepo) GetStatus(context.Context, string) (*models.ProcessingStatus, error) {
	return nil, nil
}

func TestStatusReporterIsBestEffort(t *testing.T) {
	log := logger.NewTestLogger()
	s := NewStatusReporter(failingStatusRepo{}, log)

	st := s.Start(context.Background(), "plan-1")
	s.Advance(context.Background(), "plan-1", st, models.StageDownloading, "downloading")

	if st.Stage != models.StageDownloading {
		t.Errorf("stage = %s, want downloading", st.Stage)
	}

	select {
	case e := <-s.Errors():
		if e.PlanID != "plan-1" || e.Stage != models.StageQueued {
			t.Errorf("unexpected status error %+v", e)
		}
	default:
		t.Fatal("expected a status error")
	}
	if got := len(log.EntriesAt("WARN")); got != 2 {
		t.Errorf("warn lines = %d, want 2", got)
	}
}

func TestStatusReporterRejectsBackwardsMove(t *testing.T) {
	s := NewStatusReporter(failingStatusRepo{}, logger.NewNop())
	st := models.NewProcessingStatus(time.Now())
	st.Stage = models.StageChunking

	s.Advance(context.Background(), "plan-1", st, models.StageDownloading, "downloading")
	if st.Stage != models.StageChunking {
		t.Errorf("stage = %s, want chunking", st.Stage)
	}
}

func TestDetectProject(t *testing.T) {
	pages := []models.PageText{
		{PageNumber: 1, Text: "COVER SHEET\nPROJECT NAME: Riverside   Clinic\nOWNER: City"},
		{PageNumber: 2, Text: "GENERAL NOTES\n1200 North Harbor Blvd, Fullerton, CA 92835"},
		{PageNumber: 4, Text: "ADDRESS: ignored"},
	}

	info := detectProject("plan-1", "job-1", pages, 3, "fallback")
	if info.Name != "Riverside Clinic" {
		t.Errorf("Name = %q", info.Name)
	}
	if !strings.HasPrefix(info.Address, "1200 North Harbor Blvd") {
		t.Errorf("Address = %q", info.Address)
	}

	info = detectProject("plan-1", "", pages[2:], 3, "Clinic Set")
	if info.Name != "Clinic Set" || info.Address != "ignored" {
		t.Errorf("unexpected fallback %+v", info)
	}
}

type staticFetcher struct {
	data []byte
	err  error
}

func (f staticFetcher) Fetch(context.Context, string) ([]byte, error) {
	return f.data, f.err
}

type staticText struct {
	pages []models.PageText
}

func (s staticText) Extract(context.Context, []byte) ([]models.PageText, error) {
	return s.pages, nil
}

type failingText struct{}

func (failingText) Extract(context.Context, []byte) ([]models.PageText, error) {
	return nil, errors.New("parser crashed")
}

type staticImages struct {
	pages []models.PageImage
	calls int
}

func (s *staticImages) ToImages(context.Context, []byte, int) ([]models.PageImage, error) {
	s.calls++
	return s.pages, nil
}

type stubOCR struct{}

func (stubOCR) Name() string { return "stub" }

func (stubOCR) Recognize(_ context.Context, img models.PageImage) (string, error) {
	if img.PageNumber == 2 {
		return "", errors.New("unreadable")
	}
	return "SHEET NO: S-201\nFOUNDATION PLAN", nil
}

func newStore(t *testing.T, planID string) *repository.Store {
	t.Helper()
	store, err := repository.Open(context.Background(), &config.DatabaseConfig{
		Driver:      "sqlite3",
		DSN:         ":memory:",
		AutoMigrate: true,
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.SavePlan(context.Background(), &models.Plan{
		ID:      planID,
		JobID:   "job-1",
		FileRef: "plans/" + planID + ".pdf",
		Status:  models.PlanStatusDraft,
	}); err != nil {
		t.Fatalf("SavePlan failed: %v", err)
	}
	return store
}

func newCoordinator(store *repository.Store, deps Deps, opts Options, log logger.Logger) *Coordinator {
	deps.Plans = store
	deps.Sheets = store
	deps.Chunks = store
	deps.Status = NewStatusReporter(store, log)
	deps.Validator = validator.NewPlanValidator(log, nil)
	deps.Indexer = sheet.NewBuilder()
	deps.Chunker = chunk.NewEngine(log)
	if deps.Text == nil {
		deps.Text = pdf.NewExtractor(log, pdf.Options{Timeout: time.Minute})
	}
	if deps.Images == nil {
		deps.Images = &staticImages{}
	}
	return NewCoordinator(deps, opts, log)
}

func TestIngestWithImagesDisabled(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "plan-1")
	log := logger.NewTestLogger()

	text := staticText{pages: []models.PageText{
		{PageNumber: 1, Text: "COVER SHEET\nPROJECT NAME: Riverside Clinic"},
		{PageNumber: 2, Text: "SHEET NO: A-101\nFIRST FLOOR PLAN\nSCALE: 1/4\" = 1'-0\""},
	}}
	images := &staticImages{}
	c := newCoordinator(store, Deps{
		Fetcher: staticFetcher{data: testutil.TextPDF("cover", "plan")},
		Text:    text,
		Images:  images,
	}, Options{ImagesEnabled: false}, log)

	report, err := c.Ingest(ctx, "plan-1")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if images.calls != 0 {
		t.Errorf("converter called %d times", images.calls)
	}

	st := report.Status
	if st.Stage != models.StageCompleted || st.Progress != 100 {
		t.Errorf("status = %s/%d, want completed/100", st.Stage, st.Progress)
	}
	if st.ImagesExtracted != 0 {
		t.Errorf("ImagesExtracted = %d, want 0", st.ImagesExtracted)
	}
	if !containsWarning(st.Warnings, "image extraction disabled") {
		t.Errorf("missing image warning in %v", st.Warnings)
	}
	if st.PagesProcessed != 2 || st.SheetsIndexed != 2 || st.ChunksCreated != 1 {
		t.Errorf("unexpected counters %+v", st)
	}

	plan, err := store.GetPlan(ctx, "plan-1")
	if err != nil {
		t.Fatalf("GetPlan failed: %v", err)
	}
	if plan.Status != models.PlanStatusReady || plan.PageCount != 2 {
		t.Errorf("plan = %s/%d, want ready/2", plan.Status, plan.PageCount)
	}
	if plan.ProjectName != "Riverside Clinic" {
		t.Errorf("ProjectName = %q", plan.ProjectName)
	}

	saved, err := store.GetStatus(ctx, "plan-1")
	if err != nil || saved == nil || saved.Stage != models.StageCompleted {
		t.Errorf("persisted status = %+v, %v", saved, err)
	}

	sheets, err := store.ListSheets(ctx, "plan-1")
	if err != nil {
		t.Fatalf("ListSheets failed: %v", err)
	}
	if len(sheets) != 2 || sheets[1].SheetID != "A-101" {
		t.Errorf("unexpected sheets %+v", sheets)
	}
}

func TestIngestFallsBackToOCR(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "plan-2")
	log := logger.NewTestLogger()

	images := &staticImages{pages: []models.PageImage{
		{PageNumber: 1, Data: []byte{1}, Width: 10, Height: 10},
		{PageNumber: 2, Data: []byte{2}, Width: 10, Height: 10},
	}}
	c := newCoordinator(store, Deps{
		Fetcher: staticFetcher{data: testutil.TextPDF("a", "b")},
		Text:    failingText{},
		Images:  images,
		OCR:     stubOCR{},
	}, Options{ImagesEnabled: true}, log)

	report, err := c.Ingest(ctx, "plan-2")
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	st := report.Status
	if st.ImagesExtracted != 2 || st.PagesProcessed != 2 {
		t.Errorf("unexpected counters %+v", st)
	}
	if !containsWarning(st.Warnings, "text extraction failed") || !containsWarning(st.Warnings, "ocr failed on page 2") {
		t.Errorf("unexpected warnings %v", st.Warnings)
	}
	if report.Sheets[0].SheetID != "S-201" {
		t.Errorf("sheet 1 id = %q, want S-201", report.Sheets[0].SheetID)
	}
	if report.Sheets[1].SheetID != "PAGE-2" || !report.Sheets[1].HasImage {
		t.Errorf("unexpected sheet 2 %+v", report.Sheets[1])
	}
}

func TestIngestFailureResetsPlan(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, "plan-3")

	c := newCoordinator(store, Deps{Fetcher: staticFetcher{err: errors.New("download exhausted")}},
		Options{ImagesEnabled: true}, logger.NewTestLogger())

	report, err := c.Ingest(ctx, "plan-3")
	if err == nil {
		t.Fatal("expected error")
	}
	if report.Status.Stage != models.StageFailed || report.Status.Error == "" {
		t.Errorf("status = %+v", report.Status)
	}

	plan, err := store.GetPlan(ctx, "plan-3")
	if err != nil {
		t.Fatalf("GetPlan failed: %v", err)
	}
	if plan.Status != models.PlanStatusDraft || !strings.Contains(plan.ErrorMessage, "download exhausted") {
		t.Errorf("plan = %s %q", plan.Status, plan.ErrorMessage)
	}
}

func TestIngestRejectsNonPDF(t *testing.T) {
	store := newStore(t, "plan-4")
	c := newCoordinator(store, Deps{Fetcher: staticFetcher{data: []byte("just some plain text")}},
		Options{}, logger.NewNop())

	_, err := c.Ingest(context.Background(), "plan-4")
	if !errors.Is(err, validator.ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
}

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
