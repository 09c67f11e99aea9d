package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/plan-takeoff/internal/agent/chunk"
	"github.com/feichai0017/plan-takeoff/internal/agent/document"
	"github.com/feichai0017/plan-takeoff/internal/agent/document/image"
	"github.com/feichai0017/plan-takeoff/internal/agent/document/pdf"
	"github.com/feichai0017/plan-takeoff/internal/agent/sheet"
	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/internal/repository"
	"github.com/feichai0017/plan-takeoff/internal/utils/validator"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/metrics"
)

var ErrNoPages = errors.New("no pages could be extracted")

// Fetcher returns the bytes of a stored file.
type Fetcher interface {
	Fetch(ctx context.Context, fileRef string) ([]byte, error)
}

// infoReader is implemented by text extractors that can read the PDF
// /Info dictionary.
type infoReader interface {
	Info(data []byte) (pdf.DocumentInfo, error)
}

// Options 摄取参数
type Options struct {
	ImagesEnabled bool
	ImageDPI      int
	ProjectPages  int
	Chunking      chunk.Options
}

// Deps are the collaborators of a Coordinator. Rehoster and OCR are optional.
type Deps struct {
	Plans     repository.PlanRepository
	Sheets    repository.SheetRepository
	Chunks    repository.ChunkRepository
	Status    *StatusReporter
	Fetcher   Fetcher
	Validator *validator.PlanValidator
	Text      document.TextExtractor
	Images    document.ImageConverter
	Rehoster  *image.Rehoster
	OCR       document.OCREngine
	Indexer   *sheet.Builder
	Chunker   *chunk.Engine
}

// Report is the outcome of one ingestion.
type Report struct {
	PlanID  string
	Status  *models.ProcessingStatus
	Project models.ProjectInfo
	Sheets  []models.SheetIndexEntry
	Chunks  []models.Chunk
}

// Coordinator runs the ingestion stages for one plan at a time. Callers
// serialize runs per plan.
type Coordinator struct {
	deps   Deps
	opts   Options
	logger logger.Logger
}

func NewCoordinator(deps Deps, opts Options, log logger.Logger) *Coordinator {
	if opts.ImageDPI <= 0 {
		opts.ImageDPI = 150
	}
	if opts.ProjectPages <= 0 {
		opts.ProjectPages = 3
	}
	if opts.Chunking == (chunk.Options{}) {
		opts.Chunking = chunk.DefaultOptions()
	}
	return &Coordinator{deps: deps, opts: opts, logger: log.Named("ingest")}
}

// Ingest downloads, extracts, indexes and chunks the plan. On failure the
// status is moved to failed, the plan goes back to draft with the error
// message, and the error is returned along with the partial report.
func (c *Coordinator) Ingest(ctx context.Context, planID string) (*Report, error) {
	log := c.logger.With(logger.String("planId", planID))
	start := time.Now()

	plan, err := c.deps.Plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}

	report := &Report{PlanID: planID}
	report.Status = c.deps.Status.Start(ctx, planID)

	if err := c.run(ctx, plan, report, log); err != nil {
		c.deps.Status.Fail(ctx, planID, report.Status, err)
		if uerr := c.deps.Plans.UpdatePlanStatus(ctx, planID, models.PlanStatusDraft, err.Error()); uerr != nil {
			log.Error("Failed to reset plan status", logger.Error(uerr))
		}
		metrics.IngestionRuns.WithLabelValues("failure").Inc()
		log.Error("Ingestion failed",
			logger.String("stage", string(report.Status.Stage)),
			logger.Duration("elapsed", time.Since(start)),
			logger.Error(err),
		)
		return report, err
	}

	metrics.IngestionRuns.WithLabelValues("success").Inc()
	log.Info("Ingestion completed",
		logger.Int("pages", report.Status.PagesProcessed),
		logger.Int("sheets", report.Status.SheetsIndexed),
		logger.Int("chunks", report.Status.ChunksCreated),
		logger.Int("images", report.Status.ImagesExtracted),
		logger.Int("warnings", len(report.Status.Warnings)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return report, nil
}

func (c *Coordinator) run(ctx context.Context, plan *models.Plan, report *Report, log logger.Logger) error {
	st := report.Status
	status := c.deps.Status

	if err := c.deps.Plans.UpdatePlanStatus(ctx, plan.ID, models.PlanStatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to mark plan processing: %w", err)
	}

	// 下载
	status.Advance(ctx, plan.ID, st, models.StageDownloading, "downloading source file")
	stageStart := time.Now()
	data, err := c.deps.Fetcher.Fetch(ctx, plan.FileRef)
	observe(models.StageDownloading, stageStart)
	if err != nil {
		return err
	}

	result, err := c.deps.Validator.Validate(data)
	if err != nil {
		return fmt.Errorf("source file rejected: %w", err)
	}
	for _, w := range result.Warnings {
		c.warn(st, log, w)
	}

	// 文本与图像并发提取
	status.Advance(ctx, plan.ID, st, models.StageExtracting, "extracting pages")
	stageStart = time.Now()
	pages, images, err := c.extract(ctx, plan.ID, data, result.FileInfo.PageCount, st, log)
	observe(models.StageExtracting, stageStart)
	if err != nil {
		return err
	}
	st.PagesProcessed = len(pages)
	status.Update(ctx, plan.ID, st)

	if err := c.deps.Plans.SetPageCount(ctx, plan.ID, len(pages)); err != nil {
		c.warn(st, log, fmt.Sprintf("failed to record page count: %v", err))
	}

	var title string
	if ir, ok := c.deps.Text.(infoReader); ok {
		if info, err := ir.Info(data); err == nil {
			title = info.Title
		}
	}
	report.Project = detectProject(plan.ID, plan.JobID, pages, c.opts.ProjectPages, title)
	if err := c.deps.Plans.SetProject(ctx, report.Project); err != nil {
		c.warn(st, log, fmt.Sprintf("failed to record project metadata: %v", err))
	}

	// 图纸索引
	status.Advance(ctx, plan.ID, st, models.StageIndexing, "building sheet index")
	stageStart = time.Now()
	imaged := make(map[int]bool, len(images))
	for _, img := range images {
		if img.Usable() {
			imaged[img.PageNumber] = true
		}
	}
	sheets, err := c.deps.Indexer.Build(plan.ID, pages, imaged)
	if err != nil {
		return fmt.Errorf("failed to build sheet index: %w", err)
	}
	if err := c.deps.Sheets.ReplaceSheets(ctx, plan.ID, sheets); err != nil {
		return fmt.Errorf("failed to persist sheet index: %w", err)
	}
	observe(models.StageIndexing, stageStart)
	report.Sheets = sheets
	st.SheetsIndexed = len(sheets)

	// 分块
	status.Advance(ctx, plan.ID, st, models.StageChunking, "chunking pages")
	stageStart = time.Now()
	chunks, err := c.deps.Chunker.Build(chunk.Input{
		PlanID:    plan.ID,
		Pages:     pages,
		Sheets:    sheets,
		Project:   report.Project,
		ImageURLs: imageURLs(images),
		Options:   c.opts.Chunking,
	})
	if err != nil {
		return fmt.Errorf("failed to chunk pages: %w", err)
	}
	if err := c.deps.Chunks.ReplaceChunks(ctx, plan.ID, chunks); err != nil {
		return fmt.Errorf("failed to persist chunks: %w", err)
	}
	observe(models.StageChunking, stageStart)
	metrics.ChunksCreated.Observe(float64(len(chunks)))
	report.Chunks = chunks
	st.ChunksCreated = len(chunks)

	if err := c.deps.Plans.UpdatePlanStatus(ctx, plan.ID, models.PlanStatusReady, ""); err != nil {
		return fmt.Errorf("failed to mark plan ready: %w", err)
	}
	status.Advance(ctx, plan.ID, st, models.StageCompleted, "completed")
	return nil
}

// extract runs text and image extraction side by side. Neither failure is
// fatal on its own; only a plan with no known pages is.
func (c *Coordinator) extract(ctx context.Context, planID string, data []byte, validatedPages int, st *models.ProcessingStatus, log logger.Logger) ([]models.PageText, []models.PageImage, error) {
	var (
		pages    []models.PageText
		images   []models.PageImage
		textErr  error
		imageErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		pages, textErr = c.deps.Text.Extract(ctx, data)
		return nil
	})
	if c.opts.ImagesEnabled {
		g.Go(func() error {
			images, imageErr = c.deps.Images.ToImages(ctx, data, c.opts.ImageDPI)
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case !c.opts.ImagesEnabled:
		c.warn(st, log, "image extraction disabled")
	case imageErr != nil:
		c.warn(st, log, fmt.Sprintf("image extraction failed: %v", imageErr))
		images = nil
	case len(images) == 0:
		c.warn(st, log, "image extraction unavailable, continuing without page images")
	}

	if textErr != nil {
		c.warn(st, log, fmt.Sprintf("text extraction failed: %v", textErr))
		pages = nil
	}
	if len(pages) == 0 {
		n := validatedPages
		if n == 0 {
			n = lastImagePage(images)
		}
		if n == 0 {
			return nil, nil, ErrNoPages
		}
		if textErr == nil {
			c.warn(st, log, "text extraction returned no pages")
		}
		pages = blankPages(n)
	} else if !hasText(pages) {
		c.warn(st, log, "no text layer found in plan")
	}

	c.recognize(ctx, pages, images, st, log)

	if c.deps.Rehoster != nil && len(images) > 0 {
		if failed := c.deps.Rehoster.Rehost(ctx, planID, images); failed > 0 {
			c.warn(st, log, fmt.Sprintf("%d page images could not be re-hosted", failed))
		}
	}

	for _, img := range images {
		if img.Usable() {
			st.ImagesExtracted++
		}
	}
	return pages, images, nil
}

// recognize fills blank pages with OCR text from their page images.
func (c *Coordinator) recognize(ctx context.Context, pages []models.PageText, images []models.PageImage, st *models.ProcessingStatus, log logger.Logger) {
	if c.deps.OCR == nil || len(images) == 0 {
		return
	}

	byPage := make(map[int]models.PageImage, len(images))
	for _, img := range images {
		if len(img.Data) > 0 {
			byPage[img.PageNumber] = img
		}
	}

	recognized := 0
	for i := range pages {
		if strings.TrimSpace(pages[i].Text) != "" {
			continue
		}
		img, ok := byPage[pages[i].PageNumber]
		if !ok {
			continue
		}
		text, err := c.deps.OCR.Recognize(ctx, img)
		if err != nil {
			c.warn(st, log, fmt.Sprintf("ocr failed on page %d: %v", pages[i].PageNumber, err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages[i].Text = text
			recognized++
		}
	}

	if recognized > 0 {
		log.Info("Recovered page text with OCR",
			logger.String("engine", c.deps.OCR.Name()),
			logger.Int("pages", recognized),
		)
	}
}

func (c *Coordinator) warn(st *models.ProcessingStatus, log logger.Logger, msg string) {
	st.Warnings = append(st.Warnings, msg)
	log.Warn("Ingestion degraded", logger.String("reason", msg))
}

func observe(stage models.Stage, start time.Time) {
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}

func blankPages(n int) []models.PageText {
	pages := make([]models.PageText, n)
	for i := range pages {
		pages[i] = models.PageText{PageNumber: i + 1}
	}
	return pages
}

func hasText(pages []models.PageText) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

func lastImagePage(images []models.PageImage) int {
	n := 0
	for _, img := range images {
		if img.PageNumber > n {
			n = img.PageNumber
		}
	}
	return n
}

func imageURLs(images []models.PageImage) map[int][]string {
	urls := make(map[int][]string)
	for _, img := range images {
		if img.URL != "" {
			urls[img.PageNumber] = append(urls[img.PageNumber], img.URL)
		}
	}
	return urls
}
