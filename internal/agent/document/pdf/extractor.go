package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

var ErrExtractionTimeout = errors.New("text extraction timed out")

// DocumentInfo is the /Info dictionary of a PDF.
type DocumentInfo struct {
	Title  string
	Author string
	Pages  int
}

type Options struct {
	Timeout    time.Duration
	MaxWorkers int
}

// Extractor returns per-page plain text and positioned runs.
type Extractor struct {
	logger logger.Logger
	opts   Options
}

func NewExtractor(log logger.Logger, opts Options) *Extractor {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	return &Extractor{logger: log.Named("pdf"), opts: opts}
}

// Extract returns one PageText per page with contiguous numbering. The
// whole call is bounded by the configured timeout.
func (e *Extractor) Extract(ctx context.Context, data []byte) ([]models.PageText, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	type result struct {
		pages []models.PageText
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("pdf reader panic: %v", r)}
			}
		}()
		pages, err := e.extract(ctx, data)
		done <- result{pages: pages, err: err}
	}()

	select {
	case res := <-done:
		return res.pages, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrExtractionTimeout, e.opts.Timeout)
		}
		return nil, ctx.Err()
	}
}

func (e *Extractor) extract(ctx context.Context, data []byte) ([]models.PageText, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := pdfReader.NumPage()
	pages := make([]models.PageText, numPages)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pages[pageNum-1] = e.extractPage(pdfReader, pageNum)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

// extractPage never fails; unreadable pages come back empty.
func (e *Extractor) extractPage(r *pdf.Reader, pageNum int) (pt models.PageText) {
	pt.PageNumber = pageNum

	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Warn("Recovered from panic while reading page",
				logger.Int("page", pageNum),
				logger.Any("panic", rec),
				logger.String("stack", string(debug.Stack())),
			)
			pt = models.PageText{PageNumber: pageNum}
		}
	}()

	page := r.Page(pageNum)
	if page.V.IsNull() {
		return pt
	}

	pt.Rotation = pageRotation(page.V)

	text, err := page.GetPlainText(nil)
	if err != nil {
		e.logger.Warn("Failed to get text from page",
			logger.Int("page", pageNum),
			logger.Error(err),
		)
		return pt
	}
	pt.Text = cleanText(text)
	pt.Runs = groupRuns(page.Content().Text)
	return pt
}

// Info reads the document information dictionary.
func (e *Extractor) Info(data []byte) (info DocumentInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return DocumentInfo{}, fmt.Errorf("failed to open pdf: %w", err)
	}

	info.Pages = pdfReader.NumPage()
	trailer := pdfReader.Trailer()
	if !trailer.IsNull() {
		if meta := trailer.Key("Info"); !meta.IsNull() {
			if title := meta.Key("Title"); !title.IsNull() {
				info.Title = strings.TrimSpace(title.Text())
			}
			if author := meta.Key("Author"); !author.IsNull() {
				info.Author = strings.TrimSpace(author.Text())
			}
		}
	}
	return info, nil
}

// pageRotation walks up the page tree since /Rotate is inheritable.
func pageRotation(v pdf.Value) int {
	for depth := 0; depth < 32 && !v.IsNull(); depth++ {
		if rot := v.Key("Rotate"); !rot.IsNull() {
			deg := int(rot.Int64()) % 360
			if deg < 0 {
				deg += 360
			}
			return deg
		}
		v = v.Key("Parent")
	}
	return 0
}

// groupRuns merges glyph spans that share a baseline and font size.
func groupRuns(texts []pdf.Text) []models.TextRun {
	if len(texts) == 0 {
		return nil
	}

	var runs []models.TextRun
	var cur *models.TextRun
	var sb strings.Builder
	lastEnd := 0.0

	flush := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.TrimSpace(sb.String())
		if cur.Text != "" {
			runs = append(runs, *cur)
		}
		cur = nil
		sb.Reset()
	}

	for _, t := range texts {
		if cur != nil && math.Abs(t.Y-cur.Y) < 0.5 && math.Abs(t.FontSize-cur.FontSize) < 0.01 {
			if t.X-lastEnd > t.FontSize*0.25 {
				sb.WriteByte(' ')
			}
			sb.WriteString(t.S)
			lastEnd = t.X + t.W
			continue
		}
		flush()
		cur = &models.TextRun{X: t.X, Y: t.Y, FontSize: t.FontSize}
		sb.WriteString(t.S)
		lastEnd = t.X + t.W
	}
	flush()

	// top of page first, then left to right
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].Y != runs[j].Y {
			return runs[i].Y > runs[j].Y
		}
		return runs[i].X < runs[j].X
	})
	return runs
}

func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	return strings.TrimSpace(text)
}
