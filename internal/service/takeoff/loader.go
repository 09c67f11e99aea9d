package takeoff

import (
	"context"
	"fmt"

	"github.com/feichai0017/plan-takeoff/internal/agent/document"
	"github.com/feichai0017/plan-takeoff/internal/agent/document/image"
	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

// Fetcher returns the bytes of a stored file.
type Fetcher interface {
	Fetch(ctx context.Context, fileRef string) ([]byte, error)
}

// Loader turns a source document into pages and page images.
type Loader interface {
	Load(ctx context.Context, src SourceDocument, runLog *RunLog) (*LoadedSource, error)
}

// LoadedSource is one fetched source restricted to its page range.
type LoadedSource struct {
	Source    SourceDocument
	PageCount int
	Pages     []models.PageText
	Images    map[int]models.PageImage
}

// PageNumbers returns the pages in range, in order.
func (l *LoadedSource) PageNumbers() []int {
	start, end := l.Source.PageStart, l.Source.PageEnd
	if start < 1 {
		start = 1
	}
	if end < 1 || end > l.PageCount {
		end = l.PageCount
	}
	if end < start {
		return []int{}
	}
	out := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		out = append(out, p)
	}
	return out
}

// Text returns the text of page n, or "".
func (l *LoadedSource) Text(n int) string {
	for _, p := range l.Pages {
		if p.PageNumber == n {
			return p.Text
		}
	}
	return ""
}

// Image returns the usable image of page n.
func (l *LoadedSource) Image(n int) (models.PageImage, bool) {
	img, ok := l.Images[n]
	if !ok || !img.Usable() {
		return models.PageImage{}, false
	}
	return img, true
}

// ImageCount counts usable images in range.
func (l *LoadedSource) ImageCount() int {
	n := 0
	for _, p := range l.PageNumbers() {
		if _, ok := l.Image(p); ok {
			n++
		}
	}
	return n
}

// PageLoader fetches a source and runs text and image extraction on it.
type PageLoader struct {
	fetcher  Fetcher
	text     document.TextExtractor
	images   document.ImageConverter
	rehoster *image.Rehoster
	dpi      int
	logger   logger.Logger
}

func NewPageLoader(fetcher Fetcher, text document.TextExtractor, images document.ImageConverter, rehoster *image.Rehoster, dpi int, log logger.Logger) *PageLoader {
	if dpi <= 0 {
		dpi = 150
	}
	return &PageLoader{
		fetcher:  fetcher,
		text:     text,
		images:   images,
		rehoster: rehoster,
		dpi:      dpi,
		logger:   log.Named("loader"),
	}
}

// Load fails only when the file cannot be fetched or yields no pages.
// Extraction problems are written to runLog as warnings.
func (l *PageLoader) Load(ctx context.Context, src SourceDocument, runLog *RunLog) (*LoadedSource, error) {
	data, err := l.fetcher.Fetch(ctx, src.FileRef)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", src.FileRef, err)
	}

	pages, err := l.text.Extract(ctx, data)
	if err != nil {
		runLog.Warn(fmt.Sprintf("text extraction failed: %v", err), src.displayName(), "")
		pages = nil
	}

	var images []models.PageImage
	if l.images != nil {
		images, err = l.images.ToImages(ctx, data, l.dpi)
		if err != nil {
			runLog.Warn(fmt.Sprintf("page image conversion failed: %v", err), src.displayName(), "")
			images = nil
		}
	}
	if l.rehoster != nil && len(images) > 0 {
		if failed := l.rehoster.Rehost(ctx, src.rehostKey(), images); failed > 0 {
			runLog.Warn(fmt.Sprintf("%d page images could not be re-hosted", failed), src.displayName(), "")
		}
	}

	loaded := &LoadedSource{
		Source: src,
		Pages:  pages,
		Images: make(map[int]models.PageImage, len(images)),
	}
	for _, p := range pages {
		if p.PageNumber > loaded.PageCount {
			loaded.PageCount = p.PageNumber
		}
	}
	for _, img := range images {
		loaded.Images[img.PageNumber] = img
		if img.PageNumber > loaded.PageCount {
			loaded.PageCount = img.PageNumber
		}
	}
	if src.Full != nil && src.Full.PageCount > loaded.PageCount {
		loaded.PageCount = src.Full.PageCount
	}
	if loaded.PageCount == 0 {
		return nil, fmt.Errorf("no pages extracted from %s", src.FileRef)
	}

	l.logger.Info("Loaded source document",
		logger.String("fileRef", src.FileRef),
		logger.Int("pages", loaded.PageCount),
		logger.Int("images", len(loaded.Images)),
	)
	return loaded, nil
}
