package image

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/disintegration/imaging"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

// Uploader is the storage subset needed to re-host page images.
type Uploader interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

type RehostConfig struct {
	Prefix   string
	MaxWidth int
	Quality  int
}

// Rehoster downsizes rendered pages and uploads the ones that only carry
// raw bytes, so downstream consumers get stable URLs.
type Rehoster struct {
	store  Uploader
	cfg    RehostConfig
	logger logger.Logger
	pre    Pipeline
}

func NewRehoster(store Uploader, cfg RehostConfig, log logger.Logger) *Rehoster {
	if cfg.Prefix == "" {
		cfg.Prefix = "page-images"
	}
	if cfg.MaxWidth <= 0 {
		cfg.MaxWidth = 2048
	}
	if cfg.Quality <= 0 {
		cfg.Quality = 85
	}
	return &Rehoster{
		store:  store,
		cfg:    cfg,
		logger: log.Named("rehost"),
		pre:    Pipeline{NewResizeProcessor(cfg.MaxWidth)},
	}
}

// Rehost fills in URLs in place. A page that fails keeps its bytes and is
// reported in the returned count of failures.
func (r *Rehoster) Rehost(ctx context.Context, planID string, images []models.PageImage) int {
	failed := 0
	for i := range images {
		img := &images[i]
		if img.URL != "" || len(img.Data) == 0 {
			continue
		}
		if err := r.rehostOne(ctx, planID, img); err != nil {
			failed++
			r.logger.Warn("Failed to re-host page image",
				logger.String("planId", planID),
				logger.Int("page", img.PageNumber),
				logger.Error(err),
			)
		}
	}
	return failed
}

func (r *Rehoster) rehostOne(ctx context.Context, planID string, img *models.PageImage) error {
	decoded, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	processed, err := r.pre.Apply(decoded)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, processed, imaging.JPEG, imaging.JPEGQuality(r.cfg.Quality)); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}

	key := path.Join(r.cfg.Prefix, planID, fmt.Sprintf("page-%04d.jpg", img.PageNumber))
	url, err := r.store.Upload(ctx, key, buf.Bytes(), "image/jpeg")
	if err != nil {
		return err
	}

	bounds := processed.Bounds()
	img.URL = url
	img.Data = buf.Bytes()
	img.ContentType = "image/jpeg"
	img.Width, img.Height = bounds.Dx(), bounds.Dy()
	return nil
}
