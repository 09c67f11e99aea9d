package agent

import (
	"context"
	"fmt"

	cfg "github.com/feichai0017/plan-takeoff/config"
	"github.com/feichai0017/plan-takeoff/internal/agent/document"
	"github.com/feichai0017/plan-takeoff/internal/agent/document/image"
	"github.com/feichai0017/plan-takeoff/internal/agent/document/pdf"
	"github.com/feichai0017/plan-takeoff/internal/agent/document/tesseract"
	"github.com/feichai0017/plan-takeoff/internal/agent/document/textract"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

// Extraction groups the page extraction collaborators. Images and OCR may
// be nil-behaving: the converter returns no pages when unconfigured and OCR
// is nil when disabled.
type Extraction struct {
	Text     document.TextExtractor
	Images   document.ImageConverter
	Rehoster *image.Rehoster
	OCR      document.OCREngine
}

// NewExtraction wires the extraction stack from env config.
func NewExtraction(ctx context.Context, pipeline *cfg.PipelineConfig, uploader image.Uploader, log logger.Logger) (*Extraction, error) {
	converterCfg := cfg.GetConverterConfig()

	ext := &Extraction{
		Text: pdf.NewExtractor(log, pdf.Options{
			Timeout: pipeline.Extraction.TextTimeout,
		}),
		Images: image.NewHTTPConverter(image.ConverterConfig{
			Endpoint: converterCfg.Endpoint,
			APIKey:   converterCfg.APIKey,
			Timeout:  converterCfg.Timeout,
		}, log),
	}

	if uploader != nil {
		ext.Rehoster = image.NewRehoster(uploader, image.RehostConfig{
			Prefix:   converterCfg.RehostDir,
			MaxWidth: converterCfg.MaxWidth,
		}, log)
	}

	ocr, err := newOCREngine(ctx, converterCfg, log)
	if err != nil {
		return nil, err
	}
	ext.OCR = ocr

	log.Info("Extraction stack ready",
		logger.Bool("images", converterCfg.Endpoint != ""),
		logger.Bool("rehost", ext.Rehoster != nil),
		logger.Bool("ocr", ocr != nil),
	)
	return ext, nil
}

// Textract wins over tesseract when both are enabled.
func newOCREngine(ctx context.Context, converterCfg *cfg.ConverterConfig, log logger.Logger) (document.OCREngine, error) {
	textractCfg := cfg.GetTextractConfig()
	if textractCfg.Enabled {
		engine, err := textract.NewEngine(ctx, textractCfg, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create textract engine: %w", err)
		}
		return engine, nil
	}
	if converterCfg.OCREnabled {
		return tesseract.New(tesseract.Config{Languages: converterCfg.OCRLangs}, log), nil
	}
	return nil, nil
}
