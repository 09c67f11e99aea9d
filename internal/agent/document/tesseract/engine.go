package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	pageimage "github.com/feichai0017/plan-takeoff/internal/agent/document/image"
	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

var ErrNoImageData = errors.New("page image has no bytes")

type Config struct {
	Languages     []string
	MinConfidence float64
	PageSegMode   gosseract.PageSegMode
}

// Engine runs tesseract over rendered pages. A client is created per call;
// gosseract clients are not safe for concurrent use.
type Engine struct {
	config Config
	pre    pageimage.Pipeline
	logger logger.Logger
}

func New(cfg Config, log logger.Logger) *Engine {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 60
	}
	if cfg.PageSegMode == 0 {
		cfg.PageSegMode = gosseract.PSM_AUTO
	}
	return &Engine{
		config: cfg,
		pre:    pageimage.OCRPipeline(),
		logger: log.Named("tesseract"),
	}
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Recognize(ctx context.Context, img models.PageImage) (string, error) {
	if len(img.Data) == 0 {
		return "", ErrNoImageData
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	decoded, err := imaging.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	processed, err := e.pre.Apply(decoded)
	if err != nil {
		return "", err
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, processed, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Join(e.config.Languages, "+")); err != nil {
		return "", fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(e.config.PageSegMode); err != nil {
		return "", fmt.Errorf("failed to set page seg mode: %w", err)
	}
	// 图纸上大量尺寸标注不在词典里
	if err := client.SetVariable("language_model_penalty_non_dict_word", "0.8"); err != nil {
		return "", err
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	lines, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		e.logger.Warn("Failed to get bounding boxes, using raw text",
			logger.Int("page", img.PageNumber),
			logger.Error(err),
		)
		return client.Text()
	}

	text := filterLines(lines, e.config.MinConfidence)
	e.logger.Debug("Recognized page",
		logger.Int("page", img.PageNumber),
		logger.Int("lines", len(lines)),
		logger.Int("chars", len(text)),
	)
	return text, nil
}

// filterLines keeps the lines at or above minConfidence, in reading order.
func filterLines(boxes []gosseract.BoundingBox, minConfidence float64) string {
	var kept []string
	for _, box := range boxes {
		if box.Confidence < minConfidence {
			continue
		}
		if word := strings.TrimSpace(box.Word); word != "" {
			kept = append(kept, word)
		}
	}
	return strings.Join(kept, "\n")
}
