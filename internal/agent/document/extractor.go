package document

import (
	"context"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

// TextExtractor 逐页提取文本与带坐标的文本片段
type TextExtractor interface {
	Extract(ctx context.Context, data []byte) ([]models.PageText, error)
}

// ImageConverter 将 PDF 渲染为逐页图像; 未配置时返回空结果而不是错误
type ImageConverter interface {
	ToImages(ctx context.Context, data []byte, dpi int) ([]models.PageImage, error)
}

// OCREngine recognizes text on a rendered page.
type OCREngine interface {
	Name() string
	Recognize(ctx context.Context, img models.PageImage) (string, error)
}
