package image

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ImagePreprocessor 图像预处理接口
type ImagePreprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// Pipeline 按顺序执行预处理器
type Pipeline []ImagePreprocessor

func (p Pipeline) Apply(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	result := img
	for _, step := range p {
		var err error
		result, err = step.Process(result)
		if err != nil {
			return nil, fmt.Errorf("preprocessing failed: %w", err)
		}
		if result == nil {
			return nil, fmt.Errorf("preprocessor returned nil image")
		}
	}
	return result, nil
}

// OCRPipeline prepares a rendered sheet for tesseract.
func OCRPipeline() Pipeline {
	return Pipeline{
		NewGrayscaleProcessor(),
		NewDenoiseProcessor(0.5),
		NewContrastNormalizationProcessor(),
		NewSharpenProcessor(0.5),
	}
}

// 缩放处理器, 只缩小不放大
type ResizeProcessor struct {
	maxWidth int
}

func NewResizeProcessor(maxWidth int) *ResizeProcessor {
	return &ResizeProcessor{maxWidth: maxWidth}
}

func (p *ResizeProcessor) Process(img image.Image) (image.Image, error) {
	if p.maxWidth <= 0 || img.Bounds().Dx() <= p.maxWidth {
		return img, nil
	}
	return imaging.Resize(img, p.maxWidth, 0, imaging.Lanczos), nil
}

// 灰度处理器
type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
	return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

// 降噪处理器
type DenoiseProcessor struct {
	strength float64
}

func NewDenoiseProcessor(strength float64) *DenoiseProcessor {
	return &DenoiseProcessor{strength: strength}
}

func (p *DenoiseProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Blur(img, p.strength), nil
}

// 锐化处理器
type SharpenProcessor struct {
	strength float64
}

func NewSharpenProcessor(strength float64) *SharpenProcessor {
	return &SharpenProcessor{strength: strength}
}

func (p *SharpenProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Sharpen(img, p.strength), nil
}

// 对比度处理器
type ContrastNormalizationProcessor struct{}

func NewContrastNormalizationProcessor() *ContrastNormalizationProcessor {
	return &ContrastNormalizationProcessor{}
}

func (p *ContrastNormalizationProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, 20), nil
}

// 二值化处理器
type BinarizationProcessor struct {
	threshold uint8
}

func NewBinarizationProcessor(threshold uint8) *BinarizationProcessor {
	return &BinarizationProcessor{threshold: threshold}
}

func (p *BinarizationProcessor) Process(img image.Image) (image.Image, error) {
	grayImg := imaging.Grayscale(img)
	bounds := grayImg.Bounds()
	binary := image.NewGray(bounds)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := color.GrayModel.Convert(grayImg.At(x, y)).(color.Gray).Y
			if v > p.threshold {
				binary.SetGray(x, y, color.Gray{Y: 255})
			} else {
				binary.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return binary, nil
}
