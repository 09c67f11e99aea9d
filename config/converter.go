package config

import (
	"sync"
	"time"
)

var (
	converterOnce   sync.Once
	converterConfig *ConverterConfig
)

// ConverterConfig points at the PDF-to-image service. An empty endpoint
// disables page images.
type ConverterConfig struct {
	Endpoint   string
	APIKey     string
	DPI        int
	Timeout    time.Duration
	MaxWidth   int
	RehostDir  string
	OCREnabled bool
	OCRLangs   []string
}

func GetConverterConfig() *ConverterConfig {
	converterOnce.Do(func() {
		loadEnv()
		langs := getEnvList("OCR_LANGUAGES")
		if len(langs) == 0 {
			langs = []string{"eng"}
		}
		converterConfig = &ConverterConfig{
			Endpoint:   getEnv("PDF_CONVERTER_ENDPOINT", ""),
			APIKey:     getEnv("PDF_CONVERTER_API_KEY", ""),
			DPI:        getEnvInt("PDF_CONVERTER_DPI", 150),
			Timeout:    getEnvDuration("PDF_CONVERTER_TIMEOUT", 3*time.Minute),
			MaxWidth:   getEnvInt("PAGE_IMAGE_MAX_WIDTH", 2048),
			RehostDir:  getEnv("PAGE_IMAGE_PREFIX", "page-images"),
			OCREnabled: getEnvBool("OCR_ENABLED", false),
			OCRLangs:   langs,
		}
	})
	return converterConfig
}
