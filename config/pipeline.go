package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig holds the ingestion and takeoff tunables.
type PipelineConfig struct {
	Retriever  RetrieverConfig  `yaml:"retriever"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Takeoff    TakeoffConfig    `yaml:"takeoff"`
}

type RetrieverConfig struct {
	MaxAttempts  int             `yaml:"maxAttempts"`
	Delays       []time.Duration `yaml:"delays"`
	MaxBytes     int64           `yaml:"maxBytes"`
	SignedURLTTL time.Duration   `yaml:"signedUrlTTL"`
	HTTPTimeout  time.Duration   `yaml:"httpTimeout"`
}

type ExtractionConfig struct {
	TextTimeout   time.Duration `yaml:"textTimeout"`
	ImagesEnabled bool          `yaml:"imagesEnabled"`
	ImageDPI      int           `yaml:"imageDpi"`
	ProjectPages  int           `yaml:"projectPages"`
}

type ChunkingConfig struct {
	TargetTokens int     `yaml:"targetTokens"`
	OverlapPct   float64 `yaml:"overlapPct"`
	MaxTokens    int     `yaml:"maxTokens"`
	MinTokens    int     `yaml:"minTokens"`
}

type TakeoffConfig struct {
	PagesPerBatch      int     `yaml:"pagesPerBatch"`
	MaxParallelBatches int     `yaml:"maxParallelBatches"`
	ConfidenceDelta    float64 `yaml:"confidenceDelta"`
	DimensionTolerance float64 `yaml:"dimensionTolerance"`
	MaxTokens          int     `yaml:"maxTokens"`
	Temperature        float64 `yaml:"temperature"`
	Currency           string  `yaml:"currency"`
	ResultPrefix       string  `yaml:"resultPrefix"`
}

// DefaultPipelineConfig returns the built-in tunables.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Retriever: RetrieverConfig{
			MaxAttempts:  3,
			Delays:       []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
			MaxBytes:     500 * 1024 * 1024,
			SignedURLTTL: time.Hour,
			HTTPTimeout:  10 * time.Minute,
		},
		Extraction: ExtractionConfig{
			TextTimeout:   5 * time.Minute,
			ImagesEnabled: true,
			ImageDPI:      150,
			ProjectPages:  3,
		},
		Chunking: ChunkingConfig{
			TargetTokens: 2000,
			OverlapPct:   0.10,
			MaxTokens:    4000,
			MinTokens:    400,
		},
		Takeoff: TakeoffConfig{
			PagesPerBatch:      5,
			MaxParallelBatches: 2,
			ConfidenceDelta:    0.2,
			DimensionTolerance: 0.10,
			MaxTokens:          8192,
			Temperature:        0.1,
			Currency:           "USD",
			ResultPrefix:       "takeoff-results",
		},
	}
}

// LoadPipelineConfig reads path over the defaults. A missing file yields
// the defaults.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cfg := DefaultPipelineConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the relations between tunables.
func (c *PipelineConfig) Validate() error {
	if c.Retriever.MaxAttempts < 1 {
		return fmt.Errorf("retriever.maxAttempts must be >= 1")
	}
	if c.Retriever.MaxBytes <= 0 {
		return fmt.Errorf("retriever.maxBytes must be positive")
	}
	ch := c.Chunking
	if ch.MinTokens <= 0 || ch.MinTokens > ch.TargetTokens || ch.TargetTokens > ch.MaxTokens {
		return fmt.Errorf("chunking requires 0 < minTokens <= targetTokens <= maxTokens")
	}
	if ch.OverlapPct < 0 || ch.OverlapPct >= 0.5 {
		return fmt.Errorf("chunking.overlapPct must be in [0, 0.5)")
	}
	if c.Takeoff.PagesPerBatch < 1 || c.Takeoff.MaxParallelBatches < 1 {
		return fmt.Errorf("takeoff.pagesPerBatch and takeoff.maxParallelBatches must be >= 1")
	}
	return nil
}
