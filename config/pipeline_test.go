package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPipelineConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadPipelineConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retriever.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Retriever.MaxAttempts)
	}
	if cfg.Takeoff.ConfidenceDelta != 0.2 || cfg.Takeoff.DimensionTolerance != 0.10 {
		t.Errorf("merge thresholds = %v/%v", cfg.Takeoff.ConfidenceDelta, cfg.Takeoff.DimensionTolerance)
	}
}

func TestLoadPipelineConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	body := []byte(`
retriever:
  delays: [10ms, 20ms]
chunking:
  targetTokens: 1000
  maxTokens: 1500
  minTokens: 200
takeoff:
  maxParallelBatches: 4
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadPipelineConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Retriever.Delays) != 2 || cfg.Retriever.Delays[1] != 20*time.Millisecond {
		t.Errorf("delays = %v", cfg.Retriever.Delays)
	}
	if cfg.Chunking.TargetTokens != 1000 || cfg.Chunking.OverlapPct != 0.10 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if cfg.Takeoff.MaxParallelBatches != 4 || cfg.Takeoff.PagesPerBatch != 5 {
		t.Errorf("takeoff = %+v", cfg.Takeoff)
	}
}

func TestLoadPipelineConfigRejectsBadChunking(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte("chunking:\n  minTokens: 5000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPipelineConfig(path); err == nil {
		t.Fatal("expected validation error")
	}
}
