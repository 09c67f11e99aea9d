package models

import (
	"errors"
	"fmt"
	"time"
)

// Stage 摄取阶段
type Stage string

const (
	StageQueued      Stage = "queued"
	StageDownloading Stage = "downloading"
	StageExtracting  Stage = "extracting"
	StageIndexing    Stage = "indexing"
	StageChunking    Stage = "chunking"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
)

var ErrInvalidTransition = errors.New("invalid stage transition")

var stageOrder = map[Stage]int{
	StageQueued:      0,
	StageDownloading: 1,
	StageExtracting:  2,
	StageIndexing:    3,
	StageChunking:    4,
	StageCompleted:   5,
}

var stageProgress = map[Stage]int{
	StageQueued:      0,
	StageDownloading: 10,
	StageExtracting:  30,
	StageIndexing:    60,
	StageChunking:    80,
	StageCompleted:   100,
}

// Terminal reports whether no further transitions are allowed.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Progress is the nominal percentage at the start of the stage.
func (s Stage) Progress() int {
	return stageProgress[s]
}

// CanTransition allows forward moves (or staying in place) and a move to
// failed from any non-terminal stage.
func (s Stage) CanTransition(to Stage) bool {
	if s.Terminal() {
		return false
	}
	if to == StageFailed {
		return true
	}
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	next, ok := stageOrder[to]
	if !ok {
		return false
	}
	return next >= from
}

// ProcessingStatus is the persisted ingestion status of a plan.
type ProcessingStatus struct {
	Stage           Stage      `json:"stage"`
	Progress        int        `json:"progress"`
	CurrentStep     string     `json:"currentStep"`
	StartedAt       time.Time  `json:"startedAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	PagesProcessed  int        `json:"pagesProcessed"`
	SheetsIndexed   int        `json:"sheetsIndexed"`
	ChunksCreated   int        `json:"chunksCreated"`
	ImagesExtracted int        `json:"imagesExtracted"`
	ErrorCount      int        `json:"errorCount"`
	Error           string     `json:"error,omitempty"`
	Warnings        []string   `json:"warnings,omitempty"`
}

// NewProcessingStatus returns a queued status.
func NewProcessingStatus(now time.Time) *ProcessingStatus {
	return &ProcessingStatus{
		Stage:       StageQueued,
		Progress:    0,
		CurrentStep: "queued",
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// Advance moves the status to the given stage.
func (p *ProcessingStatus) Advance(to Stage, step string, now time.Time) error {
	if !p.Stage.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Stage, to)
	}
	if to != StageFailed {
		if pct := to.Progress(); pct > p.Progress {
			p.Progress = pct
		}
	}
	p.Stage = to
	p.CurrentStep = step
	p.UpdatedAt = now
	if to.Terminal() {
		t := now
		p.CompletedAt = &t
	}
	return nil
}
