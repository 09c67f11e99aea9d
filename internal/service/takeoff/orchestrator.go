package takeoff

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"runtime/debug"
	"time"

	"github.com/feichai0017/plan-takeoff/internal/agent/llm"
	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/metrics"
)

// Mode 执行模式
type Mode string

const (
	ModeSegmentBatch Mode = "segment-batch"
	ModeConsensus    Mode = "consensus"
)

// FullDocument is present when the whole plan set is known up front.
type FullDocument struct {
	PageCount      int      `json:"pageCount"`
	LinkedFileRefs []string `json:"linkedFileRefs,omitempty"`
}

// SourceDocument is one file attached to a run. PageStart and PageEnd are
// 1-based and inclusive; zero means the document edge.
type SourceDocument struct {
	FileRef   string        `json:"fileRef"`
	Name      string        `json:"name,omitempty"`
	PageStart int           `json:"pageStart,omitempty"`
	PageEnd   int           `json:"pageEnd,omitempty"`
	Full      *FullDocument `json:"full,omitempty"`
}

func (s SourceDocument) displayName() string {
	if s.Name != "" {
		return s.Name
	}
	return path.Base(s.FileRef)
}

func (s SourceDocument) rehostKey() string {
	sum := sha1.Sum([]byte(s.FileRef))
	return "takeoff/" + hex.EncodeToString(sum[:8])
}

// BuildContext describes the project being estimated and the run knobs.
type BuildContext struct {
	Industry           string               `json:"industry,omitempty"`
	Location           string               `json:"location,omitempty"`
	BuildingType       string               `json:"buildingType,omitempty"`
	Currency           string               `json:"currency,omitempty"`
	PagesPerBatch      int                  `json:"pagesPerBatch,omitempty"`
	MaxParallelBatches int                  `json:"maxParallelBatches,omitempty"`
	PriorSegments      []models.SegmentPlan `json:"priorSegments,omitempty"`
}

type Request struct {
	RunID   string           `json:"runId"`
	PlanID  string           `json:"planId"`
	Sources []SourceDocument `json:"sources"`
	Build   BuildContext     `json:"build"`
}

// Result is always populated; Output holds four non-nil arrays.
type Result struct {
	RunID     string
	Mode      Mode
	Output    *models.TakeoffResult
	ExportURL string
}

// ResultSink stores a finished run and returns where it was written.
type ResultSink interface {
	SaveTakeoff(ctx context.Context, req Request, result *models.TakeoffResult) (string, error)
}

type Config struct {
	PagesPerBatch      int
	MaxParallelBatches int
	MaxTokens          int
	Temperature        float32
	Currency           string
	Merge              MergeConfig
}

func DefaultConfig() Config {
	return Config{
		PagesPerBatch:      5,
		MaxParallelBatches: 2,
		MaxTokens:          8192,
		Temperature:        0.1,
		Currency:           "USD",
		Merge:              DefaultMergeConfig(),
	}
}

// Orchestrator runs scoping and execution for one plan per call.
type Orchestrator struct {
	loader    Loader
	completer llm.Completer
	sink      ResultSink
	merger    *Merger
	cfg       Config
	logger    logger.Logger
}

// NewOrchestrator wires the collaborators. sink may be nil.
func NewOrchestrator(loader Loader, completer llm.Completer, sink ResultSink, cfg Config, log logger.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.PagesPerBatch <= 0 {
		cfg.PagesPerBatch = def.PagesPerBatch
	}
	if cfg.MaxParallelBatches <= 0 {
		cfg.MaxParallelBatches = def.MaxParallelBatches
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}
	return &Orchestrator{
		loader:    loader,
		completer: completer,
		sink:      sink,
		merger:    NewMerger(cfg.Merge),
		cfg:       cfg,
		logger:    log.Named("takeoff"),
	}
}

// run is the mutable state of one call.
type run struct {
	req      Request
	build    BuildContext
	mode     Mode
	log      *RunLog
	logger   logger.Logger
	sources  []*LoadedSource
	segments []*segmentRun
	linked   []*LoadedSource
	// consensus output matching no segment
	unassigned         []models.TakeoffItem
	unassignedAnalysis []models.AnalysisItem
}

// Run never returns an error. Failures, including panics, are recorded in
// the run log and whatever was produced so far is returned.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Result {
	start := time.Now()
	log := o.logger.With(logger.String("runId", req.RunID), logger.String("planId", req.PlanID))
	r := &run{
		req:    req,
		build:  o.resolveBuild(req.Build),
		mode:   selectMode(req.Sources),
		log:    newRunLog(log),
		logger: log,
	}

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error("Recovered from panic in takeoff run",
					logger.Any("panic", rec),
					logger.String("stack", string(debug.Stack())),
				)
				r.log.Error(fmt.Sprintf("takeoff run aborted: %v", rec), "", "")
			}
		}()
		o.execute(ctx, r)
	}()

	output := o.finish(r)
	result := &Result{RunID: req.RunID, Mode: r.mode, Output: output}

	if o.sink != nil {
		url, err := o.sink.SaveTakeoff(ctx, req, output)
		if err != nil {
			r.log.Error(fmt.Sprintf("failed to store takeoff result: %v", err), "", "")
		} else {
			result.ExportURL = url
		}
		output.RunLog = r.log.Entries()
	}

	metrics.TakeoffItems.Add(float64(len(output.Items)))
	log.Info("Takeoff run finished",
		logger.String("mode", string(r.mode)),
		logger.Int("items", len(output.Items)),
		logger.Int("analysis", len(output.Analysis)),
		logger.Int("segments", len(output.Segments)),
		logger.Int("errors", r.log.Count(models.SeverityError)),
		logger.Duration("elapsed", time.Since(start)),
	)
	return result
}

func (o *Orchestrator) resolveBuild(b BuildContext) BuildContext {
	if b.PagesPerBatch <= 0 {
		b.PagesPerBatch = o.cfg.PagesPerBatch
	}
	if b.MaxParallelBatches <= 0 {
		b.MaxParallelBatches = o.cfg.MaxParallelBatches
	}
	if b.Currency == "" {
		b.Currency = o.cfg.Currency
	}
	return b
}

// selectMode picks consensus only when every source carries full metadata.
func selectMode(sources []SourceDocument) Mode {
	if len(sources) == 0 {
		return ModeSegmentBatch
	}
	for _, s := range sources {
		if s.Full == nil {
			return ModeSegmentBatch
		}
	}
	return ModeConsensus
}

func (o *Orchestrator) execute(ctx context.Context, r *run) {
	if len(r.req.Sources) == 0 {
		r.log.Error("takeoff request has no source documents", "", "")
		return
	}
	r.log.Info(fmt.Sprintf("starting %s takeoff over %d source documents", r.mode, len(r.req.Sources)), "", "")

	// 顺序加载, 每次转换本身已经很慢
	o.loadSources(ctx, r)
	if len(r.sources) == 0 {
		r.log.Error("no source document could be loaded", "", "")
		return
	}

	plans := o.scope(ctx, r)
	r.segments = make([]*segmentRun, len(plans))
	for i, p := range plans {
		r.segments[i] = &segmentRun{plan: p}
	}

	switch r.mode {
	case ModeConsensus:
		o.runConsensus(ctx, r)
	default:
		o.runSegments(ctx, r)
	}
}

func (o *Orchestrator) loadSources(ctx context.Context, r *run) {
	for _, src := range r.req.Sources {
		if r.mode == ModeConsensus {
			src.PageStart, src.PageEnd = 0, 0
		}
		loaded, err := o.loader.Load(ctx, src, r.log)
		if err != nil {
			r.log.Error(fmt.Sprintf("failed to load source: %v", err), src.displayName(), "")
			continue
		}
		r.sources = append(r.sources, loaded)
	}

	if r.mode != ModeConsensus {
		return
	}
	seen := make(map[string]bool)
	for _, s := range r.sources {
		seen[s.Source.FileRef] = true
	}
	for _, s := range r.req.Sources {
		for _, ref := range s.Full.LinkedFileRefs {
			if seen[ref] {
				continue
			}
			seen[ref] = true
			linked := SourceDocument{FileRef: ref}
			loaded, err := o.loader.Load(ctx, linked, r.log)
			if err != nil {
				r.log.Error(fmt.Sprintf("failed to load linked document: %v", err), linked.displayName(), "")
				continue
			}
			r.linked = append(r.linked, loaded)
		}
	}
}

// finish merges everything and builds the four output arrays.
func (o *Orchestrator) finish(r *run) *models.TakeoffResult {
	out := models.NewTakeoffResult()

	var items []models.TakeoffItem
	var analysis []models.AnalysisItem
	for _, s := range r.segments {
		items = append(items, s.items...)
		analysis = append(analysis, s.analysis...)
		out.Segments = append(out.Segments, s.summary(o.merger))
	}
	items = append(items, r.unassigned...)
	analysis = append(analysis, r.unassignedAnalysis...)

	out.Items = o.merger.Items(items)
	out.Analysis = o.merger.Analysis(analysis)
	out.RunLog = r.log.Entries()
	return out
}

func (o *Orchestrator) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	req.MaxTokens = o.cfg.MaxTokens
	req.Temperature = o.cfg.Temperature
	req.JSONMode = true
	return o.completer.Complete(ctx, req)
}
