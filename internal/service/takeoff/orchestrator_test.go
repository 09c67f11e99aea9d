package takeoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/feichai0017/plan-takeoff/internal/agent/llm"
	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

type fakeLoader struct {
	mu      sync.Mutex
	sources map[string]*LoadedSource
	loads   []string
}

func (f *fakeLoader) Load(_ context.Context, src SourceDocument, _ *RunLog) (*LoadedSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, src.FileRef)
	l, ok := f.sources[src.FileRef]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *l
	cp.Source = src
	return &cp, nil
}

func loaded(pages int, withImages bool) *LoadedSource {
	l := &LoadedSource{PageCount: pages, Images: map[int]models.PageImage{}}
	for p := 1; p <= pages; p++ {
		l.Pages = append(l.Pages, models.PageText{PageNumber: p, Text: fmt.Sprintf("sheet text %d", p)})
		if withImages {
			l.Images[p] = models.PageImage{PageNumber: p, URL: fmt.Sprintf("https://img/%d.png", p)}
		}
	}
	return l
}

type funcCompleter struct {
	fn func(req llm.CompletionRequest) (string, error)
}

func (f funcCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	content, err := f.fn(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content}, nil
}

func (funcCompleter) Model() string { return "fake" }

func itemsJSON(name string, qty float64, pages ...int) string {
	refs, _ := json.Marshal(pages)
	return fmt.Sprintf(`{"items":[{"name":%q,"quantity":%g,"unit":"LF","unitCost":2,"category":"framing","pageRefs":%s,"confidence":0.9}],"analysis":[]}`, name, qty, refs)
}

func newTestOrchestrator(loader Loader, c llm.Completer, sink ResultSink, log logger.Logger) *Orchestrator {
	cfg := DefaultConfig()
	return NewOrchestrator(loader, c, sink, cfg, log)
}

func isScoping(req llm.CompletionRequest) bool {
	return req.SystemPrompt == scopingSystemPrompt
}

func TestScopingFallsBackOnNonJSON(t *testing.T) {
	loader := &fakeLoader{sources: map[string]*LoadedSource{"plans/a.pdf": loaded(3, true)}}
	c := funcCompleter{fn: func(req llm.CompletionRequest) (string, error) {
		if isScoping(req) {
			return "I would split this into structural and MEP work.", nil
		}
		return itemsJSON("Stud wall", 10, 1), nil
	}}

	res := newTestOrchestrator(loader, c, nil, logger.NewTestLogger()).Run(context.Background(), Request{
		RunID:   "run-1",
		PlanID:  "plan-1",
		Sources: []SourceDocument{{FileRef: "plans/a.pdf"}},
	})

	var names []string
	for _, s := range res.Output.Segments {
		names = append(names, s.Segment)
	}
	if strings.Join(names, ",") != "structural,mep,finishes,sitework" {
		t.Errorf("segments = %v", names)
	}
	if !hasEntry(res.Output.RunLog, models.SeverityWarn, "scoping failed") {
		t.Errorf("expected scoping warning, got %+v", res.Output.RunLog)
	}
	if countEntries(res.Output.RunLog, models.SeverityError) != 0 {
		t.Errorf("unexpected errors %+v", res.Output.RunLog)
	}
	if len(res.Output.Items) == 0 {
		t.Error("expected items from batches")
	}
}

func TestScopingUsesModelPlan(t *testing.T) {
	loader := &fakeLoader{sources: map[string]*LoadedSource{"plans/a.pdf": loaded(7, true)}}
	var sampled int
	c := funcCompleter{fn: func(req llm.CompletionRequest) (string, error) {
		if isScoping(req) {
			sampled = len(req.Images)
			return "```json\n{\"segments\":[{\"industry\":\"electrical\",\"categories\":[\"lighting\"],\"priority\":2},{\"industry\":\"concrete\",\"categories\":[\"slab\"],\"priority\":1},]}\n```", nil
		}
		return `{"items":[],"analysis":[]}`, nil
	}}

	res := newTestOrchestrator(loader, c, nil, logger.NewNop()).Run(context.Background(), Request{
		Sources: []SourceDocument{{FileRef: "plans/a.pdf"}},
	})

	if sampled != 3 {
		t.Errorf("sampled images = %d, want 3", sampled)
	}
	if len(res.Output.Segments) != 2 || res.Output.Segments[0].Segment != "concrete" {
		t.Errorf("segments = %+v", res.Output.Segments)
	}
}

func TestScopingWithoutImagesFallsBack(t *testing.T) {
	loader := &fakeLoader{sources: map[string]*LoadedSource{"plans/a.pdf": loaded(2, false)}}
	scoped := false
	c := funcCompleter{fn: func(req llm.CompletionRequest) (string, error) {
		if isScoping(req) {
			scoped = true
		}
		return `{"items":[]}`, nil
	}}

	res := newTestOrchestrator(loader, c, nil, logger.NewNop()).Run(context.Background(), Request{
		Sources: []SourceDocument{{FileRef: "plans/a.pdf"}},
	})
	if scoped {
		t.Error("scoping should not call the model without images")
	}
	if len(res.Output.Segments) != 4 {
		t.Errorf("segments = %d, want 4", len(res.Output.Segments))
	}
}

type barrierCompleter struct {
	mu       sync.Mutex
	inFlight int
	max      int
	calls    int
	once     sync.Once
	release  chan struct{}
}

func (b *barrierCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	b.mu.Lock()
	b.calls++
	b.inFlight++
	if b.inFlight > b.max {
		b.max = b.inFlight
	}
	if b.inFlight == 2 {
		b.once.Do(func() { close(b.release) })
	}
	b.mu.Unlock()

	select {
	case <-b.release:
	case <-time.After(2 * time.Second):
	}

	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
	return &llm.CompletionResponse{Content: `{"items":[],"analysis":[]}`}, nil
}

func (b *barrierCompleter) Model() string { return "barrier" }

func TestBatchesRunConcurrently(t *testing.T) {
	loader := &fakeLoader{sources: map[string]*LoadedSource{"plans/a.pdf": loaded(10, true)}}
	c := &barrierCompleter{release: make(chan struct{})}

	res := newTestOrchestrator(loader, c, nil, logger.NewNop()).Run(context.Background(), Request{
		Sources: []SourceDocument{{FileRef: "plans/a.pdf"}},
		Build: BuildContext{
			PagesPerBatch:      5,
			MaxParallelBatches: 2,
			PriorSegments:      []models.SegmentPlan{{Industry: "structural", Priority: 1}},
		},
	})

	if c.calls != 2 {
		t.Errorf("batch calls = %d, want 2", c.calls)
	}
	if c.max != 2 {
		t.Errorf("max in flight = %d, want 2", c.max)
	}
	if got := res.Output.Segments[0].PagesProcessed; got != 10 {
		t.Errorf("PagesProcessed = %d, want 10", got)
	}
}

func TestPlanBatches(t *testing.T) {
	pages := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := planBatches(pages, 5); len(got) != 2 || len(got[0]) != 5 || got[1][0] != 6 {
		t.Errorf("planBatches(10, 5) = %v", got)
	}
	if got := planBatches(pages, 4); len(got) != 3 || len(got[2]) != 2 {
		t.Errorf("planBatches(10, 4) = %v", got)
	}
}

func TestFailedBatchKeepsOtherResults(t *testing.T) {
	loader := &fakeLoader{sources: map[string]*LoadedSource{"plans/a.pdf": loaded(10, true)}}
	c := funcCompleter{fn: func(req llm.CompletionRequest) (string, error) {
		if strings.Contains(req.UserPrompt, "PAGE 1 ===") {
			return "", errors.New("upstream timeout")
		}
		return itemsJSON("Footing", 4, 6), nil
	}}

	res := newTestOrchestrator(loader, c, nil, logger.NewTestLogger()).Run(context.Background(), Request{
		Sources: []SourceDocument{{FileRef: "plans/a.pdf"}},
		Build: BuildContext{
			PagesPerBatch: 5,
			PriorSegments: []models.SegmentPlan{{Industry: "structural", Priority: 1}},
		},
	})

	seg := res.Output.Segments[0]
	if seg.PagesFailed != 5 || seg.PagesProcessed != 5 {
		t.Errorf("pages processed/failed = %d/%d, want 5/5", seg.PagesProcessed, seg.PagesFailed)
	}
	if len(res.Output.Items) != 1 || res.Output.Items[0].Name != "Footing" {
		t.Errorf("items = %+v", res.Output.Items)
	}
	if res.Output.Items[0].Industry != "structural" {
		t.Errorf("industry = %q", res.Output.Items[0].Industry)
	}
	if !hasEntry(res.Output.RunLog, models.SeverityError, "upstream timeout") {
		t.Errorf("expected batch error entry, got %+v", res.Output.RunLog)
	}
}

func TestMalformedBatchIsAFailure(t *testing.T) {
	loader := &fakeLoader{sources: map[string]*LoadedSource{"plans/a.pdf": loaded(2, true)}}
	c := funcCompleter{fn: func(req llm.CompletionRequest) (string, error) {
		return "sorry, I cannot read these sheets", nil
	}}

	res := newTestOrchestrator(loader, c, nil, logger.NewNop()).Run(context.Background(), Request{
		Sources: []SourceDocument{{FileRef: "plans/a.pdf"}},
		Build:   BuildContext{PriorSegments: []models.SegmentPlan{{Industry: "mep", Priority: 1}}},
	})
	if res.Output.Segments[0].PagesFailed != 2 {
		t.Errorf("PagesFailed = %d, want 2", res.Output.Segments[0].PagesFailed)
	}
}

func TestConsensusRedistributesItems(t *testing.T) {
	loader := &fakeLoader{sources: map[string]*LoadedSource{
		"plans/a.pdf":    loaded(3, true),
		"plans/specs.pdf": loaded(1, false),
	}}
	calls := 0
	c := funcCompleter{fn: func(req llm.CompletionRequest) (string, error) {
		calls++
		if len(req.Images) != 3 {
			t.Errorf("images = %d, want 3", len(req.Images))
		}
		return `{"items":[
			{"name":"Slab","quantity":100,"unit":"SF","category":"Concrete","pageRefs":[1],"confidence":0.9},
			{"name":"Panel","quantity":2,"unit":"EA","category":"electrical","pageRefs":[2],"confidence":0.8},
			{"name":"Mystery","quantity":1,"unit":"EA","category":"art","pageRefs":[3],"confidence":0.5}
		],"analysis":[
			{"type":"conflict","description":"Slab thickness differs","pages":[1],"severity":"high"}
		]}`, nil
	}}

	res := newTestOrchestrator(loader, c, nil, logger.NewTestLogger()).Run(context.Background(), Request{
		Sources: []SourceDocument{{
			FileRef: "plans/a.pdf",
			Full:    &FullDocument{PageCount: 3, LinkedFileRefs: []string{"plans/specs.pdf"}},
		}},
		Build: BuildContext{PriorSegments: []models.SegmentPlan{
			{Industry: "structural", Categories: []string{"concrete"}, Priority: 1},
			{Industry: "mep", Categories: []string{"Electrical"}, Priority: 2},
		}},
	})

	if res.Mode != ModeConsensus || calls != 1 {
		t.Fatalf("mode = %s, calls = %d", res.Mode, calls)
	}
	if strings.Join(loader.loads, ",") != "plans/a.pdf,plans/specs.pdf" {
		t.Errorf("loads = %v", loader.loads)
	}
	if len(res.Output.Items) != 3 {
		t.Errorf("items = %d, want 3", len(res.Output.Items))
	}
	segs := res.Output.Segments
	if segs[0].ItemCount != 1 || segs[1].ItemCount != 1 {
		t.Errorf("segment item counts = %d/%d", segs[0].ItemCount, segs[1].ItemCount)
	}
	if segs[0].AnalysisCount != 1 || len(segs[0].TopRisks) != 1 {
		t.Errorf("segment analysis = %+v", segs[0])
	}
	if !hasEntry(res.Output.RunLog, models.SeverityWarn, "Mystery") {
		t.Errorf("expected unassigned warning, got %+v", res.Output.RunLog)
	}
}

func TestConsensusWithoutImagesIsFatal(t *testing.T) {
	loader := &fakeLoader{sources: map[string]*LoadedSource{"plans/a.pdf": loaded(2, false)}}
	c := funcCompleter{fn: func(req llm.CompletionRequest) (string, error) {
		t.Error("completer should not be called")
		return "", nil
	}}

	res := newTestOrchestrator(loader, c, nil, logger.NewNop()).Run(context.Background(), Request{
		Sources: []SourceDocument{{FileRef: "plans/a.pdf", Full: &FullDocument{PageCount: 2}}},
		Build:   BuildContext{PriorSegments: []models.SegmentPlan{{Industry: "structural", Priority: 1}}},
	})

	if !hasEntry(res.Output.RunLog, models.SeverityError, "no page images") {
		t.Errorf("expected fatal entry, got %+v", res.Output.RunLog)
	}
	if res.Output.Items == nil || res.Output.Analysis == nil || len(res.Output.Segments) != 1 {
		t.Errorf("unexpected output %+v", res.Output)
	}
}

func TestRunRecoversFromPanic(t *testing.T) {
	loader := &fakeLoader{sources: map[string]*LoadedSource{"plans/a.pdf": loaded(2, true)}}
	c := funcCompleter{fn: func(req llm.CompletionRequest) (string, error) {
		panic("nil map in provider")
	}}

	res := newTestOrchestrator(loader, c, nil, logger.NewNop()).Run(context.Background(), Request{
		Sources: []SourceDocument{{FileRef: "plans/a.pdf"}},
		Build:   BuildContext{PriorSegments: []models.SegmentPlan{{Industry: "structural", Priority: 1}}},
	})

	if !hasEntry(res.Output.RunLog, models.SeverityError, "panicked") {
		t.Errorf("expected panic entry, got %+v", res.Output.RunLog)
	}

	data, err := json.Marshal(res.Output)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil || len(tuple) != 4 {
		t.Fatalf("output is not a 4-tuple: %s", data)
	}
	if string(tuple[0]) != "[]" || string(tuple[1]) != "[]" {
		t.Errorf("items/analysis = %s %s", tuple[0], tuple[1])
	}
}

func TestRunWithoutSources(t *testing.T) {
	res := newTestOrchestrator(&fakeLoader{}, funcCompleter{}, nil, logger.NewNop()).Run(context.Background(), Request{})
	if countEntries(res.Output.RunLog, models.SeverityError) != 1 {
		t.Errorf("run log = %+v", res.Output.RunLog)
	}
	if res.Output.Segments == nil || res.Output.Items == nil {
		t.Error("output arrays must be non-nil")
	}
}

type memUploader struct {
	paths []string
	data  [][]byte
	err   error
}

func (m *memUploader) Upload(_ context.Context, path string, data []byte, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.paths = append(m.paths, path)
	m.data = append(m.data, data)
	return "https://bucket/" + path, nil
}

func TestSinkStoresExport(t *testing.T) {
	loader := &fakeLoader{sources: map[string]*LoadedSource{"plans/a.pdf": loaded(1, true)}}
	c := funcCompleter{fn: func(req llm.CompletionRequest) (string, error) {
		return itemsJSON("Stud wall", 10, 1), nil
	}}
	up := &memUploader{}
	sink := NewStorageSink(up, "exports", "USD", logger.NewNop())

	res := newTestOrchestrator(loader, c, sink, logger.NewNop()).Run(context.Background(), Request{
		RunID:   "run-9",
		PlanID:  "plan-9",
		Sources: []SourceDocument{{FileRef: "plans/a.pdf"}},
		Build:   BuildContext{PriorSegments: []models.SegmentPlan{{Industry: "structural", Priority: 1}}},
	})

	if res.ExportURL != "https://bucket/exports/plan-9/run-9.json" {
		t.Errorf("ExportURL = %q", res.ExportURL)
	}
	var doc struct {
		Totals struct {
			EstimatedCost float64 `json:"estimatedCost"`
		} `json:"totals"`
	}
	if err := json.Unmarshal(up.data[0], &doc); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	if doc.Totals.EstimatedCost != 20 {
		t.Errorf("EstimatedCost = %v, want 20", doc.Totals.EstimatedCost)
	}
}

func TestSinkFailureIsLogged(t *testing.T) {
	loader := &fakeLoader{sources: map[string]*LoadedSource{"plans/a.pdf": loaded(1, true)}}
	c := funcCompleter{fn: func(req llm.CompletionRequest) (string, error) {
		return `{"items":[]}`, nil
	}}
	sink := NewStorageSink(&memUploader{err: errors.New("bucket gone")}, "", "", logger.NewNop())

	res := newTestOrchestrator(loader, c, sink, logger.NewNop()).Run(context.Background(), Request{
		Sources: []SourceDocument{{FileRef: "plans/a.pdf"}},
		Build:   BuildContext{PriorSegments: []models.SegmentPlan{{Industry: "structural", Priority: 1}}},
	})
	if res.ExportURL != "" || !hasEntry(res.Output.RunLog, models.SeverityError, "bucket gone") {
		t.Errorf("unexpected result %q %+v", res.ExportURL, res.Output.RunLog)
	}
}

func hasEntry(entries []models.RunLogEntry, sev models.Severity, substr string) bool {
	for _, e := range entries {
		if e.Severity == sev && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func countEntries(entries []models.RunLogEntry, sev models.Severity) int {
	n := 0
	for _, e := range entries {
		if e.Severity == sev {
			n++
		}
	}
	return n
}
