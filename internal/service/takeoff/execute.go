package takeoff

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/plan-takeoff/internal/agent/llm"
	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
	"github.com/feichai0017/plan-takeoff/pkg/metrics"
)

// segmentRun accumulates one segment's output. Batches of the segment run
// concurrently, so all writes go through add/fail.
type segmentRun struct {
	plan models.SegmentPlan

	mu        sync.Mutex
	items     []models.TakeoffItem
	analysis  []models.AnalysisItem
	processed int
	failed    int
}

func (s *segmentRun) add(pages int, items []models.TakeoffItem, analysis []models.AnalysisItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed += pages
	s.items = append(s.items, items...)
	s.analysis = append(s.analysis, analysis...)
}

func (s *segmentRun) fail(pages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed += pages
}

// batch is a page range of one source.
type batch struct {
	source *LoadedSource
	pages  []int
}

func (b batch) name() string {
	return fmt.Sprintf("%s:%d-%d", b.source.Source.displayName(), b.pages[0], b.pages[len(b.pages)-1])
}

// planBatches splits pages into consecutive groups of size.
func planBatches(pages []int, size int) [][]int {
	if size < 1 {
		size = 1
	}
	var out [][]int
	for start := 0; start < len(pages); start += size {
		end := start + size
		if end > len(pages) {
			end = len(pages)
		}
		out = append(out, pages[start:end])
	}
	return out
}

// runSegments processes segments in priority order. Within a segment at
// most MaxParallelBatches batches are in flight; a failed batch only marks
// its pages failed.
func (o *Orchestrator) runSegments(ctx context.Context, r *run) {
	for _, seg := range r.segments {
		var batches []batch
		for _, src := range r.sources {
			for _, pages := range planBatches(src.PageNumbers(), r.build.PagesPerBatch) {
				batches = append(batches, batch{source: src, pages: pages})
			}
		}
		r.log.Info(fmt.Sprintf("segment %s: %d batches", seg.plan.Name(), len(batches)), "", "")

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.build.MaxParallelBatches)
		for _, b := range batches {
			b := b
			g.Go(func() error {
				o.runBatch(gctx, r, seg, b)
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (o *Orchestrator) runBatch(ctx context.Context, r *run, seg *segmentRun, b batch) {
	source, name := b.source.Source.displayName(), b.name()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Recovered from panic in takeoff batch",
				logger.String("batch", name),
				logger.Any("panic", rec),
				logger.String("stack", string(debug.Stack())),
			)
			seg.fail(len(b.pages))
			metrics.TakeoffBatches.WithLabelValues(string(ModeSegmentBatch), "failure").Inc()
			r.log.Error(fmt.Sprintf("batch panicked: %v", rec), source, name)
		}
	}()

	var images []models.PageImage
	for _, p := range b.pages {
		if img, ok := b.source.Image(p); ok {
			images = append(images, img)
		}
	}

	resp, err := o.complete(ctx, llm.CompletionRequest{
		SystemPrompt: segmentSystemPrompt(seg.plan, r.build),
		UserPrompt:   pagesPrompt(source, b.pages, b.source.Text),
		Images:       images,
	})
	if err == nil {
		var payload *Payload
		if payload, err = parsePayload(resp.Content); err == nil {
			v := payload.validate(b.pages)
			if len(v.Rejected) > 0 {
				r.log.Warn(fmt.Sprintf("dropped %d invalid records: %s", len(v.Rejected), strings.Join(v.Rejected, "; ")), source, name)
			}
			for i := range v.Items {
				if v.Items[i].Industry == "" {
					v.Items[i].Industry = seg.plan.Industry
				}
			}
			seg.add(len(b.pages), v.Items, v.Analysis)
			metrics.TakeoffBatches.WithLabelValues(string(ModeSegmentBatch), "success").Inc()
			return
		}
	}

	seg.fail(len(b.pages))
	metrics.TakeoffBatches.WithLabelValues(string(ModeSegmentBatch), "failure").Inc()
	r.log.Error(fmt.Sprintf("batch failed for segment %s: %v", seg.plan.Name(), err), source, name)
}

// runConsensus sends every page of every document in one call and assigns
// the output to segments afterwards.
func (o *Orchestrator) runConsensus(ctx context.Context, r *run) {
	docs := append(append([]*LoadedSource{}, r.sources...), r.linked...)

	var images []models.PageImage
	var prompt strings.Builder
	totalPages := 0
	for _, d := range docs {
		pages := d.PageNumbers()
		totalPages += len(pages)
		prompt.WriteString(pagesPrompt(d.Source.displayName(), pages, d.Text))
		for _, p := range pages {
			if img, ok := d.Image(p); ok {
				images = append(images, img)
			}
		}
	}

	if len(images) == 0 {
		r.log.Error("consensus takeoff aborted: no page images could be converted", "", "consensus")
		for _, s := range r.segments {
			s.fail(totalPages)
		}
		return
	}

	resp, err := o.complete(ctx, llm.CompletionRequest{
		SystemPrompt: consensusSystemPrompt(planOf(r.segments), r.build),
		UserPrompt:   prompt.String(),
		Images:       images,
	})
	var payload *Payload
	if err == nil {
		payload, err = parsePayload(resp.Content)
	}
	if err != nil {
		metrics.TakeoffBatches.WithLabelValues(string(ModeConsensus), "failure").Inc()
		r.log.Error(fmt.Sprintf("consensus call failed: %v", err), "", "consensus")
		for _, s := range r.segments {
			s.fail(totalPages)
		}
		return
	}
	metrics.TakeoffBatches.WithLabelValues(string(ModeConsensus), "success").Inc()

	v := payload.validate(nil)
	if len(v.Rejected) > 0 {
		r.log.Warn(fmt.Sprintf("dropped %d invalid records: %s", len(v.Rejected), strings.Join(v.Rejected, "; ")), "", "consensus")
	}
	o.distribute(r, v, totalPages)
}

// distribute assigns items to the first segment listing their category and
// analysis to the first segment holding an item on one of its pages.
func (o *Orchestrator) distribute(r *run, v validated, totalPages int) {
	byCategory := make(map[string]*segmentRun)
	for _, s := range r.segments {
		for _, c := range s.plan.Categories {
			key := strings.ToLower(strings.TrimSpace(c))
			if _, ok := byCategory[key]; !ok {
				byCategory[key] = s
			}
		}
	}

	assigned := make(map[*segmentRun][]models.TakeoffItem)
	pageOwner := make(map[int]*segmentRun)
	for _, it := range v.Items {
		seg, ok := byCategory[strings.ToLower(strings.TrimSpace(it.Category))]
		if !ok {
			r.unassigned = append(r.unassigned, it)
			continue
		}
		if it.Industry == "" {
			it.Industry = seg.plan.Industry
		}
		assigned[seg] = append(assigned[seg], it)
		for _, p := range it.PageRefs {
			if _, taken := pageOwner[p]; !taken {
				pageOwner[p] = seg
			}
		}
	}
	if n := len(r.unassigned); n > 0 {
		names := make([]string, 0, n)
		for _, it := range r.unassigned {
			names = append(names, it.Name)
		}
		r.log.Warn(fmt.Sprintf("%d items matched no segment category: %s", n, strings.Join(names, ", ")), "", "consensus")
	}

	analysis := make(map[*segmentRun][]models.AnalysisItem)
	for _, a := range v.Analysis {
		var owner *segmentRun
		for _, p := range a.Pages {
			if s, ok := pageOwner[p]; ok {
				owner = s
				break
			}
		}
		if owner == nil {
			r.unassignedAnalysis = append(r.unassignedAnalysis, a)
			continue
		}
		analysis[owner] = append(analysis[owner], a)
	}

	for _, s := range r.segments {
		s.add(totalPages, assigned[s], analysis[s])
	}
}

func planOf(segments []*segmentRun) []models.SegmentPlan {
	out := make([]models.SegmentPlan, len(segments))
	for i, s := range segments {
		out[i] = s.plan
	}
	return out
}

// summary rolls up the segment after merging its own items.
func (s *segmentRun) summary(m *Merger) models.SegmentResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := m.Items(s.items)
	analysis := m.Analysis(s.analysis)

	totals := make(map[string]float64)
	for _, it := range items {
		code := it.CostCode
		if code == "" {
			code = "uncoded"
		}
		totals[code] += it.Quantity * it.UnitCost
	}

	return models.SegmentResult{
		Segment:        s.plan.Name(),
		Priority:       s.plan.Priority,
		CostCodeTotals: totals,
		TopRisks:       topRisks(analysis, 3),
		PagesProcessed: s.processed,
		PagesFailed:    s.failed,
		ItemCount:      len(items),
		AnalysisCount:  len(analysis),
	}
}

var severityRank = map[string]int{"critical": 4, "high": 3, "medium": 2, "low": 1}

// topRisks returns the n most severe findings, most confident first.
func topRisks(analysis []models.AnalysisItem, n int) []string {
	sorted := make([]models.AnalysisItem, len(analysis))
	copy(sorted, analysis)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := severityRank[sorted[i].Severity], severityRank[sorted[j].Severity]
		if ri != rj {
			return ri > rj
		}
		return sorted[i].Confidence > sorted[j].Confidence
	})

	out := []string{}
	for _, a := range sorted {
		if len(out) == n {
			break
		}
		out = append(out, a.Description)
	}
	return out
}
