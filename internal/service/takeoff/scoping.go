package takeoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/feichai0017/plan-takeoff/internal/agent/llm"
	"github.com/feichai0017/plan-takeoff/internal/models"
)

var errNoScopingImages = errors.New("no page images available for scoping")

// DefaultSegments is the plan used when scoping cannot produce one.
func DefaultSegments() []models.SegmentPlan {
	return []models.SegmentPlan{
		{Industry: "structural", Categories: []string{"foundations", "concrete", "framing", "steel", "masonry"}, Priority: 1},
		{Industry: "mep", Categories: []string{"electrical", "plumbing", "hvac", "fire protection"}, Priority: 2},
		{Industry: "finishes", Categories: []string{"drywall", "flooring", "ceilings", "paint", "doors", "windows"}, Priority: 3},
		{Industry: "sitework", Categories: []string{"earthwork", "paving", "utilities", "landscaping"}, Priority: 4},
	}
}

type sample struct {
	source string
	page   int
	text   string
	image  *models.PageImage
}

// scope returns the segmentation plan. It never fails: prior segments win,
// otherwise the model is asked, otherwise the default plan is used.
func (o *Orchestrator) scope(ctx context.Context, r *run) []models.SegmentPlan {
	if len(r.build.PriorSegments) > 0 {
		segments := append([]models.SegmentPlan(nil), r.build.PriorSegments...)
		sortSegments(segments)
		r.log.Info(fmt.Sprintf("using %d prior segments, scoping skipped", len(segments)), "", "scoping")
		return segments
	}

	segments, err := o.proposeSegments(ctx, r)
	if err != nil {
		r.log.Warn(fmt.Sprintf("scoping failed, using default segments: %v", err), "", "scoping")
		return DefaultSegments()
	}
	r.log.Info(fmt.Sprintf("scoping proposed %d segments", len(segments)), "", "scoping")
	return segments
}

func (o *Orchestrator) proposeSegments(ctx context.Context, r *run) ([]models.SegmentPlan, error) {
	samples := sampleSources(r.sources)

	var images []models.PageImage
	for _, s := range samples {
		if s.image != nil {
			images = append(images, *s.image)
		}
	}
	if len(images) == 0 {
		return nil, errNoScopingImages
	}

	resp, err := o.complete(ctx, llm.CompletionRequest{
		SystemPrompt: scopingSystemPrompt,
		UserPrompt:   scopingUserPrompt(r.build, samples),
		Images:       images,
	})
	if err != nil {
		return nil, fmt.Errorf("scoping call failed: %w", err)
	}
	return parseScope(resp.Content)
}

// sampleSources takes the first, middle and last page of each source.
func sampleSources(sources []*LoadedSource) []sample {
	var out []sample
	for _, src := range sources {
		pages := src.PageNumbers()
		if len(pages) == 0 {
			continue
		}
		picks := []int{pages[0], pages[len(pages)/2], pages[len(pages)-1]}
		seen := make(map[int]bool, 3)
		for _, p := range picks {
			if seen[p] {
				continue
			}
			seen[p] = true
			s := sample{source: src.Source.displayName(), page: p, text: src.Text(p)}
			if img, ok := src.Image(p); ok {
				s.image = &img
			}
			out = append(out, s)
		}
	}
	return out
}
