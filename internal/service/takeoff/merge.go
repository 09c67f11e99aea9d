package takeoff

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// MergeConfig holds the merge-vs-keep thresholds.
type MergeConfig struct {
	// ConfidenceDelta above which two same-key items stay separate.
	ConfidenceDelta float64
	// DimensionTolerance is the relative difference between paired
	// dimension numbers that counts as material.
	DimensionTolerance float64
}

func DefaultMergeConfig() MergeConfig {
	return MergeConfig{ConfidenceDelta: 0.2, DimensionTolerance: 0.10}
}

// Merger de-duplicates takeoff output. The result does not depend on the
// arrival order of its input and merging twice equals merging once.
type Merger struct {
	cfg MergeConfig
}

func NewMerger(cfg MergeConfig) *Merger {
	if cfg.ConfidenceDelta <= 0 {
		cfg.ConfidenceDelta = 0.2
	}
	if cfg.DimensionTolerance <= 0 {
		cfg.DimensionTolerance = 0.10
	}
	return &Merger{cfg: cfg}
}

// Items groups by (name, location, cost code, dimensions). Within a group
// items merge, summing quantities, unless their confidences differ by more
// than ConfidenceDelta or their dimensions differ materially.
func (m *Merger) Items(items []models.TakeoffItem) []models.TakeoffItem {
	sorted := make([]models.TakeoffItem, len(items))
	copy(sorted, items)
	sortItems(sorted)

	index := make(map[string]int, len(sorted))
	out := make([]models.TakeoffItem, 0, len(sorted))

	for _, it := range sorted {
		key := itemKey(it)
		pos, ok := index[key]
		if ok && m.keepSeparate(out[pos], it) {
			key += "|" + strconv.FormatFloat(it.Confidence, 'f', -1, 64)
			pos, ok = index[key]
		}
		if !ok {
			index[key] = len(out)
			it.PageRefs = uniqueSorted(it.PageRefs)
			out = append(out, it)
			continue
		}
		out[pos] = mergePair(out[pos], it)
	}
	return out
}

// keepSeparate only sees items sharing a key. The key already carries
// normalized dimensions, so only the confidence gap splits a group unless
// itemKey stops including them.
func (m *Merger) keepSeparate(a, b models.TakeoffItem) bool {
	if math.Abs(a.Confidence-b.Confidence) > m.cfg.ConfidenceDelta {
		return true
	}
	return dimensionsDiffer(a.Dimensions, b.Dimensions, m.cfg.DimensionTolerance)
}

// mergePair keeps the fields of the more confident item, sums quantities
// and unions page refs. Ties keep a.
func mergePair(a, b models.TakeoffItem) models.TakeoffItem {
	winner := a
	if b.Confidence > a.Confidence {
		winner = b
	}
	winner.Quantity = a.Quantity + b.Quantity
	winner.PageRefs = uniqueSorted(append(append([]int{}, a.PageRefs...), b.PageRefs...))
	return winner
}

// dimensionsDiffer compares the numbers in two dimension strings pairwise.
// A dimension present on only one side always differs.
func dimensionsDiffer(a, b string, tolerance float64) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" && b == "" {
		return false
	}
	if a == "" || b == "" {
		return true
	}

	na, nb := numbers(a), numbers(b)
	if len(na) == 0 && len(nb) == 0 {
		return normalize(a) != normalize(b)
	}
	if len(na) != len(nb) {
		return true
	}
	for i := range na {
		avg := (na[i] + nb[i]) / 2
		if avg == 0 {
			continue
		}
		if math.Abs(na[i]-nb[i]) > tolerance*avg {
			return true
		}
	}
	return false
}

func numbers(s string) []float64 {
	matches := numberPattern.FindAllString(s, -1)
	out := make([]float64, 0, len(matches))
	for _, m := range matches {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func itemKey(it models.TakeoffItem) string {
	return normalize(it.Name) + "|" + normalize(it.Location) + "|" + normalize(it.CostCode) + "|" + normalize(it.Dimensions)
}

// sortItems orders by key, then confidence descending, so the group head is
// always the most confident item.
func sortItems(items []models.TakeoffItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if ka, kb := itemKey(a), itemKey(b); ka != kb {
			return ka < kb
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Quantity != b.Quantity {
			return a.Quantity > b.Quantity
		}
		if pa, pb := pagesKey(a.PageRefs), pagesKey(b.PageRefs); pa != pb {
			return pa < pb
		}
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		return a.Description < b.Description
	})
}

func pagesKey(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// Analysis drops exact repeats keyed by (type, description, pages).
func (m *Merger) Analysis(items []models.AnalysisItem) []models.AnalysisItem {
	sorted := make([]models.AnalysisItem, len(items))
	copy(sorted, items)
	for i := range sorted {
		sorted[i].Pages = uniqueSorted(sorted[i].Pages)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		ki, kj := analysisKey(sorted[i]), analysisKey(sorted[j])
		if ki != kj {
			return ki < kj
		}
		return sorted[i].Confidence > sorted[j].Confidence
	})

	seen := make(map[string]bool, len(sorted))
	out := make([]models.AnalysisItem, 0, len(sorted))
	for _, a := range sorted {
		key := analysisKey(a)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	return out
}

func analysisKey(a models.AnalysisItem) string {
	return string(a.Type) + "|" + normalize(a.Description) + "|" + pagesKey(a.Pages)
}
