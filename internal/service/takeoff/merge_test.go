package takeoff

import (
	"reflect"
	"testing"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

func item(name string, qty, conf float64, dims string, pages ...int) models.TakeoffItem {
	return models.TakeoffItem{
		Name:       name,
		Quantity:   qty,
		Unit:       models.UnitLF,
		Location:   "Level 1",
		CostCode:   "06 11 00",
		Dimensions: dims,
		Confidence: conf,
		PageRefs:   pages,
	}
}

func TestMergeSumsQuantities(t *testing.T) {
	m := NewMerger(DefaultMergeConfig())
	a := item("Stud Wall", 40, 0.9, `2x4 @ 16"`, 3)
	b := item("stud  wall", 25, 0.8, `2x4 @ 16"`, 4, 3)
	b.Notes = "from detail"

	got := m.Items([]models.TakeoffItem{b, a})
	if len(got) != 1 {
		t.Fatalf("items = %d, want 1", len(got))
	}
	if got[0].Quantity != 65 {
		t.Errorf("Quantity = %v, want 65", got[0].Quantity)
	}
	if got[0].Name != "Stud Wall" || got[0].Confidence != 0.9 || got[0].Notes != "" {
		t.Errorf("expected fields of the confident item, got %+v", got[0])
	}
	if !reflect.DeepEqual(got[0].PageRefs, []int{3, 4}) {
		t.Errorf("PageRefs = %v", got[0].PageRefs)
	}
}

func TestMergeKeepsSeparateOnConfidenceGap(t *testing.T) {
	m := NewMerger(DefaultMergeConfig())
	got := m.Items([]models.TakeoffItem{
		item("Stud Wall", 40, 0.95, "", 1),
		item("Stud Wall", 10, 0.5, "", 2),
		item("Stud Wall", 5, 0.5, "", 3),
	})
	if len(got) != 2 {
		t.Fatalf("items = %d, want 2", len(got))
	}
	if got[0].Quantity != 40 || got[1].Quantity != 15 {
		t.Errorf("quantities = %v/%v, want 40/15", got[0].Quantity, got[1].Quantity)
	}
}

func TestMergeIsOrderIndependentAndIdempotent(t *testing.T) {
	m := NewMerger(DefaultMergeConfig())
	in := []models.TakeoffItem{
		item("Stud Wall", 40, 0.9, "", 1),
		item("Stud Wall", 10, 0.85, "", 2),
		item("Stud Wall", 7, 0.4, "", 5),
		item("Header", 3, 0.7, "4x12", 2),
		item("Header", 2, 0.75, "4x12", 6),
		item("Stud Wall", 1, 0.35, "", 7),
	}
	reversed := make([]models.TakeoffItem, len(in))
	for i := range in {
		reversed[len(in)-1-i] = in[i]
	}

	once := m.Items(in)
	if !reflect.DeepEqual(once, m.Items(reversed)) {
		t.Errorf("merge depends on input order")
	}
	if twice := m.Items(once); !reflect.DeepEqual(once, twice) {
		t.Errorf("merge not idempotent:\n%+v\n%+v", once, twice)
	}
}

func TestMergeThresholdsAreConfigurable(t *testing.T) {
	in := []models.TakeoffItem{item("Pipe", 10, 0.9, "", 1), item("Pipe", 10, 0.6, "", 2)}
	if got := NewMerger(DefaultMergeConfig()).Items(in); len(got) != 2 {
		t.Errorf("default delta: items = %d, want 2", len(got))
	}
	if got := NewMerger(MergeConfig{ConfidenceDelta: 0.5}).Items(in); len(got) != 1 {
		t.Errorf("wide delta: items = %d, want 1", len(got))
	}
}

func TestDimensionsDiffer(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"", "", false},
		{"12'-0\"", "", true},
		{"", "8x10", true},
		{"12x10", "12.5x10", false},
		{"12x10", "14x10", true},
		{"12x10", "12x10x4", true},
		{"TYP", "typ", false},
		{"TYP", "VARIES", true},
	}
	for _, c := range cases {
		if got := dimensionsDiffer(c.a, c.b, 0.10); got != c.want {
			t.Errorf("dimensionsDiffer(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestMergeKeysOnExactDimensions(t *testing.T) {
	m := NewMerger(DefaultMergeConfig())
	got := m.Items([]models.TakeoffItem{
		item("Header", 2, 0.8, "4x12", 1),
		item("Header", 3, 0.8, "4X12", 2),
		item("Header", 1, 0.8, "4x12.5", 3),
	})
	if len(got) != 2 {
		t.Fatalf("items = %d, want 2", len(got))
	}
	var exact, near models.TakeoffItem
	for _, it := range got {
		if it.Dimensions == "4x12.5" {
			near = it
		} else {
			exact = it
		}
	}
	if exact.Quantity != 5 || near.Quantity != 1 {
		t.Errorf("quantities = %v/%v, want 5/1", exact.Quantity, near.Quantity)
	}
}

func TestAnalysisDedupe(t *testing.T) {
	m := NewMerger(DefaultMergeConfig())
	got := m.Analysis([]models.AnalysisItem{
		{Type: models.AnalysisRFI, Description: "Confirm slab depth", Pages: []int{2, 1}, Confidence: 0.6},
		{Type: models.AnalysisRFI, Description: "confirm  slab depth", Pages: []int{1, 2}, Confidence: 0.9},
		{Type: models.AnalysisConflict, Description: "Confirm slab depth", Pages: []int{1, 2}},
		{Type: models.AnalysisRFI, Description: "Confirm slab depth", Pages: []int{3}},
	})
	if len(got) != 3 {
		t.Fatalf("analysis = %d, want 3", len(got))
	}
}
