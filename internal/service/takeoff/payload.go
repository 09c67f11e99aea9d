package takeoff

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

var ErrMalformedPayload = errors.New("model response is not valid JSON")

var (
	fencePattern         = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// Payload is the items+analysis document a takeoff call returns.
type Payload struct {
	Items    []rawItem     `json:"items"`
	Analysis []rawAnalysis `json:"analysis"`
}

type rawItem struct {
	Name                string              `json:"name"`
	Description         string              `json:"description"`
	Quantity            flexFloat           `json:"quantity"`
	Unit                string              `json:"unit"`
	UnitCost            flexFloat           `json:"unitCost"`
	CostBasis           string              `json:"costBasis"`
	Location            string              `json:"location"`
	Industry            string              `json:"industry"`
	Category            string              `json:"category"`
	Subcategory         string              `json:"subcategory"`
	CostCode            string              `json:"costCode"`
	CostCodeDescription string              `json:"costCodeDescription"`
	Dimensions          string              `json:"dimensions"`
	BoundingBox         *models.BoundingBox `json:"boundingBox"`
	PageRefs            []int               `json:"pageRefs"`
	Confidence          flexFloat           `json:"confidence"`
	Notes               string              `json:"notes"`
}

type rawAnalysis struct {
	Type           string              `json:"type"`
	Description    string              `json:"description"`
	Pages          []int               `json:"pages"`
	BoundingBox    *models.BoundingBox `json:"boundingBox"`
	Severity       string              `json:"severity"`
	Recommendation string              `json:"recommendation"`
	Confidence     flexFloat           `json:"confidence"`
}

type scopePayload struct {
	Segments []struct {
		Industry   string    `json:"industry"`
		Categories []string  `json:"categories"`
		Priority   flexFloat `json:"priority"`
	} `json:"segments"`
}

// flexFloat accepts a JSON number, a numeric string or null.
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = flexFloat{}
		return nil
	}
	s = strings.Trim(s, `"`)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	*f = flexFloat{Value: v, Set: true}
	return nil
}

// decodeJSON parses content into v, repairing common model formatting
// mistakes on the second try.
func decodeJSON(content string, v interface{}) error {
	text := strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	repaired := repairJSON(text)
	if repaired == "" {
		return ErrMalformedPayload
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// repairJSON strips code fences, keeps the outermost JSON value and drops
// trailing commas.
func repairJSON(text string) string {
	text = unfence(text)
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	return extractValue(text, text[start])
}

func unfence(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return text
}

// extractValue cuts text from the first open byte to the last matching
// closer.
func extractValue(text string, open byte) string {
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, closer)
	if start < 0 || end <= start {
		return ""
	}
	return trailingCommaPattern.ReplaceAllString(text[start:end+1], "$1")
}

// parsePayload decodes an items+analysis response. A bare array is read as
// the item list.
func parsePayload(content string) (*Payload, error) {
	if repaired := repairJSON(content); strings.HasPrefix(repaired, "[") {
		var items []rawItem
		err := decodeJSON(repaired, &items)
		if err == nil {
			return &Payload{Items: items}, nil
		}
		// bracketed prose ahead of an object, e.g. "[note] {...}"
		object := extractValue(unfence(content), '{')
		if object == "" {
			return nil, err
		}
		var p Payload
		if json.Unmarshal([]byte(object), &p) != nil {
			return nil, err
		}
		return &p, nil
	}

	var p Payload
	if err := decodeJSON(content, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

var unitSynonyms = map[string]models.Unit{
	"LF": models.UnitLF, "L.F.": models.UnitLF, "LIN FT": models.UnitLF, "LINEAR FT": models.UnitLF,
	"LINEAR FEET": models.UnitLF, "LINEAR FOOT": models.UnitLF, "FT": models.UnitLF, "FEET": models.UnitLF,
	"SF": models.UnitSF, "S.F.": models.UnitSF, "SQ FT": models.UnitSF, "SQFT": models.UnitSF,
	"SQUARE FEET": models.UnitSF, "SQUARE FOOT": models.UnitSF, "FT2": models.UnitSF,
	"CF": models.UnitCF, "C.F.": models.UnitCF, "CU FT": models.UnitCF, "CUBIC FEET": models.UnitCF, "FT3": models.UnitCF,
	"CY": models.UnitCY, "C.Y.": models.UnitCY, "CU YD": models.UnitCY, "CUBIC YARDS": models.UnitCY,
	"CUBIC YARD": models.UnitCY, "YD3": models.UnitCY,
	"EA": models.UnitEA, "EACH": models.UnitEA, "COUNT": models.UnitEA, "PCS": models.UnitEA,
	"PC": models.UnitEA, "NO": models.UnitEA, "UNIT": models.UnitEA, "UNITS": models.UnitEA,
	"SQ": models.UnitSQ, "SQS": models.UnitSQ, "SQUARE": models.UnitSQ, "SQUARES": models.UnitSQ,
}

func normalizeUnit(u string) (models.Unit, bool) {
	key := strings.Join(strings.Fields(strings.ToUpper(strings.TrimSpace(u))), " ")
	key = strings.TrimSuffix(key, ".")
	if unit, ok := unitSynonyms[key]; ok {
		return unit, true
	}
	if unit, ok := unitSynonyms[key+"."]; ok {
		return unit, true
	}
	return "", false
}

// clampConfidence maps percentages to [0, 1]. A missing value reads as 0.5.
func clampConfidence(f flexFloat) float64 {
	if !f.Set || math.IsNaN(f.Value) {
		return 0.5
	}
	v := f.Value
	if v > 1 && v <= 100 {
		v /= 100
	}
	return math.Max(0, math.Min(1, v))
}

var analysisTypes = map[string]models.AnalysisType{
	"code-issue": models.AnalysisCodeIssue, "code issue": models.AnalysisCodeIssue,
	"code_issue": models.AnalysisCodeIssue, "code": models.AnalysisCodeIssue,
	"conflict": models.AnalysisConflict, "clash": models.AnalysisConflict,
	"rfi": models.AnalysisRFI, "question": models.AnalysisRFI,
}

// validated is a payload after schema checks. Rejected lists one reason per
// dropped record.
type validated struct {
	Items    []models.TakeoffItem
	Analysis []models.AnalysisItem
	Rejected []string
}

// validate normalizes units and confidences and drops records that cannot
// be trusted. fallbackPages fills missing page references.
func (p *Payload) validate(fallbackPages []int) validated {
	out := validated{Items: []models.TakeoffItem{}, Analysis: []models.AnalysisItem{}}

	for i, r := range p.Items {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			out.Rejected = append(out.Rejected, fmt.Sprintf("item %d: missing name", i))
			continue
		}
		unit, ok := normalizeUnit(r.Unit)
		if !ok {
			out.Rejected = append(out.Rejected, fmt.Sprintf("item %q: unknown unit %q", name, r.Unit))
			continue
		}
		if !r.Quantity.Set || r.Quantity.Value < 0 || math.IsNaN(r.Quantity.Value) {
			out.Rejected = append(out.Rejected, fmt.Sprintf("item %q: invalid quantity", name))
			continue
		}

		refs := uniqueSorted(r.PageRefs)
		if len(refs) == 0 {
			refs = append([]int{}, fallbackPages...)
		}
		out.Items = append(out.Items, models.TakeoffItem{
			Name:                name,
			Description:         strings.TrimSpace(r.Description),
			Quantity:            r.Quantity.Value,
			Unit:                unit,
			UnitCost:            math.Max(0, r.UnitCost.Value),
			CostBasis:           strings.TrimSpace(r.CostBasis),
			Location:            strings.TrimSpace(r.Location),
			Industry:            strings.TrimSpace(r.Industry),
			Category:            strings.TrimSpace(r.Category),
			Subcategory:         strings.TrimSpace(r.Subcategory),
			CostCode:            strings.TrimSpace(r.CostCode),
			CostCodeDescription: strings.TrimSpace(r.CostCodeDescription),
			Dimensions:          strings.TrimSpace(r.Dimensions),
			BoundingBox:         r.BoundingBox,
			PageRefs:            refs,
			Confidence:          clampConfidence(r.Confidence),
			Notes:               strings.TrimSpace(r.Notes),
		})
	}

	for i, r := range p.Analysis {
		desc := strings.TrimSpace(r.Description)
		if desc == "" {
			out.Rejected = append(out.Rejected, fmt.Sprintf("analysis %d: missing description", i))
			continue
		}
		typ, ok := analysisTypes[strings.ToLower(strings.TrimSpace(r.Type))]
		if !ok {
			out.Rejected = append(out.Rejected, fmt.Sprintf("analysis %d: unknown type %q", i, r.Type))
			continue
		}
		pages := uniqueSorted(r.Pages)
		if len(pages) == 0 {
			pages = append([]int{}, fallbackPages...)
		}
		out.Analysis = append(out.Analysis, models.AnalysisItem{
			Type:           typ,
			Description:    desc,
			Pages:          pages,
			BoundingBox:    r.BoundingBox,
			Severity:       strings.ToLower(strings.TrimSpace(r.Severity)),
			Recommendation: strings.TrimSpace(r.Recommendation),
			Confidence:     clampConfidence(r.Confidence),
		})
	}
	return out
}

// parseScope reads a segmentation plan. Segments without an industry are
// skipped; missing priorities follow response order.
func parseScope(content string) ([]models.SegmentPlan, error) {
	var sp scopePayload
	if err := decodeJSON(content, &sp); err != nil {
		return nil, err
	}

	segments := make([]models.SegmentPlan, 0, len(sp.Segments))
	for i, s := range sp.Segments {
		industry := strings.TrimSpace(s.Industry)
		if industry == "" {
			continue
		}
		priority := i + 1
		if s.Priority.Set && s.Priority.Value >= 1 {
			priority = int(s.Priority.Value)
		}
		cats := make([]string, 0, len(s.Categories))
		for _, c := range s.Categories {
			if c = strings.TrimSpace(c); c != "" {
				cats = append(cats, c)
			}
		}
		segments = append(segments, models.SegmentPlan{Industry: industry, Categories: cats, Priority: priority})
	}
	if len(segments) == 0 {
		return nil, errors.New("segmentation plan has no segments")
	}
	sortSegments(segments)
	return segments, nil
}

func sortSegments(segments []models.SegmentPlan) {
	sort.SliceStable(segments, func(i, j int) bool {
		return segments[i].Priority < segments[j].Priority
	})
}

func uniqueSorted(in []int) []int {
	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if v > 0 && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Ints(out)
	return out
}
