package takeoff

import (
	"errors"
	"testing"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

func TestParsePayloadRepairs(t *testing.T) {
	content := "Here is the takeoff:\n```json\n{\n  \"items\": [\n    {\"name\": \"Slab on grade\", \"quantity\": \"1,200\", \"unit\": \"sq ft\", \"confidence\": 85, \"pageRefs\": [2, 2, 1]},\n  ],\n  \"analysis\": [{\"type\": \"Code Issue\", \"description\": \"Missing rated wall\", \"severity\": \"High\"},],\n}\n```\nLet me know."

	p, err := parsePayload(content)
	if err != nil {
		t.Fatalf("parsePayload failed: %v", err)
	}
	v := p.validate([]int{1, 2, 3})
	if len(v.Items) != 1 || len(v.Analysis) != 1 || len(v.Rejected) != 0 {
		t.Fatalf("validated = %+v", v)
	}

	it := v.Items[0]
	if it.Quantity != 1200 || it.Unit != models.UnitSF || it.Confidence != 0.85 {
		t.Errorf("item = %+v", it)
	}
	if len(it.PageRefs) != 2 || it.PageRefs[0] != 1 {
		t.Errorf("PageRefs = %v", it.PageRefs)
	}

	a := v.Analysis[0]
	if a.Type != models.AnalysisCodeIssue || a.Severity != "high" || len(a.Pages) != 3 {
		t.Errorf("analysis = %+v", a)
	}
}

func TestParsePayloadBareArray(t *testing.T) {
	p, err := parsePayload(`[{"name":"Door","quantity":3,"unit":"each"}]`)
	if err != nil {
		t.Fatalf("parsePayload failed: %v", err)
	}
	v := p.validate(nil)
	if len(v.Items) != 1 || v.Items[0].Unit != models.UnitEA || v.Items[0].Confidence != 0.5 {
		t.Errorf("items = %+v", v.Items)
	}
}

func TestParsePayloadBracketedPreamble(t *testing.T) {
	p, err := parsePayload("[note] pages 3-4 were blurry\n{\"items\":[{\"name\":\"Door\",\"quantity\":2,\"unit\":\"EA\"},],\"analysis\":[]}")
	if err != nil {
		t.Fatalf("parsePayload failed: %v", err)
	}
	if v := p.validate(nil); len(v.Items) != 1 || v.Items[0].Name != "Door" {
		t.Errorf("items = %+v", v.Items)
	}
}

func TestParsePayloadRejectsProse(t *testing.T) {
	if _, err := parsePayload("no quantities found"); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestValidateDropsBadItems(t *testing.T) {
	p, err := parsePayload(`{"items":[
		{"name":"","quantity":1,"unit":"EA"},
		{"name":"Beam","quantity":-2,"unit":"LF"},
		{"name":"Beam","quantity":2,"unit":"furlong"},
		{"name":"Beam","unit":"LF"},
		{"name":"Beam","quantity":2,"unit":"l.f.","confidence":170}
	],"analysis":[{"type":"gossip","description":"x"},{"type":"rfi","description":""}]}`)
	if err != nil {
		t.Fatalf("parsePayload failed: %v", err)
	}
	v := p.validate(nil)
	if len(v.Items) != 1 || v.Items[0].Unit != models.UnitLF || v.Items[0].Confidence != 1 {
		t.Errorf("items = %+v", v.Items)
	}
	if len(v.Analysis) != 0 || len(v.Rejected) != 6 {
		t.Errorf("analysis = %+v rejected = %v", v.Analysis, v.Rejected)
	}
}

func TestParseScope(t *testing.T) {
	segs, err := parseScope(`{"segments":[{"industry":"mep","categories":["hvac"," "]},{"industry":"structural","categories":["steel"],"priority":1},{"industry":""}]}`)
	if err != nil {
		t.Fatalf("parseScope failed: %v", err)
	}
	if len(segs) != 2 || segs[0].Industry != "mep" || segs[1].Industry != "structural" {
		t.Errorf("segments = %+v", segs)
	}
	if len(segs[0].Categories) != 1 {
		t.Errorf("categories = %v", segs[0].Categories)
	}

	if _, err := parseScope(`{"segments":[]}`); err == nil {
		t.Error("expected error for empty plan")
	}
}
