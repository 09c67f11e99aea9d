package takeoff

import (
	"fmt"
	"strings"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

const payloadSchema = `{
  "items": [{
    "name": string, "description": string, "quantity": number,
    "unit": "LF"|"SF"|"CF"|"CY"|"EA"|"SQ", "unitCost": number, "costBasis": string,
    "location": string, "industry": string, "category": string, "subcategory": string,
    "costCode": string, "costCodeDescription": string, "dimensions": string,
    "boundingBox": {"page": number, "x": number, "y": number, "width": number, "height": number},
    "pageRefs": [number], "confidence": number, "notes": string
  }],
  "analysis": [{
    "type": "code-issue"|"conflict"|"rfi", "description": string, "pages": [number],
    "severity": "low"|"medium"|"high", "recommendation": string, "confidence": number
  }]
}`

const scopingSystemPrompt = `You are a construction estimator planning a quantity takeoff.
Look at the sample sheets and propose how to split the takeoff into trade segments.
Respond with JSON only:
{"segments": [{"industry": string, "categories": [string], "priority": number}]}
Priority 1 is processed first. Use 2 to 6 segments.`

func buildContextLines(b BuildContext) string {
	var sb strings.Builder
	if b.Industry != "" {
		fmt.Fprintf(&sb, "Industry: %s\n", b.Industry)
	}
	if b.BuildingType != "" {
		fmt.Fprintf(&sb, "Building type: %s\n", b.BuildingType)
	}
	if b.Location != "" {
		fmt.Fprintf(&sb, "Location: %s\n", b.Location)
	}
	if b.Currency != "" {
		fmt.Fprintf(&sb, "Currency for unit costs: %s\n", b.Currency)
	}
	return sb.String()
}

func scopingUserPrompt(b BuildContext, samples []sample) string {
	var sb strings.Builder
	sb.WriteString(buildContextLines(b))
	sb.WriteString("\nSample pages:\n")
	for _, s := range samples {
		fmt.Fprintf(&sb, "\n--- %s page %d ---\n%s\n", s.source, s.page, clipText(s.text, 1500))
	}
	return sb.String()
}

func segmentSystemPrompt(seg models.SegmentPlan, b BuildContext) string {
	var sb strings.Builder
	sb.WriteString("You are a construction estimator performing a quantity takeoff from plan sheets.\n")
	fmt.Fprintf(&sb, "Only extract work for the %s segment", seg.Industry)
	if len(seg.Categories) > 0 {
		fmt.Fprintf(&sb, " (categories: %s)", strings.Join(seg.Categories, ", "))
	}
	sb.WriteString(".\n")
	sb.WriteString(buildContextLines(b))
	sb.WriteString("Count each element once. Do not multiply schedule rows by detail callouts.\n")
	sb.WriteString("Report code issues, sheet conflicts and RFIs under analysis.\n")
	sb.WriteString("Respond with JSON only, matching:\n")
	sb.WriteString(payloadSchema)
	return sb.String()
}

func consensusSystemPrompt(segments []models.SegmentPlan, b BuildContext) string {
	var sb strings.Builder
	sb.WriteString("You are a panel of construction estimators reviewing a complete plan set.\n")
	sb.WriteString("Agree on one quantity takeoff for the whole document. Where sheets disagree, prefer the\n")
	sb.WriteString("schedule over plan callouts and report the disagreement as a conflict.\n")
	sb.WriteString(buildContextLines(b))
	sb.WriteString("Assign every item a category from this list when one fits:\n")
	for _, s := range segments {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Industry, strings.Join(s.Categories, ", "))
	}
	sb.WriteString("Respond with JSON only, matching:\n")
	sb.WriteString(payloadSchema)
	return sb.String()
}

// pagesPrompt lists page text under per-page headers.
func pagesPrompt(source string, pages []int, text func(int) string) string {
	var sb strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&sb, "=== %s PAGE %d ===\n", source, p)
		if t := strings.TrimSpace(text(p)); t != "" {
			sb.WriteString(t)
		} else {
			sb.WriteString("(no text layer, see image)")
		}
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func clipText(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
