package sheet

import (
	"regexp"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

var (
	labeledIDPattern = regexp.MustCompile(`SHEET\s*(?:NO\.?|NUMBER|#)\s*[:.]?\s*([A-Z]{1,2})\s*-?\s*(\d{1,3}(?:\.\d{1,2})?[A-Z]?)\b`)
	sheetIDPattern   = regexp.MustCompile(`\b([A-Z]{1,2})-?(\d{1,3}(?:\.\d{1,2})?[A-Z]?)\b`)
	titlePattern     = regexp.MustCompile(`(?:SHEET|DRAWING)\s+TITLE\s*[:\-]?\s*(\S.*)`)

	imperialScalePattern = regexp.MustCompile(`(?:(\d+)\s*/\s*(\d+)|(\d+))\s*(?:"|''|IN\.?)\s*=\s*(\d+)\s*'\s*(?:-?\s*(\d+)\s*")?`)
	ratioScalePattern    = regexp.MustCompile(`\b1\s*:\s*(\d{1,5})\b`)
	ntsPattern           = regexp.MustCompile(`\bN\.?T\.?S\.?(?:\s|$)|NOT TO SCALE`)

	imperialTokenPattern = regexp.MustCompile(`\d+\s*'\s*-?\s*\d+\s*"|\d+\s*(?:FT|FEET|INCH|INCHES)\b|\b(?:SF|LF|SQ\.?\s?FT)\b`)
	metricTokenPattern   = regexp.MustCompile(`\b\d+(?:\.\d+)?\s*(?:MM|CM|M|M2|M²)\b`)
)

// prefixDisciplines maps sheet id prefixes to disciplines. G and T title or
// general sheets fall through to keyword detection.
var prefixDisciplines = map[string]models.Discipline{
	"A":  models.DisciplineArchitectural,
	"AD": models.DisciplineArchitectural,
	"AS": models.DisciplineArchitectural,
	"I":  models.DisciplineArchitectural,
	"ID": models.DisciplineArchitectural,
	"S":  models.DisciplineStructural,
	"SD": models.DisciplineStructural,
	"E":  models.DisciplineElectrical,
	"EP": models.DisciplineElectrical,
	"FA": models.DisciplineElectrical,
	"P":  models.DisciplinePlumbing,
	"PL": models.DisciplinePlumbing,
	"FP": models.DisciplinePlumbing,
	"M":  models.DisciplineHVAC,
	"H":  models.DisciplineHVAC,
	"MP": models.DisciplineMEPCombined,
	"C":  models.DisciplineCivil,
	"CV": models.DisciplineCivil,
	"L":  models.DisciplineLandscape,
	"LS": models.DisciplineLandscape,
	"G":  models.DisciplineUnknown,
	"T":  models.DisciplineUnknown,
}

type disciplineTerms struct {
	discipline models.Discipline
	terms      []string
}

// Checked in order; ties resolve to the earlier entry.
var disciplineKeywords = []disciplineTerms{
	{models.DisciplineStructural, []string{"STRUCTURAL", "FOOTING", "FOUNDATION", "REBAR", "JOIST", "BEAM", "COLUMN", "SHEAR WALL"}},
	{models.DisciplineElectrical, []string{"ELECTRICAL", "PANEL", "CIRCUIT", "RECEPTACLE", "LIGHTING", "CONDUIT", "SWITCHGEAR"}},
	{models.DisciplinePlumbing, []string{"PLUMBING", "SANITARY", "WATER HEATER", "LAVATORY", "WATER CLOSET", "FLOOR DRAIN", "DOMESTIC WATER"}},
	{models.DisciplineHVAC, []string{"HVAC", "MECHANICAL", "DUCT", "DIFFUSER", "AIR HANDLER", "RTU", "VAV", "EXHAUST FAN"}},
	{models.DisciplineCivil, []string{"CIVIL", "GRADING", "STORM", "CURB", "PAVING", "EROSION", "UTILITY PLAN"}},
	{models.DisciplineLandscape, []string{"LANDSCAPE", "PLANTING", "IRRIGATION", "SHRUB", "TREE"}},
	{models.DisciplineArchitectural, []string{"ARCHITECTURAL", "DOOR", "WINDOW", "WALL TYPE", "FINISH", "CEILING", "ROOM"}},
}

type typeMarkers struct {
	sheetType models.SheetType
	markers   []string
}

// Priority order. Title sheets are also forced for page 1.
var sheetTypeMarkers = []typeMarkers{
	{models.SheetTypeTitle, []string{"TITLE SHEET", "COVER SHEET", "COVER", "DRAWING INDEX", "SHEET INDEX"}},
	{models.SheetTypeFloorPlan, []string{"FLOOR PLAN"}},
	{models.SheetTypeElevation, []string{"ELEVATION"}},
	{models.SheetTypeSection, []string{"SECTION"}},
	{models.SheetTypeDetail, []string{"DETAIL"}},
	{models.SheetTypeSchedule, []string{"SCHEDULE"}},
	{models.SheetTypeLegend, []string{"LEGEND", "SYMBOLS", "ABBREVIATIONS"}},
	{models.SheetTypeSitePlan, []string{"SITE PLAN"}},
	{models.SheetTypeRoofPlan, []string{"ROOF PLAN"}},
}

// vocabulary is emitted in this order, lowercased.
var vocabulary = []string{
	"FOOTING", "FOUNDATION", "SLAB", "BEAM", "COLUMN", "JOIST", "TRUSS", "REBAR",
	"STEEL", "CONCRETE", "MASONRY", "FRAMING", "SHEATHING", "INSULATION", "DRYWALL",
	"ROOFING", "DOOR", "WINDOW", "FINISH", "CEILING", "FLOORING",
	"PANEL", "CIRCUIT", "CONDUIT", "LIGHTING", "RECEPTACLE",
	"DUCT", "DIFFUSER", "RTU", "VAV", "PIPING", "FIXTURE", "SANITARY", "WATER HEATER",
	"SCHEDULE", "LEGEND", "GRADING", "PAVING",
}

var vocabularyPatterns = compileWords(vocabulary)

func compileWords(words []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = wordPattern(w)
	}
	return out
}

func wordPattern(w string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `S?\b`)
}
