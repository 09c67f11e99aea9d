package sheet

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

var ErrPageSequence = errors.New("page numbers must be unique and contiguous from 1")

const maxTitleLength = 120

// Builder classifies plan pages into sheet index entries. It holds only
// compiled patterns and is safe for concurrent use.
type Builder struct {
	disciplinePatterns [][]*regexp.Regexp
	typePatterns       [][]*regexp.Regexp
}

func NewBuilder() *Builder {
	b := &Builder{
		disciplinePatterns: make([][]*regexp.Regexp, len(disciplineKeywords)),
		typePatterns:       make([][]*regexp.Regexp, len(sheetTypeMarkers)),
	}
	for i, d := range disciplineKeywords {
		b.disciplinePatterns[i] = compileWords(d.terms)
	}
	for i, t := range sheetTypeMarkers {
		b.typePatterns[i] = compileWords(t.markers)
	}
	return b
}

// Build returns one entry per page in input order.
func (b *Builder) Build(planID string, pages []models.PageText, imaged map[int]bool) ([]models.SheetIndexEntry, error) {
	seen := make(map[int]bool, len(pages))
	for _, p := range pages {
		if p.PageNumber < 1 || p.PageNumber > len(pages) || seen[p.PageNumber] {
			return nil, fmt.Errorf("%w: page %d of %d", ErrPageSequence, p.PageNumber, len(pages))
		}
		seen[p.PageNumber] = true
	}

	entries := make([]models.SheetIndexEntry, 0, len(pages))
	for _, p := range pages {
		entry := b.Classify(p)
		entry.PlanID = planID
		entry.HasImage = imaged[p.PageNumber]
		entries = append(entries, entry)
	}
	return entries, nil
}

// Classify builds the entry for a single page.
func (b *Builder) Classify(page models.PageText) models.SheetIndexEntry {
	upper := strings.ToUpper(page.Text)

	sheetID, prefix := extractSheetID(upper)
	if sheetID == "" {
		sheetID = fmt.Sprintf("PAGE-%d", page.PageNumber)
	}

	sheetType := b.sheetType(upper, page.PageNumber)
	scale, ratio, scaleUnits := parseScale(upper)

	return models.SheetIndexEntry{
		PageNo:     page.PageNumber,
		SheetID:    sheetID,
		Title:      b.title(page.Text, upper),
		Discipline: b.discipline(prefix, upper),
		Scale:      scale,
		ScaleRatio: ratio,
		Units:      detectUnits(upper, scaleUnits),
		SheetType:  sheetType,
		Rotation:   page.Rotation,
		HasText:    strings.TrimSpace(page.Text) != "",
		Keywords:   keywords(upper),
	}
}

// extractSheetID prefers a labeled "SHEET NO" token, then the first token
// whose prefix is a known discipline code.
func extractSheetID(upper string) (id, prefix string) {
	if m := labeledIDPattern.FindStringSubmatch(upper); m != nil {
		return m[1] + "-" + m[2], m[1]
	}
	for _, loc := range sheetIDPattern.FindAllStringSubmatchIndex(upper, -1) {
		code, number := upper[loc[2]:loc[3]], upper[loc[4]:loc[5]]
		if _, ok := prefixDisciplines[code]; !ok {
			continue
		}
		if !standaloneID(upper[:loc[0]], loc[3] < loc[4], number) {
			continue
		}
		return code + "-" + number, code
	}
	return "", ""
}

// gridWords precede column grid labels such as "GRID A-3".
var gridWords = map[string]bool{"GRID": true, "GRIDS": true, "LINE": true, "COL": true, "COLUMN": true}

// standaloneID rejects tokens that read as a unit after a number ("25 M2"),
// a lumber grade ("S4S") or a grid label.
func standaloneID(before string, hyphenated bool, number string) bool {
	line := before
	if i := strings.LastIndexByte(line, '\n'); i >= 0 {
		line = line[i+1:]
	}
	line = strings.TrimRight(line, " \t")
	if line != "" {
		if last := line[len(line)-1]; last >= '0' && last <= '9' {
			return false
		}
		if fields := strings.Fields(line); len(fields) > 0 && gridWords[fields[len(fields)-1]] {
			return false
		}
	}
	if !hyphenated {
		last := number[len(number)-1]
		if last >= 'A' && last <= 'Z' && len(strings.TrimRight(number, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")) < 2 {
			return false
		}
	}
	return true
}

func (b *Builder) sheetType(upper string, pageNo int) models.SheetType {
	if pageNo == 1 {
		return models.SheetTypeTitle
	}
	for i, t := range sheetTypeMarkers {
		if anyMatch(b.typePatterns[i], upper) {
			return t.sheetType
		}
	}
	return models.SheetTypeOther
}

func (b *Builder) discipline(prefix, upper string) models.Discipline {
	if d, ok := prefixDisciplines[prefix]; ok && d != models.DisciplineUnknown {
		return d
	}

	hits := make([]int, len(disciplineKeywords))
	mep := 0
	best := -1
	for i, d := range disciplineKeywords {
		for _, re := range b.disciplinePatterns[i] {
			if re.MatchString(upper) {
				hits[i]++
			}
		}
		if hits[i] == 0 {
			continue
		}
		switch d.discipline {
		case models.DisciplineElectrical, models.DisciplinePlumbing, models.DisciplineHVAC:
			mep++
		}
		if best < 0 || hits[i] > hits[best] {
			best = i
		}
	}
	if mep >= 2 {
		return models.DisciplineMEPCombined
	}
	if best < 0 {
		return models.DisciplineUnknown
	}
	return disciplineKeywords[best].discipline
}

// title reads the labeled title, else the first line naming a sheet type.
// Returned text keeps the page's original casing.
func (b *Builder) title(original, upper string) string {
	origLines := strings.Split(original, "\n")
	upperLines := strings.Split(upper, "\n")
	if len(origLines) != len(upperLines) {
		origLines = upperLines
	}

	for i, line := range upperLines {
		if loc := titlePattern.FindStringSubmatchIndex(line); loc != nil {
			return clip(originalSpan(origLines[i], line, loc[2], loc[3]))
		}
	}
	for i, line := range upperLines {
		for j := range sheetTypeMarkers {
			if anyMatch(b.typePatterns[j], line) {
				return clip(origLines[i])
			}
		}
	}
	return ""
}

// originalSpan maps a byte range of the uppercased line back onto the original
// line, falling back to the uppercased text when casing changed byte lengths.
func originalSpan(orig, upper string, start, end int) string {
	if len(orig) == len(upper) {
		return orig[start:end]
	}
	return upper[start:end]
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxTitleLength {
		return s
	}
	return string([]rune(s)[:maxTitleLength])
}

// parseScale returns the scale text, the drawing-to-real ratio and the unit
// system the notation implies. NTS yields a zero ratio.
func parseScale(upper string) (string, float64, models.Units) {
	if m := imperialScalePattern.FindStringSubmatch(upper); m != nil {
		var inches float64
		if m[1] != "" {
			num, _ := strconv.ParseFloat(m[1], 64)
			den, _ := strconv.ParseFloat(m[2], 64)
			if den > 0 {
				inches = num / den
			}
		} else {
			inches, _ = strconv.ParseFloat(m[3], 64)
		}
		feet, _ := strconv.ParseFloat(m[4], 64)
		extra, _ := strconv.ParseFloat(m[5], 64)
		ratio := 0.0
		if inches > 0 {
			ratio = (12*feet + extra) / inches
		}
		return strings.TrimSpace(m[0]), ratio, models.UnitsImperial
	}
	if m := ratioScalePattern.FindStringSubmatch(upper); m != nil {
		n, _ := strconv.ParseFloat(m[1], 64)
		return strings.TrimSpace(m[0]), n, models.UnitsMetric
	}
	if m := ntsPattern.FindString(upper); m != "" {
		return "NTS", 0, models.UnitsUnknown
	}
	return "", 0, models.UnitsUnknown
}

func detectUnits(upper string, fromScale models.Units) models.Units {
	if fromScale != models.UnitsUnknown {
		return fromScale
	}
	imperial := len(imperialTokenPattern.FindAllStringIndex(upper, -1))
	metric := len(metricTokenPattern.FindAllStringIndex(upper, -1))
	switch {
	case imperial > metric:
		return models.UnitsImperial
	case metric > imperial:
		return models.UnitsMetric
	}
	return models.UnitsUnknown
}

func keywords(upper string) []string {
	out := []string{}
	for i, re := range vocabularyPatterns {
		if re.MatchString(upper) {
			out = append(out, strings.ToLower(vocabulary[i]))
		}
	}
	return out
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
