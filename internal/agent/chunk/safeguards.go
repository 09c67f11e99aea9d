package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

const dedupePrefixRunes = 256

var (
	qtyPattern      = regexp.MustCompile(`\bQTY\.?\s*[:=]?\s*(\d+(?:\.\d+)?)`)
	quantityPattern = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*(LF|SF|CF|CY|EA|SQ)\b`)
)

func buildSafeguards(pages []int, text string, sheets []models.SheetIndexEntry) models.Safeguards {
	return models.Safeguards{
		DedupeHash:         dedupeHash(pages, text),
		LocationKeys:       locationKeys(sheets),
		QuantitySignatures: quantitySignatures(text),
		NoMultiply:         noMultiplyHints(sheets),
	}
}

// dedupeHash fingerprints the page list and the leading text.
func dedupeHash(pages []int, text string) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	lead := []rune(text)
	if len(lead) > dedupePrefixRunes {
		lead = lead[:dedupePrefixRunes]
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ",") + "|" + string(lead)))
	return hex.EncodeToString(sum[:])
}

func locationKeys(sheets []models.SheetIndexEntry) []string {
	keys := []string{}
	seen := map[string]bool{}
	for _, s := range sheets {
		if s.SheetID != "" && !seen[s.SheetID] {
			seen[s.SheetID] = true
			keys = append(keys, s.SheetID)
		}
	}
	return keys
}

// quantitySignatures returns sorted unique tokens such as "QTY 40" or "120 LF".
func quantitySignatures(text string) []string {
	upper := strings.ToUpper(text)
	set := map[string]bool{}
	for _, m := range qtyPattern.FindAllStringSubmatch(upper, -1) {
		set["QTY "+m[1]] = true
	}
	for _, m := range quantityPattern.FindAllStringSubmatch(upper, -1) {
		set[m[1]+" "+m[2]] = true
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Schedules and details restate quantities drawn elsewhere.
func noMultiplyHints(sheets []models.SheetIndexEntry) []string {
	hints := []string{}
	for _, s := range sheets {
		switch s.SheetType {
		case models.SheetTypeSchedule:
			hints = append(hints, fmt.Sprintf("%s (page %d) is a schedule: counts summarize plan sheets, do not add them again", s.SheetID, s.PageNo))
		case models.SheetTypeDetail:
			hints = append(hints, fmt.Sprintf("%s (page %d) is a detail: typical assemblies apply per referenced location, do not multiply by detail count", s.SheetID, s.PageNo))
		}
	}
	return hints
}

func dominantDiscipline(sheets []models.SheetIndexEntry) models.Discipline {
	counts := map[models.Discipline]int{}
	best := models.DisciplineUnknown
	for _, s := range sheets {
		if s.Discipline == "" || s.Discipline == models.DisciplineUnknown {
			continue
		}
		counts[s.Discipline]++
		if best == models.DisciplineUnknown || counts[s.Discipline] > counts[best] {
			best = s.Discipline
		}
	}
	return best
}

func scaleSummary(sheets []models.SheetIndexEntry) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, s := range sheets {
		if s.Scale != "" && !seen[s.Scale] {
			seen[s.Scale] = true
			out = append(out, s.Scale)
		}
	}
	return out
}
