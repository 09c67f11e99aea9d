package ingest

import (
	"regexp"
	"strings"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

var (
	projectNamePattern    = regexp.MustCompile(`(?im)^\s*PROJECT(?:\s+NAME)?\s*[:\-]\s*(.+?)\s*$`)
	projectAddressPattern = regexp.MustCompile(`(?im)^\s*(?:PROJECT\s+)?(?:ADDRESS|LOCATION|SITE)\s*[:\-]\s*(.+?)\s*$`)
	streetPattern         = regexp.MustCompile(`(?i)\b\d{1,6}\s+(?:[A-Z0-9.']+\s+){1,5}(?:STREET|ST|AVENUE|AVE|ROAD|RD|BOULEVARD|BLVD|DRIVE|DR|LANE|LN|WAY|COURT|CT|PLACE|PL|HIGHWAY|HWY)\b\.?(?:,\s*[A-Z .]+)?(?:,\s*[A-Z]{2}\s+\d{5})?`)
)

const maxProjectField = 160

// detectProject looks for a project name and address on the first pages.
// fallbackName is used when no labeled name is found.
func detectProject(planID, jobID string, pages []models.PageText, limit int, fallbackName string) models.ProjectInfo {
	info := models.ProjectInfo{PlanID: planID, JobID: jobID}

	if limit <= 0 {
		limit = 3
	}
	if len(pages) < limit {
		limit = len(pages)
	}

	for _, p := range pages[:limit] {
		if info.Name == "" {
			if m := projectNamePattern.FindStringSubmatch(p.Text); m != nil {
				info.Name = clean(m[1])
			}
		}
		if info.Address == "" {
			if m := projectAddressPattern.FindStringSubmatch(p.Text); m != nil {
				info.Address = clean(m[1])
			} else if m := streetPattern.FindString(p.Text); m != "" {
				info.Address = clean(m)
			}
		}
		if info.Name != "" && info.Address != "" {
			break
		}
	}

	if info.Name == "" {
		info.Name = clean(fallbackName)
	}
	return info
}

func clean(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxProjectField {
		s = string(r[:maxProjectField])
	}
	return s
}
