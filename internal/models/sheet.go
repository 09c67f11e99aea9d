package models

// Discipline 图纸专业
type Discipline string

const (
	DisciplineArchitectural Discipline = "architectural"
	DisciplineStructural    Discipline = "structural"
	DisciplineElectrical    Discipline = "electrical"
	DisciplinePlumbing      Discipline = "plumbing"
	DisciplineHVAC          Discipline = "hvac"
	DisciplineCivil         Discipline = "civil"
	DisciplineLandscape     Discipline = "landscape"
	DisciplineMEPCombined   Discipline = "mep-combined"
	DisciplineUnknown       Discipline = "unknown"
)

// SheetType 图纸类型
type SheetType string

const (
	SheetTypeTitle     SheetType = "title"
	SheetTypeFloorPlan SheetType = "floor-plan"
	SheetTypeElevation SheetType = "elevation"
	SheetTypeSection   SheetType = "section"
	SheetTypeDetail    SheetType = "detail"
	SheetTypeSchedule  SheetType = "schedule"
	SheetTypeLegend    SheetType = "legend"
	SheetTypeSitePlan  SheetType = "site-plan"
	SheetTypeRoofPlan  SheetType = "roof-plan"
	SheetTypeOther     SheetType = "other"
)

// Units 度量体系
type Units string

const (
	UnitsImperial Units = "imperial"
	UnitsMetric   Units = "metric"
	UnitsUnknown  Units = "unknown"
)

// SheetIndexEntry classifies one page of a plan set.
type SheetIndexEntry struct {
	PlanID     string     `json:"planId"`
	PageNo     int        `json:"pageNo"`
	SheetID    string     `json:"sheetId"`
	Title      string     `json:"title,omitempty"`
	Discipline Discipline `json:"discipline"`
	Scale      string     `json:"scale,omitempty"`
	ScaleRatio float64    `json:"scaleRatio"`
	Units      Units      `json:"units"`
	SheetType  SheetType  `json:"sheetType"`
	Rotation   int        `json:"rotation"`
	HasText    bool       `json:"hasText"`
	HasImage   bool       `json:"hasImage"`
	Keywords   []string   `json:"keywords"`
}
