package models

import (
	"encoding/json"
	"time"
)

// Unit 工程量单位
type Unit string

const (
	UnitLF Unit = "LF"
	UnitSF Unit = "SF"
	UnitCF Unit = "CF"
	UnitCY Unit = "CY"
	UnitEA Unit = "EA"
	UnitSQ Unit = "SQ"
)

// Valid reports whether u is one of the takeoff units.
func (u Unit) Valid() bool {
	switch u {
	case UnitLF, UnitSF, UnitCF, UnitCY, UnitEA, UnitSQ:
		return true
	}
	return false
}

// BoundingBox is a normalized region on a page image.
type BoundingBox struct {
	Page   int     `json:"page"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TakeoffItem 工程量清单条目
type TakeoffItem struct {
	Name                string       `json:"name"`
	Description         string       `json:"description,omitempty"`
	Quantity            float64      `json:"quantity"`
	Unit                Unit         `json:"unit"`
	UnitCost            float64      `json:"unitCost"`
	CostBasis           string       `json:"costBasis,omitempty"`
	Location            string       `json:"location,omitempty"`
	Industry            string       `json:"industry,omitempty"`
	Category            string       `json:"category,omitempty"`
	Subcategory         string       `json:"subcategory,omitempty"`
	CostCode            string       `json:"costCode,omitempty"`
	CostCodeDescription string       `json:"costCodeDescription,omitempty"`
	Dimensions          string       `json:"dimensions,omitempty"`
	BoundingBox         *BoundingBox `json:"boundingBox,omitempty"`
	PageRefs            []int        `json:"pageRefs"`
	Confidence          float64      `json:"confidence"`
	Notes               string       `json:"notes,omitempty"`
}

// AnalysisType 补充发现类型
type AnalysisType string

const (
	AnalysisCodeIssue AnalysisType = "code-issue"
	AnalysisConflict  AnalysisType = "conflict"
	AnalysisRFI       AnalysisType = "rfi"
)

// AnalysisItem is a finding that is not a quantity: a code issue, a
// conflict between sheets, or an RFI.
type AnalysisItem struct {
	Type           AnalysisType `json:"type"`
	Description    string       `json:"description"`
	Pages          []int        `json:"pages"`
	BoundingBox    *BoundingBox `json:"boundingBox,omitempty"`
	Severity       string       `json:"severity,omitempty"`
	Recommendation string       `json:"recommendation,omitempty"`
	Confidence     float64      `json:"confidence"`
}

// SegmentPlan 作业分段
type SegmentPlan struct {
	Industry   string   `json:"industry"`
	Categories []string `json:"categories"`
	Priority   int      `json:"priority"`
}

// Name identifies the segment in summaries and logs.
func (s SegmentPlan) Name() string {
	return s.Industry
}

// SegmentResult summarizes one executed segment.
type SegmentResult struct {
	Segment        string             `json:"segment"`
	Priority       int                `json:"priority"`
	CostCodeTotals map[string]float64 `json:"costCodeTotals"`
	TopRisks       []string           `json:"topRisks"`
	PagesProcessed int                `json:"pagesProcessed"`
	PagesFailed    int                `json:"pagesFailed"`
	ItemCount      int                `json:"itemCount"`
	AnalysisCount  int                `json:"analysisCount"`
}

// Severity 运行日志级别
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// RunLogEntry is one line of a takeoff run log.
type RunLogEntry struct {
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	SourceFile string    `json:"sourceFile,omitempty"`
	Batch      string    `json:"batch,omitempty"`
	Time       time.Time `json:"time"`
}

// TakeoffResult is the output of a takeoff run. All four slices are
// always non-nil.
type TakeoffResult struct {
	Items    []TakeoffItem   `json:"items"`
	Analysis []AnalysisItem  `json:"analysis"`
	Segments []SegmentResult `json:"segments"`
	RunLog   []RunLogEntry   `json:"runLog"`
}

// NewTakeoffResult returns a result with empty, non-nil slices.
func NewTakeoffResult() *TakeoffResult {
	return &TakeoffResult{
		Items:    []TakeoffItem{},
		Analysis: []AnalysisItem{},
		Segments: []SegmentResult{},
		RunLog:   []RunLogEntry{},
	}
}

// MarshalJSON encodes the result as [items, analysis, segments, runLog].
func (r TakeoffResult) MarshalJSON() ([]byte, error) {
	r.normalize()
	return json.Marshal([4]interface{}{r.Items, r.Analysis, r.Segments, r.RunLog})
}

// UnmarshalJSON accepts the 4-tuple form.
func (r *TakeoffResult) UnmarshalJSON(data []byte) error {
	var tuple [4]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[0], &r.Items); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[1], &r.Analysis); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[2], &r.Segments); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[3], &r.RunLog); err != nil {
		return err
	}
	r.normalize()
	return nil
}

func (r *TakeoffResult) normalize() {
	if r.Items == nil {
		r.Items = []TakeoffItem{}
	}
	if r.Analysis == nil {
		r.Analysis = []AnalysisItem{}
	}
	if r.Segments == nil {
		r.Segments = []SegmentResult{}
	}
	if r.RunLog == nil {
		r.RunLog = []RunLogEntry{}
	}
}

// RunStatus 作业运行状态
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
)

// TakeoffRun is a persisted orchestrator run. Result is set once completed.
type TakeoffRun struct {
	ID        string         `json:"id"`
	PlanID    string         `json:"planId"`
	Status    RunStatus      `json:"status"`
	Result    *TakeoffResult `json:"result,omitempty"`
	ExportURL string         `json:"exportUrl,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
