package converters

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/feichai0017/plan-takeoff/internal/models"
)

// ExportMeta identifies the run being exported.
type ExportMeta struct {
	RunID    string
	PlanID   string
	Currency string
}

// ResultConverter 定义工程量结果转换器接口
type ResultConverter interface {
	Convert(meta ExportMeta, result *models.TakeoffResult) (*TakeoffDocument, error)
}

// TakeoffDocument 定义导出的工程量文档结构
type TakeoffDocument struct {
	RunID       string                 `json:"runId"`
	PlanID      string                 `json:"planId"`
	Currency    string                 `json:"currency"`
	GeneratedAt time.Time              `json:"generatedAt"`
	Totals      Totals                 `json:"totals"`
	Items       []models.TakeoffItem   `json:"items"`
	Analysis    []models.AnalysisItem  `json:"analysis"`
	Segments    []models.SegmentResult `json:"segments"`
	RunLog      []models.RunLogEntry   `json:"runLog"`
}

// Totals 汇总
type Totals struct {
	ItemCount     int                `json:"itemCount"`
	AnalysisCount int                `json:"analysisCount"`
	EstimatedCost float64            `json:"estimatedCost"`
	ByIndustry    map[string]float64 `json:"byIndustry"`
	ByUnit        map[string]float64 `json:"byUnit"`
	PagesFailed   int                `json:"pagesFailed"`
	Errors        int                `json:"errors"`
	Industries    []string           `json:"industries"`
}

// JSONConverter 实现工程量结果转换器
type JSONConverter struct {
	now func() time.Time
}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{now: time.Now}
}

func (c *JSONConverter) Convert(meta ExportMeta, result *models.TakeoffResult) (*TakeoffDocument, error) {
	if result == nil {
		return nil, fmt.Errorf("no takeoff result to convert")
	}

	doc := &TakeoffDocument{
		RunID:       meta.RunID,
		PlanID:      meta.PlanID,
		Currency:    meta.Currency,
		GeneratedAt: c.now().UTC(),
		Items:       nonNil(result.Items),
		Analysis:    nonNil(result.Analysis),
		Segments:    nonNil(result.Segments),
		RunLog:      nonNil(result.RunLog),
		Totals: Totals{
			ByIndustry: make(map[string]float64),
			ByUnit:     make(map[string]float64),
			Industries: []string{},
		},
	}

	// 按行业和单位汇总
	for _, it := range doc.Items {
		cost := it.Quantity * it.UnitCost
		doc.Totals.EstimatedCost += cost
		industry := it.Industry
		if industry == "" {
			industry = "unassigned"
		}
		if _, ok := doc.Totals.ByIndustry[industry]; !ok {
			doc.Totals.Industries = append(doc.Totals.Industries, industry)
		}
		doc.Totals.ByIndustry[industry] += cost
		doc.Totals.ByUnit[string(it.Unit)] += it.Quantity
	}
	sort.Strings(doc.Totals.Industries)

	for _, s := range doc.Segments {
		doc.Totals.PagesFailed += s.PagesFailed
	}
	for _, e := range doc.RunLog {
		if e.Severity == models.SeverityError {
			doc.Totals.Errors++
		}
	}
	doc.Totals.ItemCount = len(doc.Items)
	doc.Totals.AnalysisCount = len(doc.Analysis)

	return doc, nil
}

// Marshal renders the document as indented JSON.
func (c *JSONConverter) Marshal(doc *TakeoffDocument) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal takeoff document: %w", err)
	}
	return data, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
