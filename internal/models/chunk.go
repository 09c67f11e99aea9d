package models

// Chunk is a token-budgeted span of consecutive pages.
type Chunk struct {
	ID         string            `json:"id"`
	PlanID     string            `json:"planId"`
	Index      int               `json:"index"`
	PageStart  int               `json:"pageStart"`
	PageEnd    int               `json:"pageEnd"`
	Pages      []int             `json:"pages"`
	Sheets     []SheetIndexEntry `json:"sheets"`
	Text       string            `json:"text"`
	TokenCount int               `json:"tokenCount"`
	ImageURLs  []string          `json:"imageUrls"`
	Metadata   ChunkMetadata     `json:"metadata"`
	Safeguards Safeguards        `json:"safeguards"`
}

// ChunkMetadata 块级上下文
type ChunkMetadata struct {
	Project            ProjectInfo `json:"project"`
	DominantDiscipline Discipline  `json:"dominantDiscipline"`
	ScaleSummary       []string    `json:"scaleSummary"`
	PrevChunkID        string      `json:"prevChunkId,omitempty"`
	NextChunkID        string      `json:"nextChunkId,omitempty"`
}

// Safeguards carry hints that keep downstream extraction from
// double-counting repeated content.
type Safeguards struct {
	DedupeHash         string   `json:"dedupeHash"`
	LocationKeys       []string `json:"locationKeys"`
	QuantitySignatures []string `json:"quantitySignatures"`
	NoMultiply         []string `json:"noMultiply"`
}
