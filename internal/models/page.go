package models

// TextRun is a positioned span of text on a page.
type TextRun struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	FontSize float64 `json:"fontSize"`
	Text     string  `json:"text"`
}

// PageText 单页文本, 页码从 1 开始连续
type PageText struct {
	PageNumber int       `json:"pageNumber"`
	Text       string    `json:"text"`
	Runs       []TextRun `json:"runs,omitempty"`
	Rotation   int       `json:"rotation"`
}

// PageImage is a rendered page. Data or URL may be empty, never both when the
// image is usable.
type PageImage struct {
	PageNumber  int    `json:"pageNumber"`
	Data        []byte `json:"-"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	DPI         int    `json:"dpi"`
}

// Usable reports whether the image can be shown to a vision model.
func (p PageImage) Usable() bool {
	return len(p.Data) > 0 || p.URL != ""
}
