package chunk

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

var ErrInvalidOptions = errors.New("invalid chunk options")

// Options are token budgets; a token is approximated as four characters.
type Options struct {
	TargetTokens int
	OverlapPct   float64
	MaxTokens    int
	MinTokens    int
}

func DefaultOptions() Options {
	return Options{
		TargetTokens: 2000,
		OverlapPct:   0.10,
		MaxTokens:    4000,
		MinTokens:    400,
	}
}

func (o Options) Validate() error {
	if o.MinTokens <= 0 || o.MinTokens > o.TargetTokens || o.TargetTokens > o.MaxTokens {
		return fmt.Errorf("%w: need 0 < min (%d) <= target (%d) <= max (%d)", ErrInvalidOptions, o.MinTokens, o.TargetTokens, o.MaxTokens)
	}
	if o.OverlapPct < 0 || o.OverlapPct >= 0.5 {
		return fmt.Errorf("%w: overlap pct %.2f outside [0, 0.5)", ErrInvalidOptions, o.OverlapPct)
	}
	return nil
}

func (o Options) overlapTokens() int {
	return int(math.Floor(float64(o.TargetTokens) * o.OverlapPct))
}

type Input struct {
	PlanID    string
	Pages     []models.PageText
	Sheets    []models.SheetIndexEntry
	Project   models.ProjectInfo
	ImageURLs map[int][]string
	Options   Options
}

type Engine struct {
	logger logger.Logger
}

func NewEngine(log logger.Logger) *Engine {
	return &Engine{logger: log.Named("chunker")}
}

// EstimateTokens approximates the token count of s.
func EstimateTokens(s string) int {
	return tokensFor(utf8.RuneCountInString(s))
}

func tokensFor(runes int) int {
	return (runes + 3) / 4
}

// unit is a page, or a line-bounded piece of an oversized page.
type unit struct {
	page  int
	text  string
	runes int
}

type buffer struct {
	sb    strings.Builder
	runes int
	own   int
	pages []int
}

func (b *buffer) tokens() int { return tokensFor(b.runes) }

func (b *buffer) write(s string) {
	b.sb.WriteString(s)
	b.runes += utf8.RuneCountInString(s)
}

func (b *buffer) add(u unit) {
	b.write(u.text)
	b.own++
	if n := len(b.pages); n == 0 || b.pages[n-1] != u.page {
		b.pages = append(b.pages, u.page)
	}
}

type span struct {
	text  string
	pages []int
}

// Build merges consecutive pages into chunks. Identical input yields
// identical boundaries, overlap text and ids.
func (e *Engine) Build(in Input) ([]models.Chunk, error) {
	opts := in.Options
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(in.Pages) == 0 {
		return []models.Chunk{}, nil
	}

	sheets := make(map[int]models.SheetIndexEntry, len(in.Sheets))
	for _, s := range in.Sheets {
		sheets[s.PageNo] = s
	}

	overlap := opts.overlapTokens()
	pieceLimit := opts.MaxTokens - overlap

	var units []unit
	var bodyTokens int
	for _, p := range in.Pages {
		pageUnits, err := splitPage(p, sheetID(sheets, p.PageNumber), pieceLimit)
		if err != nil {
			return nil, err
		}
		bodyTokens += EstimateTokens(p.Text)
		units = append(units, pageUnits...)
	}

	// page headers do not count toward the single-chunk budget
	var spans []span
	if bodyTokens <= opts.TargetTokens {
		spans = []span{joinUnits(units)}
	} else {
		spans = e.pack(units, opts, overlap)
	}

	chunks := make([]models.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = e.assemble(in, sheets, i, s)
	}
	for i := range chunks {
		if i > 0 {
			chunks[i].Metadata.PrevChunkID = chunks[i-1].ID
		}
		if i < len(chunks)-1 {
			chunks[i].Metadata.NextChunkID = chunks[i+1].ID
		}
	}

	e.logger.Debug("Built chunks",
		logger.String("planId", in.PlanID),
		logger.Int("pages", len(in.Pages)),
		logger.Int("chunks", len(chunks)),
	)
	return chunks, nil
}

func (e *Engine) pack(units []unit, opts Options, overlap int) []span {
	var spans []span
	buf := &buffer{}

	closeBuffer := func() {
		text := buf.sb.String()
		spans = append(spans, span{text: text, pages: buf.pages})
		buf = &buffer{}
		if tail := overlapTail(text, overlap*4); tail != "" {
			buf.write(tail)
		}
	}

	for _, u := range units {
		if buf.own > 0 {
			overflow := tokensFor(buf.runes+u.runes) > opts.MaxTokens
			if overflow || buf.tokens() >= opts.TargetTokens {
				if overflow && buf.tokens() < opts.MinTokens {
					if head, rest, ok := fill(u, buf.runes, opts); ok {
						buf.add(head)
						u = rest
					}
				}
				closeBuffer()
			}
		}
		buf.add(u)
	}
	if buf.own > 0 {
		spans = append(spans, span{text: buf.sb.String(), pages: buf.pages})
	}
	return spans
}

// fill takes the leading part of u that fits the headroom of a buffer
// holding bufRunes, cut at a line break when that reaches the minimum,
// else at whitespace, else exactly at the limit.
func fill(u unit, bufRunes int, opts Options) (unit, unit, bool) {
	limit := opts.MaxTokens*4 - bufRunes
	if limit <= 0 || limit >= u.runes {
		return unit{}, unit{}, false
	}
	runes := []rune(u.text)
	minRunes := 4*(opts.MinTokens-1) + 1 - bufRunes

	cut := lastIndex(runes[:limit], func(r rune) bool { return r == '\n' })
	if cut < minRunes {
		if ws := lastIndex(runes[:limit], unicode.IsSpace); ws > cut {
			cut = ws
		}
	}
	if cut < minRunes || cut <= 0 {
		cut = limit
	}

	head := string(runes[:cut])
	rest := string(runes[cut:])
	return unit{page: u.page, text: head, runes: cut},
		unit{page: u.page, text: rest, runes: len(runes) - cut},
		true
}

// lastIndex returns the position just after the last rune matching f, or 0.
func lastIndex(runes []rune, f func(rune) bool) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if f(runes[i]) {
			return i + 1
		}
	}
	return 0
}

// overlapTail returns the last maxRunes of text advanced to the first line
// break, else the first sentence end, else the first whitespace. The result
// is always a suffix of text.
func overlapTail(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return ""
	}
	tail := string(runes[len(runes)-maxRunes:])

	if i := strings.IndexByte(tail, '\n'); i >= 0 && i < len(tail)-1 {
		return tail[i+1:]
	}
	for _, end := range []string{". ", "! ", "? "} {
		if i := strings.Index(tail, end); i >= 0 && i+len(end) < len(tail) {
			return tail[i+len(end):]
		}
	}
	if i := strings.IndexFunc(tail, unicode.IsSpace); i >= 0 {
		rest := strings.TrimLeftFunc(tail[i:], unicode.IsSpace)
		if rest != "" {
			return rest
		}
	}
	return tail
}

func sheetID(sheets map[int]models.SheetIndexEntry, page int) string {
	if s, ok := sheets[page]; ok && s.SheetID != "" {
		return s.SheetID
	}
	return fmt.Sprintf("PAGE-%d", page)
}

func pageHeader(page int, sheet string) string {
	return fmt.Sprintf("=== PAGE %d | SHEET %s ===\n", page, sheet)
}

func contHeader(page int, sheet string) string {
	return fmt.Sprintf("=== PAGE %d (cont.) | SHEET %s ===\n", page, sheet)
}

// splitPage renders a page with its header, splitting it at line boundaries
// when it exceeds limit tokens.
func splitPage(p models.PageText, sheet string, limit int) ([]unit, error) {
	body := strings.TrimSpace(p.Text)
	whole := pageHeader(p.PageNumber, sheet)
	if body != "" {
		whole += body + "\n"
	}
	n := utf8.RuneCountInString(whole)
	if tokensFor(n) <= limit {
		return []unit{{page: p.PageNumber, text: whole, runes: n}}, nil
	}

	cont := contHeader(p.PageNumber, sheet)
	contRunes := utf8.RuneCountInString(cont)
	lineBudget := limit*4 - contRunes
	if lineBudget <= 0 {
		return nil, fmt.Errorf("%w: max tokens too small for page headers", ErrInvalidOptions)
	}

	var lines []string
	for _, line := range strings.Split(body, "\n") {
		line += "\n"
		if utf8.RuneCountInString(line) <= lineBudget {
			lines = append(lines, line)
			continue
		}
		lines = append(lines, splitLine(line, lineBudget)...)
	}

	var units []unit
	cur := pageHeader(p.PageNumber, sheet)
	curRunes := utf8.RuneCountInString(cur)
	hasLines := false
	for _, line := range lines {
		lr := utf8.RuneCountInString(line)
		if curRunes+lr > limit*4 && hasLines {
			units = append(units, unit{page: p.PageNumber, text: cur, runes: curRunes})
			cur, curRunes = cont, contRunes
		}
		cur += line
		curRunes += lr
		hasLines = true
	}
	units = append(units, unit{page: p.PageNumber, text: cur, runes: curRunes})
	return units, nil
}

// splitLine breaks a line into segments of at most n runes at whitespace,
// splitting mid-word only when a word alone is longer than n.
func splitLine(line string, n int) []string {
	runes := []rune(line)
	var out []string
	for len(runes) > n {
		cut := lastIndex(runes[:n], unicode.IsSpace)
		if cut == 0 {
			cut = n
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

func joinUnits(units []unit) span {
	var b buffer
	for _, u := range units {
		b.add(u)
	}
	return span{text: b.sb.String(), pages: b.pages}
}

func chunkID(planID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("plan-takeoff:%s:chunk:%d", planID, index))).String()
}

func (e *Engine) assemble(in Input, sheets map[int]models.SheetIndexEntry, index int, s span) models.Chunk {
	pages := uniquePages(s.pages)

	covered := make([]models.SheetIndexEntry, 0, len(pages))
	imageURLs := []string{}
	for _, p := range pages {
		if entry, ok := sheets[p]; ok {
			covered = append(covered, entry)
		}
		imageURLs = append(imageURLs, in.ImageURLs[p]...)
	}

	return models.Chunk{
		ID:         chunkID(in.PlanID, index),
		PlanID:     in.PlanID,
		Index:      index,
		PageStart:  pages[0],
		PageEnd:    pages[len(pages)-1],
		Pages:      pages,
		Sheets:     covered,
		Text:       s.text,
		TokenCount: EstimateTokens(s.text),
		ImageURLs:  imageURLs,
		Metadata: models.ChunkMetadata{
			Project:            in.Project,
			DominantDiscipline: dominantDiscipline(covered),
			ScaleSummary:       scaleSummary(covered),
		},
		Safeguards: buildSafeguards(pages, s.text, covered),
	}
}

func uniquePages(pages []int) []int {
	out := make([]int, 0, len(pages))
	seen := make(map[int]bool, len(pages))
	for _, p := range pages {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
