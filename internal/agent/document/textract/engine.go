package textract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/plan-takeoff/config"
	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

var ErrNoImageData = errors.New("page image has no bytes")

// API is the subset of the Textract client the engine calls.
type API interface {
	AnalyzeDocument(ctx context.Context, params *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

type Engine struct {
	client        API
	minConfidence float32
	logger        logger.Logger
}

func NewEngine(ctx context.Context, cfg *config.TextractConfig, log logger.Logger) (*Engine, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return New(client, float32(cfg.MinConfidence), log), nil
}

func New(client API, minConfidence float32, log logger.Logger) *Engine {
	return &Engine{
		client:        client,
		minConfidence: minConfidence,
		logger:        log.Named("textract"),
	}
}

func (e *Engine) Name() string { return "textract" }

// Recognize returns the confident lines of the page followed by any tables,
// one row per line with cells separated by " | ".
func (e *Engine) Recognize(ctx context.Context, img models.PageImage) (string, error) {
	if len(img.Data) == 0 {
		return "", ErrNoImageData
	}

	out, err := e.client.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document:     &types.Document{Bytes: img.Data},
		FeatureTypes: []types.FeatureType{types.FeatureTypeTables},
	})
	if err != nil {
		return "", fmt.Errorf("failed to analyze document: %w", err)
	}

	lines := e.lines(out.Blocks)
	tables := renderTables(out.Blocks)

	e.logger.Debug("Analyzed page",
		logger.Int("page", img.PageNumber),
		logger.Int("lines", len(lines)),
		logger.Int("tables", len(tables)),
	)

	parts := append(lines, tables...)
	return strings.Join(parts, "\n"), nil
}

func (e *Engine) lines(blocks []types.Block) []string {
	var texts []string
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		if block.Confidence != nil && *block.Confidence < e.minConfidence {
			continue
		}
		texts = append(texts, *block.Text)
	}
	return texts
}

// renderTables resolves TABLE -> CELL -> WORD relationships.
func renderTables(blocks []types.Block) []string {
	byID := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if b.Id != nil {
			byID[*b.Id] = b
		}
	}

	var tables []string
	for _, table := range blocks {
		if table.BlockType != types.BlockTypeTable {
			continue
		}
		cells := map[[2]int]string{}
		rows, cols := 0, 0
		for _, cellID := range childIDs(table) {
			cell, ok := byID[cellID]
			if !ok || cell.BlockType != types.BlockTypeCell || cell.RowIndex == nil || cell.ColumnIndex == nil {
				continue
			}
			r, c := int(*cell.RowIndex), int(*cell.ColumnIndex)
			if r > rows {
				rows = r
			}
			if c > cols {
				cols = c
			}
			var words []string
			for _, wordID := range childIDs(cell) {
				if w, ok := byID[wordID]; ok && w.Text != nil {
					words = append(words, *w.Text)
				}
			}
			cells[[2]int{r, c}] = strings.Join(words, " ")
		}
		if rows == 0 {
			continue
		}

		keys := make([][2]int, 0, len(cells))
		for k := range cells {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			if keys[i][0] != keys[j][0] {
				return keys[i][0] < keys[j][0]
			}
			return keys[i][1] < keys[j][1]
		})

		var sb strings.Builder
		for r := 1; r <= rows; r++ {
			row := make([]string, cols)
			for c := 1; c <= cols; c++ {
				row[c-1] = cells[[2]int{r, c}]
			}
			if r > 1 {
				sb.WriteString("\n")
			}
			sb.WriteString(strings.Join(row, " | "))
		}
		tables = append(tables, sb.String())
	}
	return tables
}

func childIDs(b types.Block) []string {
	var ids []string
	for _, rel := range b.Relationships {
		if rel.Type == types.RelationshipTypeChild {
			ids = append(ids, rel.Ids...)
		}
	}
	return ids
}
