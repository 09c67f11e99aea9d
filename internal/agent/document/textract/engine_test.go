package textract

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/plan-takeoff/internal/models"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

type fakeAPI struct {
	out   *textract.AnalyzeDocumentOutput
	calls int
}

func (f *fakeAPI) AnalyzeDocument(ctx context.Context, params *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error) {
	f.calls++
	return f.out, nil
}

func line(text string, conf float32) types.Block {
	return types.Block{BlockType: types.BlockTypeLine, Text: aws.String(text), Confidence: aws.Float32(conf)}
}

func word(id, text string) types.Block {
	return types.Block{BlockType: types.BlockTypeWord, Id: aws.String(id), Text: aws.String(text)}
}

func cell(id string, row, col int32, words ...string) types.Block {
	return types.Block{
		BlockType:   types.BlockTypeCell,
		Id:          aws.String(id),
		RowIndex:    aws.Int32(row),
		ColumnIndex: aws.Int32(col),
		Relationships: []types.Relationship{
			{Type: types.RelationshipTypeChild, Ids: words},
		},
	}
}

func TestRecognizeFiltersLowConfidenceLines(t *testing.T) {
	api := &fakeAPI{out: &textract.AnalyzeDocumentOutput{Blocks: []types.Block{
		line("FLOOR PLAN", 99),
		line("smudge", 20),
		line("SCALE: 1/4\" = 1'-0\"", 91),
	}}}
	e := New(api, 80, logger.NewTestLogger())

	got, err := e.Recognize(context.Background(), models.PageImage{PageNumber: 1, Data: []byte{1}})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	want := "FLOOR PLAN\nSCALE: 1/4\" = 1'-0\""
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRecognizeRendersTables(t *testing.T) {
	blocks := []types.Block{
		{
			BlockType: types.BlockTypeTable,
			Id:        aws.String("t1"),
			Relationships: []types.Relationship{
				{Type: types.RelationshipTypeChild, Ids: []string{"c11", "c12", "c21", "c22"}},
			},
		},
		cell("c11", 1, 1, "w1"),
		cell("c12", 1, 2, "w2"),
		cell("c21", 2, 1, "w3"),
		cell("c22", 2, 2, "w4", "w5"),
		word("w1", "MARK"),
		word("w2", "SIZE"),
		word("w3", "D1"),
		word("w4", "3'-0\""),
		word("w5", "x7'-0\""),
	}
	e := New(&fakeAPI{out: &textract.AnalyzeDocumentOutput{Blocks: blocks}}, 80, logger.NewTestLogger())

	got, err := e.Recognize(context.Background(), models.PageImage{PageNumber: 2, Data: []byte{1}})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	want := "MARK | SIZE\nD1 | 3'-0\" x7'-0\""
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRecognizeWithoutBytes(t *testing.T) {
	api := &fakeAPI{}
	e := New(api, 80, logger.NewTestLogger())
	if _, err := e.Recognize(context.Background(), models.PageImage{URL: "https://x/p.png"}); err != ErrNoImageData {
		t.Fatalf("expected ErrNoImageData, got %v", err)
	}
	if api.calls != 0 {
		t.Errorf("expected no API calls, got %d", api.calls)
	}
}
