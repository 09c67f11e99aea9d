package validator

import (
	"errors"
	"testing"

	"github.com/feichai0017/plan-takeoff/internal/testutil"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

func TestValidateAcceptsPDF(t *testing.T) {
	v := NewPlanValidator(logger.NewTestLogger(), nil)
	result, err := v.Validate(testutil.TextPDF("A-101 FLOOR PLAN", "A-201 ELEVATIONS"))
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if result.FileInfo.MimeType != "application/pdf" || len(result.FileInfo.Hash) != 64 {
		t.Errorf("unexpected file info %+v", result.FileInfo)
	}
	if result.FileInfo.PageCount != 2 {
		t.Errorf("PageCount = %d, warnings %v", result.FileInfo.PageCount, result.Warnings)
	}
}

func TestValidateRejects(t *testing.T) {
	v := NewPlanValidator(logger.NewTestLogger(), &ValidatorConfig{MaxFileSize: 1024})
	big := append([]byte("%PDF-1.4\n"), make([]byte, 2048)...)

	cases := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrEmptyFile},
		{"html", []byte("<html><body>not a plan</body></html>"), ErrNotPDF},
		{"too large", big, ErrFileTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Validate(tc.data); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateWarnsOnBrokenStructure(t *testing.T) {
	log := logger.NewTestLogger()
	v := NewPlanValidator(log, nil)
	result, err := v.Validate([]byte("%PDF-1.7\nthis is not really a pdf body"))
	if err != nil {
		t.Fatalf("expected a warning, not an error: %v", err)
	}
	if result.FileInfo.PageCount != 0 || len(result.Warnings) != 1 {
		t.Errorf("unexpected result %+v", result)
	}
	if len(log.EntriesAt("WARN")) != 1 {
		t.Errorf("expected one warn log line")
	}
}
