package pdf

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/feichai0017/plan-takeoff/internal/testutil"
	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

func TestExtractPages(t *testing.T) {
	data := testutil.BuildPDF([]testutil.Page{
		{Lines: []string{"SHEET A-101", "FIRST FLOOR PLAN"}},
		{Lines: []string{"S-201 FOUNDATION DETAILS"}, Rotate: 90},
	})

	e := NewExtractor(logger.NewTestLogger(), Options{Timeout: 10 * time.Second})
	pages, err := e.Extract(context.Background(), data)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(pages))
	}
	for i, p := range pages {
		if p.PageNumber != i+1 {
			t.Errorf("pages[%d].PageNumber = %d", i, p.PageNumber)
		}
	}
	if !strings.Contains(pages[0].Text, "FIRST FLOOR PLAN") {
		t.Errorf("page 1 text = %q", pages[0].Text)
	}
	if len(pages[0].Runs) == 0 {
		t.Error("expected positioned runs on page 1")
	}
	if pages[1].Rotation != 90 {
		t.Errorf("page 2 rotation = %d, want 90", pages[1].Rotation)
	}
}

func TestExtractRejectsGarbage(t *testing.T) {
	e := NewExtractor(logger.NewTestLogger(), Options{})
	if _, err := e.Extract(context.Background(), []byte("not a pdf")); err == nil {
		t.Fatal("expected error")
	}
}

func TestInfoCountsPages(t *testing.T) {
	e := NewExtractor(logger.NewTestLogger(), Options{})
	info, err := e.Info(testutil.TextPDF("one", "two", "three"))
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Pages != 3 {
		t.Errorf("Pages = %d, want 3", info.Pages)
	}
}
