// File path: internal/query/lines_test.go
package query

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/assetlens/unitylog/internal/store"
)

func seedLines(t *testing.T, e *Engine, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		content := fmt.Sprintf("log line %d", i)
		lineType := ""
		isError, isWarning := false, false
		switch {
		case i%100 == 0:
			content = fmt.Sprintf("error CS%04d: something broke", i)
			isError = true
		case i%50 == 0:
			content = fmt.Sprintf("warning at line %d", i)
			isWarning = true
		case i%10 == 0:
			content = fmt.Sprintf("Start importing Assets/asset_%d.png", i)
			lineType = "import"
		}
		seedLine(t, e, store.LogLine{
			LineNumber: int64(i), Content: content, LineType: lineType,
			IsError: isError, IsWarning: isWarning,
		})
	}
}

func TestCenterWindowAroundMidLine(t *testing.T) {
	e := newTestEngine(t)
	seedLines(t, e, 1000)

	res, err := e.Lines(context.Background(), LineQuery{CenterLine: 500})
	if err != nil {
		t.Fatalf("lines: %v", err)
	}
	if res.RangeStart != 450 || res.RangeEnd != 550 {
		t.Fatalf("range = [%d, %d], want [450, 550]", res.RangeStart, res.RangeEnd)
	}
	if len(res.Lines) != 101 {
		t.Fatalf("expected 101 lines, got %d", len(res.Lines))
	}
	if res.CenterLine != 500 || res.RequestedLine != 500 {
		t.Fatalf("center/requested = %d/%d", res.CenterLine, res.RequestedLine)
	}
}

func TestCenterWindowClampsBeyondEnd(t *testing.T) {
	e := newTestEngine(t)
	seedLines(t, e, 1000)

	res, err := e.Lines(context.Background(), LineQuery{CenterLine: 2000})
	if err != nil {
		t.Fatalf("lines: %v", err)
	}
	if res.CenterLine != 1000 {
		t.Fatalf("center = %d, want clamp to 1000", res.CenterLine)
	}
	if res.RequestedLine != 2000 {
		t.Fatalf("requested = %d, want 2000 preserved", res.RequestedLine)
	}
	if res.RangeStart != 950 || res.RangeEnd != 1000 {
		t.Fatalf("range = [%d, %d], want [950, 1000]", res.RangeStart, res.RangeEnd)
	}
	if len(res.Lines) != 51 {
		t.Fatalf("expected 51 lines, got %d", len(res.Lines))
	}
}

func TestCenterWindowClampsAtStart(t *testing.T) {
	e := newTestEngine(t)
	seedLines(t, e, 1000)

	res, err := e.Lines(context.Background(), LineQuery{CenterLine: 5})
	if err != nil {
		t.Fatalf("lines: %v", err)
	}
	if res.RangeStart != 1 || res.RangeEnd != 55 {
		t.Fatalf("range = [%d, %d], want [1, 55]", res.RangeStart, res.RangeEnd)
	}
}

func TestPaginationHasMore(t *testing.T) {
	e := newTestEngine(t)
	seedLines(t, e, 250)
	ctx := context.Background()

	first, err := e.Lines(ctx, LineQuery{Offset: 0, Limit: 100})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Lines) != 100 || !first.HasMore {
		t.Fatalf("first page lines=%d has_more=%v", len(first.Lines), first.HasMore)
	}
	if first.Lines[0].LineNumber != 1 {
		t.Fatalf("first page starts at %d", first.Lines[0].LineNumber)
	}

	last, err := e.Lines(ctx, LineQuery{Offset: 200, Limit: 100})
	if err != nil {
		t.Fatalf("last page: %v", err)
	}
	if len(last.Lines) != 50 || last.HasMore {
		t.Fatalf("last page lines=%d has_more=%v", len(last.Lines), last.HasMore)
	}
	if last.TotalLines != 250 {
		t.Fatalf("total = %d, want 250", last.TotalLines)
	}
}

func TestSearchRespectsCap(t *testing.T) {
	e := newTestEngine(t)
	seedLines(t, e, 1000)

	res, err := e.Lines(context.Background(), LineQuery{Search: "log line"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !res.IsSearch {
		t.Fatal("expected search result flag")
	}
	if res.ResultCount != searchResultCap {
		t.Fatalf("result count = %d, want cap %d", res.ResultCount, searchResultCap)
	}
}

func TestSearchReturnsAllWhenUnderCap(t *testing.T) {
	e := newTestEngine(t)
	seedLines(t, e, 1000)

	res, err := e.Lines(context.Background(), LineQuery{Search: "something broke"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.ResultCount != 10 {
		t.Fatalf("result count = %d, want 10", res.ResultCount)
	}
}

func TestFilterByFlagAndType(t *testing.T) {
	e := newTestEngine(t)
	seedLines(t, e, 1000)
	ctx := context.Background()

	errs, err := e.Lines(ctx, LineQuery{Filter: "error"})
	if err != nil {
		t.Fatalf("filter errors: %v", err)
	}
	if !errs.IsFiltered || errs.FilterType != "error" {
		t.Fatalf("unexpected filter flags: %+v", errs)
	}
	if errs.ResultCount != 10 {
		t.Fatalf("error count = %d, want 10", errs.ResultCount)
	}

	imports, err := e.Lines(ctx, LineQuery{Filter: "import"})
	if err != nil {
		t.Fatalf("filter imports: %v", err)
	}
	// Every tenth line except the flagged ones.
	if imports.ResultCount != 80 {
		t.Fatalf("import count = %d, want 80", imports.ResultCount)
	}
}

func TestSingleLineLookup(t *testing.T) {
	e := newTestEngine(t)
	seedLines(t, e, 100)
	ctx := context.Background()

	line, err := e.Line(ctx, 42)
	if err != nil {
		t.Fatalf("line: %v", err)
	}
	if line.LineNumber != 42 || line.Content != "log line 42" {
		t.Fatalf("unexpected line: %+v", line)
	}

	if _, err := e.Line(ctx, 500); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileLineSourceWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Editor.log")
	var sb strings.Builder
	for i := 1; i <= 300; i++ {
		fmt.Fprintf(&sb, "file line %d\n", i)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	e := newTestEngine(t)
	src := NewFileLineSource(path)
	eng := New(e.Session(), WithLineSource(src))

	res, err := eng.Lines(context.Background(), LineQuery{CenterLine: 150})
	if err != nil {
		t.Fatalf("lines: %v", err)
	}
	if res.TotalLines != 300 {
		t.Fatalf("total = %d, want 300", res.TotalLines)
	}
	if res.RangeStart != 100 || res.RangeEnd != 200 {
		t.Fatalf("range = [%d, %d], want [100, 200]", res.RangeStart, res.RangeEnd)
	}
	if res.Lines[0].Content != "file line 100" {
		t.Fatalf("unexpected first line: %q", res.Lines[0].Content)
	}
}
