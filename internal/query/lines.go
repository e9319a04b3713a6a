// File path: internal/query/lines.go
package query

import (
	"context"
	"fmt"

	"github.com/assetlens/unitylog/internal/common"
	"github.com/assetlens/unitylog/internal/store"
)

const (
	// contextRadius is the window each side of a requested center line.
	contextRadius = 50
	// widenedRadius is the second-chance window used when the primary
	// range comes back empty during a consistency window.
	widenedRadius = 200
	// tailWindow is the last-resort slice at the end of the session.
	tailWindow = 100

	// scanChunkLines bounds one step of an unbounded predicate scan.
	scanChunkLines = 10000
	// searchResultCap and filterResultCap bound total matches so a scan
	// over millions of lines stays responsive.
	searchResultCap = 500
	filterResultCap = 1000
)

// LineQuery selects one of the three line access shapes by which fields are
// set: CenterLine, Search/Filter, or Offset/Limit pagination.
type LineQuery struct {
	CenterLine int64
	Offset     int64
	Limit      int64
	Search     string
	Filter     string
}

// LineResult is the unified response shape for every line access pattern.
// Mode-specific fields are zero for the other modes.
type LineResult struct {
	Lines      []store.LogLine `json:"lines"`
	TotalLines int64           `json:"total_lines"`

	CenterLine    int64 `json:"center_line,omitempty"`
	RequestedLine int64 `json:"requested_line,omitempty"`
	RangeStart    int64 `json:"range_start,omitempty"`
	RangeEnd      int64 `json:"range_end,omitempty"`

	Offset  int64 `json:"offset,omitempty"`
	Limit   int64 `json:"limit,omitempty"`
	HasMore bool  `json:"has_more,omitempty"`

	IsSearch    bool   `json:"is_search,omitempty"`
	IsFiltered  bool   `json:"is_filtered,omitempty"`
	FilterType  string `json:"filter_type,omitempty"`
	ResultCount int    `json:"result_count,omitempty"`
}

// Lines is the single entry point for the line access engine, dispatching
// on the options supplied.
func (e *Engine) Lines(ctx context.Context, q LineQuery) (*LineResult, error) {
	switch {
	case q.Search != "":
		return e.scanLines(ctx, Predicate{Search: q.Search}, searchResultCap)
	case q.Filter != "":
		return e.scanLines(ctx, Predicate{Filter: q.Filter}, filterResultCap)
	case q.CenterLine > 0:
		return e.centerWindow(ctx, q.CenterLine)
	default:
		return e.page(ctx, q.Offset, q.Limit)
	}
}

// Line fetches a single line by number.
func (e *Engine) Line(ctx context.Context, n int64) (*store.LogLine, error) {
	lines, err := e.lines.Range(ctx, n, n)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, store.ErrNotFound
	}
	return &lines[0], nil
}

// centerWindow returns the context window around a requested line, clamped
// into [1, total]. An empty primary scan while lines exist is treated as a
// transient consistency window: the engine retries with backoff, then walks
// a fallback ladder, and reports best-effort results rather than failing.
func (e *Engine) centerWindow(ctx context.Context, requested int64) (*LineResult, error) {
	total, err := e.lines.TotalLines(ctx)
	if err != nil {
		return nil, err
	}
	center := requested
	if center > total {
		center = total
	}
	if center < 1 {
		center = 1
	}
	start := center - contextRadius
	if start < 1 {
		start = 1
	}
	end := center + contextRadius
	if end > total {
		end = total
	}

	var window []store.LogLine
	err = e.retry.do(ctx, func(ctx context.Context) (bool, error) {
		window, err = e.lines.Range(ctx, start, end)
		if err != nil {
			return false, err
		}
		return len(window) > 0 || total == 0, nil
	})
	if err != nil {
		return nil, err
	}
	if len(window) == 0 && total > 0 {
		window = e.centerFallback(ctx, start, end, total, &center, &start, &end)
	}
	return &LineResult{
		Lines:         window,
		TotalLines:    total,
		CenterLine:    center,
		RequestedLine: requested,
		RangeStart:    start,
		RangeEnd:      end,
	}, nil
}

// centerFallback is the degradation ladder for a window that should exist
// but is not yet visible: unindexed scan over the same bounds, wider
// bounds, then the session tail recentered at the last line.
func (e *Engine) centerFallback(ctx context.Context, start, end, total int64, center, rangeStart, rangeEnd *int64) []store.LogLine {
	logger := common.Logger()
	if lines, err := e.lines.RangeUnindexed(ctx, start, end); err == nil && len(lines) > 0 {
		logger.Debug("query: center window served by unindexed scan", "start", start, "end", end)
		return lines
	}
	wideStart := *center - widenedRadius
	if wideStart < 1 {
		wideStart = 1
	}
	wideEnd := *center + widenedRadius
	if wideEnd > total {
		wideEnd = total
	}
	if lines, err := e.lines.RangeUnindexed(ctx, wideStart, wideEnd); err == nil && len(lines) > 0 {
		logger.Debug("query: center window served by widened scan", "start", wideStart, "end", wideEnd)
		*rangeStart, *rangeEnd = wideStart, wideEnd
		return lines
	}
	tailStart := total - tailWindow + 1
	if tailStart < 1 {
		tailStart = 1
	}
	lines, err := e.lines.RangeUnindexed(ctx, tailStart, total)
	if err != nil {
		logger.Warn("query: center window fallback exhausted", "error", err)
		return []store.LogLine{}
	}
	logger.Debug("query: center window recentered at session tail", "start", tailStart, "end", total)
	*center = total
	*rangeStart, *rangeEnd = tailStart, total
	return lines
}

func (e *Engine) page(ctx context.Context, offset, limit int64) (*LineResult, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	total, err := e.lines.TotalLines(ctx)
	if err != nil {
		return nil, err
	}
	lines, err := e.lines.Page(ctx, offset, limit)
	if err != nil {
		return nil, err
	}
	return &LineResult{
		Lines:      lines,
		TotalLines: total,
		Offset:     offset,
		Limit:      limit,
		HasMore:    offset+limit < total,
	}, nil
}

// scanLines walks the line stream in fixed-size chunks, accumulating
// predicate matches until the source is exhausted or the result cap is
// reached. Work, not correctness, is what the cap bounds: when fewer than
// cap matches exist they are all returned.
func (e *Engine) scanLines(ctx context.Context, pred Predicate, resultCap int) (*LineResult, error) {
	total, err := e.lines.TotalLines(ctx)
	if err != nil {
		return nil, err
	}
	matches := []store.LogLine{}
	for chunkStart := int64(1); chunkStart <= total && len(matches) < resultCap; chunkStart += scanChunkLines {
		chunkEnd := chunkStart + scanChunkLines - 1
		if chunkEnd > total {
			chunkEnd = total
		}
		chunk, err := e.lines.ScanChunk(ctx, chunkStart, chunkEnd, pred, resultCap-len(matches))
		if err != nil {
			return nil, fmt.Errorf("scan lines %d-%d: %w", chunkStart, chunkEnd, err)
		}
		matches = append(matches, chunk...)
	}
	result := &LineResult{
		Lines:       matches,
		TotalLines:  total,
		ResultCount: len(matches),
	}
	if pred.Search != "" {
		result.IsSearch = true
	} else {
		result.IsFiltered = true
		result.FilterType = pred.Filter
	}
	return result, nil
}
