// File path: internal/query/linesource.go
package query

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/assetlens/unitylog/internal/store"
)

// Predicate is an unbounded line filter evaluated during chunked scans.
// Search matches a substring of the content; Filter selects flagged lines
// ("error", "warning") or a line_type value.
type Predicate struct {
	Search string
	Filter string
}

func (p Predicate) empty() bool {
	return p.Search == "" && p.Filter == ""
}

// LineSource abstracts where raw log lines live. The store-backed source is
// authoritative; the file-backed source serves live sessions whose lines
// trail the parse.
type LineSource interface {
	// TotalLines reports the number of lines available.
	TotalLines(ctx context.Context) (int64, error)
	// Range returns lines with start <= line_number <= end in ascending
	// order, using the primary index.
	Range(ctx context.Context, start, end int64) ([]store.LogLine, error)
	// RangeUnindexed is the consistency-window fallback: same bounds,
	// forced full filter scan.
	RangeUnindexed(ctx context.Context, start, end int64) ([]store.LogLine, error)
	// Page returns lines in line-number order at offset/limit.
	Page(ctx context.Context, offset, limit int64) ([]store.LogLine, error)
	// ScanChunk evaluates the predicate over one bounded chunk of lines,
	// returning at most cap matches.
	ScanChunk(ctx context.Context, start, end int64, pred Predicate, max int) ([]store.LogLine, error)
}

// storeLineSource reads persisted log_lines rows.
type storeLineSource struct {
	st *store.Store
}

// NewStoreLineSource serves lines from the session database.
func NewStoreLineSource(st *store.Store) LineSource {
	return &storeLineSource{st: st}
}

const lineColumns = `line_number, content, line_type, indent_level, is_error, is_warning, timestamp`

func (s *storeLineSource) TotalLines(ctx context.Context) (int64, error) {
	var total int64
	if err := s.st.Get(ctx, &total, `SELECT COUNT(*) FROM log_lines`); err != nil {
		return 0, fmt.Errorf("count log lines: %w", err)
	}
	return total, nil
}

func (s *storeLineSource) Range(ctx context.Context, start, end int64) ([]store.LogLine, error) {
	lines := []store.LogLine{}
	err := s.st.Select(ctx, &lines, `SELECT `+lineColumns+` FROM log_lines
                WHERE line_number BETWEEN ? AND ? ORDER BY line_number`, start, end)
	if err != nil {
		return nil, fmt.Errorf("select line range: %w", err)
	}
	return lines, nil
}

func (s *storeLineSource) RangeUnindexed(ctx context.Context, start, end int64) ([]store.LogLine, error) {
	// The unary + defeats index selection, forcing a plain filter scan.
	lines := []store.LogLine{}
	err := s.st.Select(ctx, &lines, `SELECT `+lineColumns+` FROM log_lines
                WHERE +line_number BETWEEN ? AND ? ORDER BY line_number`, start, end)
	if err != nil {
		return nil, fmt.Errorf("scan line range: %w", err)
	}
	return lines, nil
}

func (s *storeLineSource) Page(ctx context.Context, offset, limit int64) ([]store.LogLine, error) {
	lines := []store.LogLine{}
	err := s.st.Select(ctx, &lines, `SELECT `+lineColumns+` FROM log_lines
                ORDER BY line_number LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("select line page: %w", err)
	}
	return lines, nil
}

func (s *storeLineSource) ScanChunk(ctx context.Context, start, end int64, pred Predicate, max int) ([]store.LogLine, error) {
	query := `SELECT ` + lineColumns + ` FROM log_lines WHERE line_number BETWEEN ? AND ?`
	args := []interface{}{start, end}
	switch {
	case pred.Search != "":
		query += ` AND content LIKE ?`
		args = append(args, "%"+pred.Search+"%")
	case pred.Filter == "error":
		query += ` AND is_error = 1`
	case pred.Filter == "warning":
		query += ` AND is_warning = 1`
	case pred.Filter != "":
		query += ` AND line_type = ?`
		args = append(args, pred.Filter)
	}
	query += ` ORDER BY line_number LIMIT ?`
	args = append(args, max)
	lines := []store.LogLine{}
	if err := s.st.Select(ctx, &lines, query, args...); err != nil {
		return nil, fmt.Errorf("scan line chunk: %w", err)
	}
	return lines, nil
}

// fileLineSource reads the original log file on demand through a byte
// offset index built on first use. Flag filters fall back to content
// heuristics because raw lines carry no parsed classification.
type fileLineSource struct {
	path string

	mu      sync.Mutex
	offsets []int64 // offsets[i] = byte offset of line i+1
}

// NewFileLineSource serves lines straight from the log file at path.
func NewFileLineSource(path string) LineSource {
	return &fileLineSource{path: path}
}

func (f *fileLineSource) index() ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offsets != nil {
		return f.offsets, nil
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	var offsets []int64
	var pos int64
	reader := bufio.NewReaderSize(file, 256*1024)
	atLineStart := true
	for {
		chunk, err := reader.ReadSlice('\n')
		if len(chunk) > 0 {
			if atLineStart {
				offsets = append(offsets, pos)
			}
			pos += int64(len(chunk))
			atLineStart = chunk[len(chunk)-1] == '\n'
		}
		if err == bufio.ErrBufferFull || err == nil {
			continue
		}
		break
	}
	f.offsets = offsets
	return f.offsets, nil
}

func (f *fileLineSource) TotalLines(ctx context.Context) (int64, error) {
	offsets, err := f.index()
	if err != nil {
		return 0, err
	}
	return int64(len(offsets)), nil
}

func (f *fileLineSource) readRange(start, end int64) ([]store.LogLine, error) {
	offsets, err := f.index()
	if err != nil {
		return nil, err
	}
	total := int64(len(offsets))
	if start < 1 {
		start = 1
	}
	if end > total {
		end = total
	}
	if start > end {
		return []store.LogLine{}, nil
	}
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()
	if _, err := file.Seek(offsets[start-1], 0); err != nil {
		return nil, fmt.Errorf("seek log file: %w", err)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	lines := make([]store.LogLine, 0, end-start+1)
	for n := start; n <= end && scanner.Scan(); n++ {
		lines = append(lines, store.ClassifyLine(n, scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return lines, nil
}

func (f *fileLineSource) Range(ctx context.Context, start, end int64) ([]store.LogLine, error) {
	return f.readRange(start, end)
}

func (f *fileLineSource) RangeUnindexed(ctx context.Context, start, end int64) ([]store.LogLine, error) {
	return f.readRange(start, end)
}

func (f *fileLineSource) Page(ctx context.Context, offset, limit int64) ([]store.LogLine, error) {
	return f.readRange(offset+1, offset+limit)
}

func (f *fileLineSource) ScanChunk(ctx context.Context, start, end int64, pred Predicate, max int) ([]store.LogLine, error) {
	lines, err := f.readRange(start, end)
	if err != nil {
		return nil, err
	}
	if pred.empty() {
		if len(lines) > max {
			lines = lines[:max]
		}
		return lines, nil
	}
	matched := []store.LogLine{}
	for _, line := range lines {
		if len(matched) >= max {
			break
		}
		if matchLine(line, pred) {
			matched = append(matched, line)
		}
	}
	return matched, nil
}

func matchLine(line store.LogLine, pred Predicate) bool {
	if pred.Search != "" {
		return strings.Contains(line.Content, pred.Search)
	}
	switch pred.Filter {
	case "error":
		return line.IsError
	case "warning":
		return line.IsWarning
	default:
		return line.LineType == pred.Filter
	}
}
