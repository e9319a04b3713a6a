// File path: internal/watch/monitor.go
package watch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/assetlens/unitylog/internal/common"
	"github.com/assetlens/unitylog/internal/ingest"
	"github.com/assetlens/unitylog/internal/store"
)

const pollFallback = 2 * time.Second

// Monitor tails a live Unity Editor.log, appending new lines to the
// session's store and advancing last_processed_line. Unity truncates
// and rewrites Editor.log on restart, so a shrinking file resets the
// monitor to the top.
type Monitor struct {
	session  *store.Session
	pipeline *ingest.Pipeline
	path     string

	offset   int64
	lastLine int64
}

// New creates a Monitor over the session's log file. The monitor resumes
// from the session's last processed line offset when the file still
// matches.
func New(session *store.Session, pipeline *ingest.Pipeline) *Monitor {
	return &Monitor{
		session:  session,
		pipeline: pipeline,
		path:     session.Meta.LogFile,
		lastLine: session.Meta.LastProcessedLine,
	}
}

// Run watches the log until the context is cancelled. Filesystem events
// drive the reads; a slow poll covers editors that write without
// triggering notifications.
func (m *Monitor) Run(ctx context.Context) error {
	log := common.Logger()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	// Watch the directory, not the file: rotation replaces the inode.
	if err := fsw.Add(filepath.Dir(m.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(m.path), err)
	}

	if err := m.seekResume(); err != nil {
		return err
	}
	if err := m.drain(ctx); err != nil {
		log.Warn("monitor: initial drain", "error", err)
	}

	ticker := time.NewTicker(pollFallback)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
				continue
			}
			switch {
			case ev.Op&fsnotify.Write != 0, ev.Op&fsnotify.Create != 0:
				if err := m.drain(ctx); err != nil {
					log.Warn("monitor: drain", "error", err)
				}
			case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
				m.offset = 0
				m.lastLine = 0
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			log.Warn("monitor: watcher", "error", err)
		case <-ticker.C:
			if err := m.drain(ctx); err != nil {
				log.Warn("monitor: poll drain", "error", err)
			}
		}
	}
}

// seekResume positions the monitor at the byte offset matching the
// session's last processed line, falling back to a full re-read when the
// file no longer lines up.
func (m *Monitor) seekResume() error {
	if m.lastLine == 0 {
		return nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.offset, m.lastLine = 0, 0
			return nil
		}
		return fmt.Errorf("open %s: %w", m.path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var offset, line int64
	for line < m.lastLine {
		chunk, err := r.ReadSlice('\n')
		offset += int64(len(chunk))
		if err == io.EOF {
			break
		}
		if err != nil && err != bufio.ErrBufferFull {
			return fmt.Errorf("index %s: %w", m.path, err)
		}
		if err == nil {
			line++
		}
	}
	if line < m.lastLine {
		// File shorter than where we left off; it was rewritten.
		m.offset, m.lastLine = 0, 0
		return nil
	}
	m.offset = offset
	return nil
}

// drain reads every complete line appended since the last read, stores
// them, and advances the session's progress marker. A partial trailing
// line stays unread until its newline arrives.
func (m *Monitor) drain(ctx context.Context) error {
	f, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", m.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", m.path, err)
	}
	if info.Size() < m.offset {
		// Truncated and rewritten; start over.
		m.offset, m.lastLine = 0, 0
	}
	if info.Size() == m.offset {
		return nil
	}
	if _, err := f.Seek(m.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", m.path, err)
	}

	var (
		lines []store.LogLine
		read  int64
	)
	r := bufio.NewReader(f)
	for {
		raw, err := r.ReadString('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", m.path, err)
		}
		read += int64(len(raw))
		m.lastLine++
		content := raw[:len(raw)-1]
		if len(content) > 0 && content[len(content)-1] == '\r' {
			content = content[:len(content)-1]
		}
		lines = append(lines, store.ClassifyLine(m.lastLine, content))
	}
	if len(lines) == 0 {
		return nil
	}

	if err := m.pipeline.InsertBatch(ctx, ingest.KindLogLines, &ingest.EventSet{LogLines: lines}); err != nil {
		return fmt.Errorf("append lines: %w", err)
	}
	m.offset += read
	if err := m.session.UpdateProgress(ctx, m.lastLine, m.lastLine); err != nil {
		return fmt.Errorf("advance session: %w", err)
	}
	common.Logger().Debug("monitor: appended lines",
		"count", len(lines), "last_line", m.lastLine)
	return nil
}
