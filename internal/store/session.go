// File path: internal/store/session.go
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/assetlens/unitylog/internal/common"
)

const currentMarker = "current"

// Session is an explicit handle to one parsed log and its database. Every
// query and ingest call takes a Session rather than consulting global
// state.
type Session struct {
	Meta  SessionMetadata
	Store *Store
}

// Manager owns the data directory holding session databases. Exactly one
// session is current at a time.
type Manager struct {
	cfg Config
}

// NewManager creates a Manager rooted at cfg.DataDir.
func NewManager(cfg Config) (*Manager, error) {
	cfg.applyDefaults()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Manager{cfg: cfg}, nil
}

// Create provisions a fresh session database, deletes every stale session
// store first to bound disk usage, and records meta as the session row.
// Stale stores that are already gone or briefly locked are skipped without
// error.
func (m *Manager) Create(ctx context.Context, meta SessionMetadata) (*Session, error) {
	if strings.TrimSpace(meta.ID) == "" {
		meta.ID = uuid.NewString()
	}
	if meta.DateParsed.IsZero() {
		meta.DateParsed = time.Now().UTC()
	}
	m.deleteStale(meta.ID)

	st, err := Open(m.sessionPath(meta.ID), m.cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Exec(ctx, `INSERT INTO session_metadata
                (id, log_file, unity_version, platform, architecture, project_name,
                 date_parsed, start_time_ms, end_time_ms, total_lines,
                 last_processed_line, is_live, total_parse_time_ms)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.LogFile, meta.UnityVersion, meta.Platform, meta.Architecture,
		meta.ProjectName, meta.DateParsed, meta.StartTimeMS, meta.EndTimeMS,
		meta.TotalLines, meta.LastProcessedLine, meta.IsLive, meta.TotalParseTimeMS,
	); err != nil {
		st.Close()
		return nil, fmt.Errorf("record session metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.cfg.DataDir, currentMarker), []byte(meta.ID), 0o644); err != nil {
		st.Close()
		return nil, fmt.Errorf("write current marker: %w", err)
	}
	common.Logger().Info("store: session created", "session", meta.ID, "log_file", meta.LogFile)
	return &Session{Meta: meta, Store: st}, nil
}

// OpenCurrent opens the session the current marker points at.
func (m *Manager) OpenCurrent(ctx context.Context) (*Session, error) {
	data, err := os.ReadFile(filepath.Join(m.cfg.DataDir, currentMarker))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read current marker: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return nil, ErrNotFound
	}
	return m.OpenByID(ctx, id)
}

// OpenByID opens a session database by identifier.
func (m *Manager) OpenByID(ctx context.Context, id string) (*Session, error) {
	path := m.sessionPath(id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat session database: %w", err)
	}
	st, err := Open(path, m.cfg)
	if err != nil {
		return nil, err
	}
	var meta SessionMetadata
	if err := st.Get(ctx, &meta, `SELECT * FROM session_metadata WHERE id = ?`, id); err != nil {
		st.Close()
		return nil, err
	}
	return &Session{Meta: meta, Store: st}, nil
}

// List returns metadata for every session database on disk, newest first.
func (m *Manager) List(ctx context.Context) ([]SessionMetadata, error) {
	matches, err := filepath.Glob(filepath.Join(m.cfg.DataDir, "session-*.db"))
	if err != nil {
		return nil, fmt.Errorf("scan data dir: %w", err)
	}
	out := make([]SessionMetadata, 0, len(matches))
	for _, path := range matches {
		st, err := Open(path, m.cfg)
		if err != nil {
			continue
		}
		var meta SessionMetadata
		err = st.Get(ctx, &meta, `SELECT * FROM session_metadata ORDER BY date_parsed DESC LIMIT 1`)
		st.Close()
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DateParsed.After(out[j].DateParsed)
	})
	return out, nil
}

// UpdateProgress advances the live-monitoring cursor for a session.
func (s *Session) UpdateProgress(ctx context.Context, lastProcessedLine, totalLines int64) error {
	err := s.Store.Exec(ctx, `UPDATE session_metadata
                SET last_processed_line = ?, total_lines = ?
                WHERE id = ?`, lastProcessedLine, totalLines, s.Meta.ID)
	if err != nil {
		return fmt.Errorf("update session progress: %w", err)
	}
	s.Meta.LastProcessedLine = lastProcessedLine
	s.Meta.TotalLines = totalLines
	return nil
}

// Finalize records completion of parsing for the session.
func (s *Session) Finalize(ctx context.Context, totalLines int64, parseTime time.Duration) error {
	err := s.Store.Exec(ctx, `UPDATE session_metadata
                SET total_lines = ?, last_processed_line = ?, is_live = 0, total_parse_time_ms = ?
                WHERE id = ?`, totalLines, totalLines, float64(parseTime)/float64(time.Millisecond), s.Meta.ID)
	if err != nil {
		return fmt.Errorf("finalize session: %w", err)
	}
	s.Meta.TotalLines = totalLines
	s.Meta.LastProcessedLine = totalLines
	s.Meta.IsLive = false
	s.Meta.TotalParseTimeMS = float64(parseTime) / float64(time.Millisecond)
	return nil
}

// Close releases the session's store handle.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	return s.Store.Close()
}

func (m *Manager) sessionPath(id string) string {
	return filepath.Join(m.cfg.DataDir, "session-"+id+".db")
}

// deleteStale removes every session database other than keep. Removal is
// opportunistic: a file already gone or still locked by a closing handle is
// left for the next cycle.
func (m *Manager) deleteStale(keep string) {
	matches, err := filepath.Glob(filepath.Join(m.cfg.DataDir, "session-*.db*"))
	if err != nil {
		return
	}
	logger := common.Logger()
	for _, path := range matches {
		if strings.Contains(path, keep) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("store: stale session not removed", "path", path, "error", err)
		}
	}
}
