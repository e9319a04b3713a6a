// File path: internal/store/types.go
package store

import (
	"encoding/json"
	"strings"
	"time"
)

// SessionMetadata describes one parsed log and its derived store. Exactly
// one session is current at a time; a live session advances
// LastProcessedLine as the monitor tails the log.
type SessionMetadata struct {
	ID                string    `db:"id" json:"id"`
	LogFile           string    `db:"log_file" json:"log_file"`
	UnityVersion      string    `db:"unity_version" json:"unity_version"`
	Platform          string    `db:"platform" json:"platform"`
	Architecture      string    `db:"architecture" json:"architecture"`
	ProjectName       string    `db:"project_name" json:"project_name"`
	DateParsed        time.Time `db:"date_parsed" json:"date_parsed"`
	StartTimeMS       float64   `db:"start_time_ms" json:"start_time_ms"`
	EndTimeMS         float64   `db:"end_time_ms" json:"end_time_ms"`
	TotalLines        int64     `db:"total_lines" json:"total_lines"`
	LastProcessedLine int64     `db:"last_processed_line" json:"last_processed_line"`
	IsLive            bool      `db:"is_live" json:"is_live"`
	TotalParseTimeMS  float64   `db:"total_parse_time_ms" json:"total_parse_time_ms"`
}

// AssetImport is immutable once written. WorkerThreadID is null for imports
// done on the main thread.
type AssetImport struct {
	ID             int64   `db:"id" json:"id"`
	LineNumber     int64   `db:"line_number" json:"line_number"`
	AssetPath      string  `db:"asset_path" json:"asset_path"`
	AssetName      string  `db:"asset_name" json:"asset_name"`
	AssetType      string  `db:"asset_type" json:"asset_type"`
	AssetCategory  string  `db:"asset_category" json:"asset_category"`
	GUID           string  `db:"guid" json:"guid"`
	ArtifactID     string  `db:"artifact_id" json:"artifact_id"`
	ImporterType   string  `db:"importer_type" json:"importer_type"`
	ImportTimeMS   float64 `db:"import_time_ms" json:"import_time_ms"`
	DurationMS     float64 `db:"duration_ms" json:"duration_ms"`
	StartTimeMS    float64 `db:"start_time_ms" json:"start_time_ms"`
	EndTimeMS      float64 `db:"end_time_ms" json:"end_time_ms"`
	WorkerThreadID *int64  `db:"worker_thread_id" json:"worker_thread_id"`
}

// PipelineRefresh captures one asset pipeline refresh with its phase
// breakdown.
type PipelineRefresh struct {
	ID                 int64   `db:"id" json:"id"`
	RefreshID          string  `db:"refresh_id" json:"refresh_id"`
	LineNumber         int64   `db:"line_number" json:"line_number"`
	TotalTimeSeconds   float64 `db:"total_time_seconds" json:"total_time_seconds"`
	InitiatedBy        string  `db:"initiated_by" json:"initiated_by"`
	ImportsTotal       int64   `db:"imports_total" json:"imports_total"`
	ImportsActual      int64   `db:"imports_actual" json:"imports_actual"`
	AssetDBProcessMS   float64 `db:"asset_db_process_time_ms" json:"asset_db_process_time_ms"`
	AssetDBCallbackMS  float64 `db:"asset_db_callback_time_ms" json:"asset_db_callback_time_ms"`
	DomainReloads      int64   `db:"domain_reloads" json:"domain_reloads"`
	DomainReloadTimeMS float64 `db:"domain_reload_time_ms" json:"domain_reload_time_ms"`
	CompileTimeMS      float64 `db:"compile_time_ms" json:"compile_time_ms"`
	ScriptingOtherMS   float64 `db:"scripting_other_ms" json:"scripting_other_ms"`
	StartTimeMS        float64 `db:"start_time_ms" json:"start_time_ms"`
	EndTimeMS          float64 `db:"end_time_ms" json:"end_time_ms"`
}

// Operation is a standalone timed editor operation (sprite atlas packing,
// Tundra builds and similar).
type Operation struct {
	ID            int64   `db:"id" json:"id"`
	LineNumber    int64   `db:"line_number" json:"line_number"`
	OperationType string  `db:"operation_type" json:"operation_type"`
	OperationName string  `db:"operation_name" json:"operation_name"`
	DurationMS    float64 `db:"duration_ms" json:"duration_ms"`
	StartTimeMS   float64 `db:"start_time_ms" json:"start_time_ms"`
	EndTimeMS     float64 `db:"end_time_ms" json:"end_time_ms"`
	MemoryMB      int64   `db:"memory_mb" json:"memory_mb"`
}

// CacheServerBlock is a contiguous run of cache-server downloads.
// AssetPaths is stored as a JSON array in a single column.
type CacheServerBlock struct {
	ID            int64   `db:"id" json:"id"`
	LineNumber    int64   `db:"line_number" json:"line_number"`
	StartTimeMS   float64 `db:"start_time_ms" json:"start_time_ms"`
	EndTimeMS     float64 `db:"end_time_ms" json:"end_time_ms"`
	DurationMS    float64 `db:"duration_ms" json:"duration_ms"`
	NumRequested  int64   `db:"num_requested" json:"num_requested"`
	NumDownloaded int64   `db:"num_downloaded" json:"num_downloaded"`
	AssetPathsRaw string  `db:"asset_paths" json:"-"`

	AssetPaths []string `db:"-" json:"asset_paths"`
}

// EncodePaths serializes AssetPaths into AssetPathsRaw for persistence.
func (b *CacheServerBlock) EncodePaths() error {
	if b.AssetPaths == nil {
		b.AssetPathsRaw = "[]"
		return nil
	}
	data, err := json.Marshal(b.AssetPaths)
	if err != nil {
		return err
	}
	b.AssetPathsRaw = string(data)
	return nil
}

// DecodePaths populates AssetPaths from the stored JSON column.
func (b *CacheServerBlock) DecodePaths() error {
	if b.AssetPathsRaw == "" {
		b.AssetPaths = nil
		return nil
	}
	return json.Unmarshal([]byte(b.AssetPathsRaw), &b.AssetPaths)
}

// WorkerThreadPhase is one contiguous interval where the main thread waited
// on an import worker.
type WorkerThreadPhase struct {
	ID              int64   `db:"id" json:"id"`
	WorkerThreadID  int64   `db:"worker_thread_id" json:"worker_thread_id"`
	StartTimeMS     float64 `db:"start_time_ms" json:"start_time_ms"`
	EndTimeMS       float64 `db:"end_time_ms" json:"end_time_ms"`
	DurationMS      float64 `db:"duration_ms" json:"duration_ms"`
	ImportCount     int64   `db:"import_count" json:"import_count"`
	StartLineNumber int64   `db:"start_line_number" json:"start_line_number"`
}

// ClassifyLine derives the stored flags for one raw log line read outside
// the normal ingest path.
func ClassifyLine(n int64, content string) LogLine {
	lower := strings.ToLower(content)
	return LogLine{
		LineNumber:  n,
		Content:     content,
		IndentLevel: int64(len(content) - len(strings.TrimLeft(content, " \t"))),
		IsError:     strings.Contains(lower, "error"),
		IsWarning:   strings.Contains(lower, "warning"),
	}
}

// LogLine is one raw line of the log. LineNumber is 1-based and unique per
// session.
type LogLine struct {
	LineNumber  int64   `db:"line_number" json:"line_number"`
	Content     string  `db:"content" json:"content"`
	LineType    string  `db:"line_type" json:"line_type"`
	IndentLevel int64   `db:"indent_level" json:"indent_level"`
	IsError     bool    `db:"is_error" json:"is_error"`
	IsWarning   bool    `db:"is_warning" json:"is_warning"`
	Timestamp   *string `db:"timestamp" json:"timestamp"`
}
