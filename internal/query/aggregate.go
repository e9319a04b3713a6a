// File path: internal/query/aggregate.go
package query

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/assetlens/unitylog/internal/store"
)

const importColumns = `id, line_number, asset_path, asset_name, asset_type,
        asset_category, guid, artifact_id, importer_type, import_time_ms,
        duration_ms, start_time_ms, end_time_ms, worker_thread_id`

// GroupStat is one row of a grouped aggregation.
type GroupStat struct {
	Key         string  `db:"key" json:"key"`
	Count       int64   `db:"count" json:"count"`
	TotalTimeMS float64 `db:"total_time_ms" json:"total_time_ms"`
	AvgTimeMS   float64 `db:"avg_time_ms" json:"avg_time_ms"`
}

// ImportStats summarizes all asset imports of a session.
type ImportStats struct {
	Count       int64   `db:"count" json:"count"`
	TotalTimeMS float64 `db:"total_time_ms" json:"total_time_ms"`
	AvgTimeMS   float64 `db:"avg_time_ms" json:"avg_time_ms"`
	MaxTimeMS   float64 `db:"max_time_ms" json:"max_time_ms"`
}

// RefreshStats summarizes the pipeline refreshes of a session.
type RefreshStats struct {
	Count            int64   `db:"count" json:"count"`
	TotalTimeSeconds float64 `db:"total_time_seconds" json:"total_time_seconds"`
}

// Summary is the session-level breakdown served to reporting consumers.
type Summary struct {
	AssetImports           ImportStats  `json:"asset_imports"`
	ByCategory             []GroupStat  `json:"by_category"`
	ByType                 []GroupStat  `json:"by_type"`
	ByImporter             []GroupStat  `json:"by_importer"`
	PipelineRefreshes      RefreshStats `json:"pipeline_refreshes"`
	ErrorCount             int64        `json:"errors"`
	WarningCount           int64        `json:"warnings"`
	ProjectLoadTimeSeconds *float64     `json:"project_load_time_seconds"`
	UnityVersion           string       `json:"unity_version"`
}

// FolderAsset is one of the slowest assets inside a folder group.
type FolderAsset struct {
	Path   string  `json:"path"`
	TimeMS float64 `json:"time_ms"`
}

// FolderGroup aggregates import cost under one folder prefix.
type FolderGroup struct {
	Folder      string        `json:"folder"`
	TotalTimeMS float64       `json:"total_time_ms"`
	AssetCount  int64         `json:"asset_count"`
	AvgTimeMS   float64       `json:"avg_time_ms"`
	Assets      []FolderAsset `json:"assets"`
}

// TopSlowest returns the limit slowest imports, descending by duration.
// The reverse range scan over the duration index makes this O(limit).
func (e *Engine) TopSlowest(ctx context.Context, limit int) ([]store.AssetImport, error) {
	if limit <= 0 {
		limit = 20
	}
	imports := []store.AssetImport{}
	err := e.session.Store.Select(ctx, &imports, `SELECT `+importColumns+`
                FROM asset_imports ORDER BY duration_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select top slowest imports: %w", err)
	}
	return imports, nil
}

// ByCategory returns imports of one category, slowest first.
func (e *Engine) ByCategory(ctx context.Context, category string) ([]store.AssetImport, error) {
	return e.importsWhere(ctx, "asset_category", category, 0)
}

// ByType returns imports of one asset type, slowest first. limit <= 0
// returns all of them.
func (e *Engine) ByType(ctx context.Context, assetType string, limit int) ([]store.AssetImport, error) {
	return e.importsWhere(ctx, "asset_type", assetType, limit)
}

// ByImporter returns imports handled by one importer, slowest first.
func (e *Engine) ByImporter(ctx context.Context, importer string) ([]store.AssetImport, error) {
	return e.importsWhere(ctx, "importer_type", importer, 0)
}

func (e *Engine) importsWhere(ctx context.Context, column, value string, limit int) ([]store.AssetImport, error) {
	query := `SELECT ` + importColumns + ` FROM asset_imports WHERE ` + column + ` = ? ORDER BY duration_ms DESC`
	args := []interface{}{value}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	imports := []store.AssetImport{}
	if err := e.session.Store.Select(ctx, &imports, query, args...); err != nil {
		return nil, fmt.Errorf("select imports by %s: %w", column, err)
	}
	return imports, nil
}

// folderSlowestAssets caps the per-folder slowest-asset list.
const folderSlowestAssets = 5

// ByFolder groups imports by their leading path segments (up to four deep)
// and reports per-folder totals with the slowest assets, heaviest folder
// first.
func (e *Engine) ByFolder(ctx context.Context) ([]FolderGroup, error) {
	rows := []struct {
		Path       string  `db:"asset_path"`
		DurationMS float64 `db:"duration_ms"`
	}{}
	err := e.session.Store.Select(ctx, &rows, `SELECT asset_path, duration_ms FROM asset_imports`)
	if err != nil {
		return nil, fmt.Errorf("select imports for folder analysis: %w", err)
	}
	groups := map[string]*FolderGroup{}
	for _, row := range rows {
		key := folderKey(row.Path)
		group, ok := groups[key]
		if !ok {
			group = &FolderGroup{Folder: key}
			groups[key] = group
		}
		group.TotalTimeMS += row.DurationMS
		group.AssetCount++
		group.Assets = insertSlowest(group.Assets, FolderAsset{Path: row.Path, TimeMS: row.DurationMS})
	}
	out := make([]FolderGroup, 0, len(groups))
	for _, group := range groups {
		if group.AssetCount > 0 {
			group.AvgTimeMS = group.TotalTimeMS / float64(group.AssetCount)
		}
		out = append(out, *group)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TotalTimeMS > out[j].TotalTimeMS
	})
	return out, nil
}

// folderKey groups assets three to four path segments deep, or as deep
// as the path allows. Short paths keep the filename in the key.
func folderKey(path string) string {
	parts := strings.Split(path, "/")
	switch {
	case len(parts) >= 4:
		return strings.Join(parts[:4], "/")
	case len(parts) >= 3:
		return strings.Join(parts[:3], "/")
	case len(parts) >= 2:
		return strings.Join(parts[:2], "/")
	}
	if parts[0] == "" {
		return "Root"
	}
	return parts[0]
}

// insertSlowest keeps assets sorted descending, capped at
// folderSlowestAssets.
func insertSlowest(assets []FolderAsset, candidate FolderAsset) []FolderAsset {
	pos := len(assets)
	for i, a := range assets {
		if candidate.TimeMS > a.TimeMS {
			pos = i
			break
		}
	}
	if pos >= folderSlowestAssets {
		return assets
	}
	assets = append(assets, FolderAsset{})
	copy(assets[pos+1:], assets[pos:])
	assets[pos] = candidate
	if len(assets) > folderSlowestAssets {
		assets = assets[:folderSlowestAssets]
	}
	return assets
}

// Summary builds the category/type/importer breakdowns plus counts and
// totals for the session.
func (e *Engine) Summary(ctx context.Context) (*Summary, error) {
	st := e.session.Store
	summary := &Summary{UnityVersion: e.session.Meta.UnityVersion}

	err := st.Get(ctx, &summary.AssetImports, `SELECT
                COUNT(*) AS count,
                COALESCE(SUM(duration_ms), 0) AS total_time_ms,
                COALESCE(AVG(duration_ms), 0) AS avg_time_ms,
                COALESCE(MAX(duration_ms), 0) AS max_time_ms
                FROM asset_imports`)
	if err != nil {
		return nil, fmt.Errorf("summarize imports: %w", err)
	}
	if summary.ByCategory, err = e.groupBy(ctx, "asset_category"); err != nil {
		return nil, err
	}
	if summary.ByType, err = e.groupBy(ctx, "asset_type"); err != nil {
		return nil, err
	}
	if summary.ByImporter, err = e.groupBy(ctx, "importer_type"); err != nil {
		return nil, err
	}
	err = st.Get(ctx, &summary.PipelineRefreshes, `SELECT
                COUNT(*) AS count,
                COALESCE(SUM(total_time_seconds), 0) AS total_time_seconds
                FROM pipeline_refreshes`)
	if err != nil {
		return nil, fmt.Errorf("summarize refreshes: %w", err)
	}
	counts := struct {
		Errors   int64 `db:"errors"`
		Warnings int64 `db:"warnings"`
	}{}
	err = st.Get(ctx, &counts, `SELECT
                COALESCE(SUM(CASE WHEN is_error THEN 1 ELSE 0 END), 0) AS errors,
                COALESCE(SUM(CASE WHEN is_warning THEN 1 ELSE 0 END), 0) AS warnings
                FROM log_lines`)
	if err != nil {
		return nil, fmt.Errorf("count flagged lines: %w", err)
	}
	summary.ErrorCount = counts.Errors
	summary.WarningCount = counts.Warnings

	loadTime, err := e.projectLoadTime(ctx, summary.AssetImports.Count)
	if err != nil {
		return nil, err
	}
	summary.ProjectLoadTimeSeconds = loadTime
	return summary, nil
}

var projectLoadPattern = regexp.MustCompile(`(?i)\[Project\].*Loading completed in ([\d.]+) seconds`)

// projectLoadTime looks for the editor's "[Project] Loading completed in
// X seconds" message, latest occurrence first. When the log never printed
// one, the summed import durations stand in.
func (e *Engine) projectLoadTime(ctx context.Context, importCount int64) (*float64, error) {
	st := e.session.Store
	candidates := []string{}
	err := st.Select(ctx, &candidates, `SELECT content FROM log_lines
                WHERE content LIKE '%Loading completed in%'
                ORDER BY line_number DESC LIMIT 100`)
	if err != nil {
		return nil, fmt.Errorf("scan for load completion message: %w", err)
	}
	for _, content := range candidates {
		match := projectLoadPattern.FindStringSubmatch(content)
		if match == nil {
			continue
		}
		seconds, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		return &seconds, nil
	}
	if importCount == 0 {
		return nil, nil
	}
	var totalMS float64
	err = st.Get(ctx, &totalMS, `SELECT COALESCE(SUM(duration_ms), 0) FROM asset_imports`)
	if err != nil {
		return nil, fmt.Errorf("sum import durations: %w", err)
	}
	seconds := totalMS / 1000
	return &seconds, nil
}

func (e *Engine) groupBy(ctx context.Context, column string) ([]GroupStat, error) {
	groups := []GroupStat{}
	err := e.session.Store.Select(ctx, &groups, `SELECT `+column+` AS key,
                COUNT(*) AS count,
                COALESCE(SUM(duration_ms), 0) AS total_time_ms,
                COALESCE(AVG(duration_ms), 0) AS avg_time_ms
                FROM asset_imports GROUP BY `+column+` ORDER BY total_time_ms DESC`)
	if err != nil {
		return nil, fmt.Errorf("group imports by %s: %w", column, err)
	}
	return groups, nil
}

// Refreshes lists every pipeline refresh, longest first.
func (e *Engine) Refreshes(ctx context.Context) ([]store.PipelineRefresh, error) {
	refreshes := []store.PipelineRefresh{}
	err := e.session.Store.Select(ctx, &refreshes, `SELECT * FROM pipeline_refreshes
                ORDER BY total_time_seconds DESC`)
	if err != nil {
		return nil, fmt.Errorf("select pipeline refreshes: %w", err)
	}
	return refreshes, nil
}

// OperationBreakdown sums durations per operation type, heaviest first.
func (e *Engine) OperationBreakdown(ctx context.Context) ([]GroupStat, error) {
	groups := []GroupStat{}
	err := e.session.Store.Select(ctx, &groups, `SELECT operation_type AS key,
                COUNT(*) AS count,
                COALESCE(SUM(duration_ms), 0) AS total_time_ms,
                COALESCE(AVG(duration_ms), 0) AS avg_time_ms
                FROM operations GROUP BY operation_type ORDER BY total_time_ms DESC`)
	if err != nil {
		return nil, fmt.Errorf("group operations: %w", err)
	}
	return groups, nil
}
