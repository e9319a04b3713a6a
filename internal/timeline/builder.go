// File path: internal/timeline/builder.go
package timeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/assetlens/unitylog/internal/store"
)

// ErrNoData is returned when the session holds no timestamped events to
// span a timeline over.
var ErrNoData = errors.New("timeline: no timeline data")

// Segment is one positioned block of the timeline. Start and Width are
// fractions of the total span so consumers can lay segments out without
// knowing pixel geometry. Overlay segments annotate a period (refreshes,
// cache-server downloads) and do not contribute to the additive total.
type Segment struct {
	Phase       string  `json:"phase"`
	Label       string  `json:"label"`
	Category    string  `json:"category,omitempty"`
	Color       string  `json:"color"`
	StartTimeMS float64 `json:"start_time_ms"`
	DurationMS  float64 `json:"duration_ms"`
	Start       float64 `json:"start"`
	Width       float64 `json:"width"`
	Overlay     bool    `json:"overlay,omitempty"`
	LineNumber  int64   `json:"line_number,omitempty"`
}

// WorkerLane is one worker thread's wait phases, ordered by start time.
// ConnectorStart/ConnectorEnd on each segment map the phase's time range
// back onto the main lane's coordinate space so a consumer can draw the
// link between lanes.
type WorkerLane struct {
	WorkerThreadID int64           `json:"worker_thread_id"`
	Segments       []WorkerSegment `json:"segments"`
}

// WorkerSegment is a worker-wait phase positioned on its lane.
type WorkerSegment struct {
	Segment
	ImportCount     int64   `json:"import_count"`
	ConnectorStartX float64 `json:"connector_start_x"`
	ConnectorEndX   float64 `json:"connector_end_x"`
}

// Timeline is the merged multi-stream reconstruction for one session.
type Timeline struct {
	TotalTimeMS float64           `json:"total_time_ms"`
	OriginMS    float64           `json:"origin_ms"`
	Segments    []Segment         `json:"segments"`
	Overlays    []Segment         `json:"overlays"`
	WorkerLanes []WorkerLane      `json:"worker_lanes"`
	Colors      map[string]string `json:"colors"`
}

// palette lists distinguishable colors in priority order; the heaviest
// categories claim the front of the list.
var palette = []string{
	"#4CAF50", "#2196F3", "#FF9800", "#9C27B0", "#F44336",
	"#00BCD4", "#FFEB3B", "#795548", "#607D8B", "#E91E63",
	"#8BC34A", "#3F51B5",
}

const overlayColor = "#9E9E9E"

// Builder merges the four event streams of one session into a normalized
// timeline. Build is side-effect-free: the same stored data always yields
// the same segment lists and color map.
type Builder struct {
	session *store.Session
}

// New creates a Builder over the session.
func New(session *store.Session) *Builder {
	return &Builder{session: session}
}

// Build loads the streams, derives the total span, and positions every
// segment. It returns ErrNoData when the observed span is absent or
// degenerate.
func (b *Builder) Build(ctx context.Context) (*Timeline, error) {
	st := b.session.Store

	imports := []store.AssetImport{}
	if err := st.Select(ctx, &imports, `SELECT id, line_number, asset_path, asset_name,
                asset_type, asset_category, guid, artifact_id, importer_type, import_time_ms,
                duration_ms, start_time_ms, end_time_ms, worker_thread_id
                FROM asset_imports ORDER BY start_time_ms`); err != nil {
		return nil, fmt.Errorf("load imports: %w", err)
	}
	refreshes := []store.PipelineRefresh{}
	if err := st.Select(ctx, &refreshes, `SELECT * FROM pipeline_refreshes ORDER BY start_time_ms`); err != nil {
		return nil, fmt.Errorf("load refreshes: %w", err)
	}
	blocks := []store.CacheServerBlock{}
	if err := st.Select(ctx, &blocks, `SELECT * FROM cache_server_blocks ORDER BY start_time_ms`); err != nil {
		return nil, fmt.Errorf("load cache blocks: %w", err)
	}
	phases := []store.WorkerThreadPhase{}
	if err := st.Select(ctx, &phases, `SELECT * FROM worker_thread_phases
                ORDER BY worker_thread_id, start_time_ms`); err != nil {
		return nil, fmt.Errorf("load worker phases: %w", err)
	}

	origin, end, ok := span(imports, refreshes, blocks, phases)
	total := end - origin
	if !ok || total <= 0 {
		return nil, ErrNoData
	}

	colors := assignColors(imports)
	tl := &Timeline{
		TotalTimeMS: total,
		OriginMS:    origin,
		Colors:      colors,
		Segments:    make([]Segment, 0, len(imports)),
		Overlays:    make([]Segment, 0, len(refreshes)+len(blocks)),
	}

	for _, imp := range imports {
		category := imp.AssetCategory
		if category == "" {
			category = "Other"
		}
		tl.Segments = append(tl.Segments, Segment{
			Phase:       "AssetImport",
			Label:       imp.AssetName,
			Category:    category,
			Color:       colors[category],
			StartTimeMS: imp.StartTimeMS,
			DurationMS:  imp.DurationMS,
			Start:       (imp.StartTimeMS - origin) / total,
			Width:       imp.DurationMS / total,
			LineNumber:  imp.LineNumber,
		})
	}
	for _, r := range refreshes {
		duration := r.EndTimeMS - r.StartTimeMS
		tl.Overlays = append(tl.Overlays, Segment{
			Phase:       "PipelineRefresh",
			Label:       r.InitiatedBy,
			Color:       overlayColor,
			StartTimeMS: r.StartTimeMS,
			DurationMS:  duration,
			Start:       (r.StartTimeMS - origin) / total,
			Width:       duration / total,
			Overlay:     true,
			LineNumber:  r.LineNumber,
		})
	}
	for _, blk := range blocks {
		tl.Overlays = append(tl.Overlays, Segment{
			Phase:       "CacheServerDownload",
			Label:       fmt.Sprintf("%d/%d downloaded", blk.NumDownloaded, blk.NumRequested),
			Color:       overlayColor,
			StartTimeMS: blk.StartTimeMS,
			DurationMS:  blk.DurationMS,
			Start:       (blk.StartTimeMS - origin) / total,
			Width:       blk.DurationMS / total,
			Overlay:     true,
			LineNumber:  blk.LineNumber,
		})
	}
	tl.WorkerLanes = buildLanes(phases, origin, total)
	return tl, nil
}

// span finds the first and last observed timestamp across all streams.
func span(imports []store.AssetImport, refreshes []store.PipelineRefresh,
	blocks []store.CacheServerBlock, phases []store.WorkerThreadPhase) (first, last float64, ok bool) {
	observe := func(start, end float64) {
		if start == 0 && end == 0 {
			return
		}
		if !ok || start < first {
			first = start
		}
		if !ok || end > last {
			last = end
		}
		ok = true
	}
	for _, imp := range imports {
		observe(imp.StartTimeMS, imp.EndTimeMS)
	}
	for _, r := range refreshes {
		observe(r.StartTimeMS, r.EndTimeMS)
	}
	for _, blk := range blocks {
		observe(blk.StartTimeMS, blk.EndTimeMS)
	}
	for _, p := range phases {
		observe(p.StartTimeMS, p.EndTimeMS)
	}
	return first, last, ok
}

// assignColors maps categories to palette entries in descending order of
// aggregate category time, so the largest categories get the most
// distinguishable colors. The assignment is deterministic for the same
// stored data; ties break by name.
func assignColors(imports []store.AssetImport) map[string]string {
	totals := map[string]float64{}
	for _, imp := range imports {
		category := imp.AssetCategory
		if category == "" {
			category = "Other"
		}
		totals[category] += imp.DurationMS
	}
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if totals[names[i]] != totals[names[j]] {
			return totals[names[i]] > totals[names[j]]
		}
		return names[i] < names[j]
	})
	colors := make(map[string]string, len(names))
	for i, name := range names {
		colors[name] = palette[i%len(palette)]
	}
	return colors
}

// buildLanes groups worker phases into per-worker lanes below the main
// lane, segments ascending by start time.
func buildLanes(phases []store.WorkerThreadPhase, origin, total float64) []WorkerLane {
	byWorker := map[int64][]store.WorkerThreadPhase{}
	ids := []int64{}
	for _, p := range phases {
		if _, seen := byWorker[p.WorkerThreadID]; !seen {
			ids = append(ids, p.WorkerThreadID)
		}
		byWorker[p.WorkerThreadID] = append(byWorker[p.WorkerThreadID], p)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	lanes := make([]WorkerLane, 0, len(ids))
	for _, id := range ids {
		lane := WorkerLane{WorkerThreadID: id}
		group := byWorker[id]
		sort.Slice(group, func(i, j int) bool { return group[i].StartTimeMS < group[j].StartTimeMS })
		for _, p := range group {
			startX, endX := Connectors(p.StartTimeMS, p.DurationMS, origin, total)
			lane.Segments = append(lane.Segments, WorkerSegment{
				Segment: Segment{
					Phase:       "WorkerWait",
					Label:       fmt.Sprintf("worker %d", id),
					Color:       overlayColor,
					StartTimeMS: p.StartTimeMS,
					DurationMS:  p.DurationMS,
					Start:       (p.StartTimeMS - origin) / total,
					Width:       p.DurationMS / total,
					LineNumber:  p.StartLineNumber,
				},
				ImportCount:     p.ImportCount,
				ConnectorStartX: startX,
				ConnectorEndX:   endX,
			})
		}
		lanes = append(lanes, lane)
	}
	return lanes
}

// Connectors maps a worker phase's time range onto the main lane's
// coordinate space. It is a pure function of the inputs and never depends
// on rendered geometry.
func Connectors(startMS, durationMS, originMS, totalMS float64) (startX, endX float64) {
	if totalMS <= 0 {
		return 0, 0
	}
	startX = (startMS - originMS) / totalMS
	endX = (startMS + durationMS - originMS) / totalMS
	return startX, endX
}
