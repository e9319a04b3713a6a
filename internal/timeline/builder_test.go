// File path: internal/timeline/builder_test.go
package timeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/assetlens/unitylog/internal/store"
)

func newTestSession(t *testing.T) *store.Session {
	t.Helper()
	manager, err := store.NewManager(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	sess, err := manager.Create(context.Background(), store.SessionMetadata{LogFile: "Editor.log"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

func seedImport(t *testing.T, sess *store.Session, line int64, category string, start, duration float64, worker *int64) {
	t.Helper()
	err := sess.Store.Exec(context.Background(), `INSERT INTO asset_imports
                (line_number, asset_path, asset_name, asset_type, asset_category, guid,
                 artifact_id, importer_type, import_time_ms, duration_ms, start_time_ms,
                 end_time_ms, worker_thread_id)
                VALUES (?, 'Assets/a', 'a', 'Texture', ?, '', '', '', ?, ?, ?, ?, ?)`,
		line, category, duration, duration, start, start+duration, worker)
	if err != nil {
		t.Fatalf("seed import: %v", err)
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBuildWithoutDataReportsNoTimeline(t *testing.T) {
	sess := newTestSession(t)
	if _, err := New(sess).Build(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestBuildPositionsSegmentsAsFractions(t *testing.T) {
	sess := newTestSession(t)
	seedImport(t, sess, 1, "Textures", 1000, 500, nil)
	seedImport(t, sess, 2, "Models", 1500, 500, nil)

	tl, err := New(sess).Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tl.TotalTimeMS != 1000 {
		t.Fatalf("total = %f, want 1000", tl.TotalTimeMS)
	}
	if tl.OriginMS != 1000 {
		t.Fatalf("origin = %f, want 1000", tl.OriginMS)
	}
	if len(tl.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(tl.Segments))
	}
	first := tl.Segments[0]
	if !approx(first.Start, 0) || !approx(first.Width, 0.5) {
		t.Fatalf("first segment start/width = %f/%f, want 0/0.5", first.Start, first.Width)
	}
	second := tl.Segments[1]
	if !approx(second.Start, 0.5) || !approx(second.Width, 0.5) {
		t.Fatalf("second segment start/width = %f/%f, want 0.5/0.5", second.Start, second.Width)
	}
}

func TestColorAssignmentFollowsCategoryWeight(t *testing.T) {
	sess := newTestSession(t)
	// Models carry more total time than Textures, so they claim the first
	// palette slot.
	seedImport(t, sess, 1, "Textures", 0, 100, nil)
	seedImport(t, sess, 2, "Models", 100, 500, nil)
	seedImport(t, sess, 3, "Textures", 600, 100, nil)

	tl, err := New(sess).Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if tl.Colors["Models"] != palette[0] {
		t.Fatalf("Models color = %s, want %s", tl.Colors["Models"], palette[0])
	}
	if tl.Colors["Textures"] != palette[1] {
		t.Fatalf("Textures color = %s, want %s", tl.Colors["Textures"], palette[1])
	}
	for _, seg := range tl.Segments {
		if seg.Color != tl.Colors[seg.Category] {
			t.Fatalf("segment color %s does not match category map", seg.Color)
		}
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	sess := newTestSession(t)
	seedImport(t, sess, 1, "Textures", 0, 100, nil)
	seedImport(t, sess, 2, "Models", 100, 100, nil)

	first, err := New(sess).Build(context.Background())
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := New(sess).Build(context.Background())
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if len(first.Segments) != len(second.Segments) {
		t.Fatalf("segment counts differ: %d vs %d", len(first.Segments), len(second.Segments))
	}
	for i := range first.Segments {
		if first.Segments[i] != second.Segments[i] {
			t.Fatalf("segment %d differs between builds", i)
		}
	}
	for k, v := range first.Colors {
		if second.Colors[k] != v {
			t.Fatalf("color for %s differs between builds", k)
		}
	}
}

func TestOverlaysAndWorkerLanes(t *testing.T) {
	sess := newTestSession(t)
	ctx := context.Background()
	seedImport(t, sess, 1, "Textures", 0, 1000, nil)
	err := sess.Store.Exec(ctx, `INSERT INTO pipeline_refreshes
                (refresh_id, line_number, total_time_seconds, initiated_by, imports_total,
                 imports_actual, asset_db_process_time_ms, asset_db_callback_time_ms,
                 domain_reloads, domain_reload_time_ms, compile_time_ms, scripting_other_ms,
                 start_time_ms, end_time_ms)
                VALUES ('r1', 2, 0.5, 'Refresh', 1, 1, 0, 0, 0, 0, 0, 0, 0, 500)`)
	if err != nil {
		t.Fatalf("seed refresh: %v", err)
	}
	err = sess.Store.Exec(ctx, `INSERT INTO cache_server_blocks
                (line_number, start_time_ms, end_time_ms, duration_ms, num_requested,
                 num_downloaded, asset_paths)
                VALUES (3, 500, 750, 250, 4, 3, '[]')`)
	if err != nil {
		t.Fatalf("seed cache block: %v", err)
	}
	for _, phase := range []struct {
		worker int64
		start  float64
	}{{2, 100}, {1, 200}, {1, 0}} {
		err = sess.Store.Exec(ctx, `INSERT INTO worker_thread_phases
                        (worker_thread_id, start_time_ms, end_time_ms, duration_ms,
                         import_count, start_line_number)
                        VALUES (?, ?, ?, 100, 1, 1)`, phase.worker, phase.start, phase.start+100)
		if err != nil {
			t.Fatalf("seed worker phase: %v", err)
		}
	}

	tl, err := New(sess).Build(ctx)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(tl.Overlays) != 2 {
		t.Fatalf("expected 2 overlays, got %d", len(tl.Overlays))
	}
	for _, o := range tl.Overlays {
		if !o.Overlay {
			t.Fatalf("overlay segment not flagged: %+v", o)
		}
	}
	if len(tl.WorkerLanes) != 2 {
		t.Fatalf("expected 2 worker lanes, got %d", len(tl.WorkerLanes))
	}
	if tl.WorkerLanes[0].WorkerThreadID != 1 || tl.WorkerLanes[1].WorkerThreadID != 2 {
		t.Fatalf("lanes out of order: %+v", tl.WorkerLanes)
	}
	lane := tl.WorkerLanes[0]
	if lane.Segments[0].StartTimeMS != 0 || lane.Segments[1].StartTimeMS != 200 {
		t.Fatalf("lane segments not sorted by start: %+v", lane.Segments)
	}
}

func TestConnectorsArePureFractions(t *testing.T) {
	start, end := Connectors(250, 500, 0, 1000)
	if !approx(start, 0.25) || !approx(end, 0.75) {
		t.Fatalf("connectors = %f/%f, want 0.25/0.75", start, end)
	}
	start, end = Connectors(1250, 500, 1000, 1000)
	if !approx(start, 0.25) || !approx(end, 0.75) {
		t.Fatalf("offset origin connectors = %f/%f, want 0.25/0.75", start, end)
	}
	start, end = Connectors(10, 10, 0, 0)
	if start != 0 || end != 0 {
		t.Fatalf("degenerate span connectors = %f/%f, want 0/0", start, end)
	}
}
