// File path: internal/query/aggregate_test.go
package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/assetlens/unitylog/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	manager, err := store.NewManager(store.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	sess, err := manager.Create(context.Background(), store.SessionMetadata{
		LogFile:      "Editor.log",
		UnityVersion: "2022.3.10f1",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return New(sess)
}

func seedImport(t *testing.T, e *Engine, imp store.AssetImport) {
	t.Helper()
	err := e.Session().Store.Exec(context.Background(), `INSERT INTO asset_imports
                (line_number, asset_path, asset_name, asset_type, asset_category, guid,
                 artifact_id, importer_type, import_time_ms, duration_ms, start_time_ms,
                 end_time_ms, worker_thread_id)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		imp.LineNumber, imp.AssetPath, imp.AssetName, imp.AssetType, imp.AssetCategory,
		imp.GUID, imp.ArtifactID, imp.ImporterType, imp.ImportTimeMS, imp.DurationMS,
		imp.StartTimeMS, imp.EndTimeMS, imp.WorkerThreadID)
	if err != nil {
		t.Fatalf("seed import: %v", err)
	}
}

func seedLine(t *testing.T, e *Engine, line store.LogLine) {
	t.Helper()
	err := e.Session().Store.Exec(context.Background(), `INSERT INTO log_lines
                (line_number, content, line_type, indent_level, is_error, is_warning, timestamp)
                VALUES (?, ?, ?, ?, ?, ?, ?)`,
		line.LineNumber, line.Content, line.LineType, line.IndentLevel,
		line.IsError, line.IsWarning, line.Timestamp)
	if err != nil {
		t.Fatalf("seed line: %v", err)
	}
}

func seedTextures(t *testing.T, e *Engine) {
	durations := []float64{100, 50, 200}
	for i, d := range durations {
		seedImport(t, e, store.AssetImport{
			LineNumber:    int64(i + 1),
			AssetPath:     fmt.Sprintf("Assets/Textures/t%d.png", i),
			AssetName:     fmt.Sprintf("t%d.png", i),
			AssetType:     "Texture",
			AssetCategory: "Textures",
			ImporterType:  "TextureImporter",
			DurationMS:    d,
		})
	}
}

func TestByTypeOrdersSlowestFirst(t *testing.T) {
	e := newTestEngine(t)
	seedTextures(t, e)

	assets, err := e.ByType(context.Background(), "Texture", 0)
	if err != nil {
		t.Fatalf("by type: %v", err)
	}
	got := []float64{}
	for _, a := range assets {
		got = append(got, a.DurationMS)
	}
	want := []float64{200, 100, 50}
	if len(got) != len(want) {
		t.Fatalf("expected %d assets, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("durations = %v, want %v", got, want)
		}
	}
}

func TestTopSlowestAppliesLimit(t *testing.T) {
	e := newTestEngine(t)
	seedTextures(t, e)

	assets, err := e.TopSlowest(context.Background(), 2)
	if err != nil {
		t.Fatalf("top slowest: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	if assets[0].DurationMS != 200 || assets[1].DurationMS != 100 {
		t.Fatalf("unexpected order: %f, %f", assets[0].DurationMS, assets[1].DurationMS)
	}
}

func TestByCategoryAndImporter(t *testing.T) {
	e := newTestEngine(t)
	seedTextures(t, e)
	seedImport(t, e, store.AssetImport{
		LineNumber: 10, AssetPath: "Assets/Models/m.fbx", AssetType: "Mesh",
		AssetCategory: "Models", ImporterType: "ModelImporter", DurationMS: 300,
	})

	ctx := context.Background()
	textures, err := e.ByCategory(ctx, "Textures")
	if err != nil {
		t.Fatalf("by category: %v", err)
	}
	if len(textures) != 3 {
		t.Fatalf("expected 3 texture imports, got %d", len(textures))
	}
	models, err := e.ByImporter(ctx, "ModelImporter")
	if err != nil {
		t.Fatalf("by importer: %v", err)
	}
	if len(models) != 1 || models[0].AssetPath != "Assets/Models/m.fbx" {
		t.Fatalf("unexpected importer result: %+v", models)
	}
}

func TestSummaryAggregates(t *testing.T) {
	e := newTestEngine(t)
	seedTextures(t, e)
	seedLine(t, e, store.LogLine{LineNumber: 1, Content: "ok"})
	seedLine(t, e, store.LogLine{LineNumber: 2, Content: "Shader error", IsError: true})
	seedLine(t, e, store.LogLine{LineNumber: 3, Content: "warning CS0168", IsWarning: true})
	err := e.Session().Store.Exec(context.Background(), `INSERT INTO pipeline_refreshes
                (refresh_id, line_number, total_time_seconds, initiated_by, imports_total,
                 imports_actual, asset_db_process_time_ms, asset_db_callback_time_ms,
                 domain_reloads, domain_reload_time_ms, compile_time_ms, scripting_other_ms,
                 start_time_ms, end_time_ms)
                VALUES ('r1', 5, 12.5, 'InitialRefresh', 3, 3, 0, 0, 1, 0, 0, 0, 0, 12500)`)
	if err != nil {
		t.Fatalf("seed refresh: %v", err)
	}

	summary, err := e.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.AssetImports.Count != 3 {
		t.Fatalf("import count = %d, want 3", summary.AssetImports.Count)
	}
	if summary.AssetImports.TotalTimeMS != 350 {
		t.Fatalf("total time = %f, want 350", summary.AssetImports.TotalTimeMS)
	}
	if summary.AssetImports.MaxTimeMS != 200 {
		t.Fatalf("max time = %f, want 200", summary.AssetImports.MaxTimeMS)
	}
	if summary.ErrorCount != 1 || summary.WarningCount != 1 {
		t.Fatalf("flag counts = %d/%d, want 1/1", summary.ErrorCount, summary.WarningCount)
	}
	// No loading completion message, so summed import time stands in.
	if summary.ProjectLoadTimeSeconds == nil || *summary.ProjectLoadTimeSeconds != 0.35 {
		t.Fatalf("unexpected project load time: %v", summary.ProjectLoadTimeSeconds)
	}
	if len(summary.ByCategory) != 1 || summary.ByCategory[0].Key != "Textures" {
		t.Fatalf("unexpected category breakdown: %+v", summary.ByCategory)
	}
	if summary.UnityVersion != "2022.3.10f1" {
		t.Fatalf("unity version = %q", summary.UnityVersion)
	}
}

func TestSummaryOnEmptySession(t *testing.T) {
	e := newTestEngine(t)
	summary, err := e.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.AssetImports.Count != 0 || summary.AssetImports.TotalTimeMS != 0 {
		t.Fatalf("expected zeroed import stats: %+v", summary.AssetImports)
	}
	if summary.ProjectLoadTimeSeconds != nil {
		t.Fatalf("expected no project load time, got %v", *summary.ProjectLoadTimeSeconds)
	}
}

func TestSummaryPrefersLoadCompletionMessage(t *testing.T) {
	e := newTestEngine(t)
	seedTextures(t, e)
	seedLine(t, e, store.LogLine{LineNumber: 1,
		Content: "[Project] Loading completed in 8.2 seconds"})
	seedLine(t, e, store.LogLine{LineNumber: 2, Content: "Refreshing native plugins"})
	seedLine(t, e, store.LogLine{LineNumber: 3,
		Content: "[Project] Loading completed in 42.5 seconds"})

	summary, err := e.Summary(context.Background())
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	// The latest occurrence wins over both the earlier message and the
	// summed import fallback.
	if summary.ProjectLoadTimeSeconds == nil || *summary.ProjectLoadTimeSeconds != 42.5 {
		t.Fatalf("unexpected project load time: %v", summary.ProjectLoadTimeSeconds)
	}
}

func TestFolderKeyDepth(t *testing.T) {
	cases := []struct {
		path, want string
	}{
		{"Assets/Art/Textures/UI/icons/star.png", "Assets/Art/Textures/UI"},
		{"Assets/Art/UI/button.png", "Assets/Art/UI/button.png"},
		{"Assets/Art/mesh.fbx", "Assets/Art/mesh.fbx"},
		{"Assets/readme.txt", "Assets/readme.txt"},
		{"standalone.asset", "standalone.asset"},
		{"", "Root"},
	}
	for _, c := range cases {
		if got := folderKey(c.path); got != c.want {
			t.Fatalf("folderKey(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestByFolderGroupsAndRanks(t *testing.T) {
	e := newTestEngine(t)
	seedImport(t, e, store.AssetImport{LineNumber: 1,
		AssetPath: "Assets/Art/Textures/UI/button.png", DurationMS: 100, AssetType: "Texture"})
	seedImport(t, e, store.AssetImport{LineNumber: 2,
		AssetPath: "Assets/Art/Textures/UI/icons/star.png", DurationMS: 50, AssetType: "Texture"})
	seedImport(t, e, store.AssetImport{LineNumber: 3,
		AssetPath: "Assets/readme.txt", DurationMS: 400, AssetType: "TextAsset"})
	seedImport(t, e, store.AssetImport{LineNumber: 4,
		AssetPath: "standalone.asset", DurationMS: 5, AssetType: "Other"})

	folders, err := e.ByFolder(context.Background())
	if err != nil {
		t.Fatalf("by folder: %v", err)
	}
	byName := map[string]FolderGroup{}
	for _, f := range folders {
		byName[f.Folder] = f
	}
	// Depth caps at four segments, so both UI textures land together.
	ui, ok := byName["Assets/Art/Textures/UI"]
	if !ok {
		t.Fatalf("missing UI folder group: %+v", folders)
	}
	if ui.AssetCount != 2 || ui.TotalTimeMS != 150 {
		t.Fatalf("unexpected UI group: %+v", ui)
	}
	if ui.Assets[0].TimeMS != 100 {
		t.Fatalf("expected slowest-first asset list: %+v", ui.Assets)
	}
	// Short paths keep the filename in the key.
	if _, ok := byName["Assets/readme.txt"]; !ok {
		t.Fatalf("missing Assets/readme.txt group: %+v", folders)
	}
	if _, ok := byName["standalone.asset"]; !ok {
		t.Fatalf("missing group for single-segment asset: %+v", folders)
	}
	// Heaviest folder first.
	if folders[0].Folder != "Assets/readme.txt" {
		t.Fatalf("expected Assets/readme.txt first by total time, got %q", folders[0].Folder)
	}
}

func TestOperationBreakdown(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	for i, op := range []struct {
		kind string
		ms   float64
	}{{"SpriteAtlasPacking", 100}, {"TundraBuild", 900}, {"SpriteAtlasPacking", 300}} {
		err := e.Session().Store.Exec(ctx, `INSERT INTO operations
                        (line_number, operation_type, operation_name, duration_ms,
                         start_time_ms, end_time_ms, memory_mb)
                        VALUES (?, ?, ?, ?, 0, 0, 0)`,
			i+1, op.kind, op.kind, op.ms)
		if err != nil {
			t.Fatalf("seed operation: %v", err)
		}
	}

	groups, err := e.OperationBreakdown(ctx)
	if err != nil {
		t.Fatalf("operation breakdown: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 operation groups, got %d", len(groups))
	}
	if groups[0].Key != "TundraBuild" || groups[0].TotalTimeMS != 900 {
		t.Fatalf("unexpected heaviest group: %+v", groups[0])
	}
	if groups[1].Key != "SpriteAtlasPacking" || groups[1].Count != 2 {
		t.Fatalf("unexpected second group: %+v", groups[1])
	}
}
