// File path: internal/query/progressive_test.go
package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/assetlens/unitylog/internal/store"
)

func seedTypedImports(t *testing.T, e *Engine, assetType string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		seedImport(t, e, store.AssetImport{
			LineNumber: int64(i),
			AssetPath:  fmt.Sprintf("Assets/%s/%d.asset", assetType, i),
			AssetType:  assetType,
			DurationMS: float64(i),
		})
	}
}

func TestProgressiveDeliveryBatches(t *testing.T) {
	e := newTestEngine(t)
	seedTypedImports(t, e, "Texture", 25)

	batches := []AssetBatch{}
	err := e.ByTypeProgressive(context.Background(), "Texture", 10, func(b AssetBatch) error {
		batches = append(batches, b)
		return nil
	})
	if err != nil {
		t.Fatalf("progressive: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if batches[0].Offset != 0 || batches[1].Offset != 10 || batches[2].Offset != 20 {
		t.Fatalf("unexpected offsets: %d/%d/%d", batches[0].Offset, batches[1].Offset, batches[2].Offset)
	}
	for i, b := range batches {
		if b.Total != 25 {
			t.Fatalf("batch %d total = %d, want 25", i, b.Total)
		}
		if b.IsLast != (i == 2) {
			t.Fatalf("batch %d is_last = %v", i, b.IsLast)
		}
	}
	if len(batches[2].Assets) != 5 {
		t.Fatalf("final batch size = %d, want 5", len(batches[2].Assets))
	}
	// Slowest first across batch boundaries.
	if batches[0].Assets[0].DurationMS != 25 {
		t.Fatalf("first asset duration = %f, want 25", batches[0].Assets[0].DurationMS)
	}
	if batches[2].Assets[4].DurationMS != 1 {
		t.Fatalf("last asset duration = %f, want 1", batches[2].Assets[4].DurationMS)
	}
}

func TestProgressiveDeliveryEmptyGroup(t *testing.T) {
	e := newTestEngine(t)

	calls := 0
	err := e.ByCategoryProgressive(context.Background(), "Shaders", 0, func(b AssetBatch) error {
		calls++
		if !b.IsLast || len(b.Assets) != 0 || b.Total != 0 {
			t.Fatalf("unexpected empty-group batch: %+v", b)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("progressive: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one empty batch, got %d", calls)
	}
}

func TestProgressiveDeliveryStopsOnCallbackError(t *testing.T) {
	e := newTestEngine(t)
	seedTypedImports(t, e, "Mesh", 30)

	stop := errors.New("consumer stopped requesting")
	calls := 0
	err := e.ByTypeProgressive(context.Background(), "Mesh", 10, func(b AssetBatch) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected delivery to stop after 2 batches, got %d", calls)
	}
}

func TestProgressiveDeliveryHonoursContext(t *testing.T) {
	e := newTestEngine(t)
	seedTypedImports(t, e, "Audio", 30)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := e.ByImporterProgressive(ctx, "", 10, func(b AssetBatch) error {
		calls++
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 batch before cancellation, got %d", calls)
	}
}
