// File path: internal/query/progressive.go
package query

import (
	"context"
	"fmt"
	"runtime"

	"github.com/assetlens/unitylog/internal/store"
)

// DefaultProgressiveBatchSize is used when a caller passes no batch size.
const DefaultProgressiveBatchSize = 500

// AssetBatch is one slice of a progressively delivered query.
type AssetBatch struct {
	Assets []store.AssetImport `json:"assets"`
	Offset int                 `json:"offset"`
	Total  int64               `json:"total"`
	IsLast bool                `json:"is_last"`
}

// BatchFunc consumes one batch; returning an error stops delivery. Each
// step is independently safe to abandon, so stopping is the whole
// cancellation story.
type BatchFunc func(batch AssetBatch) error

// ByTypeProgressive delivers ByType as ordered batches.
func (e *Engine) ByTypeProgressive(ctx context.Context, assetType string, batchSize int, onBatch BatchFunc) error {
	return e.progressiveWhere(ctx, "asset_type", assetType, batchSize, onBatch)
}

// ByCategoryProgressive delivers ByCategory as ordered batches.
func (e *Engine) ByCategoryProgressive(ctx context.Context, category string, batchSize int, onBatch BatchFunc) error {
	return e.progressiveWhere(ctx, "asset_category", category, batchSize, onBatch)
}

// ByImporterProgressive delivers ByImporter as ordered batches.
func (e *Engine) ByImporterProgressive(ctx context.Context, importer string, batchSize int, onBatch BatchFunc) error {
	return e.progressiveWhere(ctx, "importer_type", importer, batchSize, onBatch)
}

// progressiveWhere computes the total once (index-only count), then fetches
// offset/limit slices in increasing offset order, yielding between batches
// so a single-threaded consumer stays responsive. The final batch carries
// IsLast; an empty result yields exactly one empty final batch.
func (e *Engine) progressiveWhere(ctx context.Context, column, value string, batchSize int, onBatch BatchFunc) error {
	if batchSize <= 0 {
		batchSize = DefaultProgressiveBatchSize
	}
	var total int64
	err := e.session.Store.Get(ctx, &total,
		`SELECT COUNT(*) FROM asset_imports WHERE `+column+` = ?`, value)
	if err != nil {
		return fmt.Errorf("count imports by %s: %w", column, err)
	}
	if total == 0 {
		return onBatch(AssetBatch{Assets: []store.AssetImport{}, Total: 0, IsLast: true})
	}
	for offset := 0; int64(offset) < total; offset += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		assets := []store.AssetImport{}
		err := e.session.Store.Select(ctx, &assets, `SELECT `+importColumns+`
                        FROM asset_imports WHERE `+column+` = ?
                        ORDER BY duration_ms DESC LIMIT ? OFFSET ?`,
			value, batchSize, offset)
		if err != nil {
			return fmt.Errorf("select progressive batch at %d: %w", offset, err)
		}
		batch := AssetBatch{
			Assets: assets,
			Offset: offset,
			Total:  total,
			IsLast: int64(offset+len(assets)) >= total,
		}
		if err := onBatch(batch); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}
