// File path: internal/ingest/pipeline.go
package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/assetlens/unitylog/internal/common"
	"github.com/assetlens/unitylog/internal/store"
)

// DefaultBatchSize bounds peak memory of a bulk insert and sets the
// granularity of progress reporting.
const DefaultBatchSize = 1000

// etaWindow is how many recent batch durations feed the remaining-time
// estimate. Before that many batches complete the estimate is unknown.
const etaWindow = 3

// Progress is emitted after every committed batch.
type Progress struct {
	BatchNum     int      `json:"batch_num"`
	TotalBatches int      `json:"total_batches"`
	Processed    int      `json:"processed"`
	Total        int      `json:"total"`
	Percent      float64  `json:"percent"`
	ETASeconds   *float64 `json:"estimated_time_remaining_seconds"`
}

// Done is the terminal report of a completed ingestion.
type Done struct {
	TotalTime     time.Duration `json:"-"`
	TotalTimeMS   float64       `json:"total_time_ms"`
	TotalLines    int64         `json:"total_lines"`
	VerifiedCount int64         `json:"verified_count"`
}

// Pipeline writes one EventSet into a session store in bounded batches.
// A single Pipeline is the session's only writer; queries may run
// concurrently on other goroutines.
type Pipeline struct {
	session   *store.Session
	batchSize int
	cancelled atomic.Bool
	progress  chan Progress
}

// New creates a Pipeline for the session. batchSize <= 0 selects the
// default.
func New(session *store.Session, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{
		session:   session,
		batchSize: batchSize,
		progress:  make(chan Progress, 8),
	}
}

// Progress returns the channel carrying per-batch progress reports. It is
// closed when Run returns.
func (p *Pipeline) Progress() <-chan Progress {
	return p.progress
}

// Cancel requests cooperative cancellation. The flag is checked between
// batches, never mid-batch; batches already committed stay committed.
func (p *Pipeline) Cancel() {
	p.cancelled.Store(true)
}

type batch struct {
	kind Kind
	size int
	run  func(ctx context.Context) error
}

// Run ingests the full event set, emitting progress after each batch and a
// terminal Done on success. Cancellation surfaces as ErrCancelled with all
// previously committed batches intact.
func (p *Pipeline) Run(ctx context.Context, set *EventSet) (Done, error) {
	defer close(p.progress)
	start := time.Now()
	logger := common.Logger()

	if set.Metadata != nil {
		if err := p.applyMetadata(ctx, set.Metadata); err != nil {
			return Done{}, err
		}
	}

	batches := p.plan(set)
	total := set.TotalRecords()
	processed := 0
	durations := make([]time.Duration, 0, etaWindow)

	for i, b := range batches {
		if p.cancelled.Load() {
			logger.Info("ingest: cancelled", "session", p.session.Meta.ID, "batches_done", i)
			return Done{}, store.ErrCancelled
		}
		batchStart := time.Now()
		if err := b.run(ctx); err != nil {
			return Done{}, fmt.Errorf("insert %s batch %d: %w", b.kind, i+1, err)
		}
		elapsed := time.Since(batchStart)
		durations = append(durations, elapsed)
		if len(durations) > etaWindow {
			durations = durations[1:]
		}
		processed += b.size

		report := Progress{
			BatchNum:     i + 1,
			TotalBatches: len(batches),
			Processed:    processed,
			Total:        total,
		}
		if total > 0 {
			report.Percent = float64(processed) / float64(total) * 100
		}
		if i+1 >= etaWindow {
			var sum time.Duration
			for _, d := range durations {
				sum += d
			}
			avg := sum / time.Duration(len(durations))
			eta := (time.Duration(len(batches)-(i+1)) * avg).Seconds()
			report.ETASeconds = &eta
		}
		select {
		case p.progress <- report:
		case <-ctx.Done():
			return Done{}, ctx.Err()
		}
	}

	verified, err := p.verify(ctx)
	if err != nil {
		return Done{}, err
	}
	totalLines := p.session.Meta.TotalLines
	if n := int64(len(set.LogLines)); n > totalLines {
		totalLines = n
	}
	if err := p.session.Finalize(ctx, totalLines, time.Since(start)); err != nil {
		return Done{}, err
	}
	done := Done{
		TotalTime:     time.Since(start),
		TotalTimeMS:   float64(time.Since(start)) / float64(time.Millisecond),
		TotalLines:    totalLines,
		VerifiedCount: verified,
	}
	logger.Info("ingest: complete", "session", p.session.Meta.ID,
		"records", total, "verified_imports", verified, "elapsed", done.TotalTime)
	return done, nil
}

// plan splits every kind's records into bounded batches, in a stable kind
// order so progress numbers are reproducible.
func (p *Pipeline) plan(set *EventSet) []batch {
	var batches []batch
	for start := 0; start < len(set.AssetImports); start += p.batchSize {
		rows := set.AssetImports[start:min(start+p.batchSize, len(set.AssetImports))]
		batches = append(batches, batch{KindAssetImports, len(rows), func(ctx context.Context) error {
			return p.insertAssetImports(ctx, rows)
		}})
	}
	for start := 0; start < len(set.PipelineRefreshes); start += p.batchSize {
		rows := set.PipelineRefreshes[start:min(start+p.batchSize, len(set.PipelineRefreshes))]
		batches = append(batches, batch{KindPipelineRefreshes, len(rows), func(ctx context.Context) error {
			return p.insertPipelineRefreshes(ctx, rows)
		}})
	}
	for start := 0; start < len(set.Operations); start += p.batchSize {
		rows := set.Operations[start:min(start+p.batchSize, len(set.Operations))]
		batches = append(batches, batch{KindOperations, len(rows), func(ctx context.Context) error {
			return p.insertOperations(ctx, rows)
		}})
	}
	for start := 0; start < len(set.CacheServerBlocks); start += p.batchSize {
		rows := set.CacheServerBlocks[start:min(start+p.batchSize, len(set.CacheServerBlocks))]
		batches = append(batches, batch{KindCacheServerBlocks, len(rows), func(ctx context.Context) error {
			return p.insertCacheServerBlocks(ctx, rows)
		}})
	}
	for start := 0; start < len(set.WorkerThreadPhases); start += p.batchSize {
		rows := set.WorkerThreadPhases[start:min(start+p.batchSize, len(set.WorkerThreadPhases))]
		batches = append(batches, batch{KindWorkerThreadPhases, len(rows), func(ctx context.Context) error {
			return p.insertWorkerThreadPhases(ctx, rows)
		}})
	}
	for start := 0; start < len(set.LogLines); start += p.batchSize {
		rows := set.LogLines[start:min(start+p.batchSize, len(set.LogLines))]
		batches = append(batches, batch{KindLogLines, len(rows), func(ctx context.Context) error {
			return p.insertLogLines(ctx, rows)
		}})
	}
	return batches
}

// InsertBatch appends one batch of records of the given kind without
// chunking or progress; the live monitor uses it for incremental appends.
func (p *Pipeline) InsertBatch(ctx context.Context, kind Kind, set *EventSet) error {
	switch kind {
	case KindAssetImports:
		return p.insertAssetImports(ctx, set.AssetImports)
	case KindPipelineRefreshes:
		return p.insertPipelineRefreshes(ctx, set.PipelineRefreshes)
	case KindOperations:
		return p.insertOperations(ctx, set.Operations)
	case KindCacheServerBlocks:
		return p.insertCacheServerBlocks(ctx, set.CacheServerBlocks)
	case KindWorkerThreadPhases:
		return p.insertWorkerThreadPhases(ctx, set.WorkerThreadPhases)
	case KindLogLines:
		return p.insertLogLines(ctx, set.LogLines)
	default:
		return fmt.Errorf("unknown batch kind %q", kind)
	}
}

func (p *Pipeline) applyMetadata(ctx context.Context, meta *store.SessionMetadata) error {
	err := p.session.Store.Exec(ctx, `UPDATE session_metadata SET
                log_file = ?, unity_version = ?, platform = ?, architecture = ?,
                project_name = ?, start_time_ms = ?, end_time_ms = ?, total_lines = ?
                WHERE id = ?`,
		meta.LogFile, meta.UnityVersion, meta.Platform, meta.Architecture,
		meta.ProjectName, meta.StartTimeMS, meta.EndTimeMS, meta.TotalLines,
		p.session.Meta.ID)
	if err != nil {
		return fmt.Errorf("apply stream metadata: %w", err)
	}
	p.session.Meta.LogFile = meta.LogFile
	p.session.Meta.UnityVersion = meta.UnityVersion
	p.session.Meta.Platform = meta.Platform
	p.session.Meta.Architecture = meta.Architecture
	p.session.Meta.ProjectName = meta.ProjectName
	p.session.Meta.StartTimeMS = meta.StartTimeMS
	p.session.Meta.EndTimeMS = meta.EndTimeMS
	p.session.Meta.TotalLines = meta.TotalLines
	return nil
}

func (p *Pipeline) verify(ctx context.Context) (int64, error) {
	var count int64
	if err := p.session.Store.Get(ctx, &count, `SELECT COUNT(*) FROM asset_imports`); err != nil {
		return 0, fmt.Errorf("verify ingested imports: %w", err)
	}
	return count, nil
}

// insertRows commits rows in one transaction; on a constraint violation the
// whole batch degrades to row-by-row inserts so one duplicate does not
// abort the ingestion. Failed rows are logged and skipped.
func insertRows[T any](ctx context.Context, st *store.Store, query string, rows []T, describe func(T) string) error {
	if len(rows) == 0 {
		return nil
	}
	err := st.Tx(ctx, func(tx *sqlx.Tx) error {
		for _, row := range rows {
			if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if !store.IsConstraint(err) {
		return err
	}
	logger := common.Logger()
	logger.Warn("ingest: batch hit constraint violation, degrading to row-by-row", "rows", len(rows))
	failed := 0
	for _, row := range rows {
		rowErr := st.Tx(ctx, func(tx *sqlx.Tx) error {
			_, err := tx.NamedExecContext(ctx, query, row)
			return err
		})
		if rowErr != nil {
			failed++
			logger.Warn("ingest: row rejected", "row", describe(row), "error", rowErr)
		}
	}
	if failed > 0 {
		logger.Warn("ingest: batch committed with rejected rows", "rejected", failed, "rows", len(rows))
	}
	return nil
}

const insertAssetImportSQL = `INSERT INTO asset_imports
        (line_number, asset_path, asset_name, asset_type, asset_category, guid,
         artifact_id, importer_type, import_time_ms, duration_ms, start_time_ms,
         end_time_ms, worker_thread_id)
        VALUES (:line_number, :asset_path, :asset_name, :asset_type, :asset_category,
         :guid, :artifact_id, :importer_type, :import_time_ms, :duration_ms,
         :start_time_ms, :end_time_ms, :worker_thread_id)`

func (p *Pipeline) insertAssetImports(ctx context.Context, rows []store.AssetImport) error {
	return insertRows(ctx, p.session.Store, insertAssetImportSQL, rows, func(r store.AssetImport) string {
		return fmt.Sprintf("asset_import line=%d path=%s", r.LineNumber, r.AssetPath)
	})
}

const insertPipelineRefreshSQL = `INSERT INTO pipeline_refreshes
        (refresh_id, line_number, total_time_seconds, initiated_by, imports_total,
         imports_actual, asset_db_process_time_ms, asset_db_callback_time_ms,
         domain_reloads, domain_reload_time_ms, compile_time_ms, scripting_other_ms,
         start_time_ms, end_time_ms)
        VALUES (:refresh_id, :line_number, :total_time_seconds, :initiated_by,
         :imports_total, :imports_actual, :asset_db_process_time_ms,
         :asset_db_callback_time_ms, :domain_reloads, :domain_reload_time_ms,
         :compile_time_ms, :scripting_other_ms, :start_time_ms, :end_time_ms)`

func (p *Pipeline) insertPipelineRefreshes(ctx context.Context, rows []store.PipelineRefresh) error {
	return insertRows(ctx, p.session.Store, insertPipelineRefreshSQL, rows, func(r store.PipelineRefresh) string {
		return fmt.Sprintf("pipeline_refresh line=%d id=%s", r.LineNumber, r.RefreshID)
	})
}

const insertOperationSQL = `INSERT INTO operations
        (line_number, operation_type, operation_name, duration_ms, start_time_ms,
         end_time_ms, memory_mb)
        VALUES (:line_number, :operation_type, :operation_name, :duration_ms,
         :start_time_ms, :end_time_ms, :memory_mb)`

func (p *Pipeline) insertOperations(ctx context.Context, rows []store.Operation) error {
	return insertRows(ctx, p.session.Store, insertOperationSQL, rows, func(r store.Operation) string {
		return fmt.Sprintf("operation line=%d type=%s", r.LineNumber, r.OperationType)
	})
}

const insertCacheBlockSQL = `INSERT INTO cache_server_blocks
        (line_number, start_time_ms, end_time_ms, duration_ms, num_requested,
         num_downloaded, asset_paths)
        VALUES (:line_number, :start_time_ms, :end_time_ms, :duration_ms,
         :num_requested, :num_downloaded, :asset_paths)`

func (p *Pipeline) insertCacheServerBlocks(ctx context.Context, rows []store.CacheServerBlock) error {
	for i := range rows {
		if err := rows[i].EncodePaths(); err != nil {
			return fmt.Errorf("encode cache block paths: %w", err)
		}
	}
	return insertRows(ctx, p.session.Store, insertCacheBlockSQL, rows, func(r store.CacheServerBlock) string {
		return fmt.Sprintf("cache_block line=%d", r.LineNumber)
	})
}

const insertWorkerPhaseSQL = `INSERT INTO worker_thread_phases
        (worker_thread_id, start_time_ms, end_time_ms, duration_ms, import_count,
         start_line_number)
        VALUES (:worker_thread_id, :start_time_ms, :end_time_ms, :duration_ms,
         :import_count, :start_line_number)`

func (p *Pipeline) insertWorkerThreadPhases(ctx context.Context, rows []store.WorkerThreadPhase) error {
	return insertRows(ctx, p.session.Store, insertWorkerPhaseSQL, rows, func(r store.WorkerThreadPhase) string {
		return fmt.Sprintf("worker_phase worker=%d line=%d", r.WorkerThreadID, r.StartLineNumber)
	})
}

const insertLogLineSQL = `INSERT INTO log_lines
        (line_number, content, line_type, indent_level, is_error, is_warning, timestamp)
        VALUES (:line_number, :content, :line_type, :indent_level, :is_error,
         :is_warning, :timestamp)`

func (p *Pipeline) insertLogLines(ctx context.Context, rows []store.LogLine) error {
	return insertRows(ctx, p.session.Store, insertLogLineSQL, rows, func(r store.LogLine) string {
		return fmt.Sprintf("log_line line=%d", r.LineNumber)
	})
}
