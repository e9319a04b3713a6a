// File path: internal/store/schema.go
package store

// Compound indexes are shaped so a range scan on the leading fields returns
// rows pre-sorted by the trailing field; every top-K query leans on that
// instead of sorting.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS session_metadata (
                id TEXT PRIMARY KEY,
                log_file TEXT NOT NULL DEFAULT '',
                unity_version TEXT NOT NULL DEFAULT '',
                platform TEXT NOT NULL DEFAULT '',
                architecture TEXT NOT NULL DEFAULT '',
                project_name TEXT NOT NULL DEFAULT '',
                date_parsed DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
                start_time_ms REAL NOT NULL DEFAULT 0,
                end_time_ms REAL NOT NULL DEFAULT 0,
                total_lines INTEGER NOT NULL DEFAULT 0,
                last_processed_line INTEGER NOT NULL DEFAULT 0,
                is_live BOOLEAN NOT NULL DEFAULT 0,
                total_parse_time_ms REAL NOT NULL DEFAULT 0
        );`,
	`CREATE TABLE IF NOT EXISTS asset_imports (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                line_number INTEGER NOT NULL,
                asset_path TEXT NOT NULL,
                asset_name TEXT NOT NULL DEFAULT '',
                asset_type TEXT NOT NULL DEFAULT '',
                asset_category TEXT NOT NULL DEFAULT '',
                guid TEXT NOT NULL DEFAULT '',
                artifact_id TEXT NOT NULL DEFAULT '',
                importer_type TEXT NOT NULL DEFAULT '',
                import_time_ms REAL NOT NULL DEFAULT 0,
                duration_ms REAL NOT NULL CHECK (duration_ms >= 0),
                start_time_ms REAL NOT NULL DEFAULT 0,
                end_time_ms REAL NOT NULL DEFAULT 0,
                worker_thread_id INTEGER
        );`,
	`CREATE TABLE IF NOT EXISTS pipeline_refreshes (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                refresh_id TEXT NOT NULL DEFAULT '',
                line_number INTEGER NOT NULL,
                total_time_seconds REAL NOT NULL DEFAULT 0,
                initiated_by TEXT NOT NULL DEFAULT '',
                imports_total INTEGER NOT NULL DEFAULT 0,
                imports_actual INTEGER NOT NULL DEFAULT 0,
                asset_db_process_time_ms REAL NOT NULL DEFAULT 0,
                asset_db_callback_time_ms REAL NOT NULL DEFAULT 0,
                domain_reloads INTEGER NOT NULL DEFAULT 0,
                domain_reload_time_ms REAL NOT NULL DEFAULT 0,
                compile_time_ms REAL NOT NULL DEFAULT 0,
                scripting_other_ms REAL NOT NULL DEFAULT 0,
                start_time_ms REAL NOT NULL DEFAULT 0,
                end_time_ms REAL NOT NULL DEFAULT 0
        );`,
	`CREATE TABLE IF NOT EXISTS operations (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                line_number INTEGER NOT NULL,
                operation_type TEXT NOT NULL,
                operation_name TEXT NOT NULL DEFAULT '',
                duration_ms REAL NOT NULL DEFAULT 0,
                start_time_ms REAL NOT NULL DEFAULT 0,
                end_time_ms REAL NOT NULL DEFAULT 0,
                memory_mb INTEGER NOT NULL DEFAULT 0
        );`,
	`CREATE TABLE IF NOT EXISTS cache_server_blocks (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                line_number INTEGER NOT NULL,
                start_time_ms REAL NOT NULL DEFAULT 0,
                end_time_ms REAL NOT NULL DEFAULT 0,
                duration_ms REAL NOT NULL DEFAULT 0,
                num_requested INTEGER NOT NULL DEFAULT 0,
                num_downloaded INTEGER NOT NULL DEFAULT 0,
                asset_paths TEXT NOT NULL DEFAULT '[]'
        );`,
	`CREATE TABLE IF NOT EXISTS worker_thread_phases (
                id INTEGER PRIMARY KEY AUTOINCREMENT,
                worker_thread_id INTEGER NOT NULL,
                start_time_ms REAL NOT NULL DEFAULT 0,
                end_time_ms REAL NOT NULL DEFAULT 0,
                duration_ms REAL NOT NULL DEFAULT 0,
                import_count INTEGER NOT NULL DEFAULT 0,
                start_line_number INTEGER NOT NULL DEFAULT 0
        );`,
	`CREATE TABLE IF NOT EXISTS log_lines (
                line_number INTEGER PRIMARY KEY,
                content TEXT NOT NULL,
                line_type TEXT NOT NULL DEFAULT '',
                indent_level INTEGER NOT NULL DEFAULT 0,
                is_error BOOLEAN NOT NULL DEFAULT 0,
                is_warning BOOLEAN NOT NULL DEFAULT 0,
                timestamp TEXT
        );`,
	`CREATE INDEX IF NOT EXISTS idx_imports_type_duration ON asset_imports(asset_type, duration_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_imports_category_duration ON asset_imports(asset_category, duration_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_imports_importer_duration ON asset_imports(importer_type, duration_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_imports_duration ON asset_imports(duration_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_imports_line ON asset_imports(line_number);`,
	`CREATE INDEX IF NOT EXISTS idx_imports_worker_start ON asset_imports(worker_thread_id, start_time_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_operations_type_duration ON operations(operation_type, duration_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_cache_blocks_start ON cache_server_blocks(start_time_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_worker_phases_worker_start ON worker_thread_phases(worker_thread_id, start_time_ms);`,
	`CREATE INDEX IF NOT EXISTS idx_lines_error ON log_lines(is_error, line_number);`,
	`CREATE INDEX IF NOT EXISTS idx_lines_warning ON log_lines(is_warning, line_number);`,
	`CREATE INDEX IF NOT EXISTS idx_lines_type ON log_lines(line_type, line_number);`,
}
