package trace

import (
	"database/sql"
	"fmt"
)

const samplesTableDDL = `
CREATE TABLE IF NOT EXISTS samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL,
    kind INTEGER NOT NULL,
    offset INTEGER NOT NULL,
    size INTEGER NOT NULL,
    latency_us INTEGER NOT NULL,
    err TEXT NOT NULL DEFAULT ''
);
`

const runMetaTableDDL = `
CREATE TABLE IF NOT EXISTS run_meta (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    dir_path TEXT NOT NULL,
    max_open_files INTEGER NOT NULL,
    files INTEGER NOT NULL,
    clients INTEGER NOT NULL,
    start_time INTEGER NOT NULL,
    end_time INTEGER,
    reads INTEGER DEFAULT 0,
    writes INTEGER DEFAULT 0,
    bytes_read INTEGER DEFAULT 0,
    bytes_written INTEGER DEFAULT 0,
    errors INTEGER DEFAULT 0,
    evictions INTEGER DEFAULT 0
);
`

const samplesPathIndexDDL = `CREATE INDEX IF NOT EXISTS idx_samples_path ON samples(path);`
const samplesKindIndexDDL = `CREATE INDEX IF NOT EXISTS idx_samples_kind ON samples(kind);`

// InitSchema creates all tables in the database.
func InitSchema(db *sql.DB) error {
	ddls := []string{
		samplesTableDDL,
		runMetaTableDDL,
		samplesPathIndexDDL,
		samplesKindIndexDDL,
	}

	for _, ddl := range ddls {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}

	return nil
}

// ApplyWritePragmas configures SQLite for ingestion throughput.
func ApplyWritePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -16000", // 16MB cache
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}

	return nil
}
