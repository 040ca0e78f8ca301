package trace

import (
	"database/sql"
	"fmt"
	"time"
)

// InitRunMeta records the run parameters at bench start.
func InitRunMeta(db *sql.DB, meta RunMeta) error {
	_, err := db.Exec(
		`INSERT INTO run_meta (id, dir_path, max_open_files, files, clients, start_time) VALUES (1, ?, ?, ?, ?, ?)`,
		meta.DirPath, meta.MaxOpenFiles, meta.Files, meta.Clients, meta.StartTime.Unix(),
	)
	return err
}

// FinalizeRunMeta records totals at bench end.
func FinalizeRunMeta(db *sql.DB, meta RunMeta) error {
	_, err := db.Exec(
		`UPDATE run_meta SET end_time = ?, reads = ?, writes = ?, bytes_read = ?, bytes_written = ?, errors = ?, evictions = ? WHERE id = 1`,
		meta.EndTime.Unix(), meta.Reads, meta.Writes, meta.BytesRead, meta.BytesWritten, meta.Errors, meta.Evictions,
	)
	return err
}

// GetRunMeta reads the run metadata row.
func GetRunMeta(db *sql.DB) (*RunMeta, error) {
	var meta RunMeta
	var start, end int64
	err := db.QueryRow(`
		SELECT dir_path, max_open_files, files, clients, start_time, COALESCE(end_time, 0),
		       reads, writes, bytes_read, bytes_written, errors, evictions
		FROM run_meta WHERE id = 1
	`).Scan(&meta.DirPath, &meta.MaxOpenFiles, &meta.Files, &meta.Clients, &start, &end,
		&meta.Reads, &meta.Writes, &meta.BytesRead, &meta.BytesWritten, &meta.Errors, &meta.Evictions)
	if err != nil {
		return nil, fmt.Errorf("failed to read run metadata: %w", err)
	}
	meta.StartTime = time.Unix(start, 0)
	if end > 0 {
		meta.EndTime = time.Unix(end, 0)
	}
	return &meta, nil
}

// Summarize aggregates the recorded samples per operation kind.
func Summarize(db *sql.DB) ([]Summary, error) {
	rows, err := db.Query(`
		SELECT kind, COUNT(*),
		       COALESCE(SUM(CASE WHEN err = '' THEN size ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN err != '' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(latency_us), 0),
		       COALESCE(MAX(latency_us), 0)
		FROM samples
		GROUP BY kind
		ORDER BY kind
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize samples: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var avgUs float64
		var maxUs int64
		if err := rows.Scan(&s.Kind, &s.Count, &s.Bytes, &s.Errors, &avgUs, &maxUs); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		s.AvgLatency = time.Duration(avgUs) * time.Microsecond
		s.MaxLatency = time.Duration(maxUs) * time.Microsecond
		out = append(out, s)
	}
	return out, rows.Err()
}

// SlowestPaths returns the paths with the highest mean latency.
func SlowestPaths(db *sql.DB, limit int) ([]PathLatency, error) {
	rows, err := db.Query(`
		SELECT path, COUNT(*), AVG(latency_us)
		FROM samples
		GROUP BY path
		ORDER BY AVG(latency_us) DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query slowest paths: %w", err)
	}
	defer rows.Close()

	var out []PathLatency
	for rows.Next() {
		var p PathLatency
		var avgUs float64
		if err := rows.Scan(&p.Path, &p.Count, &avgUs); err != nil {
			return nil, fmt.Errorf("failed to scan path latency: %w", err)
		}
		p.AvgLatency = time.Duration(avgUs) * time.Microsecond
		out = append(out, p)
	}
	return out, rows.Err()
}

// PathLatency reports per-path sample counts and mean latency.
type PathLatency struct {
	Path       string
	Count      int64
	AvgLatency time.Duration
}
