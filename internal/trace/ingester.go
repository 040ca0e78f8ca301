package trace

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

const insertSampleSQL = `INSERT INTO samples (path, kind, offset, size, latency_us, err) VALUES (?, ?, ?, ?, ?, ?)`

// Ingester batches op samples and writes them to the database.
type Ingester struct {
	db              *sql.DB
	sampleCh        <-chan OpSample
	batchSize       int
	flushIntervalMs int

	batch []OpSample

	// Progress tracking (atomic)
	reads        int64
	writes       int64
	errorCount   int64
	bytesRead    int64
	bytesWritten int64

	sampleStmt *sql.Stmt

	debug bool
}

// Progress holds current ingestion progress.
type Progress struct {
	Reads        int64
	Writes       int64
	Errors       int64
	BytesRead    int64
	BytesWritten int64
}

// NewIngester creates a new ingester.
func NewIngester(db *sql.DB, sampleCh <-chan OpSample, batchSize, flushIntervalMs int, debug bool) *Ingester {
	return &Ingester{
		db:              db,
		sampleCh:        sampleCh,
		batchSize:       batchSize,
		flushIntervalMs: flushIntervalMs,
		batch:           make([]OpSample, 0, batchSize),
		debug:           debug,
	}
}

// Run consumes samples from the channel and batches them to the database.
// It returns when the sample channel is closed.
func (ing *Ingester) Run(ctx context.Context) error {
	var err error
	ing.sampleStmt, err = ing.db.Prepare(insertSampleSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare sample statement: %w", err)
	}
	defer ing.sampleStmt.Close()

	ticker := time.NewTicker(time.Duration(ing.flushIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	if ing.debug {
		fmt.Fprintf(os.Stderr, "[INGESTER] STARTED batchSize=%d flushInterval=%dms\n", ing.batchSize, ing.flushIntervalMs)
	}

	for {
		select {
		case <-ctx.Done():
			if ing.debug {
				fmt.Fprintf(os.Stderr, "[INGESTER] CTX-CANCELLED batchLen=%d\n", len(ing.batch))
			}
			return ing.flush()

		case s, ok := <-ing.sampleCh:
			if !ok {
				if ing.debug {
					fmt.Fprintf(os.Stderr, "[INGESTER] CH-CLOSED batchLen=%d\n", len(ing.batch))
				}
				return ing.flush()
			}
			ing.track(s)
			ing.batch = append(ing.batch, s)
			if len(ing.batch) >= ing.batchSize {
				if err := ing.flush(); err != nil {
					return err
				}
			}

		case <-ticker.C:
			if err := ing.flush(); err != nil {
				return err
			}
		}
	}
}

func (ing *Ingester) track(s OpSample) {
	if s.Kind == KindRead {
		atomic.AddInt64(&ing.reads, 1)
		if s.Err == "" {
			atomic.AddInt64(&ing.bytesRead, s.Size)
		}
	} else {
		atomic.AddInt64(&ing.writes, 1)
		if s.Err == "" {
			atomic.AddInt64(&ing.bytesWritten, s.Size)
		}
	}
	if s.Err != "" {
		atomic.AddInt64(&ing.errorCount, 1)
	}
}

func (ing *Ingester) flush() error {
	if len(ing.batch) == 0 {
		return nil
	}

	tx, err := ing.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt := tx.Stmt(ing.sampleStmt)
	for _, s := range ing.batch {
		if _, err := stmt.Exec(s.Path, s.Kind, s.Offset, s.Size, s.Latency.Microseconds(), s.Err); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert sample: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit samples: %w", err)
	}

	ing.batch = ing.batch[:0]
	return nil
}

// Progress returns current ingestion counters (safe for concurrent access).
func (ing *Ingester) Progress() Progress {
	return Progress{
		Reads:        atomic.LoadInt64(&ing.reads),
		Writes:       atomic.LoadInt64(&ing.writes),
		Errors:       atomic.LoadInt64(&ing.errorCount),
		BytesRead:    atomic.LoadInt64(&ing.bytesRead),
		BytesWritten: atomic.LoadInt64(&ing.bytesWritten),
	}
}

// ErrorCount returns the number of failed ops seen so far.
func (ing *Ingester) ErrorCount() int64 {
	return atomic.LoadInt64(&ing.errorCount)
}
