package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	tea "github.com/charmbracelet/bubbletea"
	_ "modernc.org/sqlite"

	"github.com/michaelscutari/fdmux"
	"github.com/michaelscutari/fdmux/internal/bench"
	"github.com/michaelscutari/fdmux/internal/pathutil"
	"github.com/michaelscutari/fdmux/internal/trace"
	"github.com/michaelscutari/fdmux/internal/tui"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a workload against a store and record results",
	Long: `Drive a reproducible random-access workload against a bounded-FD
store and record one sample per operation in a SQLite results database.`,
	RunE: runBench,
}

var (
	benchDir          string
	benchOut          string
	benchMaxOpenFiles int
	benchFiles        int
	benchClients      int
	benchOps          int
	benchMaxOpSize    int
	benchReadFraction float64
	benchSeed         int64
	benchRetention    int
	benchVerbose      bool
	benchTUI          bool
	benchProgress     time.Duration
)

func init() {
	benchCmd.Flags().StringVarP(&benchDir, "dir", "d", "./fdmux-data", "Directory for the store's backing files")
	benchCmd.Flags().StringVarP(&benchOut, "out", "o", "./results", "Output directory for result databases")
	benchCmd.Flags().IntVarP(&benchMaxOpenFiles, "max-open-files", "m", 16, "File-handle budget for the store")
	benchCmd.Flags().IntVarP(&benchFiles, "files", "f", 256, "Number of logical files")
	benchCmd.Flags().IntVarP(&benchClients, "clients", "c", 4, "Number of concurrent clients")
	benchCmd.Flags().IntVarP(&benchOps, "ops", "n", 10000, "Total number of operations")
	benchCmd.Flags().IntVar(&benchMaxOpSize, "max-op-size", 4096, "Maximum bytes per operation")
	benchCmd.Flags().Float64Var(&benchReadFraction, "read-fraction", 0.5, "Fraction of operations that are reads")
	benchCmd.Flags().Int64Var(&benchSeed, "seed", 1, "Workload seed")
	benchCmd.Flags().IntVar(&benchRetention, "retention", 5, "Number of result databases to retain (0 = unlimited)")
	benchCmd.Flags().BoolVarP(&benchVerbose, "verbose", "v", false, "Enable verbose logging")
	benchCmd.Flags().BoolVar(&benchTUI, "tui", false, "Show a live TUI while the bench runs")
	benchCmd.Flags().DurationVar(&benchProgress, "progress-interval", 30*time.Second, "Emit progress lines to stderr at this interval when not a TTY (0 to disable)")
}

func runBench(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(benchDir)
	if err != nil {
		return fmt.Errorf("failed to resolve store directory: %w", err)
	}
	dir = pathutil.Normalize(dir)

	outDir, err := filepath.Abs(benchOut)
	if err != nil {
		return fmt.Errorf("failed to resolve output path: %w", err)
	}

	opts := bench.DefaultOptions().
		WithFiles(benchFiles).
		WithClients(benchClients).
		WithOps(benchOps).
		WithMaxOpSize(benchMaxOpSize).
		WithReadFraction(benchReadFraction).
		WithSeed(benchSeed).
		WithVerbose(benchVerbose)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nCanceling... (press Ctrl+C again to force)")
		cancel()
		<-sigCh
		os.Exit(130)
	}()

	// Stage the results database.
	mgr := trace.NewManager(outDir, benchRetention)
	database, err := mgr.Begin()
	if err != nil {
		return err
	}

	store, err := fdmux.New(fdmux.Config{DirPath: dir, MaxOpenFiles: benchMaxOpenFiles, Verbose: benchVerbose})
	if err != nil {
		mgr.Abort(database)
		return err
	}

	startTime := time.Now()
	if err := trace.InitRunMeta(database, trace.RunMeta{
		DirPath:      dir,
		MaxOpenFiles: benchMaxOpenFiles,
		Files:        benchFiles,
		Clients:      benchClients,
		StartTime:    startTime,
	}); err != nil {
		store.Close()
		mgr.Abort(database)
		return fmt.Errorf("failed to record run metadata: %w", err)
	}

	sampleCh := make(chan trace.OpSample, 8192)
	ing := trace.NewIngester(database, sampleCh, 5000, 500, benchVerbose)
	ingesterDone := make(chan error, 1)
	go func() {
		ingesterDone <- ing.Run(ctx)
	}()

	runner := bench.NewRunner(opts, store, sampleCh)
	benchDone := make(chan error, 1)
	go func() {
		benchDone <- runner.Run(ctx)
	}()

	var runErr error
	if benchTUI {
		runErr = watchTUI(cancel, store, runner, benchDone)
	} else {
		runErr = watchPlain(ctx, store, runner, benchDone, startTime)
	}

	close(sampleCh)
	if err := <-ingesterDone; err != nil && runErr == nil {
		runErr = fmt.Errorf("ingester error: %w", err)
	}

	finalStats := store.Stats()
	store.Close()

	if runErr != nil {
		mgr.Abort(database)
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(os.Stderr, "Bench canceled.")
			return nil
		}
		return fmt.Errorf("bench failed: %w", runErr)
	}

	p := runner.Progress()
	if err := trace.FinalizeRunMeta(database, trace.RunMeta{
		EndTime:      time.Now(),
		Reads:        p.Reads,
		Writes:       p.Writes,
		BytesRead:    finalStats.BytesRead,
		BytesWritten: finalStats.BytesWritten,
		Errors:       p.Errors,
		Evictions:    finalStats.Evictions,
	}); err != nil {
		mgr.Abort(database)
		return fmt.Errorf("failed to finalize run metadata: %w", err)
	}

	dbPath, err := mgr.Commit(database)
	if err != nil {
		return err
	}

	elapsed := time.Since(startTime).Round(time.Millisecond)
	fmt.Printf("Results: %s\n", dbPath)
	fmt.Printf("Bench completed in %s\n", elapsed)
	fmt.Printf("\nSummary:\n")
	fmt.Printf("  Operations: %d (%d reads, %d writes)\n", p.Done, p.Reads, p.Writes)
	fmt.Printf("  Moved: %s\n", humanizeBytes(p.Bytes))
	fmt.Printf("  Evictions: %d\n", finalStats.Evictions)
	if p.Errors > 0 {
		fmt.Printf("  Errors: %d\n", p.Errors)
	}
	return nil
}

// watchTUI runs the live monitor. The bench result is fanned out so that an
// early quit can cancel the workload and still wait for it to wind down
// before the caller closes the sample channel.
func watchTUI(cancel context.CancelFunc, store *fdmux.Store, runner *bench.Runner, benchDone <-chan error) error {
	tuiDone := make(chan error, 1)
	mainDone := make(chan error, 1)
	go func() {
		err := <-benchDone
		tuiDone <- err
		mainDone <- err
	}()

	model := tui.NewModel(store, runner, tuiDone)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, uiErr := p.Run()

	cancel()
	runErr := <-mainDone
	if uiErr != nil {
		return fmt.Errorf("TUI error: %w", uiErr)
	}
	return runErr
}

func watchPlain(ctx context.Context, store *fdmux.Store, runner *bench.Runner, benchDone <-chan error, startTime time.Time) error {
	isTTY := isTerminal()
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	var spinnerIdx int
	lastNonTTY := time.Now()
	for {
		select {
		case err := <-benchDone:
			if isTTY {
				fmt.Fprintf(os.Stderr, "\r\033[K")
			}
			return err
		case <-ticker.C:
			p := runner.Progress()
			st := store.Stats()
			elapsed := time.Since(startTime).Round(time.Millisecond)
			rate := float64(0)
			if elapsed.Seconds() > 0 {
				rate = float64(p.Done) / elapsed.Seconds()
			}

			if isTTY {
				spinner := spinnerFrames[spinnerIdx%len(spinnerFrames)]
				spinnerIdx++
				errStr := ""
				if p.Errors > 0 {
					errStr = fmt.Sprintf(" | %d errors", p.Errors)
				}
				fmt.Fprintf(os.Stderr, "\r\033[K%s Benching... %d/%d ops | fds %d/%d | %s | %.0f/sec | %s%s",
					spinner, p.Done, p.Total, st.OpenFiles, st.MaxOpenFiles, humanizeBytes(p.Bytes), rate, elapsed, errStr)
			} else if benchProgress > 0 && time.Since(lastNonTTY) >= benchProgress {
				fmt.Fprintf(os.Stderr, "PROGRESS ops=%d/%d fds=%d/%d bytes=%s rate=%.0f/sec elapsed=%s errors=%d\n",
					p.Done, p.Total, st.OpenFiles, st.MaxOpenFiles, humanizeBytes(p.Bytes), rate, elapsed, p.Errors)
				lastNonTTY = time.Now()
			}
		case <-ctx.Done():
			return <-benchDone
		}
	}
}

func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
