package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/michaelscutari/fdmux/internal/trace"

	_ "modernc.org/sqlite"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display bench results",
	Long:  `Print metadata and per-operation summaries from a results database.`,
	RunE:  runInfo,
}

var (
	infoDB      string
	infoSlowest int
)

func init() {
	infoCmd.Flags().StringVarP(&infoDB, "db", "d", "./results/latest.db", "Path to results database")
	infoCmd.Flags().IntVar(&infoSlowest, "slowest", 5, "Number of slowest paths to list (0 to skip)")
}

func runInfo(cmd *cobra.Command, args []string) error {
	database, err := sql.Open("sqlite", infoDB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	meta, err := trace.GetRunMeta(database)
	if err != nil {
		return err
	}

	fmt.Printf("Bench Information\n")
	fmt.Printf("=================\n\n")
	fmt.Printf("Store Dir:    %s\n", meta.DirPath)
	fmt.Printf("FD Budget:    %d\n", meta.MaxOpenFiles)
	fmt.Printf("Files:        %d\n", meta.Files)
	fmt.Printf("Clients:      %d\n", meta.Clients)
	fmt.Printf("Start Time:   %s\n", meta.StartTime.Format(time.RFC3339))
	if !meta.EndTime.IsZero() {
		fmt.Printf("End Time:     %s\n", meta.EndTime.Format(time.RFC3339))
		fmt.Printf("Duration:     %s\n", meta.EndTime.Sub(meta.StartTime).Round(time.Millisecond))
	}

	fmt.Printf("\nTotals\n")
	fmt.Printf("------\n")
	fmt.Printf("Reads:        %s (%s)\n", humanize.Comma(meta.Reads), humanize.Bytes(uint64(meta.BytesRead)))
	fmt.Printf("Writes:       %s (%s)\n", humanize.Comma(meta.Writes), humanize.Bytes(uint64(meta.BytesWritten)))
	fmt.Printf("Evictions:    %s\n", humanize.Comma(meta.Evictions))
	if meta.Errors > 0 {
		fmt.Printf("Errors:       %s\n", humanize.Comma(meta.Errors))
	}

	sums, err := trace.Summarize(database)
	if err != nil {
		return err
	}
	if len(sums) > 0 {
		fmt.Printf("\nLatency\n")
		fmt.Printf("-------\n")
		for _, s := range sums {
			fmt.Printf("%-6s count=%-8s avg=%-10s max=%s\n",
				s.Kind, humanize.Comma(s.Count), s.AvgLatency, s.MaxLatency)
		}
	}

	if infoSlowest > 0 {
		paths, err := trace.SlowestPaths(database, infoSlowest)
		if err != nil {
			return err
		}
		if len(paths) > 0 {
			fmt.Printf("\nSlowest Paths\n")
			fmt.Printf("-------------\n")
			for _, p := range paths {
				fmt.Printf("%-24s samples=%-6s avg=%s\n", p.Path, humanize.Comma(p.Count), p.AvgLatency)
			}
		}
	}

	return nil
}
