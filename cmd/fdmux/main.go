package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fdmux",
	Short: "A bounded-FD random-access file store",
	Long: `fdmux serves positional reads and writes against many logical files
while keeping the number of open file handles under a fixed budget.
The bench command drives a reproducible workload against a store and
records per-operation samples in SQLite for analysis.`,
}

func init() {
	rootCmd.Version = version
	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(infoCmd)
}
