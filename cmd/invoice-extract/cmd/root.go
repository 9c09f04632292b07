// Package cmd implements the invoice-extract CLI (spec.md §6.5): a
// thin wrapper that drives the same stage handlers as the deployed
// pipeline over an in-process event bus, for single-file and batch
// local runs without a warehouse or a durable bus.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	outputFormat string
	verbose      bool

	// exitCode lets a RunE signal a specific process exit status
	// (spec.md §6.5: 0/2/3) without cobra's own error-printing path,
	// which always exits 1.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "invoice-extract",
	Short: "Run the invoice extraction pipeline against local files",
	Long: `invoice-extract drives stage1convert, stage2classify and stage3extract
in-process against an in-memory event bus and object store, without
touching a warehouse or a durable bus.

Examples:
  invoice-extract extract invoice.tiff
  invoice-extract batch ./invoices/
  invoice-extract validate extracted.json
  invoice-extract dlq list --audit-dir ./audit`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "Output format (only json is produced; the value is not read by any command)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output (no command currently prints extra output)")
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return exitCode
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
