package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/spf13/cobra"

	"github.com/fulcrumdata/invoice-pipeline/internal/dlq"
)

var dlqAuditDir string

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect dead-letter audit records",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List aggregated dead-letter audit records from a Parquet audit directory",
	Long: `dlq list reads every .parquet file under --audit-dir (spec.md §4.6.1
audit/{yyyy}/{mm}/{dd}/{batch_id}.parquet) and prints the aggregated
(stage, source_uri, reason) records as a table. This is read-only:
re-injecting dead letters into the pipeline stays outside this tool.`,
	RunE: runDLQList,
}

func init() {
	dlqListCmd.Flags().StringVar(&dlqAuditDir, "audit-dir", "audit", "Root directory to scan for .parquet audit batches")
	dlqCmd.AddCommand(dlqListCmd)
	rootCmd.AddCommand(dlqCmd)
}

func runDLQList(cmd *cobra.Command, args []string) error {
	var files []string
	err := filepath.WalkDir(dlqAuditDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".parquet") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", dlqAuditDir, err)
	}

	var records []dlq.AuditRecord
	for _, path := range files {
		recs, err := readAuditBatch(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
			continue
		}
		records = append(records, recs...)
	}

	if len(records) == 0 {
		fmt.Println(warningStyle.Render("no audit records found"))
		return nil
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].LastSeen.After(records[j].LastSeen)
	})

	printDLQTable(records)
	return nil
}

func readAuditBatch(path string) ([]dlq.AuditRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return parquet.Read[dlq.AuditRecord](f, info.Size())
}

func printDLQTable(records []dlq.AuditRecord) {
	fmt.Println(titleStyle.Render("Dead-letter audit records"))
	header := fmt.Sprintf("%-22s %-10s %-20s %-9s %-20s %s",
		"SOURCE_URI", "STAGE", "REASON", "ATTEMPTS", "LAST_SEEN", "LAST_ERROR")
	fmt.Println(labelStyle.Render(header))

	for _, r := range records {
		line := fmt.Sprintf("%-22s %-10s %-20s %-9d %-20s %s",
			truncate(r.SourceURI, 22), r.Stage, r.Reason, r.Attempts,
			r.LastSeen.Format("2006-01-02T15:04:05"), truncate(r.LastError, 40))
		fmt.Println(valueStyle.Render(line))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
