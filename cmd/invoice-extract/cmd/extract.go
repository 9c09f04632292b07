package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fulcrumdata/invoice-pipeline/internal/pipeline"
)

var (
	extractVendor    string
	extractOutputDir string
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract structured invoice data from a single TIFF file",
	Long: `extract runs stage1convert, stage2classify and stage3extract in-process
against one TIFF file and prints the resulting InvoiceExtracted event
(the invoice under "extracted", plus provider and scoring metadata) as JSON.

Exit codes: 0 success, 2 validation failure, 3 provider exhaustion.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractVendor, "vendor", "", "Vendor hint (ubereats, doordash, grubhub, ifood, rappi)")
	extractCmd.Flags().StringVar(&extractOutputDir, "output-dir", "", "Directory to write the extracted JSON into (default: stdout)")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	p, _, log, err := newLocalPipeline()
	if err != nil {
		return fmt.Errorf("wire pipeline: %w", err)
	}
	defer p.Close()
	defer log.Sync()

	objectName := sourceObjectName(filepath.Base(path), extractVendor)
	result, err := p.ExtractOnce(context.Background(), "landing", objectName, data)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	return reportExtractResult(result, extractOutputDir, objectName)
}

// reportExtractResult writes a successful result as indented JSON (to
// stdout, or to outputDir when set) and sets the
// process exit code: 0 on success, 2 when the rejection is a
// structural/validation-type failure (invalid_image, object_not_found), 3 when it is
// provider exhaustion (extraction_failed) or anything else.
func reportExtractResult(result pipeline.ExtractResult, outputDir, objectName string) error {
	if result.Extracted != nil {
		return writeExtracted(result.Extracted, outputDir, objectName)
	}

	if result.DeadLetter == nil {
		return fmt.Errorf("extract: pipeline produced neither an extraction nor a dead letter")
	}

	dead := result.DeadLetter
	fmt.Fprintf(os.Stderr, "extraction failed: stage=%s reason=%s attempts=%d last_error=%s\n",
		dead.Stage, dead.Reason, dead.Attempts, dead.LastError)

	switch dead.Reason {
	case "invalid_image", "object_not_found":
		exitCode = 2
	default:
		exitCode = 3
	}
	return nil
}

func writeExtracted(evt interface{}, outputDir, objectName string) error {
	out, err := json.MarshalIndent(evt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	if outputDir == "" {
		fmt.Println(string(out))
		return nil
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	dest := filepath.Join(outputDir, objectName+".json")
	if err := os.WriteFile(dest, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dest, err)
	}
	fmt.Printf("wrote %s\n", dest)
	return nil
}
