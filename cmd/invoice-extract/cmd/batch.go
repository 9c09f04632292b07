package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	batchVendor    string
	batchOutputDir string
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Extract structured invoice data from every TIFF file in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchVendor, "vendor", "", "Vendor hint applied to every file")
	batchCmd.Flags().StringVar(&batchOutputDir, "output-dir", "", "Directory to write each extracted JSON into (default: stdout per file)")
	rootCmd.AddCommand(batchCmd)
}

type batchResult struct {
	file   string
	ok     bool
	reason string
}

func runBatch(cmd *cobra.Command, args []string) error {
	dir := args[0]
	files, err := collectTIFFs(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .tiff/.tif files found under %s", dir)
	}

	p, _, log, err := newLocalPipeline()
	if err != nil {
		return fmt.Errorf("wire pipeline: %w", err)
	}
	defer p.Close()
	defer log.Sync()

	var results []batchResult
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			results = append(results, batchResult{file: path, ok: false, reason: err.Error()})
			continue
		}
		objectName := sourceObjectName(filepath.Base(path), batchVendor)
		result, err := p.ExtractOnce(context.Background(), "landing", objectName, data)
		if err != nil {
			results = append(results, batchResult{file: path, ok: false, reason: err.Error()})
			continue
		}

		switch {
		case result.Extracted != nil:
			if batchOutputDir != "" {
				if werr := writeExtracted(result.Extracted, batchOutputDir, objectName); werr != nil {
					results = append(results, batchResult{file: path, ok: false, reason: werr.Error()})
					continue
				}
			} else {
				out, _ := json.MarshalIndent(result.Extracted, "", "  ")
				fmt.Println(string(out))
			}
			results = append(results, batchResult{file: path, ok: true})
		case result.DeadLetter != nil:
			results = append(results, batchResult{file: path, ok: false, reason: result.DeadLetter.Reason})
		default:
			results = append(results, batchResult{file: path, ok: false, reason: "no result"})
		}
	}

	printBatchSummary(results)

	for _, r := range results {
		if !r.ok {
			exitCode = 3
			break
		}
	}
	return nil
}

func collectTIFFs(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".tiff" || ext == ".tif" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func printBatchSummary(results []batchResult) {
	var ok, failed int
	var rows []string
	for _, r := range results {
		if r.ok {
			ok++
			rows = append(rows, fmt.Sprintf("  %s  %s", validSuccessStyle.Render("OK"), r.file))
			continue
		}
		failed++
		rows = append(rows, fmt.Sprintf("  %s  %s (%s)", validErrorStyle.Render("FAIL"), r.file, r.reason))
	}

	fmt.Println(titleStyle.Render("Batch extraction summary"))
	fmt.Println(strings.Join(rows, "\n"))
	summary := fmt.Sprintf("%d succeeded, %d failed, %d total", ok, failed, len(results))
	if failed > 0 {
		fmt.Println(warningStyle.Render(summary))
		return
	}
	fmt.Println(validSuccessStyle.Render(summary))
}
