package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
)

var validateVendor string

var validateCmd = &cobra.Command{
	Use:   "validate <json>",
	Short: "Validate an extracted invoice JSON file against the schema and business rules",
	Long: `validate runs the same schema and business-rule checks Stage 3 and Stage
4 apply to an extracted invoice, against a JSON file on disk.

Exit codes: 0 valid, 2 validation failure.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateVendor, "vendor", "", "Expected vendor type to cross-check against (default: the invoice's own vendor_type)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var inv schema.Invoice
	if err := json.Unmarshal(data, &inv); err != nil {
		fmt.Fprintf(os.Stderr, "invalid JSON: %v\n", err)
		exitCode = 2
		return nil
	}

	expected := schema.ParseVendorType(validateVendor)
	if validateVendor == "" {
		expected = ""
	}

	errs := inv.Validate(expected)
	if len(errs) == 0 {
		fmt.Println(validSuccessStyle.Render("valid"))
		return nil
	}

	fmt.Println(validErrorStyle.Render(fmt.Sprintf("%d violation(s):", len(errs))))
	for _, e := range errs {
		fmt.Printf("  - %v\n", e)
	}
	exitCode = 2
	return nil
}
