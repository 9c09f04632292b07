// Package prompts holds the embedded prompt-template registry Stage 3
// selects from by vendor_type (spec.md §4.4.1): six templates, one per
// named vendor plus a generic fallback, each versioned for the
// observer trace.
package prompts

import "github.com/fulcrumdata/invoice-pipeline/internal/schema"

// TemplateVersion is attached to every observer trace started by Stage 3
// (spec.md §4.4.1 "Templates are versioned; the version is attached to
// the observer trace").
const TemplateVersion = "v1"

// Template bundles the system/user prompt pair selected for one
// extraction attempt.
type Template struct {
	ID     string
	Locale string
	System string
	User   string
}

const jsonSchemaBlock = `{
  "invoice_id": "string, matches [A-Z0-9-]+",
  "vendor_name": "string",
  "vendor_type": "one of ubereats|doordash|grubhub|ifood|rappi|other",
  "invoice_date": "YYYY-MM-DD",
  "due_date": "YYYY-MM-DD",
  "currency": "ISO-4217 3-letter code",
  "subtotal": "decimal, e.g. 100.00",
  "tax_amount": "decimal",
  "commission_rate": "decimal in [0,1]",
  "commission_amount": "decimal",
  "total_amount": "decimal, > 0",
  "line_items": [
    {"description": "string", "quantity": "decimal", "unit_price": "decimal", "amount": "decimal"}
  ]
}`

const oneShotExample = `{
  "invoice_id": "INV-2026-0042",
  "vendor_name": "Example Vendor",
  "vendor_type": "ubereats",
  "invoice_date": "2026-01-02",
  "due_date": "2026-01-16",
  "currency": "USD",
  "subtotal": "100.00",
  "tax_amount": "8.00",
  "commission_rate": "0.15",
  "commission_amount": "15.00",
  "total_amount": "108.00",
  "line_items": [
    {"description": "Item A", "quantity": "2", "unit_price": "50.00", "amount": "100.00"}
  ]
}`

func baseSystemPrompt(vendorLabel, localeHint string) string {
	return "You are an expert invoice data extractor for " + vendorLabel + " delivery-platform commission invoices. " +
		localeHint +
		" Extract structured data matching the schema exactly. Always output valid JSON, nothing else. " +
		"Parse all monetary amounts as exact decimal strings, never scientific notation."
}

func baseUserPrompt(hints string) string {
	return "Extract invoice data from the attached invoice image(s).\n\n" +
		hints + "\n\n" +
		"Output JSON with exactly this structure:\n" + jsonSchemaBlock + "\n\n" +
		"Example of a correctly extracted invoice:\n" + oneShotExample
}

// registry is the fixed vendor_type -> Template mapping (spec.md §4.4.1).
var registry = map[schema.VendorType]Template{
	schema.VendorUberEats: {
		ID:     "ubereats",
		Locale: "en",
		System: baseSystemPrompt("Uber Eats", "Invoices are in English and denominated in USD."),
		User:   baseUserPrompt("Uber Eats invoices list a weekly commission deduction alongside per-order line items."),
	},
	schema.VendorDoorDash: {
		ID:     "doordash",
		Locale: "en",
		System: baseSystemPrompt("DoorDash", "Invoices are in English and denominated in USD."),
		User:   baseUserPrompt("DoorDash invoices list a 'Marketplace Fee' that maps to commission_amount."),
	},
	schema.VendorGrubhub: {
		ID:     "grubhub",
		Locale: "en",
		System: baseSystemPrompt("Grubhub", "Invoices are in English and denominated in USD."),
		User:   baseUserPrompt("Grubhub invoices list a 'Grubhub Fee' that maps to commission_amount."),
	},
	schema.VendorIfood: {
		ID:     "ifood",
		Locale: "pt",
		System: baseSystemPrompt("iFood", "As faturas estão em português (Brasil) e usam vírgula como separador decimal (ex.: 1.234,56)."),
		User:   baseUserPrompt("Faturas do iFood listam uma 'Taxa de Comissão' que corresponde a commission_amount."),
	},
	schema.VendorRappi: {
		ID:     "rappi",
		Locale: "es",
		System: baseSystemPrompt("Rappi", "Las facturas están en español y usan coma como separador decimal (p. ej., 1.234,56)."),
		User:   baseUserPrompt("Las facturas de Rappi enumeran una 'Comisión Rappi' que corresponde a commission_amount."),
	},
	schema.VendorOther: {
		ID:     "generic",
		Locale: "en",
		System: baseSystemPrompt("a delivery-platform", "The invoice language is unknown; infer it from the image."),
		User:   baseUserPrompt("Use your best judgement to map any platform-specific fee line to commission_amount."),
	},
}

// ForVendor returns the fixed template for vendorType, falling back to
// the generic template for unrecognized values (spec.md §4.4.1).
func ForVendor(vendorType schema.VendorType) Template {
	if t, ok := registry[vendorType]; ok {
		return t
	}
	return registry[schema.VendorOther]
}
