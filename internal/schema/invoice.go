package schema

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

var invoiceIDPattern = regexp.MustCompile(`^[A-Z0-9\-]+$`)

// LineItem is a single line of an invoice (spec.md §3.1).
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

// Calculate fills in Amount from Quantity*UnitPrice when the extractor
// did not report it (spec.md §3.1 "may be computed if absent").
func (li *LineItem) Calculate() {
	if li.Amount.IsZero() {
		li.Amount = li.Quantity.Mul(li.UnitPrice).Round(2)
	}
}

// lineItemTolerance and invoiceTolerance are the cross-check slack used by business-rule
// validation (spec.md §4.4.3: 0.01 for line items, 0.02 for invoice totals).
const lineItemTolerance = "0.01"
const invoiceTolerance = "0.02"

// Invoice is the structured record extracted from a vendor invoice
// (spec.md §3.1).
type Invoice struct {
	InvoiceID        string          `json:"invoice_id"`
	VendorName       string          `json:"vendor_name"`
	VendorType       VendorType      `json:"vendor_type"`
	InvoiceDate      time.Time       `json:"invoice_date"`
	DueDate          time.Time       `json:"due_date"`
	Currency         string          `json:"currency"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	LineItems        []LineItem      `json:"line_items"`
}

// Validate runs the full schema + business-rule validation from
// spec.md §3.1 and §4.4.3. It returns every violation found rather
// than stopping at the first, so callers can see the whole picture.
func (inv *Invoice) Validate(expectedVendor VendorType) []error {
	var errs []error

	if inv.InvoiceID == "" {
		errs = append(errs, NewValidationFailureError("invoice_id", inv.InvoiceID, "required", "invoice_id is required"))
	} else if !invoiceIDPattern.MatchString(inv.InvoiceID) {
		errs = append(errs, NewValidationFailureError("invoice_id", inv.InvoiceID, "pattern", "invoice_id must match [A-Z0-9-]+"))
	}

	if inv.VendorName == "" {
		errs = append(errs, NewValidationFailureError("vendor_name", inv.VendorName, "required", "vendor_name is required"))
	}

	if !inv.VendorType.Valid() {
		errs = append(errs, NewValidationFailureError("vendor_type", inv.VendorType, "enum", "vendor_type must be a recognized vendor"))
	} else if expectedVendor != "" && inv.VendorType != expectedVendor {
		errs = append(errs, NewValidationFailureError("vendor_type", inv.VendorType, "cross-field",
			"vendor_type must equal the classifier-assigned value"))
	}

	if inv.InvoiceDate.IsZero() {
		errs = append(errs, NewValidationFailureError("invoice_date", nil, "required", "invoice_date is required"))
	}
	if inv.DueDate.IsZero() {
		errs = append(errs, NewValidationFailureError("due_date", nil, "required", "due_date is required"))
	}
	if !inv.InvoiceDate.IsZero() && !inv.DueDate.IsZero() && inv.InvoiceDate.After(inv.DueDate) {
		errs = append(errs, NewValidationFailureError("invoice_date", inv.InvoiceDate, "cross-field", "invoice_date must be <= due_date"))
	}

	if len(inv.Currency) != 3 {
		errs = append(errs, NewValidationFailureError("currency", inv.Currency, "iso4217", "currency must be a 3-letter ISO-4217 code"))
	}

	if inv.Subtotal.IsNegative() {
		errs = append(errs, NewValidationFailureError("subtotal", inv.Subtotal, "range", "subtotal must be >= 0"))
	}
	if inv.TaxAmount.IsNegative() {
		errs = append(errs, NewValidationFailureError("tax_amount", inv.TaxAmount, "range", "tax_amount must be >= 0"))
	}

	zero := decimal.Zero
	one := decimal.NewFromInt(1)
	if inv.CommissionRate.LessThan(zero) || inv.CommissionRate.GreaterThan(one) {
		errs = append(errs, NewValidationFailureError("commission_rate", inv.CommissionRate, "range", "commission_rate must be within [0,1]"))
	}
	if inv.CommissionAmount.IsNegative() {
		errs = append(errs, NewValidationFailureError("commission_amount", inv.CommissionAmount, "range", "commission_amount must be >= 0"))
	}

	tol := decimal.RequireFromString(invoiceTolerance)
	expectedCommission := inv.Subtotal.Mul(inv.CommissionRate).Round(2)
	if inv.CommissionAmount.Sub(expectedCommission).Abs().GreaterThan(tol) {
		errs = append(errs, NewValidationFailureError("commission_amount", inv.CommissionAmount, "cross-field",
			"commission_amount must equal subtotal * commission_rate within 0.02"))
	}

	if !inv.TotalAmount.GreaterThan(zero) {
		errs = append(errs, NewValidationFailureError("total_amount", inv.TotalAmount, "range", "total_amount must be > 0"))
	}

	if len(inv.LineItems) == 0 {
		errs = append(errs, NewValidationFailureError("line_items", nil, "required", "at least one line item is required"))
	}

	lineTol := decimal.RequireFromString(lineItemTolerance)
	sum := decimal.Zero
	for i := range inv.LineItems {
		li := &inv.LineItems[i]
		if li.Quantity.IsNegative() {
			errs = append(errs, NewValidationFailureError("line_items.quantity", li.Quantity, "range", "quantity must be >= 0"))
		}
		if li.UnitPrice.IsNegative() {
			errs = append(errs, NewValidationFailureError("line_items.unit_price", li.UnitPrice, "range", "unit_price must be >= 0"))
		}
		expectedAmt := li.Quantity.Mul(li.UnitPrice).Round(2)
		if li.Amount.Sub(expectedAmt).Abs().GreaterThan(lineTol) {
			errs = append(errs, NewValidationFailureError("line_items.amount", li.Amount, "cross-field",
				"amount must equal quantity * unit_price within 0.01"))
		}
		sum = sum.Add(li.Amount)
	}

	if !inv.Subtotal.IsZero() && sum.Sub(inv.Subtotal).Abs().GreaterThan(tol) {
		errs = append(errs, NewValidationFailureError("subtotal", inv.Subtotal, "cross-field",
			"sum(line_items.amount) must equal subtotal within 0.02"))
	}

	return errs
}
