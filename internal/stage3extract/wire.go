package stage3extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fulcrumdata/invoice-pipeline/internal/money"
	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
)

// wireInvoice is the JSON shape an LLM response is parsed into before
// conversion to schema.Invoice. Amount-like fields are untyped because
// providers are inconsistent about quoting decimals as JSON strings vs
// bare numbers (spec.md §4.4.3 "Decimal parsing must accept ...").
type wireInvoice struct {
	InvoiceID        string         `json:"invoice_id"`
	VendorName       string         `json:"vendor_name"`
	VendorType       string         `json:"vendor_type"`
	InvoiceDate      string         `json:"invoice_date"`
	DueDate          string         `json:"due_date"`
	Currency         string         `json:"currency"`
	Subtotal         interface{}    `json:"subtotal"`
	TaxAmount        interface{}    `json:"tax_amount"`
	CommissionRate   interface{}    `json:"commission_rate"`
	CommissionAmount interface{}    `json:"commission_amount"`
	TotalAmount      interface{}    `json:"total_amount"`
	LineItems        []wireLineItem `json:"line_items"`
}

type wireLineItem struct {
	Description string      `json:"description"`
	Quantity    interface{} `json:"quantity"`
	UnitPrice   interface{} `json:"unit_price"`
	Amount      interface{} `json:"amount"`
}

// toInvoice converts the wire shape into schema.Invoice, parsing every
// amount through money.ParseAmount and every date through parseInvoiceDate
// locale-disambiguated by vendorType (spec.md §4.4.3).
func (w *wireInvoice) toInvoice(vendorType schema.VendorType) (schema.Invoice, error) {
	invoiceDate, err := parseInvoiceDate(w.InvoiceDate, vendorType)
	if err != nil {
		return schema.Invoice{}, fmt.Errorf("invoice_date: %w", err)
	}
	dueDate, err := parseInvoiceDate(w.DueDate, vendorType)
	if err != nil {
		return schema.Invoice{}, fmt.Errorf("due_date: %w", err)
	}

	subtotal, err := decimalFromAny(w.Subtotal)
	if err != nil {
		return schema.Invoice{}, fmt.Errorf("subtotal: %w", err)
	}
	taxAmount, err := decimalFromAny(w.TaxAmount)
	if err != nil {
		return schema.Invoice{}, fmt.Errorf("tax_amount: %w", err)
	}
	commissionRate, err := decimalFromAny(w.CommissionRate)
	if err != nil {
		return schema.Invoice{}, fmt.Errorf("commission_rate: %w", err)
	}
	commissionAmount, err := decimalFromAny(w.CommissionAmount)
	if err != nil {
		return schema.Invoice{}, fmt.Errorf("commission_amount: %w", err)
	}
	totalAmount, err := decimalFromAny(w.TotalAmount)
	if err != nil {
		return schema.Invoice{}, fmt.Errorf("total_amount: %w", err)
	}

	lineItems := make([]schema.LineItem, 0, len(w.LineItems))
	for i, wli := range w.LineItems {
		quantity, err := decimalFromAny(wli.Quantity)
		if err != nil {
			return schema.Invoice{}, fmt.Errorf("line_items[%d].quantity: %w", i, err)
		}
		unitPrice, err := decimalFromAny(wli.UnitPrice)
		if err != nil {
			return schema.Invoice{}, fmt.Errorf("line_items[%d].unit_price: %w", i, err)
		}
		amount, err := decimalFromAny(wli.Amount)
		if err != nil {
			return schema.Invoice{}, fmt.Errorf("line_items[%d].amount: %w", i, err)
		}
		li := schema.LineItem{Description: wli.Description, Quantity: quantity, UnitPrice: unitPrice, Amount: amount}
		li.Calculate()
		lineItems = append(lineItems, li)
	}

	vendor := schema.ParseVendorType(w.VendorType)
	currency := strings.ToUpper(strings.TrimSpace(w.Currency))
	if currency == "" {
		currency = vendorType.DefaultCurrency()
	}

	return schema.Invoice{
		InvoiceID:        strings.TrimSpace(w.InvoiceID),
		VendorName:       strings.TrimSpace(w.VendorName),
		VendorType:       vendor,
		InvoiceDate:      invoiceDate,
		DueDate:          dueDate,
		Currency:         currency,
		Subtotal:         subtotal,
		TaxAmount:        taxAmount,
		CommissionRate:   commissionRate,
		CommissionAmount: commissionAmount,
		TotalAmount:      totalAmount,
		LineItems:        lineItems,
	}, nil
}

// decimalFromAny accepts either a JSON string (possibly comma- or
// period-decimal) or a JSON number and returns an exact decimal.Decimal.
func decimalFromAny(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return decimal.Zero, nil
		}
		return money.ParseAmount(t)
	case float64:
		return decimal.NewFromFloat(t), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported amount type %T", v)
	}
}

// localeDateLayout maps a vendor's locale to the ambiguous D/M vs M/D
// slash-date layout it should be parsed as (spec.md §4.4.3 "tolerate
// DD/MM/YYYY, MM/DD/YYYY, locale-disambiguated by vendor").
func localeDateLayout(vendorType schema.VendorType) string {
	switch vendorType {
	case schema.VendorIfood, schema.VendorRappi:
		return "02/01/2006"
	default:
		return "01/02/2006"
	}
}

func parseInvoiceDate(s string, vendorType schema.VendorType) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if strings.Contains(s, "/") {
		if t, err := time.Parse(localeDateLayout(vendorType), s); err == nil {
			return t, nil
		}
		altLayout := "01/02/2006"
		if localeDateLayout(vendorType) == altLayout {
			altLayout = "02/01/2006"
		}
		if t, err := time.Parse(altLayout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
