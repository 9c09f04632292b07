package schema_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
)

func validInvoice() schema.Invoice {
	return schema.Invoice{
		InvoiceID:        "INV-UE-0123",
		VendorName:       "Uber Eats",
		VendorType:       schema.VendorUberEats,
		InvoiceDate:      time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		DueDate:          time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
		Currency:         "USD",
		Subtotal:         decimal.RequireFromString("100.00"),
		TaxAmount:        decimal.RequireFromString("8.00"),
		CommissionRate:   decimal.RequireFromString("0.15"),
		CommissionAmount: decimal.RequireFromString("15.00"),
		TotalAmount:      decimal.RequireFromString("108.00"),
		LineItems: []schema.LineItem{
			{
				Description: "order batch",
				Quantity:    decimal.NewFromInt(2),
				UnitPrice:   decimal.RequireFromString("50.00"),
				Amount:      decimal.RequireFromString("100.00"),
			},
		},
	}
}

func TestInvoice_Validate_Valid(t *testing.T) {
	inv := validInvoice()
	errs := inv.Validate(schema.VendorUberEats)
	assert.Empty(t, errs)
}

func TestInvoice_Validate_VendorMismatch(t *testing.T) {
	inv := validInvoice()
	errs := inv.Validate(schema.VendorDoorDash)
	assert.NotEmpty(t, errs)
}

func TestInvoice_Validate_MissingInvoiceID(t *testing.T) {
	inv := validInvoice()
	inv.InvoiceID = ""
	errs := inv.Validate("")
	assert.NotEmpty(t, errs)
}

func TestInvoice_Validate_DueDateBeforeInvoiceDate(t *testing.T) {
	inv := validInvoice()
	inv.DueDate = inv.InvoiceDate.AddDate(0, 0, -1)
	errs := inv.Validate("")
	assert.NotEmpty(t, errs)
}

func TestInvoice_Validate_CommissionCrossCheckFails(t *testing.T) {
	inv := validInvoice()
	inv.CommissionAmount = decimal.RequireFromString("999.00")
	errs := inv.Validate("")
	assert.NotEmpty(t, errs)
}

func TestInvoice_Validate_LineItemSumMismatch(t *testing.T) {
	inv := validInvoice()
	inv.LineItems[0].Amount = decimal.RequireFromString("1.00")
	errs := inv.Validate("")
	assert.NotEmpty(t, errs)
}

func TestLineItem_Calculate(t *testing.T) {
	li := schema.LineItem{
		Quantity:  decimal.NewFromInt(3),
		UnitPrice: decimal.RequireFromString("25.00"),
	}
	li.Calculate()
	assert.True(t, li.Amount.Equal(decimal.RequireFromString("75.00")))
}

func TestVendorType_Valid(t *testing.T) {
	assert.True(t, schema.VendorUberEats.Valid())
	assert.False(t, schema.VendorType("unknown").Valid())
}

func TestParseVendorType(t *testing.T) {
	assert.Equal(t, schema.VendorDoorDash, schema.ParseVendorType("door-dash"))
	assert.Equal(t, schema.VendorOther, schema.ParseVendorType("nonsense"))
}
