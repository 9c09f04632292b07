package prompts_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fulcrumdata/invoice-pipeline/internal/schema"
	"github.com/fulcrumdata/invoice-pipeline/internal/stage3extract/prompts"
)

func TestForVendor_AllSixTemplates(t *testing.T) {
	cases := []struct {
		vendor   schema.VendorType
		id       string
		locale   string
	}{
		{schema.VendorUberEats, "ubereats", "en"},
		{schema.VendorDoorDash, "doordash", "en"},
		{schema.VendorGrubhub, "grubhub", "en"},
		{schema.VendorIfood, "ifood", "pt"},
		{schema.VendorRappi, "rappi", "es"},
		{schema.VendorOther, "generic", "en"},
	}
	for _, c := range cases {
		tmpl := prompts.ForVendor(c.vendor)
		assert.Equal(t, c.id, tmpl.ID)
		assert.Equal(t, c.locale, tmpl.Locale)
		assert.NotEmpty(t, tmpl.System)
		assert.NotEmpty(t, tmpl.User)
	}
}

func TestForVendor_UnrecognizedFallsBackToGeneric(t *testing.T) {
	tmpl := prompts.ForVendor(schema.VendorType("unknown"))
	assert.Equal(t, "generic", tmpl.ID)
}

func TestTemplateVersion(t *testing.T) {
	assert.Equal(t, "v1", prompts.TemplateVersion)
}
