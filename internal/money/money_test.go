package money_test

import (
	"testing"

	dec "github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulcrumdata/invoice-pipeline/internal/money"
)

func TestFromInt(t *testing.T) {
	d := money.FromInt(100000)
	assert.True(t, d.Equal(dec.NewFromInt(100000)))
}

func TestFromString(t *testing.T) {
	d, err := money.FromString("123456.78")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec.RequireFromString("123456.78")))

	_, err = money.FromString("not-a-number")
	require.Error(t, err)
}

func TestParseAmount_PeriodDecimal(t *testing.T) {
	d, err := money.ParseAmount("1,234.56")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec.RequireFromString("1234.56")))
}

func TestParseAmount_CommaDecimal(t *testing.T) {
	d, err := money.ParseAmount("1.234,56")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec.RequireFromString("1234.56")))
}

func TestParseAmount_NoSeparators(t *testing.T) {
	d, err := money.ParseAmount("108.00")
	require.NoError(t, err)
	assert.True(t, d.Equal(dec.RequireFromString("108.00")))
}

func TestParseAmount_Empty(t *testing.T) {
	_, err := money.ParseAmount("")
	require.Error(t, err)
}

func TestMul(t *testing.T) {
	a := dec.NewFromInt(100)
	b := dec.NewFromFloat(0.15)
	result := money.Mul(a, b)
	assert.True(t, result.Equal(dec.NewFromInt(15)))
}

func TestSum(t *testing.T) {
	values := []dec.Decimal{dec.NewFromInt(1), dec.NewFromInt(2), dec.RequireFromString("3.50")}
	result := money.Sum(values)
	assert.True(t, result.Equal(dec.RequireFromString("6.50")))
}

func TestWithinTolerance(t *testing.T) {
	a := dec.RequireFromString("100.00")
	b := dec.RequireFromString("100.01")
	assert.True(t, money.WithinTolerance(a, b, dec.RequireFromString("0.02")))
	assert.False(t, money.WithinTolerance(a, b, dec.RequireFromString("0.001")))
}

func TestRoundTrip2DP(t *testing.T) {
	ok, err := money.RoundTrip2DP("108.00")
	require.NoError(t, err)
	assert.True(t, ok)
}
