package money

import "testing"

import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

func TestParsePrice(t *testing.T) {
	p, err := ParsePrice("0.40")
	require.NoError(t, err)
	assert.Equal(t, Price(40), p)

	p, err = ParsePrice("0.4")
	require.NoError(t, err)
	assert.Equal(t, Price(40), p)

	_, err = ParsePrice("0.401")
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	a, err := ParseAmount("80.0000")
	require.NoError(t, err)
	assert.Equal(t, Amount(80*AmountScale), a)

	a, err = ParseAmount("0.1")
	require.NoError(t, err)
	assert.Equal(t, Amount(1000), a)
}

func TestStringRoundtrip(t *testing.T) {
	assert.Equal(t, "0.40", Price(40).String())
	assert.Equal(t, "80.0000", Amount(80*AmountScale).String())
}

func TestComplement(t *testing.T) {
	assert.Equal(t, Price(60), Price(40).Complement())
	assert.Equal(t, Price(100), Price(0).Complement())
}

func TestInRangeAndAlignedTo(t *testing.T) {
	assert.True(t, Price(1).InRange())
	assert.True(t, Price(99).InRange())
	assert.False(t, Price(0).InRange())
	assert.False(t, Price(100).InRange())

	assert.True(t, Price(40).AlignedTo(1))
	assert.True(t, Price(40).AlignedTo(5))
	assert.False(t, Price(41).AlignedTo(5))
}

func TestCost(t *testing.T) {
	// 60 shares at price 0.40 costs $24.00.
	qty := Amount(60 * AmountScale)
	price := Price(40)
	got := price.Cost(qty)
	want, err := ParseAmount("24.0000")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWeightedAveragePrice(t *testing.T) {
	oldQty := Amount(40 * AmountScale)
	oldPrice := Price(50)
	addQty := Amount(60 * AmountScale)
	addPrice := Price(40)

	got := WeightedAveragePrice(oldQty, oldPrice, addQty, addPrice)
	// (40*50 + 60*40) / 100 = (2000+2400)/100 = 44
	assert.Equal(t, Price(44), got)
}

func TestWeightedAveragePriceZeroQuantity(t *testing.T) {
	got := WeightedAveragePrice(Amount(10), Price(50), Amount(-10), Price(50))
	assert.Equal(t, Price(0), got)
}

func TestMinAmount(t *testing.T) {
	assert.Equal(t, Amount(1), MinAmount(1, 2))
	assert.Equal(t, Amount(1), MinAmount(2, 1))
}
