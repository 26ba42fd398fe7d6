package priceconv

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/novamarket/predictcore/internal/money"
)

func TestSellYESFromBuyNO(t *testing.T) {
	// BUY NO @ 0.65 books as SELL YES @ 0.35.
	assert.Equal(t, money.Price(35), SellYESFromBuyNO(65))
}

func TestBuyYESFromSellNO(t *testing.T) {
	assert.Equal(t, money.Price(35), BuyYESFromSellNO(65))
}

func TestNOPriceFromYES(t *testing.T) {
	assert.Equal(t, money.Price(60), NOPriceFromYES(40))
}

func TestImpliedProbabilityPrefersLastTrade(t *testing.T) {
	last := money.Price(45)
	assert.Equal(t, money.Price(45), ImpliedProbability(&last, nil, nil))
}

func TestImpliedProbabilityFallsBackToQuoteMidOnlyWithoutATrade(t *testing.T) {
	bid := money.Price(44)
	ask := money.Price(50)
	assert.Equal(t, money.Price(47), ImpliedProbability(nil, &bid, &ask))

	last := money.Price(45)
	assert.Equal(t, money.Price(45), ImpliedProbability(&last, &bid, &ask))
}

func TestImpliedProbabilityDefaultsToHalf(t *testing.T) {
	assert.Equal(t, money.Price(50), ImpliedProbability(nil, nil, nil))
}
