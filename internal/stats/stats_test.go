package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/novamarket/predictcore/internal/ledger/query"
	"github.com/novamarket/predictcore/internal/money"
)

func TestSummarizeEmpty(t *testing.T) {
	w := Summarize(nil)
	assert.Equal(t, Window{}, w)
}

func TestSummarizeMeanAndVWAP(t *testing.T) {
	rows := []query.TradeHistoryRow{
		{Price: 40, Quantity: money.Amount(10 * money.AmountScale)},
		{Price: 60, Quantity: money.Amount(30 * money.AmountScale)},
	}
	w := Summarize(rows)
	assert.Equal(t, 2, w.TradeCount)
	assert.Equal(t, money.Price(50), w.MeanPrice) // (40+60)/2
	// volume-weighted: (40*10 + 60*30) / 40 = 55
	assert.Equal(t, money.Price(55), w.VWAP)
	assert.Equal(t, money.Amount(40*money.AmountScale), w.TotalVolume)
}
