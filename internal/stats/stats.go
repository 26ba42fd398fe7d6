// Package stats computes the small read-only market summary SPEC_FULL.md
// supplements: mean trade price and volume-weighted price over a trailing
// window. It deliberately stops there — spec.md's Non-goals exclude
// "charting analytics" as a feature surface, so this is a numeric summary
// for the boundary API to render, not a candle/indicator engine.
package stats

import (
	"gonum.org/v1/gonum/stat"

	"github.com/novamarket/predictcore/internal/ledger/query"
	"github.com/novamarket/predictcore/internal/money"
)

// Window summarizes a set of recent trades for one market.
type Window struct {
	TradeCount   int
	MeanPrice    money.Price
	VWAP         money.Price
	TotalVolume  money.Amount
}

// Summarize computes Window from a page of trade-history rows (most recent
// first). Prices and quantities are converted to float64 only for the
// statistical reduction itself; every persisted and returned value stays in
// fixed-point money types.
func Summarize(rows []query.TradeHistoryRow) Window {
	if len(rows) == 0 {
		return Window{}
	}
	prices := make([]float64, len(rows))
	weights := make([]float64, len(rows))
	var totalVolume money.Amount
	for i, r := range rows {
		prices[i] = float64(r.Price)
		weights[i] = float64(r.Quantity)
		totalVolume += r.Quantity
	}

	mean := stat.Mean(prices, nil)
	vwap := mean
	if stat.Sum(weights) > 0 {
		vwap = stat.Mean(prices, weights)
	}

	return Window{
		TradeCount:  len(rows),
		MeanPrice:   money.Price(mean + 0.5),
		VWAP:        money.Price(vwap + 0.5),
		TotalVolume: totalVolume,
	}
}
