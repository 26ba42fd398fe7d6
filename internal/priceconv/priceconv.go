// Package priceconv implements the YES/NO price-space mapping of spec §4.1.
// Every order, trade, and book entry is stored in YES-price space; this
// package is the only place the complementary NO view is computed, at the
// edge where an order intent is admitted or a quote is displayed.
package priceconv

import "github.com/novamarket/predictcore/internal/money"

// SellYESFromBuyNO converts a "BUY NO @ p" intent into the admitted YES-book
// order price: sell_YES(p) ≡ buy_NO(1-p), read the other way around — an
// incoming BUY NO at price p is booked as SELL YES at (1-p).
func SellYESFromBuyNO(noPrice money.Price) money.Price { return noPrice.Complement() }

// BuyYESFromSellNO converts a "SELL NO @ p" intent into its YES-book
// equivalent: buy_YES(p) ≡ sell_NO(1-p).
func BuyYESFromSellNO(noPrice money.Price) money.Price { return noPrice.Complement() }

// NOPriceFromYES returns the NO-space price complementary to a YES price,
// used when rendering a quote or a trade back to a NO-denominated caller.
func NOPriceFromYES(yesPrice money.Price) money.Price { return yesPrice.Complement() }

// ImpliedProbability derives the market's best estimate of P(YES) per the
// glossary: last trade price, else the mid of best YES bid/ask, else 0.5 on
// an empty book. All three inputs are optional; only the resulting
// probability is returned, not which source produced it.
func ImpliedProbability(lastTrade *money.Price, bestBid, bestAsk *money.Price) money.Price {
	if lastTrade != nil {
		return *lastTrade
	}
	if bestBid != nil && bestAsk != nil {
		return money.Price((int64(*bestBid) + int64(*bestAsk)) / 2)
	}
	return 50
}
