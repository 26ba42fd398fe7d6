// Package money implements the fixed-point arithmetic the matching engine
// and ledger are built on. The teacher's trading system mixes float64 and a
// decimal library across its order/trade structs (see
// internal/db/models/order.go and internal/trading/order_matching/engine.go
// in the teacher); that is explicitly the pattern spec.md §9 calls out to
// replace with "a single fixed-point integer representation throughout".
// Every value here is an int64 of minor units; conversion to/from decimal
// text only happens at the wire boundary (internal/api, internal/gateway).
package money

import (
	"fmt"
	"strconv"
	"strings"
)

// Price is a probability-space price in hundredths of a unit (2 fractional
// digits), i.e. the smallest representable tick is 1 == $0.01.
type Price int64

// Amount is a cash or share quantity in ten-thousandths of a unit (4
// fractional digits), i.e. 1 == $0.0001 or 0.0001 shares.
type Amount int64

const (
	// PriceScale converts a Price's integer units to hundredths.
	PriceScale = 100
	// AmountScale converts an Amount's integer units to ten-thousandths.
	AmountScale = 10000

	// MinPrice and MaxPrice bound every persisted resting price (spec §3):
	// 0.01 and 0.99 inclusive. 0.00 and 1.00 are never stored on a resting
	// order; market orders cross without a price limit, and a market BUY
	// escrows OneDollar per share.
	MinPrice Price = 1
	MaxPrice Price = 99

	// OneDollar is the price sentinel representing a $1.00 payout, used by
	// the settlement service and by the market-order escrow ceiling.
	OneDollar Price = 100
	// ZeroDollars is the complementary sentinel (a worthless outcome).
	ZeroDollars Price = 0
)

// Zero is the additive identity for Amount.
const Zero Amount = 0

// NewPriceFromCents builds a Price directly from an integer number of cents.
func NewPriceFromCents(cents int64) Price { return Price(cents) }

// ParsePrice parses a decimal string like "0.40" into a Price. It requires
// exactly the tick's two fractional digits or fewer.
func ParsePrice(s string) (Price, error) {
	v, err := parseFixed(s, PriceScale)
	if err != nil {
		return 0, fmt.Errorf("money: invalid price %q: %w", s, err)
	}
	return Price(v), nil
}

// ParseAmount parses a decimal string like "80.0000" into an Amount.
func ParseAmount(s string) (Amount, error) {
	v, err := parseFixed(s, AmountScale)
	if err != nil {
		return 0, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return Amount(v), nil
}

func parseFixed(s string, scale int64) (int64, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	parts := strings.SplitN(s, ".", 2)
	whole := parts[0]
	if whole == "" {
		whole = "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}
	out := w * scale
	if len(parts) == 2 {
		frac := parts[1]
		digits := int64(0)
		for scale > 1 {
			scale /= 10
			digits++
		}
		if int64(len(frac)) > digits {
			return 0, fmt.Errorf("too many fractional digits")
		}
		for int64(len(frac)) < digits {
			frac += "0"
		}
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, err
		}
		out += f
	}
	if neg {
		out = -out
	}
	return out, nil
}

// String renders a Price as a two-decimal string, e.g. "0.40".
func (p Price) String() string { return formatFixed(int64(p), PriceScale) }

// String renders an Amount as a four-decimal string, e.g. "80.0000".
func (a Amount) String() string { return formatFixed(int64(a), AmountScale) }

func formatFixed(v, scale int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	whole := v / scale
	frac := v % scale
	digits := 0
	for s := scale; s > 1; s /= 10 {
		digits++
	}
	out := fmt.Sprintf("%d.%0*d", whole, digits, frac)
	if neg {
		out = "-" + out
	}
	return out
}

// InRange reports whether p falls within the tradable resting-price band
// [MinPrice, MaxPrice] (spec §3).
func (p Price) InRange() bool { return p >= MinPrice && p <= MaxPrice }

// AlignedTo reports whether p is an exact multiple of the configured tick
// (tick expressed as a Price, default 1 == $0.01).
func (p Price) AlignedTo(tick Price) bool {
	if tick <= 0 {
		return true
	}
	return p%tick == 0
}

// Complement returns 1 - p in price space (the YES/NO mapping identity).
func (p Price) Complement() Price { return OneDollar - p }

// Cost returns the cash Amount required to back qty shares at price p
// (qty * p), expressed in Amount's 4-decimal scale.
func (p Price) Cost(qty Amount) Amount {
	// qty is in 1e4 units, p is in 1e2 units; qty*p is in 1e6 units, so
	// divide by 1e2 (PriceScale) to land back in Amount's 1e4 units.
	return Amount(int64(qty) * int64(p) / PriceScale)
}

// Add, Sub, and comparisons are plain int64 ops; Amount/Price are defined
// types specifically so the compiler catches cross-unit arithmetic
// mistakes (adding a Price to an Amount does not type-check).

func (a Amount) Add(b Amount) Amount { return a + b }
func (a Amount) Sub(b Amount) Amount { return a - b }
func (a Amount) Neg() Amount         { return -a }
func (a Amount) IsNegative() bool    { return a < 0 }
func (a Amount) IsPositive() bool    { return a > 0 }
func (a Amount) IsZero() bool        { return a == 0 }

// MinAmount returns the smaller of two Amounts.
func MinAmount(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// WeightedAveragePrice computes the new average price after adding
// addQty shares at addPrice to a position holding oldQty at oldPrice,
// per spec §4.3 "weighted_mean(old avg × old qty, trade_price × fill)".
// Returns 0 if the resulting quantity is zero.
func WeightedAveragePrice(oldQty Amount, oldPrice Price, addQty Amount, addPrice Price) Price {
	newQty := oldQty + addQty
	if newQty <= 0 {
		return 0
	}
	// Work in a common numerator: (oldQty*oldPrice + addQty*addPrice) / newQty
	num := int64(oldQty)*int64(oldPrice) + int64(addQty)*int64(addPrice)
	return Price(num / int64(newQty))
}
