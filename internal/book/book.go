// Package book implements the per-market YES-price-space order book (spec
// §4.2): two price-ordered collections of FIFO price levels, O(log n)
// best-of access through the btree's Min, and order removal that finds the
// order's level in O(log n) and unlinks the order from that level's FIFO
// list in O(1) via a back-pointer. Ordered iteration over price levels is backed by github.com/tidwall/btree, the
// same ordered-map library saiputravu-Exchange (internal/book/order_book.go
// in that example repo) uses for its bid/ask sides; tradSys itself reaches
// for container/heap per order (pkg/matching/engine_types.go's OrderHeap),
// which cannot give the FIFO-per-level aggregation spec §4.2 requires
// without an extra index, so this package composes btree-of-levels with the
// teacher's RWMutex-guarded-book idiom instead.
package book

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/novamarket/predictcore/internal/money"
)

// Book is one market's YES-denominated order book. A binary market has
// exactly one Book; NO-side intents are translated to YES-equivalent orders
// before they ever reach it (internal/priceconv, internal/engine).
type Book struct {
	MarketID uuid.UUID

	mu   sync.RWMutex
	bids *btree.BTreeG[*PriceLevel] // descending price
	asks *btree.BTreeG[*PriceLevel] // ascending price

	orders map[uuid.UUID]*RestingOrder

	// sequence is the per-market monotonic counter, incremented for every
	// OrderEvent appended against this market and once more after each
	// successful matching-engine commit (spec §4.3 "snapshot(market_id) ->
	// sequence").
	// It is intentionally NOT guarded by mu: the matching engine appends
	// OrderEvents (which call NextSequence) from inside the WalkAsks/WalkBids
	// scan callback, which already holds mu for reading; sharing mu for the
	// counter too would make that a same-goroutine RLock-then-Lock
	// self-deadlock (sync.RWMutex is not reentrant/upgradable). atomic gives
	// NextSequence/Sequence a consistent count without taking mu at all.
	sequence atomic.Uint64

	lastTrade *money.Price
}

func New(marketID uuid.UUID) *Book {
	return &Book{
		MarketID: marketID,
		bids: btree.NewBTreeG[*PriceLevel](func(a, b *PriceLevel) bool {
			return a.Price > b.Price // descending
		}),
		asks: btree.NewBTreeG[*PriceLevel](func(a, b *PriceLevel) bool {
			return a.Price < b.Price // ascending
		}),
		orders: make(map[uuid.UUID]*RestingOrder),
	}
}

func (b *Book) sideTree(side Side) *btree.BTreeG[*PriceLevel] {
	if side == SideBid {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting order to the tail of its price level, creating the
// level if necessary (spec §4.2 insert()). Caller holds the matching
// engine's per-market serialization; Insert itself also takes Book's lock
// so read-only snapshot callers never observe a torn level.
func (b *Book) Insert(side Side, orderID, userID uuid.UUID, price money.Price, quantity, filled money.Amount, createdAt time.Time) *RestingOrder {
	b.mu.Lock()
	defer b.mu.Unlock()

	o := &RestingOrder{
		OrderID:   orderID,
		UserID:    userID,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Filled:    filled,
		CreatedAt: createdAt,
	}
	tree := b.sideTree(side)
	level, ok := tree.Get(&PriceLevel{Price: price})
	if !ok {
		level = newPriceLevel(price)
		tree.Set(level)
	}
	level.pushBack(o)
	b.orders[orderID] = o
	return o
}

// Remove drops an order from the book regardless of fill state, releasing
// its level if it becomes empty (spec §4.2 remove()).
func (b *Book) Remove(orderID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(orderID)
}

func (b *Book) removeLocked(orderID uuid.UUID) {
	o, ok := b.orders[orderID]
	if !ok {
		return
	}
	tree := b.sideTree(o.Side)
	level, ok := tree.Get(&PriceLevel{Price: o.Price})
	if ok {
		level.remove(o)
		if level.Empty() {
			tree.Delete(&PriceLevel{Price: o.Price})
		}
	}
	delete(b.orders, orderID)
}

// Order looks up a resting order by id.
func (b *Book) Order(orderID uuid.UUID) (*RestingOrder, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[orderID]
	return o, ok
}

// BestBid and BestAsk return the best price level on each side, spec §4.2
// best_bid()/best_ask(), both O(log n): the btree's Min walks down to the
// tree's leftmost leaf.
func (b *Book) BestBid() (*PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Min()
}

func (b *Book) BestAsk() (*PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.Min()
}

// WalkAsks calls fn for each ask level in ascending price order starting
// from the best, stopping early if fn returns false. Used by the matching
// engine to cross an incoming buy (spec §4.3 step 2).
func (b *Book) WalkAsks(fn func(level *PriceLevel) (cont bool)) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.asks.Scan(func(level *PriceLevel) bool { return fn(level) })
}

// WalkBids calls fn for each bid level in descending price order.
func (b *Book) WalkBids(fn func(level *PriceLevel) (cont bool)) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	b.bids.Scan(func(level *PriceLevel) bool { return fn(level) })
}

// RecordFill updates an order's filled quantity and its level's cached
// remaining aggregate; it does not remove the order even if fully filled —
// callers remove terminal orders explicitly via Remove so the removal and
// the ledger commit stay in the same matching-engine transaction.
func (b *Book) RecordFill(o *RestingOrder, fillQty money.Amount) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o.Filled += fillQty
	tree := b.sideTree(o.Side)
	if level, ok := tree.Get(&PriceLevel{Price: o.Price}); ok {
		level.recordFill(fillQty)
	}
}

// NextSequence increments and returns the book's per-market sequence
// counter; called for every OrderEvent the matching engine or settlement
// appends and once more after each successful matching-engine commit
// (spec §4.3, §5). Safe to call while the caller already holds mu (e.g.
// from within a WalkAsks/WalkBids scan) since it never touches mu itself.
func (b *Book) NextSequence() uint64 {
	return b.sequence.Add(1)
}

// Sequence returns the current counter value without incrementing it.
func (b *Book) Sequence() uint64 {
	return b.sequence.Load()
}

// SetLastTrade records the most recent trade price for implied-probability
// purposes (internal/priceconv.ImpliedProbability).
func (b *Book) SetLastTrade(p money.Price) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTrade = &p
}

// LastTrade returns the last recorded trade price, if any.
func (b *Book) LastTrade() *money.Price {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastTrade
}

// LevelView is an immutable snapshot row for one price level.
type LevelView struct {
	Price             money.Price `json:"price"`
	TotalRemainingQty money.Amount `json:"total_remaining_quantity"`
	OrderCount        int          `json:"order_count"`
}

// Snapshot aggregates the top depth levels of both sides (spec §4.2
// snapshot(depth d)), plus the current sequence for gap detection by
// subscribers (spec §4.5).
func (b *Book) Snapshot(depth int) (bids, asks []LevelView, sequence uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.bids.Scan(func(l *PriceLevel) bool {
		if len(bids) >= depth {
			return false
		}
		bids = append(bids, LevelView{Price: l.Price, TotalRemainingQty: l.Remaining(), OrderCount: l.OrderCount()})
		return true
	})
	b.asks.Scan(func(l *PriceLevel) bool {
		if len(asks) >= depth {
			return false
		}
		asks = append(asks, LevelView{Price: l.Price, TotalRemainingQty: l.Remaining(), OrderCount: l.OrderCount()})
		return true
	})
	return bids, asks, b.sequence.Load()
}
