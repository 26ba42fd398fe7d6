package book

import (
	"container/list"
	"time"

	"github.com/google/uuid"

	"github.com/novamarket/predictcore/internal/money"
)

// RestingOrder is the book's lightweight reference to a live order (spec §3
// "the Order Book holds references to live orders"; the Ledger owns the
// authoritative record). Only Filled mutates after admission.
type RestingOrder struct {
	OrderID   uuid.UUID
	UserID    uuid.UUID
	Side      Side
	Price     money.Price
	Quantity  money.Amount
	Filled    money.Amount
	CreatedAt time.Time

	// elem is the order's node in its PriceLevel queue, giving O(1) removal
	// (spec §4.2 "O(1) given a back-pointer from the order record").
	elem *list.Element
}

// Remaining returns the order's unfilled quantity.
func (o *RestingOrder) Remaining() money.Amount { return o.Quantity - o.Filled }

// Side mirrors domain.Side without importing domain, keeping this package
// free of the wider ledger/engine dependency graph (it is a pure data
// structure library, the way the teacher keeps pkg/matching's OrderHeap
// free of persistence concerns).
type Side string

const (
	SideBid Side = "BID" // resting buy side of the YES book
	SideAsk Side = "ASK" // resting sell side of the YES book
)

// PriceLevel is the FIFO queue of resting orders sharing one (side, price)
// (spec §4.2). Orders are appended at the tail and matched from the head.
type PriceLevel struct {
	Price     money.Price
	orders    *list.List
	remaining money.Amount
}

func newPriceLevel(price money.Price) *PriceLevel {
	return &PriceLevel{Price: price, orders: list.New()}
}

// Empty reports whether the level has no resting orders left.
func (l *PriceLevel) Empty() bool { return l.orders.Len() == 0 }

// Remaining returns the level's aggregated remaining quantity (spec §4.2:
// "Aggregated quantity at a level counts only quantity-filled").
func (l *PriceLevel) Remaining() money.Amount { return l.remaining }

// OrderCount returns the number of resting orders at this level.
func (l *PriceLevel) OrderCount() int { return l.orders.Len() }

func (l *PriceLevel) pushBack(o *RestingOrder) {
	o.elem = l.orders.PushBack(o)
	l.remaining += o.Remaining()
}

func (l *PriceLevel) remove(o *RestingOrder) {
	if o.elem == nil {
		return
	}
	l.orders.Remove(o.elem)
	o.elem = nil
	l.remaining -= o.Remaining()
	if l.remaining < 0 {
		l.remaining = 0
	}
}

// front returns the oldest resting order at this level, or nil if empty.
func (l *PriceLevel) front() *RestingOrder {
	e := l.orders.Front()
	if e == nil {
		return nil
	}
	return e.Value.(*RestingOrder)
}

// Orders returns a point-in-time, front-to-back snapshot of this level's
// resting orders. The matching engine uses this (rather than Front alone)
// so self-trade prevention can skip one order and continue matching
// against the next one in FIFO order at the same price (spec §4.3
// "self-trade prevention... MUST NOT halt matching against the rest of
// the book").
func (l *PriceLevel) Orders() []*RestingOrder {
	out := make([]*RestingOrder, 0, l.orders.Len())
	for e := l.orders.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*RestingOrder))
	}
	return out
}

// recordFill decrements the level's cached remaining quantity by fillQty
// after the caller has updated order.Filled directly; keeps the aggregate
// in sync without rescanning the queue on every match.
func (l *PriceLevel) recordFill(fillQty money.Amount) {
	l.remaining -= fillQty
	if l.remaining < 0 {
		l.remaining = 0
	}
}
