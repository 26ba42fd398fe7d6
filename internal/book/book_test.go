package book

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novamarket/predictcore/internal/money"
)

func TestInsertAndBestOfBook(t *testing.T) {
	b := New(uuid.New())

	o1 := b.Insert(SideBid, uuid.New(), uuid.New(), 40, money.Amount(80), 0, time.Now())
	require.NotNil(t, o1)
	b.Insert(SideBid, uuid.New(), uuid.New(), 35, money.Amount(20), 0, time.Now())
	b.Insert(SideAsk, uuid.New(), uuid.New(), 60, money.Amount(30), 0, time.Now())

	bestBid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, money.Price(40), bestBid.Price)

	bestAsk, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, money.Price(60), bestAsk.Price)
}

func TestFIFOWithinLevel(t *testing.T) {
	b := New(uuid.New())
	id1 := uuid.New()
	id2 := uuid.New()
	b.Insert(SideBid, id1, uuid.New(), 40, money.Amount(10), 0, time.Now())
	b.Insert(SideBid, id2, uuid.New(), 40, money.Amount(10), 0, time.Now())

	level, ok := b.BestBid()
	require.True(t, ok)
	orders := level.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, id1, orders[0].OrderID)
	assert.Equal(t, id2, orders[1].OrderID)
}

func TestRemoveClearsEmptyLevel(t *testing.T) {
	b := New(uuid.New())
	id := uuid.New()
	b.Insert(SideAsk, id, uuid.New(), 55, money.Amount(5), 0, time.Now())
	b.Remove(id)

	_, ok := b.BestAsk()
	assert.False(t, ok)
	_, ok = b.Order(id)
	assert.False(t, ok)
}

func TestSnapshotAggregatesRemainingQuantity(t *testing.T) {
	b := New(uuid.New())
	b.Insert(SideBid, uuid.New(), uuid.New(), 40, money.Amount(80), money.Amount(20), time.Now())
	b.Insert(SideBid, uuid.New(), uuid.New(), 40, money.Amount(40), 0, time.Now())

	bids, _, seq := b.Snapshot(10)
	require.Len(t, bids, 1)
	assert.Equal(t, money.Amount(100), bids[0].TotalRemainingQty) // (80-20) + 40
	assert.Equal(t, 2, bids[0].OrderCount)
	assert.Equal(t, uint64(0), seq)
}

func TestNextSequenceMonotonic(t *testing.T) {
	b := New(uuid.New())
	assert.Equal(t, uint64(1), b.NextSequence())
	assert.Equal(t, uint64(2), b.NextSequence())
}

func TestLastTrade(t *testing.T) {
	b := New(uuid.New())
	assert.Nil(t, b.LastTrade())
	b.SetLastTrade(42)
	require.NotNil(t, b.LastTrade())
	assert.Equal(t, money.Price(42), *b.LastTrade())
}
