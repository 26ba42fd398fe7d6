package book

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCreatesOnceAndIsStable(t *testing.T) {
	r := NewRegistry()
	marketID := uuid.New()

	b1 := r.Acquire(marketID)
	b2 := r.Acquire(marketID)
	assert.Same(t, b1, b2)

	_, ok := r.Lookup(marketID)
	assert.True(t, ok)

	_, ok = r.Lookup(uuid.New())
	assert.False(t, ok)
}

func TestTeardownRemovesBookAndClearsCache(t *testing.T) {
	r := NewRegistry()
	marketID := uuid.New()
	r.Acquire(marketID)
	r.StoreSnapshot(marketID, 10, nil, nil, 5)

	r.Teardown(marketID)

	_, ok := r.Lookup(marketID)
	assert.False(t, ok)
	_, _, _, ok = r.CachedSnapshot(marketID, 10)
	assert.False(t, ok)
}

func TestCachedSnapshotRoundtrip(t *testing.T) {
	r := NewRegistry()
	marketID := uuid.New()

	_, _, _, ok := r.CachedSnapshot(marketID, 10)
	assert.False(t, ok)

	bids := []LevelView{{Price: 40, TotalRemainingQty: 80, OrderCount: 1}}
	r.StoreSnapshot(marketID, 10, bids, nil, 7)

	gotBids, gotAsks, seq, ok := r.CachedSnapshot(marketID, 10)
	require.True(t, ok)
	assert.Equal(t, bids, gotBids)
	assert.Nil(t, gotAsks)
	assert.Equal(t, uint64(7), seq)
}
