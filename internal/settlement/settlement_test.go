package settlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/novamarket/predictcore/internal/book"
	"github.com/novamarket/predictcore/internal/broadcast"
	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/engine"
	"github.com/novamarket/predictcore/internal/ledger"
	"github.com/novamarket/predictcore/internal/money"
	"github.com/novamarket/predictcore/internal/settlement"
	"github.com/novamarket/predictcore/internal/testsupport"
)

const starterBalance = money.Amount(1000 * money.AmountScale)

func shares(n int64) money.Amount { return money.Amount(n * money.AmountScale) }

func newHarness(t *testing.T) (*engine.Engine, *settlement.Service, *ledger.Store, *gorm.DB) {
	t.Helper()
	db, err := testsupport.NewSQLiteDB()
	require.NoError(t, err)

	store := ledger.NewStore(db, zap.NewNop(), starterBalance)
	registry := book.NewRegistry()
	bus := broadcast.NewGoChannelBus(zap.NewNop())

	cfg := engine.DefaultConfig()
	cfg.TickSize = 1
	cfg.MinOrderQuantity = money.Amount(1)
	eng := engine.New(cfg, registry, store, bus, zap.NewNop())

	settle, err := settlement.New(store, registry, bus, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(settle.Close)

	return eng, settle, store, db
}

func newOpenMarket(t *testing.T, db *gorm.DB) uuid.UUID {
	t.Helper()
	marketID := uuid.New()
	require.NoError(t, db.Create(&ledger.Market{
		ID: marketID, Question: "will it happen", Status: domain.MarketOpen, CreatedAt: time.Now(),
	}).Error)
	return marketID
}

// TestResolveMarketPaysWinnersAndClearsBook covers S5: OPEN -> CLOSED ->
// RESOLVED(YES) cancels the still-resting order with escrow released, pays
// the winning YES holder $1.00/share, zeroes both positions, and records a
// MARKET_RESOLVED event.
func TestResolveMarketPaysWinnersAndClearsBook(t *testing.T) {
	eng, settle, store, db := newHarness(t)
	marketID := newOpenMarket(t, db)
	ctx := context.Background()
	userA, userB := uuid.New(), uuid.New()

	_, err := eng.SubmitOrder(ctx, engine.OrderIntent{
		MarketID: marketID, UserID: userA, Side: domain.Buy, Kind: domain.Limit,
		Outcome: domain.YES, Price: 40, Quantity: shares(80),
	})
	require.NoError(t, err)

	_, err = eng.SubmitOrder(ctx, engine.OrderIntent{
		MarketID: marketID, UserID: userB, Side: domain.Buy, Kind: domain.Limit,
		Outcome: domain.NO, Price: 65, Quantity: shares(60),
	})
	require.NoError(t, err)

	// userA still has 20 shares resting @0.40 (8.00 locked) and a 60-share
	// YES position; userB holds the complementary 60-share NO position.

	require.NoError(t, settle.CloseMarket(ctx, marketID))

	m, err := store.GetMarket(db, marketID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketClosed, m.Status)

	require.NoError(t, settle.ResolveMarket(ctx, marketID, domain.YES))

	m, err = store.GetMarket(db, marketID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketResolved, m.Status)
	require.NotNil(t, m.Outcome)
	assert.Equal(t, domain.YES, *m.Outcome)

	balA, err := store.BalanceView(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), balA.Locked)
	// 1000 - 32 (reserved for 80@0.40) + 8 (resolution release of the
	// unfilled 20) + 60 (payout on the winning 60-share YES position).
	assert.Equal(t, starterBalance-money.Amount(32*money.AmountScale)+money.Amount(8*money.AmountScale)+money.Amount(60*money.AmountScale), balA.Available)

	positionsA, err := store.PositionsView(ctx, userA)
	require.NoError(t, err)
	require.Len(t, positionsA, 1)
	assert.Equal(t, money.Amount(0), positionsA[0].Quantity)
	assert.Equal(t, money.Amount(0), positionsA[0].Committed)
	assert.Equal(t, money.Price(0), positionsA[0].AveragePrice)

	balB, err := store.BalanceView(ctx, userB)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), balB.Locked)
	// userB's NO position lost; no payout beyond the price-improvement
	// refund it already received when the trade executed.
	assert.Equal(t, starterBalance-money.Amount(36*money.AmountScale), balB.Available)

	positionsB, err := store.PositionsView(ctx, userB)
	require.NoError(t, err)
	require.Len(t, positionsB, 1)
	assert.Equal(t, money.Amount(0), positionsB[0].Quantity)

	events, err := store.Events().SinceSequence(ctx, marketID, 0)
	require.NoError(t, err)
	var sawResolved bool
	for _, ev := range events {
		if ev.Kind == domain.EventMarketResolved {
			sawResolved = true
		}
	}
	assert.True(t, sawResolved)
}

// TestCloseMarketRejectsDoubleClose ensures CloseMarket is only valid from
// OPEN, matching the MARKET_NOT_OPEN guard spec'd for every lifecycle
// transition.
func TestCloseMarketRejectsDoubleClose(t *testing.T) {
	_, settle, _, db := newHarness(t)
	marketID := newOpenMarket(t, db)
	ctx := context.Background()

	require.NoError(t, settle.CloseMarket(ctx, marketID))
	err := settle.CloseMarket(ctx, marketID)
	require.Error(t, err)
}
