package engine_test

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
	"github.com/novamarket/predictcore/internal/testsupport"
	"github.com/novamarket/predictcore/internal/xerrors"
)

const starterBalance = money.Amount(1000 * money.AmountScale)

func newTestEngine(t *testing.T) (*engine.Engine, *ledger.Store, *gorm.DB) {
	t.Helper()
	db, err := testsupport.NewSQLiteDB()
	require.NoError(t, err)

	store := ledger.NewStore(db, zap.NewNop(), starterBalance)
	registry := book.NewRegistry()
	bus := broadcast.NewGoChannelBus(zap.NewNop())

	cfg := engine.DefaultConfig()
	cfg.TickSize = 1
	cfg.MinOrderQuantity = money.Amount(1)

	return engine.New(cfg, registry, store, bus, zap.NewNop()), store, db
}

func newOpenMarket(t *testing.T, db *gorm.DB) uuid.UUID {
	t.Helper()
	marketID := uuid.New()
	require.NoError(t, db.Create(&ledger.Market{
		ID: marketID, Question: "will it happen", Status: domain.MarketOpen, CreatedAt: time.Now(),
	}).Error)
	return marketID
}

func shares(n int64) money.Amount { return money.Amount(n * money.AmountScale) }

// TestEmptyBookCrossesAtMakerPrice covers S1: an empty book, a resting BUY
// YES @0.40x80, then a BUY NO @0.65x60 admitted as SELL YES @0.35x60 that
// crosses at the maker's price (0.40) for 60 shares, leaving 20 resting.
func TestEmptyBookCrossesAtMakerPrice(t *testing.T) {
	eng, store, db := newTestEngine(t)
	marketID := newOpenMarket(t, db)
	ctx := context.Background()
	userA, userB := uuid.New(), uuid.New()

	restA, err := eng.SubmitOrder(ctx, engine.OrderIntent{
		MarketID: marketID, UserID: userA, Side: domain.Buy, Kind: domain.Limit,
		Outcome: domain.YES, Price: 40, Quantity: shares(80),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, restA.Order.Status)
	assert.Empty(t, restA.Trades)

	resB, err := eng.SubmitOrder(ctx, engine.OrderIntent{
		MarketID: marketID, UserID: userB, Side: domain.Buy, Kind: domain.Limit,
		Outcome: domain.NO, Price: 65, Quantity: shares(60),
	})
	require.NoError(t, err)
	require.Len(t, resB.Trades, 1)
	trade := resB.Trades[0]
	assert.Equal(t, money.Price(40), trade.Price)
	assert.Equal(t, shares(60), trade.Quantity)
	assert.Equal(t, domain.StatusFilled, resB.Order.Status)

	snap := eng.Snapshot(marketID, 10)
	require.Len(t, snap.YESBids, 1)
	assert.Equal(t, money.Price(40), snap.YESBids[0].Price)
	assert.Equal(t, shares(20), snap.YESBids[0].TotalRemainingQty)

	balA, err := store.BalanceView(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, starterBalance-money.Amount(32*money.AmountScale), balA.Available) // the full $32 reservation for 80 shares @0.40
	assert.Equal(t, money.Amount(8*money.AmountScale), balA.Locked)                    // 20 shares still reserved @0.40

	balB, err := store.BalanceView(ctx, userB)
	require.NoError(t, err)
	// Spent $0.60/share * 60 shares = $36 after the $3 price-improvement refund.
	assert.Equal(t, starterBalance-money.Amount(36*money.AmountScale), balB.Available)
	assert.Equal(t, money.Amount(0), balB.Locked)

	positions, err := store.PositionsView(ctx, userA)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, shares(60), positions[0].Quantity)
	assert.Equal(t, money.Price(40), positions[0].AveragePrice)
}

// TestMidQuoteDriftWithoutCrossing covers S2: a bid at 0.44 and an ask at
// 0.50 never cross, and the implied probability sits at their mid, 0.47.
func TestMidQuoteDriftWithoutCrossing(t *testing.T) {
	eng, _, db := newTestEngine(t)
	marketID := newOpenMarket(t, db)
	ctx := context.Background()
	userA, userB := uuid.New(), uuid.New()

	// userB needs a standing YES position before it can rest a SELL.
	require.NoError(t, db.Create(&ledger.Position{
		UserID: userB, MarketID: marketID, Outcome: domain.YES,
		Quantity: shares(100), Committed: 0, UpdatedAt: time.Now(),
	}).Error)

	resA, err := eng.SubmitOrder(ctx, engine.OrderIntent{
		MarketID: marketID, UserID: userA, Side: domain.Buy, Kind: domain.Limit,
		Outcome: domain.YES, Price: 44, Quantity: shares(40),
	})
	require.NoError(t, err)
	assert.Empty(t, resA.Trades)

	resB, err := eng.SubmitOrder(ctx, engine.OrderIntent{
		MarketID: marketID, UserID: userB, Side: domain.Sell, Kind: domain.Limit,
		Outcome: domain.YES, Price: 50, Quantity: shares(60),
	})
	require.NoError(t, err)
	assert.Empty(t, resB.Trades)

	snap := eng.Snapshot(marketID, 10)
	require.Len(t, snap.YESBids, 1)
	require.Len(t, snap.YESAsks, 1)
	assert.Equal(t, money.Price(44), snap.YESBids[0].Price)
	assert.Equal(t, money.Price(50), snap.YESAsks[0].Price)
	assert.Equal(t, money.Price(47), snap.ImpliedP)
}

// TestCancelReleasesEscrowAndIsIdempotent continues S1 into S3: cancelling
// the remaining 20 shares resting at 0.40 releases their $8 escrow, and
// cancelling the same order again returns its CANCELLED state without
// releasing anything a second time.
func TestCancelReleasesEscrowAndIsIdempotent(t *testing.T) {
	eng, store, db := newTestEngine(t)
	marketID := newOpenMarket(t, db)
	ctx := context.Background()
	userA, userB := uuid.New(), uuid.New()

	restA, err := eng.SubmitOrder(ctx, engine.OrderIntent{
		MarketID: marketID, UserID: userA, Side: domain.Buy, Kind: domain.Limit,
		Outcome: domain.YES, Price: 40, Quantity: shares(80),
	})
	require.NoError(t, err)

	_, err = eng.SubmitOrder(ctx, engine.OrderIntent{
		MarketID: marketID, UserID: userB, Side: domain.Buy, Kind: domain.Limit,
		Outcome: domain.NO, Price: 65, Quantity: shares(60),
	})
	require.NoError(t, err)

	cancelRes, err := eng.CancelOrder(ctx, marketID, restA.Order.OrderID, userA)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelRes.Order.Status)
	assert.Equal(t, domain.CancelReasonUser, cancelRes.Order.CancelReason)

	balA, err := store.BalanceView(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), balA.Locked)
	assert.Equal(t, starterBalance-money.Amount(24*money.AmountScale), balA.Available) // only the 60 filled shares ever cost money

	again, err := eng.CancelOrder(ctx, marketID, restA.Order.OrderID, userA)
	require.NoError(t, err)
	assert.Equal(t, restA.Order.OrderID, again.Order.OrderID)
	assert.Equal(t, domain.StatusCancelled, again.Order.Status)

	balAAfter, err := store.BalanceView(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, balA, balAAfter) // the repeated cancel must not touch the balance again
}

// TestInsufficientBalanceRejectsOrder covers S4: an order sized far beyond
// the user's funds is rejected outright, with nothing persisted except a
// REJECTED audit entry scoped to the user.
func TestInsufficientBalanceRejectsOrder(t *testing.T) {
	eng, store, db := newTestEngine(t)
	marketID := newOpenMarket(t, db)
	ctx := context.Background()
	userA := uuid.New()

	_, err := eng.SubmitOrder(ctx, engine.OrderIntent{
		MarketID: marketID, UserID: userA, Side: domain.Buy, Kind: domain.Limit,
		Outcome: domain.YES, Price: 50, Quantity: shares(100000),
	})
	require.Error(t, err)
	code, ok := xerrors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, xerrors.CodeInsufficientBalance, code)

	bal, err := store.BalanceView(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, starterBalance, bal.Available)
	assert.Equal(t, money.Amount(0), bal.Locked)

	snap := eng.Snapshot(marketID, 10)
	assert.Empty(t, snap.YESBids)

	events, err := store.Events().SinceSequence(ctx, marketID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventRejected, events[0].Kind)
	assert.Equal(t, userA, events[0].UserID)
}

// TestSelfTradePrevented covers S6: a resting SELL YES and a new BUY YES
// from the same user must not cross, and both escrows stay held.
func TestSelfTradePrevented(t *testing.T) {
	eng, store, db := newTestEngine(t)
	marketID := newOpenMarket(t, db)
	ctx := context.Background()
	userA := uuid.New()

	require.NoError(t, db.Create(&ledger.Position{
		UserID: userA, MarketID: marketID, Outcome: domain.YES,
		Quantity: shares(100), Committed: 0, UpdatedAt: time.Now(),
	}).Error)

	sellRes, err := eng.SubmitOrder(ctx, engine.OrderIntent{
		MarketID: marketID, UserID: userA, Side: domain.Sell, Kind: domain.Limit,
		Outcome: domain.YES, Price: 60, Quantity: shares(50),
	})
	require.NoError(t, err)
	assert.Empty(t, sellRes.Trades)

	buyRes, err := eng.SubmitOrder(ctx, engine.OrderIntent{
		MarketID: marketID, UserID: userA, Side: domain.Buy, Kind: domain.Limit,
		Outcome: domain.YES, Price: 65, Quantity: shares(50),
	})
	require.NoError(t, err)
	assert.Empty(t, buyRes.Trades)

	var sawSelfTrade bool
	for _, ev := range buyRes.Events {
		if ev.Kind == domain.EventSelfTradePrevented {
			sawSelfTrade = true
		}
	}
	assert.True(t, sawSelfTrade)

	snap := eng.Snapshot(marketID, 10)
	require.Len(t, snap.YESAsks, 1)
	require.Len(t, snap.YESBids, 1)
	assert.Equal(t, money.Price(60), snap.YESAsks[0].Price)
	assert.Equal(t, money.Price(65), snap.YESBids[0].Price)

	pos, err := store.PositionsView(ctx, userA)
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, shares(50), pos[0].Committed) // the resting sell still holds 50 shares in escrow

	bal, err := store.BalanceView(ctx, userA)
	require.NoError(t, err)
	assert.Equal(t, money.Price(65).Cost(shares(50)), bal.Locked) // the resting buy still holds its full $32.50 escrow
}
