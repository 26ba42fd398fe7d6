// Package query holds read-only reporting queries kept off the GORM write
// path, the way the teacher pairs jmoiron/sqlx alongside gorm.io/gorm
// (go.mod requires both) for exactly this split: GORM owns the
// transactional escrow/settlement writes in internal/ledger, sqlx serves
// plain paginated reads that don't need an ORM's change tracking.
package query

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/money"
)

// TradeHistoryRow is one page row of a user's or market's trade history.
type TradeHistoryRow struct {
	ID        string         `db:"id"`
	MarketID  uuid.UUID      `db:"market_id"`
	Outcome   domain.Outcome `db:"outcome"`
	Price     money.Price    `db:"price"`
	Quantity  money.Amount   `db:"quantity"`
	Side      domain.Side    `db:"side"`
	CreatedAt time.Time      `db:"created_at"`
}

// Queries wraps a read-replica-friendly *sqlx.DB. It never opens a
// transaction and never writes. Its only caller is the market-stats
// endpoint in internal/api (TradeHistoryForMarket); GetUserBalance and
// GetUserPositions (spec §6) read through ledger.Store instead.
type Queries struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Queries { return &Queries{db: db} }

// TradeHistoryForUser returns a page of trades touching userID (either
// side), most recent first.
func (q *Queries) TradeHistoryForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]TradeHistoryRow, error) {
	const stmt = `
		SELECT id, market_id, outcome, price, quantity,
		       CASE WHEN buyer_id = $1 THEN 'BUY' ELSE 'SELL' END AS side,
		       created_at
		FROM trades
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	var rows []TradeHistoryRow
	err := q.db.SelectContext(ctx, &rows, stmt, userID, limit, offset)
	return rows, err
}

// TradeHistoryForMarket returns a page of a market's trades, most recent
// first, feeding the read-only market-stats view (SPEC_FULL.md
// supplemented features / internal/stats).
func (q *Queries) TradeHistoryForMarket(ctx context.Context, marketID uuid.UUID, limit, offset int) ([]TradeHistoryRow, error) {
	const stmt = `
		SELECT id, market_id, outcome, price, quantity, '' AS side, created_at
		FROM trades
		WHERE market_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	var rows []TradeHistoryRow
	err := q.db.SelectContext(ctx, &rows, stmt, marketID, limit, offset)
	return rows, err
}
