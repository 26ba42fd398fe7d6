package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/money"
)

// OrderIntent is a well-formed order request admitted to submit() (spec
// §4.3). Price is ignored for Kind==domain.Market.
type OrderIntent struct {
	MarketID uuid.UUID
	UserID   uuid.UUID
	Side     domain.Side
	Kind     domain.Kind
	Outcome  domain.Outcome
	Price    money.Price
	Quantity money.Amount
	// IdempotencyKey lets a retried client-originated submission after a
	// transport timeout be recognized as the same command (spec §5
	// "idempotency keys on command submission allow safe retries").
	IdempotencyKey string
}

// OrderState is the public view of an order after a command completes.
type OrderState struct {
	OrderID      uuid.UUID
	MarketID     uuid.UUID
	UserID       uuid.UUID
	Side         domain.Side
	Kind         domain.Kind
	Outcome      domain.Outcome
	Price        money.Price
	Quantity     money.Amount
	Filled       money.Amount
	Status       domain.OrderStatus
	CancelReason domain.CancelReason
	CreatedAt    time.Time
}

// TradeResult is one executed trade produced by a command.
type TradeResult struct {
	TradeID     uuid.UUID
	MarketID    uuid.UUID
	Outcome     domain.Outcome
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	Price       money.Price
	Quantity    money.Amount
	CreatedAt   time.Time
}

// EventRecord describes an event a command reports back to its caller.
// SubmissionResult.Events carries a submission's SELF_TRADE_PREVENTED
// records; these are not written to the OrderEvent log, and the rows that
// are written there (CREATED, TRADE, fills, CANCELLED) are not returned here.
type EventRecord struct {
	OrderID  uuid.UUID
	MarketID uuid.UUID
	UserID   uuid.UUID
	Kind     domain.EventKind
	Sequence uint64
	Data     any
}

// SubmissionResult is submit()'s return value (spec §4.3).
type SubmissionResult struct {
	Order  OrderState
	Trades []TradeResult
	Events []EventRecord
}

// CancellationResult is cancel()'s return value.
type CancellationResult struct {
	Order  OrderState
	Events []EventRecord
}

// Snapshot is snapshot(market_id)'s return value, aggregated over both
// outcomes (spec §4.3).
type Snapshot struct {
	MarketID  uuid.UUID
	YESBids   []LevelView
	YESAsks   []LevelView
	Sequence  uint64
	ImpliedP  money.Price
}

// LevelView mirrors book.LevelView so callers outside internal/book don't
// need to import it directly.
type LevelView struct {
	Price             money.Price
	TotalRemainingQty money.Amount
	OrderCount        int
}
