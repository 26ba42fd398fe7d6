// Package ledger is the authoritative persistent store of spec.md §3: users,
// balances, positions, orders, trades, markets, sessions, and the
// append-only OrderEvent log. Models follow the teacher's GORM convention
// (internal/db/models/*.go) of explicit gorm tags over embedding
// gorm.Model, since several of these rows (Balance, Position) are updated
// far more often than they are soft-deleted and explicit primary keys
// (uuids, Position's composite key, OrderEvent's auto-incrementing ID) plus
// explicit timestamps read more honestly for a ledger than GORM's default
// soft-delete semantics.
package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/money"
)

// User is immutable after creation except Role (spec §3).
type User struct {
	ID           uuid.UUID   `gorm:"primaryKey;type:uuid" json:"id"`
	Username     string      `gorm:"type:varchar(64);uniqueIndex" json:"username"`
	PasswordHash string      `gorm:"type:varchar(72)" json:"-"`
	Role         domain.Role `gorm:"type:varchar(16)" json:"role"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Balance is one row per user. available+locked==total is enforced by
// Store, never by the database (spec §3).
type Balance struct {
	UserID    uuid.UUID    `gorm:"primaryKey;type:uuid" json:"user_id"`
	Available money.Amount `gorm:"type:bigint" json:"available"`
	Locked    money.Amount `gorm:"type:bigint" json:"locked"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Total returns available+locked.
func (b Balance) Total() money.Amount { return b.Available + b.Locked }

// Market is identity, question, lifecycle status, and (once RESOLVED) the
// winning outcome (spec §3).
type Market struct {
	ID          uuid.UUID           `gorm:"primaryKey;type:uuid" json:"id"`
	Question    string              `gorm:"type:text" json:"question"`
	Status      domain.MarketStatus `gorm:"type:varchar(16);index" json:"status"`
	Outcome     *domain.Outcome     `gorm:"type:varchar(8)" json:"outcome,omitempty"`
	CloseTime   *time.Time          `json:"close_time,omitempty"`
	ResolveTime *time.Time          `json:"resolve_time,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Order is the authoritative order record; once resting, only Filled and
// Status change (spec §3).
type Order struct {
	ID        uuid.UUID          `gorm:"primaryKey;type:uuid" json:"id"`
	MarketID  uuid.UUID          `gorm:"type:uuid;index" json:"market_id"`
	UserID    uuid.UUID          `gorm:"type:uuid;index" json:"user_id"`
	Side      domain.Side        `gorm:"type:varchar(8)" json:"side"`
	Kind      domain.Kind        `gorm:"type:varchar(8)" json:"kind"`
	Outcome   domain.Outcome     `gorm:"type:varchar(8)" json:"outcome"`
	Price     money.Price        `gorm:"type:bigint" json:"price"`
	Quantity  money.Amount       `gorm:"type:bigint" json:"quantity"`
	Filled    money.Amount       `gorm:"type:bigint" json:"filled"`
	Status    domain.OrderStatus `gorm:"type:varchar(16);index" json:"status"`
	CreatedAt time.Time          `gorm:"index" json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Remaining returns the order's unfilled quantity.
func (o Order) Remaining() money.Amount { return o.Quantity - o.Filled }

// Trade is immutable once created (spec §3). Price is always the resting
// (maker) order's price.
type Trade struct {
	ID          uuid.UUID      `gorm:"primaryKey;type:uuid" json:"id"`
	MarketID    uuid.UUID      `gorm:"type:uuid;index" json:"market_id"`
	Outcome     domain.Outcome `gorm:"type:varchar(8)" json:"outcome"`
	BuyOrderID  uuid.UUID      `gorm:"type:uuid;index" json:"buy_order_id"`
	SellOrderID uuid.UUID      `gorm:"type:uuid;index" json:"sell_order_id"`
	BuyerID     uuid.UUID      `gorm:"type:uuid;index" json:"buyer_id"`
	SellerID    uuid.UUID      `gorm:"type:uuid;index" json:"seller_id"`
	Price       money.Price    `gorm:"type:bigint" json:"price"`
	Quantity    money.Amount   `gorm:"type:bigint" json:"quantity"`
	CreatedAt   time.Time      `gorm:"index" json:"created_at"`
}

// Position is one row per (user, market, outcome) (spec §3).
type Position struct {
	UserID      uuid.UUID      `gorm:"primaryKey;type:uuid" json:"user_id"`
	MarketID    uuid.UUID      `gorm:"primaryKey;type:uuid" json:"market_id"`
	Outcome     domain.Outcome `gorm:"primaryKey;type:varchar(8)" json:"outcome"`
	Quantity    money.Amount   `gorm:"type:bigint" json:"quantity"`
	AveragePrice money.Price   `gorm:"type:bigint" json:"average_price"`
	// Committed is the quantity already reserved against resting SELL
	// orders, tracked separately so a second SELL cannot over-commit
	// shares a first resting SELL already escrowed (spec §4.3 "track
	// committed-per-position").
	Committed money.Amount `gorm:"type:bigint" json:"committed"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Available returns the shares not already committed to a resting sell.
func (p Position) Available() money.Amount { return p.Quantity - p.Committed }

// Session is an opaque-bearer-token record (spec §6 persistence surface
// names a Session table; spec.md leaves its shape unspecified — see
// SPEC_FULL.md's supplemented-features section). Store can create, read
// and revoke sessions; the gateway handshake and REST auth validate JWTs
// (internal/auth) and do not read this table.
type Session struct {
	Token     string    `gorm:"primaryKey;type:varchar(64)" json:"-"`
	UserID    uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// Expired reports whether the session is no longer usable.
func (s Session) Expired(now time.Time) bool { return s.Revoked || now.After(s.ExpiresAt) }

// OrderEvent is the append-only audit/reconciliation log (spec §3). The
// idempotency key is (OrderID, Kind, Sequence); callers must not persist a
// duplicate.
type OrderEvent struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   uuid.UUID       `gorm:"type:uuid;index" json:"order_id"`
	MarketID  uuid.UUID       `gorm:"type:uuid;index" json:"market_id"`
	UserID    uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	Kind      domain.EventKind `gorm:"type:varchar(24);index" json:"kind"`
	Sequence  uint64          `gorm:"index" json:"sequence"`
	Payload   []byte          `gorm:"type:jsonb" json:"payload"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
}

// AllModels lists every GORM-managed type for AutoMigrate (cmd/migrate).
func AllModels() []any {
	return []any{
		&User{}, &Balance{}, &Market{}, &Order{}, &Trade{}, &Position{},
		&Session{}, &OrderEvent{},
	}
}
