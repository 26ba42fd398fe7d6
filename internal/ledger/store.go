package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/money"
	"github.com/novamarket/predictcore/internal/xerrors"
)

// Store is the transactional gateway onto the GORM-backed tables: every
// escrow reservation, fill application, and settlement payout goes through
// here inside one GORM transaction, run at the database's default isolation
// level and without explicit row locks. A
// sony/gobreaker circuit wraps transaction execution the way the teacher's
// internal/architecture/circuit_breaker.go wraps outbound calls, tripping
// open (surfacing LEDGER_CONFLICT, spec §7) after five consecutive failed
// transactions instead of hammering a struggling database.
type Store struct {
	db        *gorm.DB
	events    *EventLog
	logger    *zap.Logger
	breaker   *gobreaker.CircuitBreaker
	starterAt money.Amount
}

func NewStore(db *gorm.DB, logger *zap.Logger, starterBalance money.Amount) *Store {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-commit",
		MaxRequests: 8,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Store{
		db:        db,
		events:    NewEventLog(db),
		logger:    logger,
		breaker:   cb,
		starterAt: starterBalance,
	}
}

// Events exposes the OrderEvent log for reconciliation callers.
func (s *Store) Events() *EventLog { return s.events }

// Tx runs fn inside a GORM transaction (default isolation level) through the circuit
// breaker, translating a tripped breaker or rollback into
// xerrors.CodeLedgerConflict (spec §7 "Transient infrastructure
// (retriable): LEDGER_CONFLICT").
func (s *Store) Tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(tx)
		})
		return nil, txErr
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return xerrors.Newf(xerrors.CodeLedgerConflict, "ledger unavailable, retry")
	}
	var xerr *xerrors.Error
	if errors.As(err, &xerr) {
		return xerr
	}
	return xerrors.Wrap(xerrors.CodeLedgerConflict, err)
}

// GetOrCreateBalance returns userID's balance, granting the configured
// starter balance on first creation (spec §9 "Starter balance... is a
// configuration parameter; the core must not hardcode it").
func (s *Store) GetOrCreateBalance(tx *gorm.DB, userID uuid.UUID) (Balance, error) {
	var bal Balance
	err := tx.First(&bal, "user_id = ?", userID).Error
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Balance{}, err
	}
	bal = Balance{UserID: userID, Available: s.starterAt, Locked: 0, UpdatedAt: time.Now()}
	if err := tx.Create(&bal).Error; err != nil {
		return Balance{}, err
	}
	return bal, nil
}

// ReserveFunds moves amount from available to locked, failing with
// INSUFFICIENT_BALANCE if available is short (spec §4.3 step 1).
func (s *Store) ReserveFunds(tx *gorm.DB, userID uuid.UUID, amount money.Amount) error {
	bal, err := s.GetOrCreateBalance(tx, userID)
	if err != nil {
		return err
	}
	if bal.Available < amount {
		return xerrors.New(xerrors.CodeInsufficientBalance)
	}
	return tx.Model(&Balance{}).Where("user_id = ?", userID).
		Updates(map[string]any{
			"available":  bal.Available - amount,
			"locked":     bal.Locked + amount,
			"updated_at": time.Now(),
		}).Error
}

// ReleaseFunds moves amount back from locked to available (cancellation,
// price-improvement refund, or resting-remainder release).
func (s *Store) ReleaseFunds(tx *gorm.DB, userID uuid.UUID, amount money.Amount) error {
	if amount == 0 {
		return nil
	}
	var bal Balance
	if err := tx.First(&bal, "user_id = ?", userID).Error; err != nil {
		return err
	}
	locked := bal.Locked - amount
	if locked < 0 {
		locked = 0 // clamp: rounding never underflows by more than a unit
	}
	return tx.Model(&Balance{}).Where("user_id = ?", userID).
		Updates(map[string]any{
			"available":  bal.Available + amount,
			"locked":     locked,
			"updated_at": time.Now(),
		}).Error
}

// SettleBuyerLock consumes reservedCost out of a buyer's locked funds on a
// fill, refunding the unspent portion (reservedCost-actualCost) straight to
// available (spec §9 resolved open question: "the taker's lock is taken at
// the order's limit price; any difference between that lock and the
// actual (better) execution price is refunded to available on fill").
func (s *Store) SettleBuyerLock(tx *gorm.DB, userID uuid.UUID, reservedCost, actualCost money.Amount) error {
	refund := reservedCost - actualCost
	if refund < 0 {
		refund = 0
	}
	var bal Balance
	if err := tx.First(&bal, "user_id = ?", userID).Error; err != nil {
		return err
	}
	locked := bal.Locked - reservedCost
	if locked < 0 {
		locked = 0
	}
	return tx.Model(&Balance{}).Where("user_id = ?", userID).
		Updates(map[string]any{
			"available":  bal.Available + refund,
			"locked":     locked,
			"updated_at": time.Now(),
		}).Error
}

// CreditAvailable adds amount straight to available without touching
// locked (seller proceeds, settlement payout).
func (s *Store) CreditAvailable(tx *gorm.DB, userID uuid.UUID, amount money.Amount) error {
	bal, err := s.GetOrCreateBalance(tx, userID)
	if err != nil {
		return err
	}
	return tx.Model(&Balance{}).Where("user_id = ?", userID).
		Updates(map[string]any{
			"available":  bal.Available + amount,
			"updated_at": time.Now(),
		}).Error
}

// GetOrCreatePosition returns the user's position row for (market, outcome).
func (s *Store) GetOrCreatePosition(tx *gorm.DB, userID, marketID uuid.UUID, outcome domain.Outcome) (Position, error) {
	var pos Position
	err := tx.First(&pos, "user_id = ? AND market_id = ? AND outcome = ?", userID, marketID, outcome).Error
	if err == nil {
		return pos, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Position{}, err
	}
	pos = Position{UserID: userID, MarketID: marketID, Outcome: outcome, UpdatedAt: time.Now()}
	if err := tx.Create(&pos).Error; err != nil {
		return Position{}, err
	}
	return pos, nil
}

// CommitShares reserves qty shares of the user's position against a new
// resting SELL order, failing with INSUFFICIENT_SHARES if the
// not-yet-committed balance is short (spec §4.3 SELL step 1).
func (s *Store) CommitShares(tx *gorm.DB, userID, marketID uuid.UUID, outcome domain.Outcome, qty money.Amount) error {
	pos, err := s.GetOrCreatePosition(tx, userID, marketID, outcome)
	if err != nil {
		return err
	}
	if pos.Available() < qty {
		return xerrors.New(xerrors.CodeInsufficientShares)
	}
	return tx.Model(&Position{}).
		Where("user_id = ? AND market_id = ? AND outcome = ?", userID, marketID, outcome).
		Updates(map[string]any{"committed": pos.Committed + qty, "updated_at": time.Now()}).Error
}

// ReleaseCommittedShares gives back qty shares of committed escrow
// (cancellation of a resting SELL).
func (s *Store) ReleaseCommittedShares(tx *gorm.DB, userID, marketID uuid.UUID, outcome domain.Outcome, qty money.Amount) error {
	if qty == 0 {
		return nil
	}
	pos, err := s.GetOrCreatePosition(tx, userID, marketID, outcome)
	if err != nil {
		return err
	}
	committed := pos.Committed - qty
	if committed < 0 {
		committed = 0
	}
	return tx.Model(&Position{}).
		Where("user_id = ? AND market_id = ? AND outcome = ?", userID, marketID, outcome).
		Updates(map[string]any{"committed": committed, "updated_at": time.Now()}).Error
}

// ApplyBuyFill grows the buyer's position by fillQty at tradePrice,
// recomputing the weighted-average price (spec §4.3 Settlement-on-trade,
// Buyer side).
func (s *Store) ApplyBuyFill(tx *gorm.DB, userID, marketID uuid.UUID, outcome domain.Outcome, fillQty money.Amount, tradePrice money.Price) error {
	pos, err := s.GetOrCreatePosition(tx, userID, marketID, outcome)
	if err != nil {
		return err
	}
	newAvg := money.WeightedAveragePrice(pos.Quantity, pos.AveragePrice, fillQty, tradePrice)
	return tx.Model(&Position{}).
		Where("user_id = ? AND market_id = ? AND outcome = ?", userID, marketID, outcome).
		Updates(map[string]any{
			"quantity":      pos.Quantity + fillQty,
			"average_price": newAvg,
			"updated_at":    time.Now(),
		}).Error
}

// ApplySellFill shrinks the seller's position and committed escrow by
// fillQty, clearing average_price once quantity reaches zero (spec §4.3
// Settlement-on-trade, Seller side).
func (s *Store) ApplySellFill(tx *gorm.DB, userID, marketID uuid.UUID, outcome domain.Outcome, fillQty money.Amount) error {
	pos, err := s.GetOrCreatePosition(tx, userID, marketID, outcome)
	if err != nil {
		return err
	}
	qty := pos.Quantity - fillQty
	committed := pos.Committed - fillQty
	if committed < 0 {
		committed = 0
	}
	avg := pos.AveragePrice
	if qty <= 0 {
		qty = 0
		avg = 0
	}
	return tx.Model(&Position{}).
		Where("user_id = ? AND market_id = ? AND outcome = ?", userID, marketID, outcome).
		Updates(map[string]any{
			"quantity":      qty,
			"committed":     committed,
			"average_price": avg,
			"updated_at":    time.Now(),
		}).Error
}

// ZeroPosition clears a position's quantity/committed/average_price without
// a trade, used by settlement (spec §4.4 step 2: "Zero the position").
func (s *Store) ZeroPosition(tx *gorm.DB, userID, marketID uuid.UUID, outcome domain.Outcome) error {
	return tx.Model(&Position{}).
		Where("user_id = ? AND market_id = ? AND outcome = ?", userID, marketID, outcome).
		Updates(map[string]any{"quantity": 0, "committed": 0, "average_price": 0, "updated_at": time.Now()}).Error
}

// InsertOrder persists a newly admitted order.
func (s *Store) InsertOrder(tx *gorm.DB, o *Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now
	return tx.Create(o).Error
}

// UpdateOrderProgress persists a fill/status transition on an existing
// order (spec §3: "only filled and status change" once resting).
func (s *Store) UpdateOrderProgress(tx *gorm.DB, orderID uuid.UUID, filled money.Amount, status domain.OrderStatus) error {
	return tx.Model(&Order{}).Where("id = ?", orderID).
		Updates(map[string]any{"filled": filled, "status": status, "updated_at": time.Now()}).Error
}

// InsertTrade persists an immutable trade row under the ID the caller
// assigned (see NewTradeID), stamping only CreatedAt.
func (s *Store) InsertTrade(tx *gorm.DB, t *Trade) error {
	t.CreatedAt = time.Now()
	return tx.Create(t).Error
}

// NewTradeID derives a trade id from the book's sequence number and the
// trade's index within the current matching batch, together with a freshly
// generated ksuid. The ksuid's payload is random, so every call returns a
// new id: replaying the same (sequence, index) does not reproduce it, and
// the resulting name-based uuid does not sort by time.
func NewTradeID(sequence uint64, indexInBatch int) uuid.UUID {
	seed := fmt.Sprintf("seq:%d:%d", sequence, indexInBatch)
	id := ksuid.NewWithTime(time.Unix(int64(sequence), int64(indexInBatch)))
	// Fold the seed and the ksuid's bytes into a namespaced uuid.
	return uuid.NewSHA1(uuid.NameSpaceOID, append([]byte(seed), id.Bytes()...))
}

// GetMarket loads a market by id.
func (s *Store) GetMarket(tx *gorm.DB, marketID uuid.UUID) (Market, error) {
	var m Market
	err := tx.First(&m, "id = ?", marketID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Market{}, xerrors.New(xerrors.CodeUnknownMarket)
	}
	return m, err
}

// UpdateMarketStatus transitions a market's status (and outcome, for
// resolution).
func (s *Store) UpdateMarketStatus(tx *gorm.DB, marketID uuid.UUID, status domain.MarketStatus, outcome *domain.Outcome) error {
	updates := map[string]any{"status": status}
	now := time.Now()
	switch status {
	case domain.MarketClosed:
		updates["close_time"] = now
	case domain.MarketResolved:
		updates["resolve_time"] = now
		updates["outcome"] = outcome
	}
	return tx.Model(&Market{}).Where("id = ?", marketID).Updates(updates).Error
}

// OpenOrdersForMarket returns every OPEN/PARTIAL order for marketID ordered
// by (price, created_at), used both by the settlement service (cancel all
// resting orders on resolution) and by matching-engine crash recovery
// (spec §5 "the engine rebuilds each market's in-memory book by replaying
// OPEN/PARTIAL orders from the ledger, ordered by (price, created_at)").
func (s *Store) OpenOrdersForMarket(tx *gorm.DB, marketID uuid.UUID) ([]Order, error) {
	var orders []Order
	err := tx.Where("market_id = ? AND status IN ?", marketID, []domain.OrderStatus{domain.StatusOpen, domain.StatusPartial}).
		Order("price asc, created_at asc").
		Find(&orders).Error
	return orders, err
}

// PositionsForMarket returns every position with nonzero quantity for
// marketID, used by settlement.
func (s *Store) PositionsForMarket(tx *gorm.DB, marketID uuid.UUID) ([]Position, error) {
	var positions []Position
	err := tx.Where("market_id = ? AND quantity > 0", marketID).Find(&positions).Error
	return positions, err
}

// Session persistence.

func (s *Store) CreateSession(tx *gorm.DB, sess *Session) error { return tx.Create(sess).Error }

func (s *Store) GetSession(tx *gorm.DB, token string) (Session, error) {
	var sess Session
	err := tx.First(&sess, "token = ?", token).Error
	return sess, err
}

func (s *Store) RevokeSession(tx *gorm.DB, token string) error {
	return tx.Model(&Session{}).Where("token = ?", token).Update("revoked", true).Error
}

// Read-only lookups for the boundary layer (spec §6 GetUserBalance,
// GetUserPositions). These never open a write transaction; callers that
// need transactional consistency with a concurrent mutation go through
// Tx + the methods above instead.

// BalanceView returns userID's balance, granting the starter balance on
// first read exactly as GetOrCreateBalance does inside a transaction.
func (s *Store) BalanceView(ctx context.Context, userID uuid.UUID) (Balance, error) {
	var bal Balance
	err := s.db.WithContext(ctx).First(&bal, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var created Balance
		txErr := s.Tx(ctx, func(tx *gorm.DB) error {
			b, err := s.GetOrCreateBalance(tx, userID)
			created = b
			return err
		})
		return created, txErr
	}
	return bal, err
}

// PositionsView returns every position (including zero-quantity rows) held
// by userID, across all markets.
func (s *Store) PositionsView(ctx context.Context, userID uuid.UUID) ([]Position, error) {
	var positions []Position
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&positions).Error
	return positions, err
}

// OrderByID looks up a single order by id, used by internal/api's
// CancelOrder handler to resolve an order's market before delegating to
// Engine.CancelOrder (spec §6 CancelOrder takes only order_id and
// user_id; the in-memory book is keyed by market, so this fills the gap).
func (s *Store) OrderByID(ctx context.Context, orderID uuid.UUID) (Order, error) {
	var o Order
	err := s.db.WithContext(ctx).First(&o, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Order{}, xerrors.New(xerrors.CodeUnknownOrder)
	}
	return o, err
}

// GetUser looks up a user by id.
func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, xerrors.New(xerrors.CodeNotFound)
	}
	return u, err
}

// CreateUser persists a new user row.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	return s.db.WithContext(ctx).Create(u).Error
}

// GetUserByUsername looks up a user by username, used by auth login.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, xerrors.New(xerrors.CodeNotFound)
	}
	return u, err
}
