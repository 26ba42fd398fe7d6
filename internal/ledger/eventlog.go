package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thefabric-io/eventsourcing"
	"gorm.io/gorm"

	"github.com/novamarket/predictcore/internal/domain"
)

// Envelope is predictcore's OrderEvent payload wrapper. It implements
// eventsourcing.Event so the log can be consumed by any handler written
// against that interface (replay tooling, reconciliation jobs), the same
// role thefabric-io/eventsourcing plays for the teacher's CQRS stack
// (internal/architecture/cqrs/eventbus) without requiring a second,
// bespoke event type per consumer.
type Envelope struct {
	OrderID  uuid.UUID
	MarketID uuid.UUID
	UserID   uuid.UUID
	Kind     domain.EventKind
	Sequence uint64
	Data     any
}

var _ eventsourcing.Event = (*Envelope)(nil)

// EventName satisfies eventsourcing.Event.
func (e *Envelope) EventName() string { return string(e.Kind) }

// EventLog appends OrderEvents under the (order_id, kind, sequence)
// idempotency key spec §3/§6 require, backed by the OrderEvent table via GORM.
// A duplicate append (same key) is a no-op, which is what makes replaying a
// command prefix safe (spec §8 "Replaying the OrderEvent log... yields the
// same final... state").
type EventLog struct {
	db *gorm.DB
}

func NewEventLog(db *gorm.DB) *EventLog { return &EventLog{db: db} }

// Append persists env exactly once per idempotency key. Call inside the
// same transaction as the book/ledger mutation it describes so a crash
// between the two never happens (spec §5 "Suspension never occurs
// mid-commit").
func (l *EventLog) Append(ctx context.Context, tx *gorm.DB, env *Envelope) error {
	if tx == nil {
		tx = l.db
	}
	payload, err := json.Marshal(env.Data)
	if err != nil {
		return fmt.Errorf("ledger: marshalling event payload: %w", err)
	}
	row := OrderEvent{
		OrderID:   env.OrderID,
		MarketID:  env.MarketID,
		UserID:    env.UserID,
		Kind:      env.Kind,
		Sequence:  env.Sequence,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	return tx.WithContext(ctx).
		Where("order_id = ? AND kind = ? AND sequence = ?", row.OrderID, row.Kind, row.Sequence).
		FirstOrCreate(&row).Error
}

// ForOrder returns every event recorded for orderID in sequence order, used
// by reconciliation and by a subscriber's reconnect replay (spec §4.5).
func (l *EventLog) ForOrder(ctx context.Context, orderID uuid.UUID) ([]OrderEvent, error) {
	var events []OrderEvent
	err := l.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("sequence asc").
		Find(&events).Error
	return events, err
}

// SinceSequence returns every market-scoped event with sequence > after,
// used by the broadcast reconciliation job when a bus publish fails after
// commit (spec §4.5 failure semantics).
func (l *EventLog) SinceSequence(ctx context.Context, marketID uuid.UUID, after uint64) ([]OrderEvent, error) {
	var events []OrderEvent
	err := l.db.WithContext(ctx).
		Where("market_id = ? AND sequence > ?", marketID, after).
		Order("sequence asc").
		Find(&events).Error
	return events, err
}
