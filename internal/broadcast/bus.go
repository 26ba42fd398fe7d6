// Package broadcast is the Broadcast Bus of spec §4.5: a thin publish
// surface over per-topic monotonic sequences, with two interchangeable
// backends mirroring the teacher's dual eventbus adapters
// (internal/architecture/cqrs/eventbus/watermill_adapter.go for the
// in-process gochannel case, internal/architecture/fx/eventbus_adapters.go
// for wiring a real broker in). Here the broker is NATS JetStream rather
// than the teacher's unused placeholder, chosen because
// ThreeDotsLabs/watermill-nats is already in the teacher's go.mod.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/novamarket/predictcore/internal/domain"
)

// Topic names follow spec §4.5's scheme: one topic per market channel and
// one per user channel, so a subscriber's gateway session only ever binds
// to the topics it is entitled to.
func MarketBookTopic(marketID uuid.UUID) string   { return fmt.Sprintf("market.%s.book", marketID) }
func MarketTradesTopic(marketID uuid.UUID) string { return fmt.Sprintf("market.%s.trades", marketID) }
func UserOrdersTopic(userID uuid.UUID) string     { return fmt.Sprintf("user.%s.orders", userID) }
func UserBalanceTopic(userID uuid.UUID) string    { return fmt.Sprintf("user.%s.balance", userID) }

// Envelope is the wire shape published to every topic. Sequence is
// per-topic monotonic, letting a reconnecting subscriber detect a gap and
// fall back to EventLog.SinceSequence (spec §4.5 "gap detection via
// sequence numbers; on a detected gap the subscriber MUST request a
// snapshot resync").
type Envelope struct {
	Topic    string           `json:"topic"`
	Kind     domain.EventKind `json:"kind"`
	Sequence uint64           `json:"sequence"`
	Data     json.RawMessage  `json:"data"`
}

// Bus is the publish/subscribe surface the matching engine, settlement
// service, and gateway depend on. Only Publish is on the hot path inside a
// matching-engine commit; Subscribe is used exclusively by the gateway's
// per-connection fan-out goroutines.
type Bus interface {
	// Publish sends env on topic, assigning env.Sequence from the bus's
	// per-topic counter before sending. Neither backend applies a send
	// timeout of its own; a backend send error is surfaced as
	// xerrors.CodeBusUnavailable (spec §4.5 "a publish failure does not
	// roll back the underlying ledger commit; it is reconciled out-of-band").
	Publish(ctx context.Context, topic string, kind domain.EventKind, data any) (Envelope, error)

	// Subscribe returns a channel of envelopes for topic. The returned
	// function cancels the subscription and closes the channel.
	Subscribe(ctx context.Context, topic string) (<-chan Envelope, func(), error)

	// Close releases backend resources (router, NATS connection).
	Close() error
}

func marshal(kind domain.EventKind, data any) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("broadcast: marshalling %s payload: %w", kind, err)
	}
	return raw, nil
}
