package broadcast

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/xerrors"
)

// GoChannelBus is the single-process Bus backend, used by tests and by any
// deployment running the gateway and engine in the same binary. It wraps
// watermill/pubsub/gochannel exactly as the teacher's WatermillEventBus
// does (internal/architecture/cqrs/eventbus/watermill_adapter.go), minus
// that type's event-sourcing handler registry, which internal/ledger's
// EventLog already owns here.
type GoChannelBus struct {
	pubsub *gochannel.GoChannel
	seq    *sequencer
	logger *zap.Logger
}

func NewGoChannelBus(logger *zap.Logger) *GoChannelBus {
	wmLogger := watermill.NewStdLogger(false, false)
	return &GoChannelBus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 1024,
			Persistent:          false,
		}, wmLogger),
		seq:    newSequencer(),
		logger: logger,
	}
}

func (b *GoChannelBus) Publish(ctx context.Context, topic string, kind domain.EventKind, data any) (Envelope, error) {
	raw, err := marshal(kind, data)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{Topic: topic, Kind: kind, Sequence: b.seq.next(topic), Data: raw}
	payload, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		b.logger.Warn("broadcast publish failed", zap.String("topic", topic), zap.Error(err))
		return env, xerrors.Wrap(xerrors.CodeBusUnavailable, err)
	}
	return env, nil
}

func (b *GoChannelBus) Subscribe(ctx context.Context, topic string) (<-chan Envelope, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := b.pubsub.Subscribe(subCtx, topic)
	if err != nil {
		cancel()
		return nil, nil, xerrors.Wrap(xerrors.CodeBusUnavailable, err)
	}
	out := make(chan Envelope, 256)
	go func() {
		defer close(out)
		for m := range msgs {
			var env Envelope
			if err := json.Unmarshal(m.Payload, &env); err != nil {
				m.Nack()
				continue
			}
			m.Ack()
			select {
			case out <- env:
			case <-subCtx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}

func (b *GoChannelBus) Close() error { return b.pubsub.Close() }
