package broadcast

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/xerrors"
)

// NATSBus is the cross-process Bus backend (spec §9 DOMAIN STACK: "a
// broker-backed bus for multi-instance deployments"), used once the
// gateway runs in separate processes from the matching engine. It mirrors
// GoChannelBus's envelope framing exactly so a gateway instance cannot
// tell which backend it is reading from.
type NATSBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	seq        *sequencer
	logger     *zap.Logger
}

// NATSConfig names the JetStream connection.
type NATSConfig struct {
	URL       string
	ClusterID string
}

func NewNATSBus(cfg NATSConfig, logger *zap.Logger) (*NATSBus, error) {
	wmLogger := watermill.NewStdLogger(false, false)

	marshaler := &nats.NATSMarshaler{}
	pub, err := nats.NewPublisher(nats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: []natsgo.Option{natsgo.Name(cfg.ClusterID)},
		Marshaler:   marshaler,
		JetStream:   nats.JetStreamConfig{Disabled: false},
	}, wmLogger)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeBusUnavailable, err)
	}

	sub, err := nats.NewSubscriber(nats.SubscriberConfig{
		URL:            cfg.URL,
		NatsOptions:    []natsgo.Option{natsgo.Name(cfg.ClusterID)},
		Unmarshaler:    marshaler,
		JetStream:      nats.JetStreamConfig{Disabled: false, AutoProvision: true, DurablePrefix: "predictcore"},
		SubscribeAllOptions: []natsgo.SubOpt{natsgo.DeliverNew()},
	}, wmLogger)
	if err != nil {
		pub.Close()
		return nil, xerrors.Wrap(xerrors.CodeBusUnavailable, err)
	}

	return &NATSBus{publisher: pub, subscriber: sub, seq: newSequencer(), logger: logger}, nil
}

func (b *NATSBus) Publish(ctx context.Context, topic string, kind domain.EventKind, data any) (Envelope, error) {
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
	if err := b.publisher.Publish(topic, msg); err != nil {
		b.logger.Warn("broadcast publish failed", zap.String("topic", topic), zap.Error(err))
		return env, xerrors.Wrap(xerrors.CodeBusUnavailable, err)
	}
	return env, nil
}

func (b *NATSBus) Subscribe(ctx context.Context, topic string) (<-chan Envelope, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	msgs, err := b.subscriber.Subscribe(subCtx, topic)
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

func (b *NATSBus) Close() error {
	if err := b.publisher.Close(); err != nil {
		return err
	}
	return b.subscriber.Close()
}
