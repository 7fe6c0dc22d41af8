package bus

import (
	"log/slog"
	"reflect"
	"sync"

	"github.com/cskr/pubsub"
)

const defaultCapacity = 128

type Subscription chan any

type MessageBus interface {
	Publish(topic string, msg any)
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus is a MessageBus over cskr/pubsub. Publishing blocks while a
// subscriber's buffer is full, so subscribers must keep draining.
type PubSubBus struct {
	ps        *pubsub.PubSub
	logger    *slog.Logger
	quiet     map[string]struct{}
	closeOnce sync.Once
}

// New creates a bus. Publishes on quietTopics are not debug-logged; use it
// for telemetry arriving many times per second.
func New(logger *slog.Logger, quietTopics ...string) *PubSubBus {
	if logger == nil {
		logger = slog.Default().With("component", "bus")
	}
	quiet := make(map[string]struct{}, len(quietTopics))
	for _, topic := range quietTopics {
		quiet[topic] = struct{}{}
	}

	return &PubSubBus{
		ps:     pubsub.New(defaultCapacity),
		logger: logger,
		quiet:  quiet,
	}
}

func (b *PubSubBus) Publish(topic string, msg any) {
	if _, ok := b.quiet[topic]; !ok {
		b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	}
	b.ps.Pub(msg, topic)
}

func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	ch := b.ps.Sub(topics...)
	b.logger.Debug("subscribe", "topics", topics)

	return ch
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")

		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

func (b *PubSubBus) Close() {
	b.closeOnce.Do(b.ps.Shutdown)
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}

	return reflect.TypeOf(v).String()
}
