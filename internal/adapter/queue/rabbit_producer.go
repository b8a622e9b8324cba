package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aq2208/gcheckout/internal/usecase"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ProviderStatusBinding routes relayed provider status pushes into the
// provider events queue.
const ProviderStatusBinding = "provider.status.#"

var ErrPublishNacked = errors.New("rabbitmq: publish not confirmed")

// Topology is the part of *amqp.Channel used to declare exchanges and queues.
type Topology interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

type PublishChannel interface {
	Topology
	Confirm(noWait bool) error
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// RabbitProducer implements usecase.EventPublisher
type RabbitProducer struct {
	ch       PublishChannel
	exchange string
	now      func() time.Time
}

var _ usecase.EventPublisher = (*RabbitProducer)(nil)

// DeclareTopology sets up the exchange and the provider events queue once at startup.
func DeclareTopology(ch Topology, exchange, providerEventsQueue string) error {
	// 1. declare exchange (topic type, durable)
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if providerEventsQueue == "" {
		return nil
	}

	// 2. declare queue
	q, err := ch.QueueDeclare(providerEventsQueue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// 3. bind queue → exchange
	if err := ch.QueueBind(q.Name, ProviderStatusBinding, exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	return nil
}

// NewRabbitProducer puts the channel in confirm mode; every Publish waits
// for the broker to take responsibility for the message.
func NewRabbitProducer(ch PublishChannel, exchange string) (*RabbitProducer, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable confirm mode: %w", err)
	}
	return &RabbitProducer{ch: ch, exchange: exchange, now: time.Now}, nil
}

func (p *RabbitProducer) Publish(ctx context.Context, routingKey string, body []byte) error {
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // survive broker restarts
		Timestamp:    p.now().UTC(),
		Type:         routingKey,
		Body:         body,
	}

	conf, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, pub)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	// nil when the channel is not in confirm mode
	if conf == nil {
		return nil
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !ok {
		return ErrPublishNacked
	}
	return nil
}
