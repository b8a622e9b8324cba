package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aq2208/gcheckout/internal/logging"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// ErrDeliveriesClosed means the broker closed a consumer, usually because the
// connection dropped.
var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

// ConsumeChannel is the part of *amqp.Channel the router consumes through.
type ConsumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Router manages multiple consumers (one per registered queue) on a single AMQP channel.
type Router struct {
	ch            ConsumeChannel
	prefetch      int
	callTimeout   time.Duration
	requeueOnErr  bool
	logger        *slog.Logger
	registrations []registration
}

type registration struct {
	queueName   string
	handler     Handler
	consumerTag string
}

// --- Options ---

type RouterOption func(*Router)

func WithPrefetch(n int) RouterOption          { return func(r *Router) { r.prefetch = n } }
func WithTimeout(d time.Duration) RouterOption { return func(r *Router) { r.callTimeout = d } }
func WithRequeue(b bool) RouterOption          { return func(r *Router) { r.requeueOnErr = b } }
func WithLogger(l *slog.Logger) RouterOption   { return func(r *Router) { r.logger = l } }

// NewRouter constructs a Router. Defaults: prefetch=50, timeout=10s, requeueOnErr=true.
func NewRouter(ch ConsumeChannel, opts ...RouterOption) *Router {
	r := &Router{
		ch:           ch,
		prefetch:     50,
		callTimeout:  10 * time.Second,
		requeueOnErr: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.New("rabbitmq")
	}
	return r
}

// Register associates a queue with a handler. Call multiple times for multiple queues.
func (r *Router) Register(queueName string, h Handler) {
	r.registrations = append(r.registrations, registration{
		queueName:   queueName,
		handler:     h,
		consumerTag: "c_" + queueName,
	})
}

// Run consumes every registered queue until ctx is cancelled. It returns
// ErrDeliveriesClosed when the broker stops a consumer underneath it.
// QoS (prefetch) is set per-channel and applies to all consumers on this channel.
func (r *Router) Run(ctx context.Context) error {
	if err := r.ch.Qos(r.prefetch, 0, false); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, reg := range r.registrations {
		deliveries, err := r.ch.Consume(
			reg.queueName,
			reg.consumerTag,
			false, // manual ack
			false, // exclusive
			false, // no-local
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("consume %s: %w", reg.queueName, err)
		}
		g.Go(func() error { return r.consume(ctx, reg, deliveries) })
	}
	return g.Wait()
}

func (r *Router) consume(ctx context.Context, reg registration, msgs <-chan amqp.Delivery) error {
	log := r.logger.With("queue", reg.queueName, "tag", reg.consumerTag)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				log.Warn("consumer stopped")
				return ErrDeliveriesClosed
			}
			r.dispatch(ctx, log, reg.handler, d)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, log *slog.Logger, h Handler, d amqp.Delivery) {
	log = log.With("rk", d.RoutingKey, "delivery_tag", d.DeliveryTag)
	hctx, cancel := context.WithTimeout(logging.WithCtx(ctx, log), r.callTimeout)
	err := h.Handle(hctx, d)
	cancel()

	if err == nil {
		if aerr := d.Ack(false); aerr != nil {
			log.Error("ack failed", "err", aerr)
		}
		return
	}
	requeue := r.requeueOnErr && !IsPermanent(err)
	log.Error("handler error", "err", err, "requeue", requeue, "redelivered", d.Redelivered)
	if nerr := d.Nack(false, requeue); nerr != nil {
		log.Error("nack failed", "err", nerr)
	}
}
