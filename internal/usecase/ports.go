package usecase

import (
	"context"
	"time"

	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/gateway"
)

// Providers is the read side of the provider registry.
type Providers interface {
	Lookup(id string) (gateway.Adapter, bool)
}

// OrderStore is the durable order/payment record. Create is idempotent on
// order id; conditional updates report whether the row was in the expected
// state.
type OrderStore interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetPaymentStatus(ctx context.Context, intentID string) (domain.PaymentStatus, error)
	UpdateOrderStatusIf(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error)
}

type OutboxMessage struct {
	ID          int64
	Topic       string
	AggregateID string
	Payload     []byte
	Attempts    int
}

type OutboxRepo interface {
	// Enqueue ignores a second message with the same topic and aggregate id.
	Enqueue(ctx context.Context, topic, aggregateID string, payload []byte) error
	FetchDue(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, next time.Time) error
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
	// Claim binds key to owner unless another owner holds it, and returns
	// the owner in place.
	Claim(ctx context.Context, scope, key, owner string) (string, error)
}

// SessionStore keeps checkout sessions by intent id. Update is a compare and
// swap on Version and bumps it on success.
type SessionStore interface {
	Create(ctx context.Context, s *domain.CheckoutSession) error
	Get(ctx context.Context, intentID string) (*domain.CheckoutSession, error)
	Update(ctx context.Context, s *domain.CheckoutSession) error
	// ListUnresolved returns intent ids of unresolved sessions untouched since before.
	ListUnresolved(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// StatusCache holds settled status views so polls stay off the stores.
type StatusCache interface {
	Get(ctx context.Context, intentID string) (*PaymentStatusView, bool, error)
	Put(ctx context.Context, v *PaymentStatusView) error
}

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

type Metrics interface {
	CheckoutTransition(provider string, from, to domain.CheckoutState)
}

type nopMetrics struct{}

func (nopMetrics) CheckoutTransition(string, domain.CheckoutState, domain.CheckoutState) {}
