package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/logging"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	scopeCheckout = "checkout"
	scopeOrder    = "order"

	TopicOrderSettled       = "order.settled.v1"
	TopicOrderDeclined      = "order.declined.v1"
	TopicOrderStatusChanged = "order.status_changed.v1"
)

type Timeouts struct {
	Intent    time.Duration
	Confirm   time.Duration
	Reconcile time.Duration
}

func (t Timeouts) withDefaults() Timeouts {
	if t.Intent <= 0 {
		t.Intent = 30 * time.Second
	}
	if t.Confirm <= 0 {
		t.Confirm = 30 * time.Second
	}
	if t.Reconcile <= 0 {
		t.Reconcile = 10 * time.Second
	}
	return t
}

// Checkout drives one checkout session per intent from creation to a
// persisted outcome. It holds no lock across provider calls; concurrent
// writers are resolved by the session store's version check.
type Checkout struct {
	providers Providers
	sessions  SessionStore
	orders    OrderStore
	outbox    OutboxRepo
	idem      IdempotencyStore
	cache     StatusCache
	metrics   Metrics
	timeouts  Timeouts
	now       func() time.Time
	tracer    trace.Tracer
	polls     singleflight.Group
}

type Option func(*Checkout)

func WithStatusCache(c StatusCache) Option { return func(uc *Checkout) { uc.cache = c } }
func WithMetrics(m Metrics) Option         { return func(uc *Checkout) { uc.metrics = m } }
func WithTimeouts(t Timeouts) Option       { return func(uc *Checkout) { uc.timeouts = t } }
func WithClock(now func() time.Time) Option {
	return func(uc *Checkout) { uc.now = now }
}

func NewCheckout(providers Providers, sessions SessionStore, orders OrderStore, outbox OutboxRepo, idem IdempotencyStore, opts ...Option) *Checkout {
	uc := &Checkout{
		providers: providers,
		sessions:  sessions,
		orders:    orders,
		outbox:    outbox,
		idem:      idem,
		metrics:   nopMetrics{},
		now:       time.Now,
		tracer:    otel.Tracer("github.com/aq2208/gcheckout/internal/usecase"),
	}
	for _, opt := range opts {
		opt(uc)
	}
	uc.timeouts = uc.timeouts.withDefaults()
	return uc
}

func (uc *Checkout) logger(ctx context.Context) *slog.Logger {
	return logging.Named(ctx, "checkout")
}

func (uc *Checkout) transitioned(ctx context.Context, s *domain.CheckoutSession, from, to domain.CheckoutState) {
	uc.metrics.CheckoutTransition(s.Provider, from, to)
	uc.logger(ctx).Info("checkout transition",
		"intent_id", s.IntentID,
		"order_id", s.OrderID,
		"provider", s.Provider,
		"from", from,
		"to", to,
	)
}

// loadForTransition returns the session for intentID. Unknown intents are a
// conflict: a callback may not arrive before its intent exists.
func (uc *Checkout) loadForTransition(ctx context.Context, intentID string) (*domain.CheckoutSession, error) {
	if intentID == "" {
		return nil, apperr.Validation("intentId", "intent id required")
	}
	s, err := uc.sessions.Get(ctx, intentID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.Conflict("no checkout awaiting confirmation for intent " + intentID)
	}
	return s, err
}

// replay answers a callback for a session that already left
// AwaitingConfirmation. Settled and declined sessions return their cached
// result; anything else is out of order.
func replay(s *domain.CheckoutSession) (*domain.CheckoutSession, error) {
	switch s.State {
	case domain.StateSettled, domain.StateDeclined:
		return s, nil
	case domain.StateAborted:
		return nil, apperr.Conflict("checkout " + s.IntentID + " was aborted")
	}
	return nil, apperr.Conflict("checkout " + s.IntentID + " is " + s.State.String())
}

// finish moves an awaiting session to a terminal state and persists the
// outcome. A lost version race returns whatever the winner stored.
func (uc *Checkout) finish(ctx context.Context, s *domain.CheckoutSession, to domain.CheckoutState, res *domain.PaymentResult, mutate func(*domain.CheckoutSession)) (*domain.CheckoutSession, error) {
	if !s.State.CanTransitionTo(to) {
		return replay(s)
	}
	next := s.Clone()
	next.State = to
	next.Result = res
	next.UpdatedAt = uc.now().UTC()
	if mutate != nil {
		mutate(next)
	}
	if err := uc.sessions.Update(ctx, next); err != nil {
		if !errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
		cur, gerr := uc.sessions.Get(ctx, s.IntentID)
		if gerr != nil {
			return nil, gerr
		}
		return replay(cur)
	}
	uc.transitioned(ctx, next, s.State, to)

	if to == domain.StateSettled || to == domain.StateDeclined {
		if err := uc.persistOutcome(ctx, next); err != nil {
			// The session stays unresolved and the reconciler retries.
			uc.logger(ctx).Error("persist outcome failed", "intent_id", next.IntentID, "order_id", next.OrderID, "err", err)
		}
	}
	return next, nil
}

// OrderEvent is the payload relayed to the order events exchange.
type OrderEvent struct {
	EventID       string               `json:"eventId"`
	Type          string               `json:"type"`
	OrderID       string               `json:"orderId"`
	IntentID      string               `json:"intentId,omitempty"`
	Provider      string               `json:"provider,omitempty"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	OrderStatus   domain.OrderStatus   `json:"orderStatus"`
	Total         string               `json:"total"`
	Currency      string               `json:"currency"`
	OccurredAt    time.Time            `json:"occurredAt"`
}

func orderFromSession(s *domain.CheckoutSession) *domain.Order {
	o := &domain.Order{
		ID:              s.OrderID,
		Customer:        s.Customer,
		Items:           s.Cart.Items,
		Subtotal:        s.Cart.Subtotal,
		Tax:             s.Cart.Tax,
		Total:           s.Cart.Total,
		Currency:        s.Cart.Currency,
		PaymentMethod:   s.Provider,
		PaymentIntentID: s.IntentID,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
	if s.State == domain.StateSettled {
		o.PaymentStatus, o.OrderStatus = domain.PaymentCompleted, domain.OrderProcessing
	} else {
		o.PaymentStatus, o.OrderStatus = domain.PaymentFailed, domain.OrderCancelled
	}
	return o
}

// persistOutcome writes the order row, its outbox event and the status
// projection, then marks the session persisted. Every step is safe to repeat.
func (uc *Checkout) persistOutcome(ctx context.Context, s *domain.CheckoutSession) error {
	o := orderFromSession(s)
	if err := uc.orders.Create(ctx, o); err != nil {
		return err
	}
	topic := TopicOrderSettled
	if s.State == domain.StateDeclined {
		topic = TopicOrderDeclined
	}
	payload, err := json.Marshal(OrderEvent{
		EventID:       uuid.NewString(),
		Type:          topic,
		OrderID:       o.ID,
		IntentID:      s.IntentID,
		Provider:      s.Provider,
		PaymentStatus: o.PaymentStatus,
		OrderStatus:   o.OrderStatus,
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
		OccurredAt:    s.UpdatedAt,
	})
	if err != nil {
		return err
	}
	if err := uc.outbox.Enqueue(ctx, topic, o.ID, payload); err != nil {
		return err
	}

	next := s.Clone()
	next.OrderPersisted = true
	switch err := uc.sessions.Update(ctx, next); {
	case err == nil:
		*s = *next
	case !errors.Is(err, apperr.ErrConflict):
		return err
	}

	if uc.cache != nil {
		v := viewOf(s)
		v.PaymentStatus = o.PaymentStatus
		if err := uc.cache.Put(ctx, v); err != nil {
			uc.logger(ctx).Warn("status cache put failed", "intent_id", s.IntentID, "err", err)
		}
	}
	return nil
}
