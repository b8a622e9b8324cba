package usecase

import (
	"context"
	"errors"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"go.opentelemetry.io/otel/attribute"
)

// PaymentStatusView is what a status poll returns. PaymentStatus is empty
// while no order exists for an aborted checkout.
type PaymentStatusView struct {
	IntentID      string                `json:"intentId"`
	OrderID       string                `json:"orderId"`
	Provider      string                `json:"provider"`
	State         domain.CheckoutState  `json:"state"`
	PaymentStatus domain.PaymentStatus  `json:"paymentStatus,omitempty"`
	Result        *domain.PaymentResult `json:"result,omitempty"`
	Inconclusive  bool                  `json:"inconclusive,omitempty"`
	// ProviderStatus is the provider's own answer, read for inconclusive
	// aborted checkouts only.
	ProviderStatus domain.IntentStatus `json:"providerStatus,omitempty"`
}

// Final reports whether the view can no longer change.
func (v *PaymentStatusView) Final() bool {
	return v.State == domain.StateSettled || v.State == domain.StateDeclined
}

func viewOf(s *domain.CheckoutSession) *PaymentStatusView {
	v := &PaymentStatusView{
		IntentID:     s.IntentID,
		OrderID:      s.OrderID,
		Provider:     s.Provider,
		State:        s.State,
		Result:       s.Result,
		Inconclusive: s.Inconclusive,
	}
	switch s.State {
	case domain.StateSettled:
		v.PaymentStatus = domain.PaymentCompleted
	case domain.StateDeclined:
		v.PaymentStatus = domain.PaymentFailed
	case domain.StateAborted:
	default:
		v.PaymentStatus = domain.PaymentPending
		if s.Result != nil && s.Result.Pending {
			v.PaymentStatus = domain.PaymentProcessing
		}
	}
	return v
}

// GetPaymentStatus is safe to poll. Concurrent polls for one intent share a
// single lookup, and a settled answer is served from the cache afterwards.
func (uc *Checkout) GetPaymentStatus(ctx context.Context, intentID string) (*PaymentStatusView, error) {
	if intentID == "" {
		return nil, apperr.Validation("intentId", "intent id required")
	}
	v, err, _ := uc.polls.Do(intentID, func() (any, error) {
		return uc.paymentStatus(ctx, intentID)
	})
	if err != nil {
		return nil, err
	}
	cp := *v.(*PaymentStatusView)
	return &cp, nil
}

func (uc *Checkout) paymentStatus(ctx context.Context, intentID string) (*PaymentStatusView, error) {
	ctx, span := uc.tracer.Start(ctx, "checkout.payment_status")
	defer span.End()
	span.SetAttributes(attribute.String("intent_id", intentID))
	log := uc.logger(ctx)

	if uc.cache != nil {
		v, ok, err := uc.cache.Get(ctx, intentID)
		if err != nil {
			log.Warn("status cache get failed", "intent_id", intentID, "err", err)
		} else if ok {
			return v, nil
		}
	}

	s, err := uc.sessions.Get(ctx, intentID)
	if errors.Is(err, apperr.ErrNotFound) {
		// Sessions expire; the order row outlives them.
		st, oerr := uc.orders.GetPaymentStatus(ctx, intentID)
		if oerr != nil {
			return nil, oerr
		}
		return &PaymentStatusView{IntentID: intentID, PaymentStatus: st}, nil
	}
	if err != nil {
		return nil, err
	}

	v := viewOf(s)
	if s.OrderPersisted {
		st, err := uc.orders.GetPaymentStatus(ctx, intentID)
		if err != nil {
			return nil, err
		}
		v.PaymentStatus = st
	}
	if s.State == domain.StateAborted && s.Inconclusive {
		if a, ok := uc.providers.Lookup(s.Provider); ok {
			if st, ok := uc.fetchStatus(ctx, a, intentID); ok {
				v.ProviderStatus = st
				if st == domain.IntentSucceeded {
					log.Error("provider reports success for an aborted checkout",
						"intent_id", intentID,
						"order_id", s.OrderID,
						"provider", s.Provider,
					)
				}
			}
		}
	}
	if v.Final() && s.OrderPersisted && uc.cache != nil {
		if err := uc.cache.Put(ctx, v); err != nil {
			log.Warn("status cache put failed", "intent_id", intentID, "err", err)
		}
	}
	return v, nil
}
