package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/logging"
)

// ProviderEvent is a verified status push from a provider, whichever way it
// arrived (webhook, Kafka relay or RabbitMQ relay).
type ProviderEvent struct {
	EventID  string `json:"eventId"`
	Provider string `json:"provider"`
	IntentID string `json:"intentId"`
	Status   string `json:"status"` // created, requires_action, processing, succeeded, failed, canceled
}

func (e ProviderEvent) Validate() error {
	switch {
	case e.EventID == "":
		return apperr.Validation("eventId", "event id required")
	case e.Provider == "":
		return apperr.Validation("provider", "provider required")
	case e.IntentID == "":
		return apperr.Validation("intentId", "intent id required")
	}
	switch domain.IntentStatus(e.Status) {
	case domain.IntentCreated, domain.IntentRequiresAction, domain.IntentProcessing,
		domain.IntentSucceeded, domain.IntentFailed, domain.IntentCanceled:
		return nil
	}
	return apperr.Validation("status", "unknown status "+e.Status)
}

// ProviderEvents dedupes pushes on event id and hands them to the checkout.
type ProviderEvents struct {
	uc   *Checkout
	idem IdempotencyStore
}

func NewProviderEvents(uc *Checkout, idem IdempotencyStore) *ProviderEvents {
	return &ProviderEvents{uc: uc, idem: idem}
}

// Handle returns a nil session for duplicates. A rejected event stays marked
// as seen only when it is invalid; any other failure releases it so a
// redelivery is processed, which covers a push that beats its own intent.
func (p *ProviderEvents) Handle(ctx context.Context, ev ProviderEvent) (*domain.CheckoutSession, error) {
	ev.Status = strings.ToLower(strings.TrimSpace(ev.Status))
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	log := logging.Named(ctx, "provider_events").With("event_id", ev.EventID, "provider", ev.Provider, "intent_id", ev.IntentID)

	scope := "event:" + ev.Provider
	first, err := p.idem.TryLock(ctx, scope, ev.EventID)
	if err != nil {
		return nil, err
	}
	if !first {
		log.Debug("duplicate provider event")
		return nil, nil
	}

	s, err := p.uc.ApplyProviderStatus(ctx, ev.Provider, ev.IntentID, domain.IntentStatus(ev.Status))
	if err != nil {
		if !errors.Is(err, apperr.ErrValidation) {
			if rerr := p.idem.Release(ctx, scope, ev.EventID); rerr != nil {
				log.Warn("release event lock failed", "err", rerr)
			}
		}
		log.Warn("provider event rejected", "status", ev.Status, "kind", apperr.KindOf(err), "err", err)
		return nil, err
	}
	log.Info("provider event applied", "status", ev.Status, "state", s.State)
	return s, nil
}

// Consume is Handle for broker relays. Invalid events are logged and dropped
// so they are not redelivered forever; every other error asks for redelivery.
func (p *ProviderEvents) Consume(ctx context.Context, ev ProviderEvent) error {
	_, err := p.Handle(ctx, ev)
	if errors.Is(err, apperr.ErrValidation) {
		return nil
	}
	return err
}
