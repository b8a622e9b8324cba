package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/gateway"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type StartCheckoutInput struct {
	IdempotencyKey string
	Provider       string
	// OrderID is optional; one is generated when empty.
	OrderID  string
	Cart     domain.CartSnapshot
	Customer domain.CustomerInfo
	Locale   string
	Options  gateway.PaymentOptions
}

type StartCheckoutOutput struct {
	Session *domain.CheckoutSession
	// Replayed is true when the key had already produced this session.
	Replayed bool
}

// StartCheckout validates the cart and customer, then creates exactly one
// intent per idempotency key. Validation failures make no provider call.
func (uc *Checkout) StartCheckout(ctx context.Context, in StartCheckoutInput) (StartCheckoutOutput, error) {
	ctx, span := uc.tracer.Start(ctx, "checkout.start")
	defer span.End()
	span.SetAttributes(attribute.String("provider", in.Provider))

	if strings.TrimSpace(in.IdempotencyKey) == "" {
		return StartCheckoutOutput{}, apperr.Validation("idempotencyKey", "idempotency key required")
	}
	adapter, ok := uc.providers.Lookup(in.Provider)
	if !ok {
		return StartCheckoutOutput{}, apperr.Validation("provider", "unsupported provider "+in.Provider)
	}
	if !adapter.IsAvailable() {
		return StartCheckoutOutput{}, apperr.Unavailable(in.Provider + " is not available")
	}
	if err := in.Cart.Validate(); err != nil {
		return StartCheckoutOutput{}, err
	}
	if err := validateCustomer(adapter, in.Customer); err != nil {
		return StartCheckoutOutput{}, err
	}
	fp := fingerprint(in)

	if out, ok, err := uc.recall(ctx, in.IdempotencyKey, fp); ok || err != nil {
		return out, err
	}
	locked, err := uc.idem.TryLock(ctx, scopeCheckout, in.IdempotencyKey)
	if err != nil {
		return StartCheckoutOutput{}, fmt.Errorf("idempotency lock: %w", err)
	}
	if !locked {
		// The first request may have finished between recall and lock.
		if out, ok, err := uc.recall(ctx, in.IdempotencyKey, fp); ok || err != nil {
			return out, err
		}
		return StartCheckoutOutput{}, apperr.Conflict("a checkout with this idempotency key is in progress")
	}

	out, err := uc.createIntent(ctx, adapter, in, fp)
	if err != nil {
		if rerr := uc.idem.Release(ctx, scopeCheckout, in.IdempotencyKey); rerr != nil {
			uc.logger(ctx).Warn("idempotency release failed", "key", in.IdempotencyKey, "err", rerr)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
		return StartCheckoutOutput{}, err
	}
	span.SetAttributes(attribute.String("intent_id", out.Session.IntentID))
	return out, nil
}

func validateCustomer(a gateway.Adapter, c domain.CustomerInfo) error {
	if v, ok := a.(gateway.CustomerValidator); ok {
		return v.ValidateCustomer(c)
	}
	if !a.ValidatePaymentData(c) {
		return apperr.Validation("customer", "customer data rejected by "+a.ID().String())
	}
	return nil
}

func (uc *Checkout) recall(ctx context.Context, key, fp string) (StartCheckoutOutput, bool, error) {
	intentID, ok, err := uc.idem.Recall(ctx, scopeCheckout, key)
	if err != nil {
		return StartCheckoutOutput{}, false, fmt.Errorf("idempotency recall: %w", err)
	}
	if !ok {
		return StartCheckoutOutput{}, false, nil
	}
	s, err := uc.sessions.Get(ctx, intentID)
	if err != nil {
		return StartCheckoutOutput{}, false, err
	}
	if s.Fingerprint != fp {
		return StartCheckoutOutput{}, false, apperr.Validation("idempotencyKey", "idempotency key was used with a different request")
	}
	return StartCheckoutOutput{Session: s, Replayed: true}, true, nil
}

func (uc *Checkout) createIntent(ctx context.Context, adapter gateway.Adapter, in StartCheckoutInput, fp string) (StartCheckoutOutput, error) {
	log := uc.logger(ctx)
	orderID := in.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	owner, err := uc.idem.Claim(ctx, scopeOrder, orderID, in.IdempotencyKey)
	if err != nil {
		return StartCheckoutOutput{}, fmt.Errorf("claim order: %w", err)
	}
	if owner != in.IdempotencyKey {
		return StartCheckoutOutput{}, apperr.Validation("orderId", "order id is bound to another idempotency key")
	}

	cctx, cancel := context.WithTimeout(ctx, uc.timeouts.Intent)
	defer cancel()
	intent, err := adapter.CreatePayment(cctx, gateway.CreatePaymentInput{
		OrderID:        orderID,
		Amount:         in.Cart.Total,
		Currency:       in.Cart.Currency,
		Customer:       in.Customer,
		IdempotencyKey: in.IdempotencyKey,
		Options:        withLocale(in.Options, in.Locale),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && apperr.KindOf(err) == "" {
			err = apperr.Network(err)
		}
		uc.metrics.CheckoutTransition(in.Provider, domain.StateDraft, domain.StateAborted)
		log.Warn("intent creation failed",
			"order_id", orderID,
			"provider", in.Provider,
			"kind", apperr.KindOf(err),
			"err", err,
		)
		return StartCheckoutOutput{}, err
	}
	if intent.ID == "" {
		return StartCheckoutOutput{}, apperr.Protocol("provider returned an intent without id", nil)
	}

	now := uc.now().UTC()
	s := &domain.CheckoutSession{
		IntentID:       intent.ID,
		OrderID:        orderID,
		Provider:       in.Provider,
		IdempotencyKey: in.IdempotencyKey,
		Fingerprint:    fp,
		State:          domain.StateAwaitingConfirmation,
		Cart:           in.Cart,
		Customer:       in.Customer,
		Locale:         in.Locale,
		Intent:         intent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, ok := adapter.(gateway.MerchantValidator); ok {
		s.Device = &domain.DeviceSession{Step: domain.DeviceAwaitingValidation}
	}
	if err := uc.sessions.Create(ctx, s); err != nil {
		return StartCheckoutOutput{}, fmt.Errorf("store session: %w", err)
	}
	uc.transitioned(ctx, s, domain.StateDraft, domain.StateIntentCreated)
	uc.transitioned(ctx, s, domain.StateIntentCreated, domain.StateAwaitingConfirmation)

	if err := uc.idem.Remember(ctx, scopeCheckout, in.IdempotencyKey, intent.ID); err != nil {
		log.Warn("idempotency remember failed", "key", in.IdempotencyKey, "intent_id", intent.ID, "err", err)
	}
	return StartCheckoutOutput{Session: s}, nil
}

func withLocale(o gateway.PaymentOptions, locale string) gateway.PaymentOptions {
	if o.Locale == "" {
		o.Locale = locale
	}
	return o
}

// fingerprint identifies the request an idempotency key was first used with.
// A generated order id is not part of it, so retries without one match.
func fingerprint(in StartCheckoutInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "p=%s|o=%s|c=%s|ch=%s|", in.Provider, in.OrderID, strings.ToUpper(in.Cart.Currency), in.Options.Channel)
	for _, it := range in.Cart.Items {
		fmt.Fprintf(&b, "i=%s:%d:%s|", it.ProductID, it.Quantity, it.UnitPrice.StringFixed(2))
	}
	fmt.Fprintf(&b, "t=%s|", in.Cart.Total.StringFixed(2))
	c := in.Customer
	fmt.Fprintf(&b, "n=%s|e=%s|ph=%s", strings.TrimSpace(c.Name), strings.ToLower(strings.TrimSpace(c.Email)), strings.TrimSpace(c.Phone))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
