package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/gateway"
	"go.opentelemetry.io/otel/attribute"
)

type ConfirmInput struct {
	IntentID     string
	ClientSecret string
	Method       string
	OTP          string
	// IdempotencyKey for the provider call; derived from the checkout key when empty.
	IdempotencyKey string
}

// Confirm asks the provider for the outcome of an awaiting checkout and
// applies it. A settled or declined checkout returns its cached result.
func (uc *Checkout) Confirm(ctx context.Context, in ConfirmInput) (*domain.CheckoutSession, error) {
	ctx, span := uc.tracer.Start(ctx, "checkout.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("intent_id", in.IntentID))

	s, err := uc.loadForTransition(ctx, in.IntentID)
	if err != nil {
		return nil, err
	}
	if s.State != domain.StateAwaitingConfirmation {
		return replay(s)
	}
	if s.Device != nil {
		return nil, apperr.Conflict("device wallet checkouts confirm through merchant validation and authorization")
	}
	adapter, err := uc.adapterFor(s)
	if err != nil {
		return nil, err
	}
	key := in.IdempotencyKey
	if key == "" {
		key = s.IdempotencyKey + ":confirm"
	}
	return uc.confirmWith(ctx, adapter, s, gateway.ConfirmInput{
		IntentID:       s.IntentID,
		ClientSecret:   in.ClientSecret,
		Method:         in.Method,
		OTP:            in.OTP,
		IdempotencyKey: key,
		Locale:         s.Locale,
	})
}

func (uc *Checkout) adapterFor(s *domain.CheckoutSession) (gateway.Adapter, error) {
	a, ok := uc.providers.Lookup(s.Provider)
	if !ok {
		return nil, apperr.Unavailable("provider " + s.Provider + " is no longer registered")
	}
	return a, nil
}

// confirmWith runs the provider confirmation and maps its outcome onto the
// state machine. Validation errors leave the session untouched so the
// customer can correct the input.
func (uc *Checkout) confirmWith(ctx context.Context, adapter gateway.Adapter, s *domain.CheckoutSession, in gateway.ConfirmInput) (*domain.CheckoutSession, error) {
	cctx, cancel := context.WithTimeout(ctx, uc.timeouts.Confirm)
	res, err := adapter.ConfirmPayment(cctx, in)
	cancel()
	if err != nil {
		return uc.confirmFailed(ctx, adapter, s, err)
	}
	if res.PaymentIntentID == "" {
		res.PaymentIntentID = s.IntentID
	}
	return uc.applyResult(ctx, s, res)
}

func (uc *Checkout) applyResult(ctx context.Context, s *domain.CheckoutSession, res domain.PaymentResult) (*domain.CheckoutSession, error) {
	switch {
	case res.Success:
		return uc.finish(ctx, s, domain.StateSettled, &res, settleDevice)
	case res.Pending:
		next := s.Clone()
		next.Result = &res
		next.UpdatedAt = uc.now().UTC()
		if err := uc.sessions.Update(ctx, next); err != nil {
			if errors.Is(err, apperr.ErrConflict) {
				cur, gerr := uc.sessions.Get(ctx, s.IntentID)
				if gerr != nil {
					return nil, gerr
				}
				return cur, nil
			}
			return nil, err
		}
		return next, nil
	default:
		if res.Error == "" {
			res.Error = "declined"
		}
		return uc.finish(ctx, s, domain.StateDeclined, &res, failDevice)
	}
}

func (uc *Checkout) confirmFailed(ctx context.Context, adapter gateway.Adapter, s *domain.CheckoutSession, err error) (*domain.CheckoutSession, error) {
	log := uc.logger(ctx)
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindProviderUnavailable, apperr.KindInit:
		return nil, err
	case apperr.KindDeclined:
		var ae *apperr.Error
		errors.As(err, &ae)
		return uc.finish(ctx, s, domain.StateDeclined, &domain.PaymentResult{
			PaymentIntentID: s.IntentID,
			Error:           ae.Code,
			Message:         ae.Message,
		}, failDevice)
	}

	// The provider may have charged even though we never saw the answer.
	log.Warn("confirmation inconclusive, reconciling", "intent_id", s.IntentID, "provider", s.Provider, "kind", apperr.KindOf(err), "err", err)
	status, ok := uc.fetchStatus(ctx, adapter, s.IntentID)
	if ok {
		switch status {
		case domain.IntentSucceeded:
			return uc.finish(ctx, s, domain.StateSettled, &domain.PaymentResult{Success: true, PaymentIntentID: s.IntentID}, settleDevice)
		case domain.IntentFailed, domain.IntentCanceled:
			return uc.finish(ctx, s, domain.StateDeclined, &domain.PaymentResult{PaymentIntentID: s.IntentID, Error: "provider_" + string(status)}, failDevice)
		}
	}
	if _, ferr := uc.finish(ctx, s, domain.StateAborted, nil, func(n *domain.CheckoutSession) {
		n.Inconclusive = true
		n.AbortReason = string(apperr.KindOf(err))
		failDevice(n)
	}); ferr != nil {
		log.Warn("abort after inconclusive confirmation failed", "intent_id", s.IntentID, "err", ferr)
	}
	return nil, err
}

// fetchStatus is a best-effort read of the provider's view of an intent.
func (uc *Checkout) fetchStatus(ctx context.Context, adapter gateway.Adapter, intentID string) (domain.IntentStatus, bool) {
	sc, ok := adapter.(gateway.StatusChecker)
	if !ok {
		return "", false
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.timeouts.Reconcile)
	defer cancel()
	st, err := sc.FetchStatus(rctx, intentID)
	if err != nil {
		uc.logger(ctx).Warn("status read failed", "intent_id", intentID, "err", err)
		return "", false
	}
	return st, true
}

// ApplyProviderStatus routes a verified provider push through the same
// transitions as a client confirmation. Non-final statuses and pushes for
// aborted checkouts change nothing.
func (uc *Checkout) ApplyProviderStatus(ctx context.Context, provider, intentID string, status domain.IntentStatus) (*domain.CheckoutSession, error) {
	ctx, span := uc.tracer.Start(ctx, "checkout.provider_status")
	defer span.End()
	span.SetAttributes(attribute.String("intent_id", intentID), attribute.String("status", string(status)))

	s, err := uc.loadForTransition(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if s.Provider != provider {
		return nil, apperr.Validation("provider", "intent "+intentID+" does not belong to "+provider)
	}
	if s.State == domain.StateAborted {
		// Aborted is final for pushes; a late success needs manual follow-up.
		if status == domain.IntentSucceeded {
			uc.logger(ctx).Error("provider reports success for an aborted checkout",
				"intent_id", intentID,
				"order_id", s.OrderID,
				"provider", s.Provider,
			)
		}
		return s, nil
	}
	if s.State != domain.StateAwaitingConfirmation {
		return replay(s)
	}
	switch status {
	case domain.IntentSucceeded:
		return uc.applyResult(ctx, s, domain.PaymentResult{Success: true, PaymentIntentID: intentID})
	case domain.IntentFailed, domain.IntentCanceled:
		return uc.applyResult(ctx, s, domain.PaymentResult{PaymentIntentID: intentID, Error: "provider_" + string(status)})
	}
	return s, nil
}

// Cancel aborts a checkout that has not reached an outcome and releases the
// remote intent where the provider supports it.
func (uc *Checkout) Cancel(ctx context.Context, intentID string) (*domain.CheckoutSession, error) {
	s, err := uc.loadForTransition(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if s.State.IsTerminal() {
		return nil, apperr.Conflict("checkout " + intentID + " is already " + s.State.String())
	}
	next, err := uc.finish(ctx, s, domain.StateAborted, nil, func(n *domain.CheckoutSession) {
		n.AbortReason = "canceled"
		failDevice(n)
	})
	if err != nil {
		return nil, err
	}
	if next.State != domain.StateAborted {
		return nil, apperr.Conflict("checkout " + intentID + " is already " + next.State.String())
	}
	uc.cancelRemote(ctx, s)
	return next, nil
}

func (uc *Checkout) cancelRemote(ctx context.Context, s *domain.CheckoutSession) {
	a, ok := uc.providers.Lookup(s.Provider)
	if !ok {
		return
	}
	c, ok := a.(gateway.Canceler)
	if !ok {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.timeouts.Reconcile)
	defer cancel()
	if err := c.CancelPayment(cctx, s.IntentID, s.IdempotencyKey+":cancel"); err != nil {
		uc.logger(ctx).Warn("remote cancel failed", "intent_id", s.IntentID, "provider", s.Provider, "err", err)
	}
}

// ValidateMerchant is the first device wallet leg. Any failure aborts the
// checkout; the validation token cannot be reused.
func (uc *Checkout) ValidateMerchant(ctx context.Context, intentID, validationURL string) (json.RawMessage, error) {
	ctx, span := uc.tracer.Start(ctx, "checkout.device.validate_merchant")
	defer span.End()

	s, err := uc.loadDevice(ctx, intentID, domain.DeviceAwaitingValidation)
	if err != nil {
		return nil, err
	}
	adapter, err := uc.adapterFor(s)
	if err != nil {
		return nil, err
	}
	mv, ok := adapter.(gateway.MerchantValidator)
	if !ok {
		return nil, apperr.Unavailable(s.Provider + " has no merchant validation")
	}
	cctx, cancel := context.WithTimeout(ctx, uc.timeouts.Confirm)
	session, err := mv.ValidateMerchant(cctx, intentID, validationURL)
	cancel()
	if err != nil {
		uc.abortDevice(ctx, s, "merchant_validation_failed")
		return nil, err
	}

	next := s.Clone()
	next.Device.Step = domain.DeviceMerchantValidated
	next.Device.ValidatedAt = uc.now().UTC()
	next.UpdatedAt = next.Device.ValidatedAt
	if err := uc.sessions.Update(ctx, next); err != nil {
		return nil, err
	}
	uc.logger(ctx).Info("merchant validated", "intent_id", intentID, "provider", s.Provider)
	return session, nil
}

// AuthorizeDevicePayment is the second device wallet leg: the encrypted
// device token is forwarded once for authorization.
func (uc *Checkout) AuthorizeDevicePayment(ctx context.Context, intentID string, token json.RawMessage) (*domain.CheckoutSession, error) {
	ctx, span := uc.tracer.Start(ctx, "checkout.device.authorize")
	defer span.End()

	s, err := uc.loadDevice(ctx, intentID, domain.DeviceMerchantValidated)
	if err != nil {
		return nil, err
	}
	adapter, err := uc.adapterFor(s)
	if err != nil {
		return nil, err
	}
	if len(token) == 0 {
		uc.abortDevice(ctx, s, "missing_payment_token")
		return nil, apperr.Validation("paymentToken", "payment token required")
	}
	out, err := uc.confirmWith(ctx, adapter, s, gateway.ConfirmInput{
		IntentID:       intentID,
		DeviceToken:    token,
		IdempotencyKey: s.IdempotencyKey + ":authorize",
		Locale:         s.Locale,
	})
	if err != nil {
		uc.deviceStepFailed(ctx, intentID, err)
		return nil, err
	}
	if out.State == domain.StateAwaitingConfirmation {
		// A device token is single use; a pending answer cannot be confirmed
		// again from the device, so the outcome comes from a push or the reconciler.
		uc.logger(ctx).Info("device authorization pending", "intent_id", intentID)
	}
	return out, nil
}

func (uc *Checkout) loadDevice(ctx context.Context, intentID string, want domain.DeviceStep) (*domain.CheckoutSession, error) {
	s, err := uc.loadForTransition(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if s.Device == nil {
		return nil, apperr.Conflict("checkout " + intentID + " is not a device wallet checkout")
	}
	if s.State != domain.StateAwaitingConfirmation {
		return nil, apperr.Conflict("checkout " + intentID + " is " + s.State.String())
	}
	if s.Device.Step != want {
		return nil, apperr.Conflict("device step is " + string(s.Device.Step) + ", expected " + string(want))
	}
	return s, nil
}

func (uc *Checkout) abortDevice(ctx context.Context, s *domain.CheckoutSession, reason string) {
	if _, err := uc.finish(ctx, s, domain.StateAborted, nil, func(n *domain.CheckoutSession) {
		n.AbortReason = reason
		failDevice(n)
	}); err != nil {
		uc.logger(ctx).Warn("device abort failed", "intent_id", s.IntentID, "err", err)
		return
	}
	uc.cancelRemote(ctx, s)
}

// deviceStepFailed aborts the checkout after a failed authorization and voids
// the remote intent, whether or not confirmFailed already aborted it.
func (uc *Checkout) deviceStepFailed(ctx context.Context, intentID string, err error) {
	cur, gerr := uc.sessions.Get(ctx, intentID)
	if gerr != nil {
		uc.logger(ctx).Warn("reload after device authorization failure", "intent_id", intentID, "err", gerr)
		return
	}
	switch cur.State {
	case domain.StateAwaitingConfirmation:
		uc.abortDevice(ctx, cur, string(apperr.KindOf(err)))
	case domain.StateAborted:
		uc.cancelRemote(ctx, cur)
	}
}

func settleDevice(n *domain.CheckoutSession) {
	if n.Device != nil {
		n.Device.Step = domain.DeviceAuthorized
	}
}

func failDevice(n *domain.CheckoutSession) {
	if n.Device != nil {
		n.Device.Step = domain.DeviceFailed
	}
}
