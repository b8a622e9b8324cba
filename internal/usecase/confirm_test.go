package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func start(t *testing.T, h *harness, provider gateway.ProviderID, key string) *domain.CheckoutSession {
	t.Helper()
	out, err := h.uc.StartCheckout(context.Background(), startInput(provider, key))
	require.NoError(t, err)
	return out.Session
}

func TestLocalRailSettles(t *testing.T) {
	a := newFakeAdapter(gateway.BankRedirect)
	h := newHarness(t, a)
	s := start(t, h, gateway.BankRedirect, "key-1")
	assert.Equal(t, "https://provider.example/pay/key-1", s.Intent.RedirectURL)

	got, err := h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSettled, got.State)
	assert.True(t, got.Result.Success)
	assert.True(t, got.OrderPersisted)

	o, err := h.uc.GetOrder(context.Background(), s.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, domain.OrderProcessing, o.OrderStatus)
	assert.Equal(t, "115.58", o.Total.StringFixed(2))
	assert.Equal(t, "100.50", o.Subtotal.StringFixed(2))
	assert.Equal(t, s.IntentID, o.PaymentIntentID)
	assert.Equal(t, []string{TopicOrderSettled}, h.outbox.topics())

	require.Len(t, a.confirms, 1)
	assert.Equal(t, "key-1:confirm", a.confirms[0].IdempotencyKey)
}

func TestCardDeclineThenFreshKey(t *testing.T) {
	a := newFakeAdapter(gateway.CardNetwork)
	a.confirmFn = func(in gateway.ConfirmInput) (domain.PaymentResult, error) {
		return domain.PaymentResult{Success: false, Error: "card_declined", PaymentIntentID: in.IntentID}, nil
	}
	h := newHarness(t, a)
	s := start(t, h, gateway.CardNetwork, "key-1")

	got, err := h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID, ClientSecret: "pi_key-1_secret_x"})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeclined, got.State)
	assert.Equal(t, "card_declined", got.Result.Error)

	o, err := h.uc.GetOrder(context.Background(), s.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentFailed, o.PaymentStatus)
	assert.Equal(t, domain.OrderCancelled, o.OrderStatus)
	assert.Equal(t, []string{TopicOrderDeclined}, h.outbox.topics())

	again := start(t, h, gateway.CardNetwork, "key-2")
	assert.NotEqual(t, s.IntentID, again.IntentID)
	assert.NotEqual(t, s.OrderID, again.OrderID)
	assert.Equal(t, domain.StateAwaitingConfirmation, again.State)
}

func TestDeclinedErrorFromProvider(t *testing.T) {
	a := newFakeAdapter(gateway.CardNetwork)
	a.confirmFn = func(gateway.ConfirmInput) (domain.PaymentResult, error) {
		return domain.PaymentResult{}, apperr.Declined("insufficient_funds", "card was declined")
	}
	h := newHarness(t, a)
	s := start(t, h, gateway.CardNetwork, "key-1")

	got, err := h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID})
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeclined, got.State)
	assert.Equal(t, "insufficient_funds", got.Result.Error)
}

func TestConfirm_RepeatReturnsCachedResult(t *testing.T) {
	a := newFakeAdapter(gateway.WalletRedirect)
	h := newHarness(t, a)
	s := start(t, h, gateway.WalletRedirect, "key-1")

	first, err := h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID})
	require.NoError(t, err)
	second, err := h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID})
	require.NoError(t, err)

	assert.Equal(t, first.Result, second.Result)
	assert.Equal(t, domain.StateSettled, second.State)
	assert.Equal(t, 1, a.confirmCalls())
}

func TestNoRegressionAfterCompleted(t *testing.T) {
	a := newFakeAdapter(gateway.CardNetwork)
	h := newHarness(t, a)
	s := start(t, h, gateway.CardNetwork, "key-1")
	_, err := h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID})
	require.NoError(t, err)

	a.confirmFn = func(gateway.ConfirmInput) (domain.PaymentResult, error) {
		return domain.PaymentResult{Error: "card_declined"}, nil
	}
	for _, status := range []domain.IntentStatus{domain.IntentFailed, domain.IntentCanceled, domain.IntentProcessing} {
		got, err := h.uc.ApplyProviderStatus(context.Background(), gateway.CardNetwork.String(), s.IntentID, status)
		require.NoError(t, err)
		assert.Equal(t, domain.StateSettled, got.State)
	}
	_, err = h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID})
	require.NoError(t, err)

	o, err := h.uc.GetOrder(context.Background(), s.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, domain.StateSettled, h.sessions.get(s.IntentID).State)
	assert.Equal(t, 1, a.confirmCalls())
}

func TestOutOfOrderConfirmationIsConflict(t *testing.T) {
	a := newFakeAdapter(gateway.CardNetwork)
	h := newHarness(t, a)

	_, err := h.uc.Confirm(context.Background(), ConfirmInput{IntentID: "pi_unknown"})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	s := start(t, h, gateway.CardNetwork, "key-1")
	_, err = h.uc.Cancel(context.Background(), s.IntentID)
	require.NoError(t, err)
	before := h.sessions.get(s.IntentID)

	_, err = h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	_, err = h.uc.ApplyProviderStatus(context.Background(), gateway.CardNetwork.String(), s.IntentID, domain.IntentSucceeded)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	assert.Equal(t, before, h.sessions.get(s.IntentID))
	assert.Equal(t, 0, a.confirmCalls())
	assert.Equal(t, 0, h.orders.count())
}

func TestConfirm_PendingStaysAwaiting(t *testing.T) {
	a := newFakeAdapter(gateway.CardNetwork)
	a.confirmFn = func(in gateway.ConfirmInput) (domain.PaymentResult, error) {
		return domain.PaymentResult{Pending: true, RedirectURL: "https://3ds.example"}, nil
	}
	h := newHarness(t, a)
	s := start(t, h, gateway.CardNetwork, "key-1")

	got, err := h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID})
	require.NoError(t, err)
	assert.Equal(t, domain.StateAwaitingConfirmation, got.State)
	assert.True(t, got.Result.Pending)

	v, err := h.uc.GetPaymentStatus(context.Background(), s.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentProcessing, v.PaymentStatus)
}

func TestConfirm_ValidationLeavesSessionAwaiting(t *testing.T) {
	a := newFakeAdapter(gateway.MobileBank)
	a.confirmFn = func(gateway.ConfirmInput) (domain.PaymentResult, error) {
		return domain.PaymentResult{}, apperr.Validation("otp", "one-time password is invalid or expired")
	}
	h := newHarness(t, a)
	s := start(t, h, gateway.MobileBank, "key-1")

	_, err := h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID, OTP: "000000"})
	assert.Equal(t, "otp", field(t, err))
	assert.Equal(t, domain.StateAwaitingConfirmation, h.sessions.get(s.IntentID).State)
}

func TestConfirm_TimeoutReconcilesToSettled(t *testing.T) {
	a := newFakeAdapter(gateway.WalletRedirect)
	a.confirmFn = func(gateway.ConfirmInput) (domain.PaymentResult, error) {
		return domain.PaymentResult{}, apperr.Network(context.DeadlineExceeded)
	}
	a.fetchStatus = domain.IntentSucceeded
	h := newHarness(t, a)
	s := start(t, h, gateway.WalletRedirect, "key-1")

	got, err := h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID})
	require.NoError(t, err)
	assert.Equal(t, domain.StateSettled, got.State)
	assert.Equal(t, 1, h.orders.count())
}

func TestConfirm_InconclusiveAborts(t *testing.T) {
	a := newFakeAdapter(gateway.WalletRedirect)
	a.confirmFn = func(gateway.ConfirmInput) (domain.PaymentResult, error) {
		return domain.PaymentResult{}, apperr.HTTP(504, "")
	}
	a.fetchStatus = domain.IntentProcessing
	h := newHarness(t, a)
	s := start(t, h, gateway.WalletRedirect, "key-1")

	_, err := h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID})
	assert.True(t, apperr.IsTransport(err))

	stored := h.sessions.get(s.IntentID)
	assert.Equal(t, domain.StateAborted, stored.State)
	assert.True(t, stored.Inconclusive)
	assert.Equal(t, 0, h.orders.count())

	// polling reports the provider's view without leaving aborted
	a.fetchStatus = domain.IntentSucceeded
	v, err := h.uc.GetPaymentStatus(context.Background(), s.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAborted, v.State)
	assert.True(t, v.Inconclusive)
	assert.Equal(t, domain.IntentSucceeded, v.ProviderStatus)
	assert.Empty(t, v.PaymentStatus)
	assert.Equal(t, 0, h.orders.count())
}

func TestDeviceWallet_ValidationFailureAborts(t *testing.T) {
	d := &fakeDevice{fakeAdapter: newFakeAdapter(gateway.DeviceWallet), validateErr: apperr.HTTP(400, "")}
	h := newHarness(t, d)
	s := start(t, h, gateway.DeviceWallet, "key-1")

	_, err := h.uc.ValidateMerchant(context.Background(), s.IntentID, "https://wallet.example/validate")
	require.Error(t, err)

	stored := h.sessions.get(s.IntentID)
	assert.Equal(t, domain.StateAborted, stored.State)
	assert.Equal(t, domain.DeviceFailed, stored.Device.Step)
	assert.Equal(t, "merchant_validation_failed", stored.AbortReason)
	assert.Equal(t, 0, h.orders.count())
	assert.Equal(t, []string{s.IntentID}, d.cancels)

	_, err = h.uc.AuthorizeDevicePayment(context.Background(), s.IntentID, json.RawMessage(`{"data":"tok"}`))
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, 0, d.confirmCalls())
}

func TestDeviceWallet_HappyPath(t *testing.T) {
	d := &fakeDevice{fakeAdapter: newFakeAdapter(gateway.DeviceWallet)}
	h := newHarness(t, d)
	s := start(t, h, gateway.DeviceWallet, "key-1")

	// authorization before validation is out of order
	_, err := h.uc.AuthorizeDevicePayment(context.Background(), s.IntentID, json.RawMessage(`{"data":"tok"}`))
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	sess, err := h.uc.ValidateMerchant(context.Background(), s.IntentID, "https://wallet.example/validate")
	require.NoError(t, err)
	assert.JSONEq(t, `{"merchantSessionIdentifier":"s1"}`, string(sess))
	assert.Equal(t, domain.DeviceMerchantValidated, h.sessions.get(s.IntentID).Device.Step)

	// the validation token is single use
	_, err = h.uc.ValidateMerchant(context.Background(), s.IntentID, "https://wallet.example/validate")
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	got, err := h.uc.AuthorizeDevicePayment(context.Background(), s.IntentID, json.RawMessage(`{"data":"tok"}`))
	require.NoError(t, err)
	assert.Equal(t, domain.StateSettled, got.State)
	assert.Equal(t, domain.DeviceAuthorized, got.Device.Step)
	require.Len(t, d.confirms, 1)
	assert.Equal(t, "key-1:authorize", d.confirms[0].IdempotencyKey)
	assert.JSONEq(t, `{"data":"tok"}`, string(d.confirms[0].DeviceToken))
}

func TestDeviceWallet_AuthorizeFailuresAbortAndCancel(t *testing.T) {
	cases := map[string]struct {
		err    error
		reason string
	}{
		"transport": {err: apperr.HTTP(502, ""), reason: "transport_http"},
		"protocol":  {err: apperr.Protocol("bad body", nil), reason: "provider_protocol_error"},
		"init":      {err: apperr.Init("credentials rotated"), reason: "init_error"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			d := &fakeDevice{fakeAdapter: newFakeAdapter(gateway.DeviceWallet)}
			d.confirmFn = func(gateway.ConfirmInput) (domain.PaymentResult, error) {
				return domain.PaymentResult{}, tc.err
			}
			d.fetchStatus = domain.IntentProcessing
			h := newHarness(t, d)
			s := start(t, h, gateway.DeviceWallet, "key-1")

			_, err := h.uc.ValidateMerchant(context.Background(), s.IntentID, "https://wallet.example/validate")
			require.NoError(t, err)

			_, err = h.uc.AuthorizeDevicePayment(context.Background(), s.IntentID, json.RawMessage(`{"data":"tok"}`))
			require.Error(t, err)

			stored := h.sessions.get(s.IntentID)
			assert.Equal(t, domain.StateAborted, stored.State)
			assert.Equal(t, domain.DeviceFailed, stored.Device.Step)
			assert.Equal(t, tc.reason, stored.AbortReason)
			assert.Equal(t, []string{s.IntentID}, d.cancels)
			assert.Equal(t, 0, h.orders.count())
		})
	}
}

func TestDeviceWallet_GenericConfirmRejected(t *testing.T) {
	d := &fakeDevice{fakeAdapter: newFakeAdapter(gateway.DeviceWallet)}
	h := newHarness(t, d)
	s := start(t, h, gateway.DeviceWallet, "key-1")

	_, err := h.uc.Confirm(context.Background(), ConfirmInput{IntentID: s.IntentID})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestCancel(t *testing.T) {
	a := newFakeAdapter(gateway.WalletRedirect)
	h := newHarness(t, a)
	s := start(t, h, gateway.WalletRedirect, "key-1")

	got, err := h.uc.Cancel(context.Background(), s.IntentID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateAborted, got.State)
	assert.Equal(t, "canceled", got.AbortReason)
	assert.Equal(t, []string{s.IntentID}, a.cancels)

	_, err = h.uc.Cancel(context.Background(), s.IntentID)
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Equal(t, 0, h.orders.count())
}

func TestApplyProviderStatus_WrongProvider(t *testing.T) {
	a := newFakeAdapter(gateway.CardNetwork)
	h := newHarness(t, a)
	s := start(t, h, gateway.CardNetwork, "key-1")

	_, err := h.uc.ApplyProviderStatus(context.Background(), gateway.WalletRedirect.String(), s.IntentID, domain.IntentSucceeded)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	assert.Equal(t, domain.StateAwaitingConfirmation, h.sessions.get(s.IntentID).State)
}
