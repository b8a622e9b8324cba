package localrail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/gateway"
	"github.com/aq2208/gcheckout/internal/transport"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(context.Context, time.Duration) error { return nil }

var customer = domain.CustomerInfo{Name: "Noura", Phone: "+966501234567"}

func initAdapter(t *testing.T, a *Adapter, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	a.opts = append(a.opts, transport.WithHTTPClient(srv.Client()), transport.WithSleep(noSleep))
	require.NoError(t, a.Initialize(gateway.Config{BaseURL: srv.URL, MerchantID: "m-1", APIKey: "lk"}))
	return a
}

func TestIDs(t *testing.T) {
	assert.Equal(t, gateway.BankRedirect, NewBankRedirect().ID())
	assert.Equal(t, gateway.MobileBank, NewMobileBank().ID())
}

func TestCreatePayment_InvalidPhoneMakesNoCall(t *testing.T) {
	var calls int32
	a := initAdapter(t, NewMobileBank(), func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	_, err := a.CreatePayment(context.Background(), gateway.CreatePaymentInput{
		OrderID: "o", Amount: decimal.NewFromInt(10), Currency: "SAR", IdempotencyKey: "k",
		Customer: domain.CustomerInfo{Name: "Noura", Phone: "0501234567"},
	})
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "customer.phone", ae.Field)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestCreatePayment_BankRedirect(t *testing.T) {
	a := initAdapter(t, NewBankRedirect(), func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(10050), body["amount"])
		assert.NotContains(t, body, "channel")
		_, _ = w.Write([]byte(`{"id":"chk_1","status":"initiated","amount":10050,"redirect_url":"https://bank.example/pay/chk_1"}`))
	})
	intent, err := a.CreatePayment(context.Background(), gateway.CreatePaymentInput{
		OrderID: "o", Amount: decimal.RequireFromString("100.50"), Currency: "SAR", IdempotencyKey: "k", Customer: customer,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://bank.example/pay/chk_1", intent.RedirectURL)
	assert.Nil(t, intent.MobileChallenge)
	assert.Equal(t, "bank_redirect", intent.Provider)
}

func TestCreatePayment_OTPChannel(t *testing.T) {
	a := initAdapter(t, NewMobileBank(), func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "otp", body["channel"])
		_, _ = w.Write([]byte(`{"id":"chk_2","status":"awaiting_otp","otp":{"reference":"REF9","expires_at":"2026-01-01T10:05:00Z"}}`))
	})
	intent, err := a.CreatePayment(context.Background(), gateway.CreatePaymentInput{
		OrderID: "o", Amount: decimal.NewFromInt(10), Currency: "SAR", IdempotencyKey: "k", Customer: customer,
		Options: gateway.PaymentOptions{Channel: "otp"},
	})
	require.NoError(t, err)
	require.NotNil(t, intent.MobileChallenge)
	assert.Equal(t, "REF9", intent.MobileChallenge.Reference)
	assert.Equal(t, "+966*******67", intent.MobileChallenge.MaskedPhone)
}

func TestCreatePayment_OTPOnBankRedirectRejected(t *testing.T) {
	a := initAdapter(t, NewBankRedirect(), func(w http.ResponseWriter, r *http.Request) {})
	_, err := a.CreatePayment(context.Background(), gateway.CreatePaymentInput{
		OrderID: "o", Amount: decimal.NewFromInt(10), Currency: "SAR", IdempotencyKey: "k", Customer: customer,
		Options: gateway.PaymentOptions{Channel: "otp"},
	})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestConfirmPayment_OTP(t *testing.T) {
	a := initAdapter(t, NewMobileBank(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/checkouts/chk_2/otp", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["otp"] != "123456" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"invalid_otp"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"chk_2","status":"paid"}`))
	})
	res, err := a.ConfirmPayment(context.Background(), gateway.ConfirmInput{IntentID: "chk_2", OTP: "123456", IdempotencyKey: "c1"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	_, err = a.ConfirmPayment(context.Background(), gateway.ConfirmInput{IntentID: "chk_2", OTP: "000000", IdempotencyKey: "c2"})
	var ae *apperr.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	assert.Equal(t, "otp", ae.Field)
}

func TestConfirmPayment_ReadBack(t *testing.T) {
	cases := map[string]domain.PaymentResult{
		`{"id":"chk_1","status":"paid"}`:                                  {Success: true, PaymentIntentID: "chk_1"},
		`{"id":"chk_1","status":"failed","failure_code":"bank_rejected"}`: {PaymentIntentID: "chk_1", Error: "bank_rejected"},
		`{"id":"chk_1","status":"expired"}`:                               {PaymentIntentID: "chk_1", Error: "expired"},
		`{"id":"chk_1","status":"pending"}`:                               {Pending: true, PaymentIntentID: "chk_1"},
	}
	for payload, want := range cases {
		a := initAdapter(t, NewBankRedirect(), func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			_, _ = w.Write([]byte(payload))
		})
		res, err := a.ConfirmPayment(context.Background(), gateway.ConfirmInput{IntentID: "chk_1"})
		require.NoError(t, err)
		assert.Equal(t, want, res)
	}
}

func TestFetchStatus(t *testing.T) {
	a := initAdapter(t, NewBankRedirect(), func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"chk_1","status":"processing"}`))
	})
	st, err := a.FetchStatus(context.Background(), "chk_1")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentProcessing, st)
}
