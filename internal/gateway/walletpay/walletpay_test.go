package walletpay

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

type fakeWallet struct {
	tokenCalls int32
	mux        *http.ServeMux
}

func newAdapter(t *testing.T, routes map[string]http.HandlerFunc) (*Adapter, *fakeWallet) {
	t.Helper()
	fw := &fakeWallet{mux: http.NewServeMux()}
	fw.mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fw.tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "cid", user)
		assert.Equal(t, "csecret", pass)
		_, _ = w.Write([]byte(`{"access_token":"A21","expires_in":32400}`))
	})
	for p, h := range routes {
		fw.mux.HandleFunc(p, h)
	}
	srv := httptest.NewServer(fw.mux)
	t.Cleanup(srv.Close)

	a := New(transport.WithHTTPClient(srv.Client()), transport.WithSleep(noSleep))
	require.NoError(t, a.Initialize(gateway.Config{BaseURL: srv.URL, ClientID: "cid", ClientSecret: "csecret"}))
	return a, fw
}

func TestInitialize_MissingCredentials(t *testing.T) {
	err := New().Initialize(gateway.Config{BaseURL: "http://x", ClientID: "cid"})
	assert.True(t, errors.Is(err, apperr.ErrInit))
}

func TestCreatePayment_MajorUnitsAndApproveLink(t *testing.T) {
	var body orderRequest
	a, fw := newAdapter(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer A21", r.Header.Get("Authorization"))
			assert.Equal(t, "idem-7", r.Header.Get("Idempotency-Key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_, _ = w.Write([]byte(`{"id":"5O190127TN364715T","status":"CREATED","links":[
				{"href":"https://api.wallet.example/v2/checkout/orders/5O1","rel":"self"},
				{"href":"https://wallet.example/checkoutnow?token=5O1","rel":"approve"}]}`))
		},
	})

	intent, err := a.CreatePayment(context.Background(), gateway.CreatePaymentInput{
		OrderID:        "ord-1",
		Amount:         decimal.RequireFromString("115.575"),
		Currency:       "SAR",
		IdempotencyKey: "idem-7",
	})
	require.NoError(t, err)
	assert.Equal(t, "115.58", body.PurchaseUnits[0].Amount.Value)
	assert.Equal(t, "SAR", body.PurchaseUnits[0].Amount.CurrencyCode)
	assert.Equal(t, "CAPTURE", body.Intent)
	assert.Equal(t, "https://wallet.example/checkoutnow?token=5O1", intent.RedirectURL)
	assert.Equal(t, "5O190127TN364715T", intent.ID)

	// a second call reuses the cached token
	_, _ = a.CreatePayment(context.Background(), gateway.CreatePaymentInput{
		OrderID: "ord-2", Amount: decimal.NewFromInt(1), Currency: "SAR", IdempotencyKey: "idem-8",
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&fw.tokenCalls))
}

func TestCreatePayment_MissingApproveLink(t *testing.T) {
	a, _ := newAdapter(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"id":"X","status":"CREATED","links":[]}`))
		},
	})
	_, err := a.CreatePayment(context.Background(), gateway.CreatePaymentInput{
		OrderID: "o", Amount: decimal.NewFromInt(1), Currency: "SAR", IdempotencyKey: "k",
	})
	assert.True(t, errors.Is(err, apperr.ErrProtocol))
}

func TestConfirmPayment_Captured(t *testing.T) {
	a, _ := newAdapter(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders/ORD1/capture": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "cap-1", r.Header.Get("Idempotency-Key"))
			_, _ = w.Write([]byte(`{"id":"ORD1","status":"COMPLETED"}`))
		},
	})
	res, err := a.ConfirmPayment(context.Background(), gateway.ConfirmInput{IntentID: "ORD1", IdempotencyKey: "cap-1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ORD1", res.PaymentIntentID)
}

func TestConfirmPayment_InstrumentDeclinedIsNotRetried(t *testing.T) {
	var calls int32
	a, _ := newAdapter(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders/ORD1/capture": func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"name":"UNPROCESSABLE_ENTITY","details":[{"issue":"INSTRUMENT_DECLINED"}]}`))
		},
	})
	res, err := a.ConfirmPayment(context.Background(), gateway.ConfirmInput{IntentID: "ORD1", IdempotencyKey: "cap-1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "instrument_declined", res.Error)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestConfirmPayment_CaptureFailureSentOnce(t *testing.T) {
	var calls int32
	a, _ := newAdapter(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders/O1/capture": func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		},
	})
	_, err := a.ConfirmPayment(context.Background(), gateway.ConfirmInput{IntentID: "O1", IdempotencyKey: "cap-1"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindHTTP, apperr.KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestConfirmPayment_NotApprovedIsPending(t *testing.T) {
	a, _ := newAdapter(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders/ORD1/capture": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"details":[{"issue":"ORDER_NOT_APPROVED"}]}`))
		},
	})
	res, err := a.ConfirmPayment(context.Background(), gateway.ConfirmInput{IntentID: "ORD1", IdempotencyKey: "cap-1"})
	require.NoError(t, err)
	assert.True(t, res.Pending)
}

func TestConfirmPayment_RequiresKey(t *testing.T) {
	a, _ := newAdapter(t, nil)
	_, err := a.ConfirmPayment(context.Background(), gateway.ConfirmInput{IntentID: "ORD1"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestToken_RefreshedAfter401(t *testing.T) {
	var orderCalls int32
	a, fw := newAdapter(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders/ORD1": func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&orderCalls, 1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"id":"ORD1","status":"APPROVED"}`))
		},
	})
	st, err := a.FetchStatus(context.Background(), "ORD1")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentRequiresAction, st)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fw.tokenCalls))
}

func TestTokenSource_Expiry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"access_token":"t","expires_in":120}`))
	}))
	defer srv.Close()

	ts := newTokenSource(transport.New(transport.Config{BaseURL: srv.URL}, transport.WithHTTPClient(srv.Client())), "a", "b")
	now := time.Unix(1000, 0)
	ts.now = func() time.Time { return now }

	_, err := ts.Token(context.Background())
	require.NoError(t, err)
	now = now.Add(59 * time.Second)
	_, _ = ts.Token(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	now = now.Add(2 * time.Second)
	_, _ = ts.Token(context.Background())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCancelPayment(t *testing.T) {
	var hit bool
	a, _ := newAdapter(t, map[string]http.HandlerFunc{
		"/v2/checkout/orders/ORD1/void": func(w http.ResponseWriter, r *http.Request) {
			hit = true
			_, _ = w.Write([]byte(`{}`))
		},
	})
	require.NoError(t, a.CancelPayment(context.Background(), "ORD1", "void-1"))
	assert.True(t, hit)
}
