// Package devicepay drives the device wallet rail. Confirmation happens in
// two legs: the wallet asks the merchant to validate itself against a URL the
// wallet supplies, then the customer authorizes and the device hands over a
// single-use payment token.
package devicepay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/gateway"
	"github.com/aq2208/gcheckout/internal/money"
	"github.com/aq2208/gcheckout/internal/transport"
)

var supportedNetworks = []string{"visa", "masterCard", "mada", "amex"}

type Adapter struct {
	gateway.Base
	opts []transport.Option
}

func New(opts ...transport.Option) *Adapter { return &Adapter{opts: opts} }

func (a *Adapter) ID() gateway.ProviderID { return gateway.DeviceWallet }

func (a *Adapter) Initialize(cfg gateway.Config) error {
	opts := append([]transport.Option{transport.WithTokenSource(transport.StaticToken(cfg.APIKey))}, a.opts...)
	return a.Init(gateway.DeviceWallet, cfg, []gateway.Requirement{
		{Name: "base_url", Value: cfg.BaseURL},
		{Name: "api_key", Value: cfg.APIKey},
		{Name: "merchant_id", Value: cfg.MerchantID},
		{Name: "merchant_domain", Value: cfg.MerchantDomain},
		{Name: "display_name", Value: cfg.DisplayName},
	}, opts...)
}

func (a *Adapter) IsAvailable() bool { return a.Ready() }

func (a *Adapter) ValidateCustomer(c domain.CustomerInfo) error { return gateway.RequireName(c) }

func (a *Adapter) ValidatePaymentData(c domain.CustomerInfo) bool { return a.ValidateCustomer(c) == nil }

type intentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount string `json:"amount"`
	Reason string `json:"decline_reason"`
}

func (a *Adapter) CreatePayment(ctx context.Context, in gateway.CreatePaymentInput) (domain.PaymentIntent, error) {
	if !a.Ready() {
		return domain.PaymentIntent{}, gateway.NotReady(a.ID())
	}
	if !a.Supports(in.Currency) {
		return domain.PaymentIntent{}, apperr.Unavailable("device wallet does not accept " + in.Currency)
	}
	amt, err := money.ToGatewayUnits(in.Amount, in.Currency, money.MajorUnits)
	if err != nil {
		return domain.PaymentIntent{}, apperr.Validation("amount", err.Error())
	}
	cfg := a.Settings()
	resp, err := a.Client().Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/v1/intents",
		Body: map[string]any{
			"merchant_id": cfg.MerchantID,
			"order_id":    in.OrderID,
			"amount":      amt.String(),
			"currency":    amt.Currency,
		},
		IdempotencyKey: in.IdempotencyKey,
		MovesMoney:     true,
		Locale:         in.Options.Locale,
	})
	if err != nil {
		return domain.PaymentIntent{}, gateway.Sanitize(err)
	}
	var ir intentResponse
	if err := resp.JSON(&ir); err != nil {
		return domain.PaymentIntent{}, err
	}
	if ir.ID == "" {
		return domain.PaymentIntent{}, apperr.Protocol("intent without id", nil)
	}
	country := cfg.CountryCode
	if country == "" {
		country = "SA"
	}
	return domain.PaymentIntent{
		ID:       ir.ID,
		Provider: string(a.ID()),
		OrderID:  in.OrderID,
		Amount:   amt.Major,
		Currency: amt.Currency,
		Status:   domain.IntentRequiresAction,
		WalletSheet: &domain.WalletSheet{
			MerchantID:        cfg.MerchantID,
			CountryCode:       country,
			Currency:          amt.Currency,
			Total:             amt.String(),
			Label:             cfg.DisplayName,
			SupportedNetworks: supportedNetworks,
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// ValidateMerchant obtains an opaque merchant session from the URL the
// wallet supplied. Only https URLs on configured hosts are followed.
func (a *Adapter) ValidateMerchant(ctx context.Context, intentID, validationURL string) (json.RawMessage, error) {
	if !a.Ready() {
		return nil, gateway.NotReady(a.ID())
	}
	if err := a.checkValidationURL(validationURL); err != nil {
		return nil, err
	}
	cfg := a.Settings()
	resp, err := a.Client().Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/v1/merchant-sessions",
		Body: map[string]string{
			"intent_id":      intentID,
			"validation_url": validationURL,
			"merchant_id":    cfg.MerchantID,
			"domain_name":    cfg.MerchantDomain,
			"display_name":   cfg.DisplayName,
		},
	})
	if err != nil {
		return nil, gateway.Sanitize(err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &obj); err != nil || len(obj) == 0 {
		return nil, apperr.Protocol("merchant session is not a json object", err)
	}
	return json.RawMessage(resp.Body), nil
}

func (a *Adapter) checkValidationURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return apperr.Validation("validationUrl", "validation url must be an https url")
	}
	hosts := a.Settings().ValidationHosts
	if len(hosts) == 0 {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimPrefix(h, "."))
		if host == h || strings.HasSuffix(host, "."+h) {
			return nil
		}
	}
	return apperr.Validation("validationUrl", "validation url host is not allowed")
}

// ConfirmPayment authorizes with the device token. The token is single use,
// so the call is made exactly once.
func (a *Adapter) ConfirmPayment(ctx context.Context, in gateway.ConfirmInput) (domain.PaymentResult, error) {
	if !a.Ready() {
		return domain.PaymentResult{}, gateway.NotReady(a.ID())
	}
	if in.IntentID == "" {
		return domain.PaymentResult{}, apperr.Validation("intentId", "intent id required")
	}
	if len(in.DeviceToken) == 0 || string(in.DeviceToken) == "null" {
		return domain.PaymentResult{}, apperr.Validation("paymentToken", "payment token required")
	}
	resp, err := a.Client().Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/v1/intents/" + url.PathEscape(in.IntentID) + "/authorize",
		Body:           map[string]json.RawMessage{"payment_token": in.DeviceToken},
		IdempotencyKey: in.IdempotencyKey,
		MovesMoney:     true,
		NoRetry:        true,
		Locale:         in.Locale,
	})
	res := domain.PaymentResult{PaymentIntentID: in.IntentID}
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind == apperr.KindHTTP && ae.Status == http.StatusPaymentRequired {
			res.Error = "token_declined"
			return res, nil
		}
		return domain.PaymentResult{}, gateway.Sanitize(err)
	}
	var ir intentResponse
	if err := resp.JSON(&ir); err != nil {
		return domain.PaymentResult{}, err
	}
	switch mapStatus(ir.Status) {
	case domain.IntentSucceeded:
		res.Success = true
	case domain.IntentFailed, domain.IntentCanceled:
		res.Error = ir.Reason
		if res.Error == "" {
			res.Error = "declined"
		}
	default:
		res.Pending = true
	}
	return res, nil
}

func (a *Adapter) FetchStatus(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	if !a.Ready() {
		return "", gateway.NotReady(a.ID())
	}
	resp, err := a.Client().Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/v1/intents/" + url.PathEscape(intentID),
	})
	if err != nil {
		return "", gateway.Sanitize(err)
	}
	var ir intentResponse
	if err := resp.JSON(&ir); err != nil {
		return "", err
	}
	return mapStatus(ir.Status), nil
}

func (a *Adapter) CancelPayment(ctx context.Context, intentID, key string) error {
	if !a.Ready() {
		return gateway.NotReady(a.ID())
	}
	_, err := a.Client().Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/v1/intents/" + url.PathEscape(intentID) + "/cancel",
		IdempotencyKey: key,
	})
	return gateway.Sanitize(err)
}

func mapStatus(s string) domain.IntentStatus {
	switch s {
	case "succeeded", "authorized", "captured":
		return domain.IntentSucceeded
	case "declined", "failed":
		return domain.IntentFailed
	case "canceled":
		return domain.IntentCanceled
	case "processing":
		return domain.IntentProcessing
	case "requires_authorization":
		return domain.IntentRequiresAction
	default:
		return domain.IntentCreated
	}
}

var (
	_ gateway.Adapter           = (*Adapter)(nil)
	_ gateway.CustomerValidator = (*Adapter)(nil)
	_ gateway.StatusChecker     = (*Adapter)(nil)
	_ gateway.Canceler          = (*Adapter)(nil)
	_ gateway.MerchantValidator = (*Adapter)(nil)
)
