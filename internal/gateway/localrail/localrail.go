// Package localrail drives the two domestic rails that share one checkout
// API: a hosted bank redirect, and a mobile-bank flow where the customer may
// confirm with a one-time password sent to their phone.
package localrail

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/gateway"
	"github.com/aq2208/gcheckout/internal/money"
	"github.com/aq2208/gcheckout/internal/transport"
)

const channelOTP = "otp"

type Adapter struct {
	gateway.Base
	id       gateway.ProviderID
	allowOTP bool
	opts     []transport.Option
}

func NewBankRedirect(opts ...transport.Option) *Adapter {
	return &Adapter{id: gateway.BankRedirect, opts: opts}
}

func NewMobileBank(opts ...transport.Option) *Adapter {
	return &Adapter{id: gateway.MobileBank, allowOTP: true, opts: opts}
}

func (a *Adapter) ID() gateway.ProviderID { return a.id }

func (a *Adapter) Initialize(cfg gateway.Config) error {
	opts := append([]transport.Option{transport.WithTokenSource(transport.StaticToken(cfg.APIKey))}, a.opts...)
	return a.Init(a.id, cfg, []gateway.Requirement{
		{Name: "base_url", Value: cfg.BaseURL},
		{Name: "merchant_id", Value: cfg.MerchantID},
		{Name: "api_key", Value: cfg.APIKey},
	}, opts...)
}

func (a *Adapter) IsAvailable() bool { return a.Ready() }

// ValidateCustomer requires a name and a local mobile number.
func (a *Adapter) ValidateCustomer(c domain.CustomerInfo) error {
	return gateway.FirstError(c, gateway.RequireName, gateway.RequireLocalMobile)
}

func (a *Adapter) ValidatePaymentData(c domain.CustomerInfo) bool { return a.ValidateCustomer(c) == nil }

type checkoutResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Amount      int64  `json:"amount"`
	RedirectURL string `json:"redirect_url"`
	OTP         *struct {
		Reference string    `json:"reference"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"otp"`
	FailureCode string `json:"failure_code"`
}

func (a *Adapter) CreatePayment(ctx context.Context, in gateway.CreatePaymentInput) (domain.PaymentIntent, error) {
	if !a.Ready() {
		return domain.PaymentIntent{}, gateway.NotReady(a.id)
	}
	// Nothing goes out before the customer passes the rail's checks.
	if err := a.ValidateCustomer(in.Customer); err != nil {
		return domain.PaymentIntent{}, err
	}
	otp := in.Options.Channel == channelOTP
	if otp && !a.allowOTP {
		return domain.PaymentIntent{}, apperr.Validation("options.channel", "otp is not offered on "+string(a.id))
	}
	if !a.Supports(in.Currency) {
		return domain.PaymentIntent{}, apperr.Unavailable(string(a.id) + " does not accept " + in.Currency)
	}
	amt, err := money.ToGatewayUnits(in.Amount, in.Currency, money.MinorUnits)
	if err != nil {
		return domain.PaymentIntent{}, apperr.Validation("amount", err.Error())
	}
	body := map[string]any{
		"merchant_id":  a.Settings().MerchantID,
		"reference":    in.OrderID,
		"amount":       amt.Minor,
		"currency":     amt.Currency,
		"description":  in.Options.Description,
		"callback_url": in.Options.ReturnURL,
		"customer": map[string]string{
			"name":  in.Customer.Name,
			"phone": in.Customer.Phone,
			"email": in.Customer.Email,
		},
	}
	if a.id == gateway.MobileBank {
		channel := "redirect"
		if otp {
			channel = channelOTP
		}
		body["channel"] = channel
	}
	resp, err := a.Client().Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/api/v1/checkouts",
		Body:           body,
		IdempotencyKey: in.IdempotencyKey,
		MovesMoney:     true,
		Locale:         in.Options.Locale,
	})
	if err != nil {
		return domain.PaymentIntent{}, gateway.Sanitize(err)
	}
	var cr checkoutResponse
	if err := resp.JSON(&cr); err != nil {
		return domain.PaymentIntent{}, err
	}
	if cr.ID == "" {
		return domain.PaymentIntent{}, apperr.Protocol("checkout without id", nil)
	}
	if cr.Amount != 0 && cr.Amount != amt.Minor {
		return domain.PaymentIntent{}, apperr.Protocol("checkout amount differs from request", nil)
	}
	intent := domain.PaymentIntent{
		ID:          cr.ID,
		Provider:    string(a.id),
		OrderID:     in.OrderID,
		Amount:      amt.Major,
		Currency:    amt.Currency,
		RedirectURL: cr.RedirectURL,
		Status:      domain.IntentRequiresAction,
		CreatedAt:   time.Now().UTC(),
	}
	if otp {
		if cr.OTP == nil || cr.OTP.Reference == "" {
			return domain.PaymentIntent{}, apperr.Protocol("otp channel without otp reference", nil)
		}
		intent.MobileChallenge = &domain.MobileChallenge{
			Reference:   cr.OTP.Reference,
			MaskedPhone: gateway.MaskPhone(in.Customer.Phone),
			ExpiresAt:   cr.OTP.ExpiresAt,
		}
	} else if intent.RedirectURL == "" {
		return domain.PaymentIntent{}, apperr.Protocol("checkout without redirect url", nil)
	}
	return intent, nil
}

// ConfirmPayment submits the OTP when one is given, otherwise it reads the
// checkout back after the customer returned from the bank.
func (a *Adapter) ConfirmPayment(ctx context.Context, in gateway.ConfirmInput) (domain.PaymentResult, error) {
	if !a.Ready() {
		return domain.PaymentResult{}, gateway.NotReady(a.id)
	}
	if in.IntentID == "" {
		return domain.PaymentResult{}, apperr.Validation("intentId", "checkout id required")
	}
	var cr checkoutResponse
	if in.OTP != "" {
		if !a.allowOTP {
			return domain.PaymentResult{}, apperr.Validation("otp", "otp is not offered on "+string(a.id))
		}
		resp, err := a.Client().Do(ctx, transport.Request{
			Method:         http.MethodPost,
			Path:           "/api/v1/checkouts/" + url.PathEscape(in.IntentID) + "/otp",
			Body:           map[string]string{"otp": in.OTP},
			IdempotencyKey: in.IdempotencyKey,
			MovesMoney:     true,
			Locale:         in.Locale,
		})
		if err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) && ae.Kind == apperr.KindHTTP && ae.Status == http.StatusUnprocessableEntity {
				return domain.PaymentResult{}, apperr.Validation("otp", "one-time password is invalid or expired")
			}
			return domain.PaymentResult{}, gateway.Sanitize(err)
		}
		if err := resp.JSON(&cr); err != nil {
			return domain.PaymentResult{}, err
		}
	} else {
		var err error
		if cr, err = a.fetch(ctx, in.IntentID); err != nil {
			return domain.PaymentResult{}, err
		}
	}

	res := domain.PaymentResult{PaymentIntentID: in.IntentID}
	switch mapStatus(cr.Status) {
	case domain.IntentSucceeded:
		res.Success = true
	case domain.IntentFailed, domain.IntentCanceled:
		res.Error = cr.FailureCode
		if res.Error == "" {
			res.Error = cr.Status
		}
	default:
		res.Pending = true
		res.RedirectURL = cr.RedirectURL
	}
	return res, nil
}

func (a *Adapter) FetchStatus(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	cr, err := a.fetch(ctx, intentID)
	if err != nil {
		return "", err
	}
	return mapStatus(cr.Status), nil
}

func (a *Adapter) CancelPayment(ctx context.Context, intentID, key string) error {
	if !a.Ready() {
		return gateway.NotReady(a.id)
	}
	_, err := a.Client().Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/api/v1/checkouts/" + url.PathEscape(intentID) + "/cancel",
		IdempotencyKey: key,
	})
	return gateway.Sanitize(err)
}

func (a *Adapter) fetch(ctx context.Context, id string) (checkoutResponse, error) {
	if !a.Ready() {
		return checkoutResponse{}, gateway.NotReady(a.id)
	}
	resp, err := a.Client().Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/api/v1/checkouts/" + url.PathEscape(id),
	})
	if err != nil {
		return checkoutResponse{}, gateway.Sanitize(err)
	}
	var cr checkoutResponse
	if err := resp.JSON(&cr); err != nil {
		return checkoutResponse{}, err
	}
	return cr, nil
}

func mapStatus(s string) domain.IntentStatus {
	switch s {
	case "paid", "captured":
		return domain.IntentSucceeded
	case "failed", "expired", "rejected":
		return domain.IntentFailed
	case "canceled", "cancelled":
		return domain.IntentCanceled
	case "pending", "processing":
		return domain.IntentProcessing
	case "initiated", "awaiting_otp":
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
)
