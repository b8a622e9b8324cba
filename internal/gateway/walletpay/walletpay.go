// Package walletpay drives the redirect wallet rail: an order is created at
// the wallet, the customer approves it on the wallet's pages and comes back,
// and the order is captured.
package walletpay

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

type Adapter struct {
	gateway.Base
	opts []transport.Option
}

func New(opts ...transport.Option) *Adapter { return &Adapter{opts: opts} }

func (a *Adapter) ID() gateway.ProviderID { return gateway.WalletRedirect }

func (a *Adapter) Initialize(cfg gateway.Config) error {
	if a.Ready() {
		return nil
	}
	// The token endpoint shares the wallet host but not its bearer auth.
	tc := cfg.Transport
	tc.Name = string(gateway.WalletRedirect) + "_oauth"
	tc.BaseURL = cfg.BaseURL
	ts := newTokenSource(transport.New(tc, a.opts...), cfg.ClientID, cfg.ClientSecret)

	opts := append([]transport.Option{transport.WithTokenSource(ts)}, a.opts...)
	return a.Init(gateway.WalletRedirect, cfg, []gateway.Requirement{
		{Name: "base_url", Value: cfg.BaseURL},
		{Name: "client_id", Value: cfg.ClientID},
		{Name: "client_secret", Value: cfg.ClientSecret},
	}, opts...)
}

func (a *Adapter) IsAvailable() bool { return a.Ready() }

func (a *Adapter) ValidateCustomer(c domain.CustomerInfo) error {
	return gateway.RequireName(c)
}

func (a *Adapter) ValidatePaymentData(c domain.CustomerInfo) bool { return a.ValidateCustomer(c) == nil }

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	InvoiceID   string `json:"invoice_id,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      amount `json:"amount"`
}

type orderRequest struct {
	Intent             string         `json:"intent"`
	PurchaseUnits      []purchaseUnit `json:"purchase_units"`
	ApplicationContext struct {
		ReturnURL  string `json:"return_url,omitempty"`
		CancelURL  string `json:"cancel_url,omitempty"`
		Locale     string `json:"locale,omitempty"`
		UserAction string `json:"user_action"`
	} `json:"application_context"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []link `json:"links"`
}

func (o orderResponse) link(rel string) string {
	for _, l := range o.Links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

func (a *Adapter) CreatePayment(ctx context.Context, in gateway.CreatePaymentInput) (domain.PaymentIntent, error) {
	if !a.Ready() {
		return domain.PaymentIntent{}, gateway.NotReady(a.ID())
	}
	if !a.Supports(in.Currency) {
		return domain.PaymentIntent{}, apperr.Unavailable("wallet does not accept " + in.Currency)
	}
	amt, err := money.ToGatewayUnits(in.Amount, in.Currency, money.MajorUnits)
	if err != nil {
		return domain.PaymentIntent{}, apperr.Validation("amount", err.Error())
	}
	req := orderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: in.OrderID,
			InvoiceID:   in.OrderID,
			Description: in.Options.Description,
			Amount:      amount{CurrencyCode: amt.Currency, Value: amt.String()},
		}},
	}
	req.ApplicationContext.ReturnURL = in.Options.ReturnURL
	req.ApplicationContext.CancelURL = in.Options.CancelURL
	req.ApplicationContext.Locale = in.Options.Locale
	req.ApplicationContext.UserAction = "PAY_NOW"

	resp, err := a.Client().Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/v2/checkout/orders",
		Body:           req,
		IdempotencyKey: in.IdempotencyKey,
		MovesMoney:     true,
		Locale:         in.Options.Locale,
		Headers:        map[string]string{"PayPal-Request-Id": in.IdempotencyKey},
	})
	if err != nil {
		return domain.PaymentIntent{}, gateway.Sanitize(err)
	}
	var or orderResponse
	if err := resp.JSON(&or); err != nil {
		return domain.PaymentIntent{}, err
	}
	approve := or.link("approve")
	if approve == "" {
		approve = or.link("payer-action")
	}
	if or.ID == "" || approve == "" {
		return domain.PaymentIntent{}, apperr.Protocol("order without id or approval link", nil)
	}
	return domain.PaymentIntent{
		ID:          or.ID,
		Provider:    string(a.ID()),
		OrderID:     in.OrderID,
		Amount:      amt.Major,
		Currency:    amt.Currency,
		RedirectURL: approve,
		Status:      mapStatus(or.Status),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

type issueResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (r issueResponse) issue() string {
	if len(r.Details) > 0 {
		return r.Details[0].Issue
	}
	return r.Name
}

// ConfirmPayment captures an approved order. A declined instrument is a final
// failure; the capture is not retried.
func (a *Adapter) ConfirmPayment(ctx context.Context, in gateway.ConfirmInput) (domain.PaymentResult, error) {
	if !a.Ready() {
		return domain.PaymentResult{}, gateway.NotReady(a.ID())
	}
	if in.IntentID == "" {
		return domain.PaymentResult{}, apperr.Validation("intentId", "order id required")
	}
	resp, err := a.Client().Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/v2/checkout/orders/" + url.PathEscape(in.IntentID) + "/capture",
		Body:           map[string]any{},
		IdempotencyKey: in.IdempotencyKey,
		MovesMoney:     true,
		NoRetry:        true,
		Locale:         in.Locale,
		Headers:        map[string]string{"PayPal-Request-Id": in.IdempotencyKey},
	})
	res := domain.PaymentResult{PaymentIntentID: in.IntentID}
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Kind == apperr.KindHTTP && ae.Status == http.StatusUnprocessableEntity {
			var ir issueResponse
			_ = (&transport.Response{Body: []byte(ae.Body)}).JSON(&ir)
			switch ir.issue() {
			case "INSTRUMENT_DECLINED", "PAYER_ACTION_REQUIRED", "TRANSACTION_REFUSED":
				res.Error = "instrument_declined"
				res.Message = "the wallet declined the payment instrument"
				return res, nil
			case "ORDER_NOT_APPROVED":
				res.Pending = true
				return res, nil
			case "ORDER_ALREADY_CAPTURED":
				res.Success = true
				return res, nil
			}
		}
		return domain.PaymentResult{}, gateway.Sanitize(err)
	}
	var or orderResponse
	if err := resp.JSON(&or); err != nil {
		return domain.PaymentResult{}, err
	}
	switch mapStatus(or.Status) {
	case domain.IntentSucceeded:
		res.Success = true
	case domain.IntentFailed, domain.IntentCanceled:
		res.Error = "capture_failed"
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
		Path:   "/v2/checkout/orders/" + url.PathEscape(intentID),
	})
	if err != nil {
		return "", gateway.Sanitize(err)
	}
	var or orderResponse
	if err := resp.JSON(&or); err != nil {
		return "", err
	}
	return mapStatus(or.Status), nil
}

// CancelPayment voids an order that was never captured.
func (a *Adapter) CancelPayment(ctx context.Context, intentID, key string) error {
	if !a.Ready() {
		return gateway.NotReady(a.ID())
	}
	_, err := a.Client().Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/v2/checkout/orders/" + url.PathEscape(intentID) + "/void",
		IdempotencyKey: key,
	})
	return gateway.Sanitize(err)
}

func mapStatus(s string) domain.IntentStatus {
	switch s {
	case "CREATED", "SAVED":
		return domain.IntentCreated
	case "PAYER_ACTION_REQUIRED", "APPROVED":
		return domain.IntentRequiresAction
	case "PENDING":
		return domain.IntentProcessing
	case "COMPLETED":
		return domain.IntentSucceeded
	case "VOIDED":
		return domain.IntentCanceled
	case "DECLINED", "FAILED":
		return domain.IntentFailed
	default:
		return domain.IntentCreated
	}
}

var (
	_ gateway.Adapter           = (*Adapter)(nil)
	_ gateway.CustomerValidator = (*Adapter)(nil)
	_ gateway.StatusChecker     = (*Adapter)(nil)
	_ gateway.Canceler          = (*Adapter)(nil)
	_ transport.TokenSource     = (*tokenSource)(nil)
)
