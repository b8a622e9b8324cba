// Package cardnet drives the card-network rail: a payment intent with a
// client secret, a 3-D Secure challenge on the client and a return-URL
// redirect carrying the outcome. Card data never reaches this service.
package cardnet

import (
	"context"
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

type Adapter struct {
	gateway.Base
	opts []transport.Option
}

func New(opts ...transport.Option) *Adapter { return &Adapter{opts: opts} }

func (a *Adapter) ID() gateway.ProviderID { return gateway.CardNetwork }

func (a *Adapter) Initialize(cfg gateway.Config) error {
	opts := append([]transport.Option{transport.WithTokenSource(transport.StaticToken(cfg.APIKey))}, a.opts...)
	return a.Init(gateway.CardNetwork, cfg, []gateway.Requirement{
		{Name: "base_url", Value: cfg.BaseURL},
		{Name: "api_key", Value: cfg.APIKey},
		{Name: "publishable_key", Value: cfg.PublishableKey},
	}, opts...)
}

func (a *Adapter) IsAvailable() bool { return a.Ready() }

func (a *Adapter) ValidateCustomer(c domain.CustomerInfo) error {
	return gateway.FirstError(c, gateway.RequireName, gateway.RequireEmail)
}

func (a *Adapter) ValidatePaymentData(c domain.CustomerInfo) bool { return a.ValidateCustomer(c) == nil }

type intentRequest struct {
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	OrderID       string            `json:"order_id"`
	Description   string            `json:"description,omitempty"`
	ReturnURL     string            `json:"return_url"`
	CaptureMethod string            `json:"capture_method"`
	ReceiptEmail  string            `json:"receipt_email,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type intentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	NextAction   *struct {
		RedirectURL string `json:"redirect_url"`
	} `json:"next_action"`
	LastError *providerError `json:"last_error"`
}

type providerError struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

func (e *providerError) code() string {
	if e == nil {
		return "payment_failed"
	}
	if e.DeclineCode != "" {
		return e.DeclineCode
	}
	if e.Code != "" {
		return e.Code
	}
	return "payment_failed"
}

func (a *Adapter) CreatePayment(ctx context.Context, in gateway.CreatePaymentInput) (domain.PaymentIntent, error) {
	if !a.Ready() {
		return domain.PaymentIntent{}, gateway.NotReady(a.ID())
	}
	if !a.Supports(in.Currency) {
		return domain.PaymentIntent{}, apperr.Unavailable("card network does not accept " + in.Currency)
	}
	amt, err := money.ToGatewayUnits(in.Amount, in.Currency, money.MinorUnits)
	if err != nil {
		return domain.PaymentIntent{}, apperr.Validation("amount", err.Error())
	}
	resp, err := a.Client().Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   "/v1/payment_intents",
		Body: intentRequest{
			Amount:        amt.Minor,
			Currency:      strings.ToLower(amt.Currency),
			OrderID:       in.OrderID,
			Description:   in.Options.Description,
			ReturnURL:     in.Options.ReturnURL,
			CaptureMethod: "automatic",
			ReceiptEmail:  in.Customer.Email,
			Metadata:      map[string]string{"order_id": in.OrderID},
		},
		IdempotencyKey: in.IdempotencyKey,
		MovesMoney:     true,
		Locale:         in.Options.Locale,
	})
	if err != nil {
		return domain.PaymentIntent{}, translate(err)
	}
	var ir intentResponse
	if err := resp.JSON(&ir); err != nil {
		return domain.PaymentIntent{}, err
	}
	if ir.ID == "" || ir.ClientSecret == "" {
		return domain.PaymentIntent{}, apperr.Protocol("intent without id or client secret", nil)
	}
	if ir.Amount != 0 && ir.Amount != amt.Minor {
		return domain.PaymentIntent{}, apperr.Protocol("intent amount differs from request", nil)
	}
	intent := domain.PaymentIntent{
		ID:           ir.ID,
		Provider:     string(a.ID()),
		OrderID:      in.OrderID,
		Amount:       amt.Major,
		Currency:     amt.Currency,
		ClientSecret: ir.ClientSecret,
		Status:       mapStatus(ir.Status),
		CreatedAt:    time.Now().UTC(),
	}
	if ir.NextAction != nil {
		intent.RedirectURL = ir.NextAction.RedirectURL
	}
	return intent, nil
}

// ConfirmPayment is called when the customer comes back from the 3-D Secure
// return URL. The redirect itself is not trusted; the intent is read back
// from the provider.
func (a *Adapter) ConfirmPayment(ctx context.Context, in gateway.ConfirmInput) (domain.PaymentResult, error) {
	if !a.Ready() {
		return domain.PaymentResult{}, gateway.NotReady(a.ID())
	}
	id := in.IntentID
	if id == "" {
		id = intentFromSecret(in.ClientSecret)
	}
	if id == "" {
		return domain.PaymentResult{}, apperr.Validation("intentId", "intent id or client secret required")
	}
	ir, err := a.fetch(ctx, id)
	if err != nil {
		return domain.PaymentResult{}, err
	}
	if in.ClientSecret != "" && in.ClientSecret != ir.ClientSecret {
		return domain.PaymentResult{}, apperr.Validation("clientSecret", "client secret does not belong to intent")
	}

	res := domain.PaymentResult{PaymentIntentID: ir.ID}
	switch mapStatus(ir.Status) {
	case domain.IntentSucceeded:
		res.Success = true
	case domain.IntentRequiresAction, domain.IntentProcessing, domain.IntentCreated:
		if ir.LastError != nil {
			res.Error = ir.LastError.code()
			res.Message = ir.LastError.Message
			return res, nil
		}
		res.Pending = true
		if ir.NextAction != nil {
			res.RedirectURL = ir.NextAction.RedirectURL
		}
	default:
		res.Error = ir.LastError.code()
		if ir.LastError != nil {
			res.Message = ir.LastError.Message
		}
	}
	return res, nil
}

func (a *Adapter) FetchStatus(ctx context.Context, intentID string) (domain.IntentStatus, error) {
	ir, err := a.fetch(ctx, intentID)
	if err != nil {
		return "", err
	}
	st := mapStatus(ir.Status)
	if st == domain.IntentRequiresAction && ir.LastError != nil {
		return domain.IntentFailed, nil
	}
	return st, nil
}

func (a *Adapter) CancelPayment(ctx context.Context, intentID, key string) error {
	if !a.Ready() {
		return gateway.NotReady(a.ID())
	}
	_, err := a.Client().Do(ctx, transport.Request{
		Method:         http.MethodPost,
		Path:           "/v1/payment_intents/" + url.PathEscape(intentID) + "/cancel",
		IdempotencyKey: key,
	})
	return translate(err)
}

func (a *Adapter) fetch(ctx context.Context, id string) (intentResponse, error) {
	if !a.Ready() {
		return intentResponse{}, gateway.NotReady(a.ID())
	}
	resp, err := a.Client().Do(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   "/v1/payment_intents/" + url.PathEscape(id),
	})
	if err != nil {
		return intentResponse{}, translate(err)
	}
	var ir intentResponse
	if err := resp.JSON(&ir); err != nil {
		return intentResponse{}, err
	}
	if ir.ID == "" {
		return intentResponse{}, apperr.Protocol("intent without id", nil)
	}
	return ir, nil
}

func mapStatus(s string) domain.IntentStatus {
	switch s {
	case "requires_action", "requires_confirmation", "requires_payment_method":
		return domain.IntentRequiresAction
	case "processing":
		return domain.IntentProcessing
	case "succeeded":
		return domain.IntentSucceeded
	case "canceled":
		return domain.IntentCanceled
	case "failed":
		return domain.IntentFailed
	default:
		return domain.IntentCreated
	}
}

// Client secrets look like "<intent id>_secret_<random>".
func intentFromSecret(secret string) string {
	id, _, ok := strings.Cut(secret, "_secret_")
	if !ok {
		return ""
	}
	return id
}

// translate turns a 402 card error into a decline and strips provider bodies.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Kind == apperr.KindHTTP && ae.Status == http.StatusPaymentRequired {
		var env struct {
			Error providerError `json:"error"`
		}
		_ = (&transport.Response{Body: []byte(ae.Body)}).JSON(&env)
		return apperr.Declined(env.Error.code(), "card was declined")
	}
	return gateway.Sanitize(err)
}

var (
	_ gateway.Adapter           = (*Adapter)(nil)
	_ gateway.CustomerValidator = (*Adapter)(nil)
	_ gateway.StatusChecker     = (*Adapter)(nil)
	_ gateway.Canceler          = (*Adapter)(nil)
)
