package http

import (
	"context"
	"encoding/json"
	"net/http"

	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/gateway"
	"github.com/aq2208/gcheckout/internal/money"
	"github.com/aq2208/gcheckout/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const HeaderIdempotencyKey = "X-Idempotency-Key"

// CheckoutService is the part of the checkout orchestrator the HTTP layer drives.
type CheckoutService interface {
	StartCheckout(ctx context.Context, in usecase.StartCheckoutInput) (usecase.StartCheckoutOutput, error)
	Confirm(ctx context.Context, in usecase.ConfirmInput) (*domain.CheckoutSession, error)
	ValidateMerchant(ctx context.Context, intentID, validationURL string) (json.RawMessage, error)
	AuthorizeDevicePayment(ctx context.Context, intentID string, token json.RawMessage) (*domain.CheckoutSession, error)
	Cancel(ctx context.Context, intentID string) (*domain.CheckoutSession, error)
	GetPaymentStatus(ctx context.Context, intentID string) (*usecase.PaymentStatusView, error)
}

type ProviderCatalog interface {
	All() []gateway.Adapter
}

var _ CheckoutService = (*usecase.Checkout)(nil)

type CheckoutHandler struct {
	svc       CheckoutService
	providers ProviderCatalog
}

func NewCheckoutHandler(svc CheckoutService, providers ProviderCatalog) *CheckoutHandler {
	return &CheckoutHandler{svc: svc, providers: providers}
}

type providerResp struct {
	ID        string `json:"id"`
	Available bool   `json:"available"`
}

func (h *CheckoutHandler) ListProviders(c *gin.Context) {
	out := make([]providerResp, 0)
	for _, a := range h.providers.All() {
		out = append(out, providerResp{ID: a.ID().String(), Available: a.IsAvailable()})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

type cartReq struct {
	Currency string            `json:"currency" binding:"required"`
	Items    []domain.LineItem `json:"items" binding:"required,min=1"`
	// Totals are optional. When the client sends them they must match the
	// server's own computation.
	Subtotal *decimal.Decimal `json:"subtotal"`
	Tax      *decimal.Decimal `json:"tax"`
	Total    *decimal.Decimal `json:"total"`
}

func (r cartReq) snapshot() domain.CartSnapshot {
	snap := domain.NewCartSnapshot(r.Currency, r.Items)
	if r.Subtotal != nil {
		snap.Subtotal = *r.Subtotal
	}
	if r.Tax != nil {
		snap.Tax = *r.Tax
	}
	if r.Total != nil {
		snap.Total = *r.Total
	}
	return snap
}

type startCheckoutReq struct {
	Provider    string              `json:"provider" binding:"required"`
	OrderID     string              `json:"orderId"`
	Cart        cartReq             `json:"cart" binding:"required"`
	Customer    domain.CustomerInfo `json:"customer"`
	ReturnURL   string              `json:"returnUrl"`
	CancelURL   string              `json:"cancelUrl"`
	Description string              `json:"description"`
	Channel     string              `json:"channel"`
}

type cartResp struct {
	Currency  string `json:"currency"`
	ItemCount int    `json:"itemCount"`
	Subtotal  string `json:"subtotal"`
	Tax       string `json:"tax"`
	Total     string `json:"total"`
	// TotalDisplay is the total formatted for the request locale.
	TotalDisplay string `json:"totalDisplay,omitempty"`
}

type sessionResp struct {
	IntentID        string                  `json:"intentId"`
	OrderID         string                  `json:"orderId"`
	Provider        string                  `json:"provider"`
	State           domain.CheckoutState    `json:"state"`
	Cart            cartResp                `json:"cart"`
	ClientSecret    string                  `json:"clientSecret,omitempty"`
	RedirectURL     string                  `json:"redirectUrl,omitempty"`
	MobileChallenge *domain.MobileChallenge `json:"mobileChallenge,omitempty"`
	WalletSheet     *domain.WalletSheet     `json:"walletSheet,omitempty"`
	DeviceStep      domain.DeviceStep       `json:"deviceStep,omitempty"`
	Result          *domain.PaymentResult   `json:"result,omitempty"`
	Inconclusive    bool                    `json:"inconclusive,omitempty"`
	Replayed        bool                    `json:"replayed,omitempty"`
}

func toSessionResp(c *gin.Context, s *domain.CheckoutSession) sessionResp {
	out := sessionResp{
		IntentID:        s.IntentID,
		OrderID:         s.OrderID,
		Provider:        s.Provider,
		State:           s.State,
		ClientSecret:    s.Intent.ClientSecret,
		RedirectURL:     s.Intent.RedirectURL,
		MobileChallenge: s.Intent.MobileChallenge,
		WalletSheet:     s.Intent.WalletSheet,
		Result:          s.Result,
		Inconclusive:    s.Inconclusive,
		Cart: cartResp{
			Currency:  s.Cart.Currency,
			ItemCount: s.Cart.ItemCount,
			Subtotal:  s.Cart.Subtotal.StringFixed(2),
			Tax:       s.Cart.Tax.StringFixed(2),
			Total:     s.Cart.Total.StringFixed(2),
		},
	}
	if s.Device != nil {
		out.DeviceStep = s.Device.Step
	}
	locale := requestLocale(c, s.Locale)
	if f, err := money.Format(s.Cart.Total, locale, money.Options{Currency: s.Cart.Currency}); err == nil {
		out.Cart.TotalDisplay = f.Full
	}
	return out
}

func requestLocale(c *gin.Context, fallback string) string {
	if l := c.GetHeader("Accept-Language"); l != "" {
		return l
	}
	if fallback != "" {
		return fallback
	}
	return "en"
}

// POST /v1/checkouts
func (h *CheckoutHandler) Start(c *gin.Context) {
	var req startCheckoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	out, err := h.svc.StartCheckout(c.Request.Context(), usecase.StartCheckoutInput{
		IdempotencyKey: c.GetHeader(HeaderIdempotencyKey),
		Provider:       req.Provider,
		OrderID:        req.OrderID,
		Cart:           req.Cart.snapshot(),
		Customer:       req.Customer,
		Locale:         c.GetHeader("Accept-Language"),
		Options: gateway.PaymentOptions{
			ReturnURL:   req.ReturnURL,
			CancelURL:   req.CancelURL,
			Description: req.Description,
			Locale:      c.GetHeader("Accept-Language"),
			Channel:     req.Channel,
		},
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := toSessionResp(c, out.Session)
	resp.Replayed = out.Replayed
	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

type confirmReq struct {
	ClientSecret string `json:"clientSecret"`
	Method       string `json:"method"`
	OTP          string `json:"otp"`
}

// POST /v1/checkouts/:intentId/confirm
func (h *CheckoutHandler) Confirm(c *gin.Context) {
	var req confirmReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	s, err := h.svc.Confirm(c.Request.Context(), usecase.ConfirmInput{
		IntentID:       c.Param("intentId"),
		ClientSecret:   req.ClientSecret,
		Method:         req.Method,
		OTP:            req.OTP,
		IdempotencyKey: c.GetHeader(HeaderIdempotencyKey),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResp(c, s))
}

type merchantValidationReq struct {
	ValidationURL string `json:"validationUrl" binding:"required"`
}

// POST /v1/checkouts/:intentId/device/merchant-validation
func (h *CheckoutHandler) ValidateMerchant(c *gin.Context) {
	var req merchantValidationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	session, err := h.svc.ValidateMerchant(c.Request.Context(), c.Param("intentId"), req.ValidationURL)
	if err != nil {
		writeError(c, err)
		return
	}
	// The merchant session is opaque to us; the wallet sheet consumes it as is.
	c.Data(http.StatusOK, "application/json", session)
}

type deviceAuthorizationReq struct {
	PaymentToken json.RawMessage `json:"paymentToken" binding:"required"`
}

// POST /v1/checkouts/:intentId/device/authorization
func (h *CheckoutHandler) AuthorizeDevice(c *gin.Context) {
	var req deviceAuthorizationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	s, err := h.svc.AuthorizeDevicePayment(c.Request.Context(), c.Param("intentId"), req.PaymentToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResp(c, s))
}

// POST /v1/checkouts/:intentId/cancel
func (h *CheckoutHandler) Cancel(c *gin.Context) {
	s, err := h.svc.Cancel(c.Request.Context(), c.Param("intentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResp(c, s))
}

// GET /v1/payments/:intentId/status
func (h *CheckoutHandler) Status(c *gin.Context) {
	v, err := h.svc.GetPaymentStatus(c.Request.Context(), c.Param("intentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
