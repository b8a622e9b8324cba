package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentCreated        IntentStatus = "created"
	IntentRequiresAction IntentStatus = "requires_action"
	IntentProcessing     IntentStatus = "processing"
	IntentSucceeded      IntentStatus = "succeeded"
	IntentFailed         IntentStatus = "failed"
	IntentCanceled       IntentStatus = "canceled"
)

func (s IntentStatus) IsTerminal() bool {
	return s == IntentSucceeded || s == IntentFailed || s == IntentCanceled
}

// MobileChallenge is returned when the provider sent an OTP to the customer's phone.
type MobileChallenge struct {
	Reference   string    `json:"reference"`
	MaskedPhone string    `json:"maskedPhone"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// WalletSheet is what a device wallet needs to render its payment sheet.
type WalletSheet struct {
	MerchantID        string   `json:"merchantId"`
	CountryCode       string   `json:"countryCode"`
	Currency          string   `json:"currency"`
	Total             string   `json:"total"`
	Label             string   `json:"label"`
	SupportedNetworks []string `json:"supportedNetworks"`
}

// PaymentIntent is one attempted charge at a provider.
type PaymentIntent struct {
	ID              string           `json:"id"`
	Provider        string           `json:"provider"`
	OrderID         string           `json:"orderId"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        string           `json:"currency"`
	ClientSecret    string           `json:"clientSecret,omitempty"`
	RedirectURL     string           `json:"redirectUrl,omitempty"`
	MobileChallenge *MobileChallenge `json:"mobileChallenge,omitempty"`
	WalletSheet     *WalletSheet     `json:"walletSheet,omitempty"`
	Status          IntentStatus     `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// PaymentResult is an adapter's answer to a confirmation. Pending means the
// provider has not reached a final outcome yet.
type PaymentResult struct {
	Success         bool   `json:"success"`
	Pending         bool   `json:"pending,omitempty"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	RedirectURL     string `json:"redirectUrl,omitempty"`
	Error           string `json:"error,omitempty"`
	Message         string `json:"message,omitempty"`
}
