// Package gateway defines the contract every payment provider adapter
// implements and the registry the orchestrator looks adapters up in.
package gateway

import (
	"context"
	"encoding/json"

	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/transport"
	"github.com/shopspring/decimal"
)

type ProviderID string

// The closed set of rails this service can drive.
const (
	CardNetwork    ProviderID = "card_network"
	WalletRedirect ProviderID = "wallet_redirect"
	DeviceWallet   ProviderID = "device_wallet"
	BankRedirect   ProviderID = "bank_redirect"
	MobileBank     ProviderID = "mobile_bank"
)

var ProviderIDs = []ProviderID{CardNetwork, WalletRedirect, DeviceWallet, BankRedirect, MobileBank}

func (p ProviderID) Valid() bool {
	for _, id := range ProviderIDs {
		if id == p {
			return true
		}
	}
	return false
}

func (p ProviderID) String() string { return string(p) }

// Config is one provider section of the service config. Each adapter reads
// only the fields it needs.
type Config struct {
	Enabled        bool
	BaseURL        string
	APIKey         string
	PublishableKey string
	ClientID       string
	ClientSecret   string
	MerchantID     string
	MerchantDomain string
	DisplayName    string
	CountryCode    string
	Currencies     []string
	// ValidationHosts lists host suffixes a device wallet may hand us as a
	// merchant validation URL.
	ValidationHosts []string
	Transport       transport.Config
}

type PaymentOptions struct {
	ReturnURL   string
	CancelURL   string
	Description string
	Locale      string
	// Channel "otp" asks a mobile-bank rail to text a one-time password
	// instead of relying on the redirect only.
	Channel string
}

type CreatePaymentInput struct {
	OrderID        string
	Amount         decimal.Decimal
	Currency       string
	Customer       domain.CustomerInfo
	IdempotencyKey string
	Options        PaymentOptions
}

type ConfirmInput struct {
	IntentID       string
	ClientSecret   string
	Method         string
	OTP            string
	DeviceToken    json.RawMessage
	IdempotencyKey string
	Locale         string
}

// Adapter is the uniform contract over one provider protocol.
type Adapter interface {
	ID() ProviderID
	// Initialize validates credentials and prepares the transport. It is
	// idempotent and fails with an init_error when required settings are missing.
	Initialize(cfg Config) error
	IsAvailable() bool
	CreatePayment(ctx context.Context, in CreatePaymentInput) (domain.PaymentIntent, error)
	ConfirmPayment(ctx context.Context, in ConfirmInput) (domain.PaymentResult, error)
	ValidatePaymentData(c domain.CustomerInfo) bool
}

// CustomerValidator explains why ValidatePaymentData would return false.
type CustomerValidator interface {
	ValidateCustomer(c domain.CustomerInfo) error
}

// StatusChecker reads the provider's view of an intent for reconciliation.
type StatusChecker interface {
	FetchStatus(ctx context.Context, intentID string) (domain.IntentStatus, error)
}

// Canceler releases a remote intent or order that will not be confirmed.
type Canceler interface {
	CancelPayment(ctx context.Context, intentID, idempotencyKey string) error
}

// MerchantValidator is the first leg of a device wallet confirmation.
type MerchantValidator interface {
	ValidateMerchant(ctx context.Context, intentID, validationURL string) (json.RawMessage, error)
}
