package domain

import "time"

type CheckoutState string

const (
	StateDraft                CheckoutState = "draft"
	StateIntentCreated        CheckoutState = "intent_created"
	StateAwaitingConfirmation CheckoutState = "awaiting_confirmation"
	StateSettled              CheckoutState = "settled"
	StateDeclined             CheckoutState = "declined"
	StateAborted              CheckoutState = "aborted"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	StateDraft:                {StateIntentCreated, StateAborted},
	StateIntentCreated:        {StateAwaitingConfirmation, StateAborted},
	StateAwaitingConfirmation: {StateSettled, StateDeclined, StateAborted},
}

func (s CheckoutState) IsTerminal() bool {
	return s == StateSettled || s == StateDeclined || s == StateAborted
}

func (s CheckoutState) CanTransitionTo(next CheckoutState) bool {
	for _, n := range checkoutTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

func (s CheckoutState) String() string { return string(s) }

// DeviceStep is the micro-state of a device wallet confirmation.
type DeviceStep string

const (
	DeviceAwaitingValidation DeviceStep = "awaiting_merchant_validation"
	DeviceMerchantValidated  DeviceStep = "merchant_validated"
	DeviceAuthorized         DeviceStep = "authorized"
	DeviceFailed             DeviceStep = "failed"
)

type DeviceSession struct {
	Step        DeviceStep `json:"step"`
	ValidatedAt time.Time  `json:"validatedAt,omitempty"`
}

// CheckoutSession is the state of one checkout attempt, keyed by intent id.
// Version increases with every stored write.
type CheckoutSession struct {
	IntentID       string         `json:"intentId"`
	OrderID        string         `json:"orderId"`
	Provider       string         `json:"provider"`
	IdempotencyKey string         `json:"idempotencyKey"`
	Fingerprint    string         `json:"fingerprint"`
	State          CheckoutState  `json:"state"`
	Cart           CartSnapshot   `json:"cart"`
	Customer       CustomerInfo   `json:"customer"`
	Locale         string         `json:"locale,omitempty"`
	Intent         PaymentIntent  `json:"intent"`
	Device         *DeviceSession `json:"device,omitempty"`
	Result         *PaymentResult `json:"result,omitempty"`
	Inconclusive   bool           `json:"inconclusive,omitempty"`
	AbortReason    string         `json:"abortReason,omitempty"`
	OrderPersisted bool           `json:"orderPersisted,omitempty"`
	Version        int64          `json:"version"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Unresolved reports whether the session still needs work: either the
// provider has not reached an outcome, or the outcome has not reached the
// order store yet.
func (s *CheckoutSession) Unresolved() bool {
	switch s.State {
	case StateAwaitingConfirmation:
		return true
	case StateSettled, StateDeclined:
		return !s.OrderPersisted
	}
	return false
}

// Clone copies the session so a candidate state can be built without
// touching the stored one.
func (s *CheckoutSession) Clone() *CheckoutSession {
	cp := *s
	if s.Device != nil {
		d := *s.Device
		cp.Device = &d
	}
	if s.Result != nil {
		r := *s.Result
		cp.Result = &r
	}
	cp.Cart.Items = append([]LineItem(nil), s.Cart.Items...)
	return &cp
}
