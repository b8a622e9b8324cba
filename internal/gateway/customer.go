package gateway

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
)

// Saudi mobile numbers in international format: +966 5X XXX XXXX.
var localMobile = regexp.MustCompile(`^\+9665[0-9]{8}$`)

func ValidLocalMobile(phone string) bool {
	return localMobile.MatchString(strings.TrimSpace(phone))
}

func RequireName(c domain.CustomerInfo) error {
	if strings.TrimSpace(c.Name) == "" {
		return apperr.Validation("customer.name", "name is required")
	}
	return nil
}

func RequireEmail(c domain.CustomerInfo) error {
	if strings.TrimSpace(c.Email) == "" {
		return apperr.Validation("customer.email", "email is required")
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return apperr.Validation("customer.email", "email is invalid")
	}
	return nil
}

func RequireLocalMobile(c domain.CustomerInfo) error {
	if strings.TrimSpace(c.Phone) == "" {
		return apperr.Validation("customer.phone", "phone is required")
	}
	if !ValidLocalMobile(c.Phone) {
		return apperr.Validation("customer.phone", "phone must be a mobile number like +966501234567")
	}
	return nil
}

// FirstError runs checks in order and returns the first failure.
func FirstError(c domain.CustomerInfo, checks ...func(domain.CustomerInfo) error) error {
	for _, check := range checks {
		if err := check(c); err != nil {
			return err
		}
	}
	return nil
}

// MaskPhone keeps the country code and the last two digits.
func MaskPhone(phone string) string {
	if len(phone) <= 6 {
		return phone
	}
	return phone[:4] + strings.Repeat("*", len(phone)-6) + phone[len(phone)-2:]
}
