package gateway

import (
	"testing"

	"github.com/aq2208/gcheckout/internal/apperr"
	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/stretchr/testify/assert"
)

func TestValidLocalMobile(t *testing.T) {
	valid := []string{"+966501234567", "+966551234567", " +966591234567 "}
	invalid := []string{"0501234567", "+96650123456", "+9665012345678", "+966401234567", "+971501234567", ""}
	for _, p := range valid {
		assert.True(t, ValidLocalMobile(p), p)
	}
	for _, p := range invalid {
		assert.False(t, ValidLocalMobile(p), p)
	}
}

func TestRequireChecks(t *testing.T) {
	c := domain.CustomerInfo{Name: "Sara", Phone: "+966501234567", Email: "sara@example.com"}
	assert.NoError(t, FirstError(c, RequireName, RequireEmail, RequireLocalMobile))

	err := FirstError(domain.CustomerInfo{Phone: "+966501234567"}, RequireName, RequireLocalMobile)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "customer.name")

	err = RequireEmail(domain.CustomerInfo{Email: "not-an-email"})
	assert.Contains(t, err.Error(), "customer.email")
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "+966*******67", MaskPhone("+966501234567"))
	assert.Equal(t, "12345", MaskPhone("12345"))
}
