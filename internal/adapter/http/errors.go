package http

import (
	"errors"
	"net/http"

	"github.com/aq2208/gcheckout/internal/apperr"
	"github.com/aq2208/gcheckout/internal/logging"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code,omitempty"`
	// Inconclusive tells the client the provider may still have acted; poll
	// the status endpoint instead of retrying blindly.
	Inconclusive bool `json:"inconclusive,omitempty"`
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindDeclined:
		return http.StatusPaymentRequired
	case apperr.KindProviderUnavailable:
		return http.StatusUnprocessableEntity
	case apperr.KindProtocol:
		return http.StatusBadGateway
	case apperr.KindNetwork, apperr.KindHTTP, apperr.KindUnknown:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError maps an error onto the HTTP contract. Provider bodies and
// wrapped causes never reach the client.
func writeError(c *gin.Context, err error) {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		logging.From(c).Error("unhandled error", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal_error"})
		return
	}
	body := errorBody{
		Error:        string(ae.Kind),
		Message:      ae.Message,
		Field:        ae.Field,
		Code:         ae.Code,
		Inconclusive: apperr.IsTransport(ae),
	}
	if body.Inconclusive {
		body.Message = "provider did not answer in time; poll the payment status"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(ae.Kind), body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: string(apperr.KindValidation), Message: msg})
}
