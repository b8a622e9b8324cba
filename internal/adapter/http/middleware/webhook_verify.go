package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/aq2208/gcheckout/internal/logging"
	"github.com/aq2208/gcheckout/internal/security"
	"github.com/gin-gonic/gin"
)

const (
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"
	HeaderWebhookSignature = "X-Webhook-Signature"

	webhookBodyLimit = 256 * 1024
)

// VerifyWebhook authenticates a provider push against the secret of the
// :provider path segment and hands the untouched body on.
func VerifyWebhook(v *security.WebhookVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, webhookBodyLimit+1))
		_ = c.Request.Body.Close()
		if err != nil || len(body) > webhookBodyLimit {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body_too_large"})
			return
		}
		provider := c.Param("provider")
		err = v.Verify(provider, c.GetHeader(HeaderWebhookTimestamp), c.GetHeader(HeaderWebhookSignature), body)
		if err != nil {
			logging.From(c).Warn("webhook rejected", "provider", provider, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Request.ContentLength = int64(len(body))
		c.Next()
	}
}
