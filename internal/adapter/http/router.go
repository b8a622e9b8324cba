package http

import (
	"log/slog"

	"github.com/aq2208/gcheckout/internal/adapter/http/middleware"
	"github.com/aq2208/gcheckout/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Checkout *CheckoutHandler
	Orders   *OrderHandler
	Webhooks *WebhookHandler
	Token    *TokenHandler
}

type RouterDeps struct {
	Authz    *middleware.Authz
	Webhooks *security.WebhookVerifier
	Logger   *slog.Logger
	// Registry receives the HTTP metrics; Gatherer serves /metrics.
	Registry prometheus.Registerer
	Gatherer prometheus.Gatherer
}

func NewRouter(h Handlers, d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Metrics(d.Registry))
	r.Use(middleware.Logging(d.Logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	// Prometheus endpoint (scraped by Prometheus)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	r.POST("/v1/token", h.Token.IssueToken)

	v1 := r.Group("/v1")
	{
		write := d.Authz.Require(security.PermCheckoutWrite)
		v1.GET("/providers", write, h.Checkout.ListProviders)
		v1.POST("/checkouts", write, h.Checkout.Start)
		v1.POST("/checkouts/:intentId/confirm", write, h.Checkout.Confirm)
		v1.POST("/checkouts/:intentId/device/merchant-validation", write, h.Checkout.ValidateMerchant)
		v1.POST("/checkouts/:intentId/device/authorization", write, h.Checkout.AuthorizeDevice)
		v1.POST("/checkouts/:intentId/cancel", write, h.Checkout.Cancel)

		v1.GET("/payments/:intentId/status", d.Authz.Require(security.PermPaymentsRead), h.Checkout.Status)

		v1.GET("/orders/:id", d.Authz.Require(security.PermOrdersRead), h.Orders.GetOrderByID)
		v1.PATCH("/orders/:id/status", d.Authz.Require(security.PermOrdersWrite), h.Orders.UpdateStatus)

		v1.POST("/webhooks/:provider", middleware.VerifyWebhook(d.Webhooks), h.Webhooks.Receive)
	}

	return r
}
