package http

import (
	"context"
	"net/http"

	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/aq2208/gcheckout/internal/usecase"
	"github.com/gin-gonic/gin"
)

type EventHandler interface {
	Handle(ctx context.Context, ev usecase.ProviderEvent) (*domain.CheckoutSession, error)
}

var _ EventHandler = (*usecase.ProviderEvents)(nil)

type WebhookHandler struct {
	events EventHandler
}

func NewWebhookHandler(events EventHandler) *WebhookHandler {
	return &WebhookHandler{events: events}
}

// POST /v1/webhooks/:provider
// The signature was checked by middleware; the provider comes from the path,
// never from the body.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var ev usecase.ProviderEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		badRequest(c, err.Error())
		return
	}
	ev.Provider = c.Param("provider")

	s, err := h.events.Handle(c.Request.Context(), ev)
	if err != nil {
		writeError(c, err)
		return
	}
	if s == nil {
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "state": s.State})
}
